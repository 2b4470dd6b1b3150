// Command lambda-http serves the LetterLab API from AWS Lambda behind an
// HTTP API (payload v2).
//
//	GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/bootstrap"
	"letterlab-backend/internal/shared/config"
	"letterlab-backend/internal/shared/server/respond"
	"letterlab-backend/internal/shared/telemetry"
)

type proxyHandler func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// newHandler builds the router on the first invocation and reuses it for
// the life of the execution environment. A failed build is reported to the
// caller and retried on the next cold start only.
func newHandler(build func() (*gin.Engine, error)) proxyHandler {
	var (
		once    sync.Once
		adapter *ginadapter.GinLambdaV2
		initErr error
	)
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		once.Do(func() {
			router, err := build()
			if err != nil {
				initErr = err
				return
			}
			adapter = ginadapter.NewV2(router)
		})
		if initErr != nil {
			telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": initErr.Error()})
			return errorResponse(http.StatusInternalServerError, "bootstrap_failed", "Service failed to start"), initErr
		}
		return adapter.ProxyWithContext(ctx, req)
	}
}

func errorResponse(status int, code, message string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{Error: respond.ErrorBody{Code: code, Message: message}})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func main() {
	lambda.Start(newHandler(func() (*gin.Engine, error) {
		app, err := bootstrap.Build(config.Load())
		if err != nil {
			return nil, err
		}
		return app.Router, nil
	}))
}
