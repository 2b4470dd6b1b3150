package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/shared/idempotency"
	"letterlab-backend/internal/shared/metrics"
	"letterlab-backend/internal/shared/server/respond"
	"letterlab-backend/internal/shared/telemetry"
)

const (
	idempotencyReplayKey = "idempotencyReplayed"

	IdempotencyHeader       = "Idempotency-Key"
	IdempotencyReplayHeader = "Idempotency-Replayed"

	// CodeRequestInProgress is returned while a request with the same key runs.
	CodeRequestInProgress = "request_in_progress"
)

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the recorded response for a repeated Idempotency-Key.
// Keys are scoped to the caller's token and route. Only 2xx responses are
// recorded; failures and panics release the key so the client can retry.
func Idempotency(store idempotency.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		if store == nil || raw == "" || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		key := c.GetString(tokenRefKey) + "|" + c.Request.Method + " " + c.Request.URL.Path + "|" + raw
		ctx := c.Request.Context()

		recorded, err := store.Begin(ctx, key)
		switch {
		case errors.Is(err, idempotency.ErrInFlight):
			respond.Error(c, http.StatusConflict, CodeRequestInProgress, "request in progress", nil)
			return
		case err != nil:
			telemetry.Warn("idempotency.begin_failed", map[string]any{
				"request_id": RequestIDFromContext(c),
				"error":      err.Error(),
			})
			c.Next()
			return
		case recorded != nil:
			metrics.IncIdempotentReplays()
			c.Set(idempotencyReplayKey, true)
			c.Header(IdempotencyReplayHeader, "true")
			c.Data(recorded.Status, recorded.ContentType, recorded.Body)
			c.Abort()
			return
		}

		settled := false
		defer func() {
			if settled {
				return
			}
			// The handler panicked; Recovery above writes the 500.
			if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
				logRecordFailure(c, err)
			}
		}()

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()
		settled = true

		status := writer.Status()
		if status >= 200 && status < 300 {
			err = store.Complete(ctx, key, idempotency.Response{
				Status:      status,
				ContentType: writer.Header().Get("Content-Type"),
				Body:        writer.body.Bytes(),
			})
		} else {
			err = store.Release(ctx, key)
		}
		if err != nil {
			logRecordFailure(c, err)
		}
	}
}

func logRecordFailure(c *gin.Context, err error) {
	telemetry.Warn("idempotency.record_failed", map[string]any{
		"request_id": RequestIDFromContext(c),
		"error":      err.Error(),
	})
}
