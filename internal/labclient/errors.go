package labclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"letterlab-backend/internal/retry"
	"letterlab-backend/internal/shared/server/middleware"
)

// ErrTokenInvalidated marks a 401 that must wipe local state.
var ErrTokenInvalidated = errors.New("access token rejected")

// APIError is a non-2xx response from the lab API.
type APIError struct {
	Status  int
	Code    string
	Message string

	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("lab api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("lab api %d: %s", e.Status, e.Message)
}

// HTTPStatus lets the retry package classify the error.
func (e *APIError) HTTPStatus() int { return e.Status }

// Transient reports a duplicate the server is still processing. The first
// request may yet fail, so the duplicate must be retried rather than dropped.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusConflict && e.Code == middleware.CodeRequestInProgress
}

// RetryAfter returns the server's Retry-After delay, if any.
func (e *APIError) RetryAfter() time.Duration { return e.retryAfter }

// Unwrap exposes ErrTokenInvalidated for token failures.
func (e *APIError) Unwrap() error {
	if e.TokenFailure() {
		return ErrTokenInvalidated
	}
	return nil
}

// TokenFailure reports whether the response rejected the access token.
func (e *APIError) TokenFailure() bool {
	if e.Status != http.StatusUnauthorized {
		return false
	}
	return e.Message == middleware.MsgTokenRequired || e.Message == middleware.MsgTokenInvalidated ||
		e.Code == "token_required" || e.Code == "token_invalidated"
}

// Status returns the HTTP status carried by err, or 0.
func Status(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// decodeError accepts both {"error":{"code","message"}} and {"error":"..."}.
func decodeError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			apiErr.retryAfter = time.Duration(secs) * time.Second
		}
	}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var structured struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		var flat string
		switch {
		case json.Unmarshal(envelope.Error, &structured) == nil && structured.Message != "":
			apiErr.Code = structured.Code
			apiErr.Message = structured.Message
		case json.Unmarshal(envelope.Error, &flat) == nil:
			apiErr.Message = flat
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

var (
	_ retry.StatusError     = (*APIError)(nil)
	_ retry.RetryAfterError = (*APIError)(nil)
	_ retry.TransientError  = (*APIError)(nil)
)
