package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"letterlab-backend/internal/shared/telemetry"
)

const retryBaseDelay = 300 * time.Millisecond

type retryingClient struct {
	base     Client
	attempts int
	delay    time.Duration
}

// WithRetry retries transient provider failures with a linear backoff.
func WithRetry(base Client, attempts int) Client {
	if base == nil {
		return nil
	}
	if attempts < 1 {
		attempts = 1
	}
	return &retryingClient{base: base, attempts: attempts, delay: retryBaseDelay}
}

func (r *retryingClient) Name() string { return r.base.Name() }

func (r *retryingClient) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			telemetry.Warn("llm.retry", map[string]any{
				"provider": r.base.Name(),
				"attempt":  attempt,
				"error":    lastErr.Error(),
			})
			select {
			case <-time.After(r.delay * time.Duration(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		out, err := r.base.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !ShouldRetry(err) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}

// ShouldRetry reports whether a provider error looks transient.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrDisabled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "http status 429") || strings.Contains(msg, "server_error") || strings.Contains(msg, "overloaded") {
		return true
	}
	if strings.Contains(msg, "timeout") {
		return true
	}
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof")
}
