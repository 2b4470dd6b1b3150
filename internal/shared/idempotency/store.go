// Package idempotency records responses keyed by client-supplied
// Idempotency-Key values so retried mutations replay instead of re-running.
package idempotency

import (
	"context"
	"errors"
)

// ErrInFlight means another request with the same key has not finished.
var ErrInFlight = errors.New("idempotency: request in progress")

// Response is the recorded outcome of a completed request.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// Store reserves keys and records their responses.
//
// Begin returns (nil, nil) when the caller now owns the key, a recorded
// response when the key already completed, or ErrInFlight.
type Store interface {
	Begin(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, resp Response) error
	Release(ctx context.Context, key string) error
}
