// Package retry runs remote calls with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// StatusError is implemented by errors that carry an HTTP status.
type StatusError interface {
	HTTPStatus() int
}

// TransientError is implemented by errors that know they are worth retrying
// regardless of status, such as a duplicate request the server is still
// processing.
type TransientError interface {
	Transient() bool
}

// RetryAfterError is implemented by errors that carry a server-requested delay.
type RetryAfterError interface {
	RetryAfter() time.Duration
}

// Policy configures backoff. Delay for attempt n is BaseDelay*2^(n-1) with
// ±Jitter applied, capped at MaxDelay.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     float64

	// OnRetry is called before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// Default suits interactive calls against the lab API.
func Default() Policy {
	return Policy{MaxRetries: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: 0.3}
}

// Do calls fn until it succeeds, returns a permanent error, or retries run out.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	for attempt := 1; err != nil && attempt <= p.MaxRetries; attempt++ {
		if !Retryable(err) {
			return err
		}
		delay := p.Delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		err = fn(ctx)
	}
	return err
}

// Delay computes the wait before retry attempt (1-based). A server-supplied
// Retry-After takes precedence.
func (p Policy) Delay(attempt int, err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		return ra.RetryAfter()
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		spread := float64(delay) * p.Jitter
		delay = time.Duration(float64(delay) + (r()*2-1)*spread)
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Retryable reports whether err is transient: network failures, 429, 5xx and
// errors marked transient. Cancellation and other 4xx responses are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te TransientError
	if errors.As(err, &te) && te.Transient() {
		return true
	}
	var se StatusError
	if errors.As(err, &se) {
		status := se.HTTPStatus()
		return status == 429 || status >= 500
	}
	return true
}
