package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpErr struct {
	status int
	after  time.Duration
}

func (e httpErr) Error() string             { return "http error" }
func (e httpErr) HTTPStatus() int           { return e.status }
func (e httpErr) RetryAfter() time.Duration { return e.after }

type busyErr struct{}

func (busyErr) Error() string   { return "still running" }
func (busyErr) HTTPStatus() int { return 409 }
func (busyErr) Transient() bool { return true }

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: 0.3}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return httpErr{status: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoStopsOnPermanentFailure(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return httpErr{status: 404}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour}
	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return httpErr{status: 500}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"429", httpErr{status: 429}, true},
		{"500", httpErr{status: 500}, true},
		{"400", httpErr{status: 400}, false},
		{"401", httpErr{status: 401}, false},
		{"network", errors.New("dial tcp: refused"), true},
		{"409 in progress", busyErr{}, true},
		{"409", httpErr{status: 409}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestDelayExponentialWithJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.5}

	p.Rand = func() float64 { return 0 }
	assert.Equal(t, 50*time.Millisecond, p.Delay(1, errors.New("x")))
	p.Rand = func() float64 { return 0.5 }
	assert.Equal(t, 200*time.Millisecond, p.Delay(2, errors.New("x")))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3, errors.New("x")))
	assert.Equal(t, time.Second, p.Delay(10, errors.New("x")))

	jittered := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 0.3}
	for i := 0; i < 100; i++ {
		d := jittered.Delay(2, errors.New("x"))
		assert.GreaterOrEqual(t, d, 139*time.Millisecond)
		assert.LessOrEqual(t, d, 261*time.Millisecond)
	}
}

func TestDelayPrefersRetryAfter(t *testing.T) {
	p := fastPolicy(1)
	assert.Equal(t, 7*time.Second, p.Delay(1, httpErr{status: 429, after: 7 * time.Second}))
}
