package llm

import (
	"context"
	"time"

	"letterlab-backend/internal/shared/metrics"
)

type instrumentedClient struct {
	base Client
}

// Instrumented records generation counters and latency for base.
func Instrumented(base Client) Client {
	if base == nil {
		return nil
	}
	return instrumentedClient{base: base}
}

func (c instrumentedClient) Name() string { return c.base.Name() }

func (c instrumentedClient) Complete(ctx context.Context, req Request) (string, error) {
	metrics.IncGenerationStarted()
	start := time.Now()
	out, err := c.base.Complete(ctx, req)
	metrics.ObserveGenerationDurationMs(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.IncGenerationFailed()
		return "", err
	}
	metrics.IncGenerationCompleted()
	return out, nil
}
