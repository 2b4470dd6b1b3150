package admin

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDisabled = "disabled"
	StatusError    = "error"
)

// ErrDisabled is returned by a probe whose component is intentionally off.
var ErrDisabled = errors.New("component disabled")

// Probe reports whether a component is reachable.
type Probe func(ctx context.Context) error

// Report is the health payload.
type Report struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health runs a named set of probes concurrently.
type Health struct {
	Timeout time.Duration

	mu     sync.Mutex
	probes map[string]Probe
}

func NewHealth() *Health {
	return &Health{Timeout: 3 * time.Second, probes: make(map[string]Probe)}
}

// Add registers a probe. A nil probe reports the component as disabled.
func (h *Health) Add(name string, p Probe) *Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p == nil {
		p = func(context.Context) error { return ErrDisabled }
	}
	h.probes[name] = p
	return h
}

// Names lists registered components in order.
func (h *Health) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every probe. Disabled components do not degrade the report.
func (h *Health) Check(ctx context.Context) Report {
	h.mu.Lock()
	probes := make(map[string]Probe, len(h.probes))
	for k, v := range h.probes {
		probes[k] = v
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[string]string, len(probes))
	)
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			status := StatusOK
			if err := probe(ctx); err != nil {
				status = StatusError
				if errors.Is(err, ErrDisabled) {
					status = StatusDisabled
				}
			}
			mu.Lock()
			out[name] = status
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	report := Report{Status: StatusOK, Components: out}
	for _, status := range out {
		if status == StatusError {
			report.Status = StatusDegraded
			break
		}
	}
	return report
}
