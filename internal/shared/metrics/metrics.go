package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	generationStartedTotal   atomic.Uint64
	generationCompletedTotal atomic.Uint64
	generationFailedTotal    atomic.Uint64

	generationDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})

	archiveJobsReceivedTotal      atomic.Uint64
	archiveJobsCompletedTotal     atomic.Uint64
	archiveJobsFailedTotal        atomic.Uint64
	archiveJobsUnrecoverableTotal atomic.Uint64

	idempotentReplaysTotal atomic.Uint64
	rateLimitedTotal       atomic.Uint64
	panicsTotal            atomic.Uint64
)

// IncGenerationStarted counts an LLM call.
func IncGenerationStarted() {
	generationStartedTotal.Add(1)
}

func IncGenerationCompleted() {
	generationCompletedTotal.Add(1)
}

func IncGenerationFailed() {
	generationFailedTotal.Add(1)
}

// ObserveGenerationDurationMs records an LLM call duration in milliseconds.
func ObserveGenerationDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	generationDuration.Observe(value)
}

func IncArchiveJobsReceived() {
	archiveJobsReceivedTotal.Add(1)
}

func IncArchiveJobsCompleted() {
	archiveJobsCompletedTotal.Add(1)
}

func IncArchiveJobsFailed() {
	archiveJobsFailedTotal.Add(1)
}

// IncArchiveJobsDeletedUnrecoverable counts queue messages dropped as malformed.
func IncArchiveJobsDeletedUnrecoverable() {
	archiveJobsUnrecoverableTotal.Add(1)
}

// IncIdempotentReplays counts responses served from the idempotency store.
func IncIdempotentReplays() {
	idempotentReplaysTotal.Add(1)
}

// IncRateLimited counts requests rejected by the token bucket.
func IncRateLimited() {
	rateLimitedTotal.Add(1)
}

func IncPanics() {
	panicsTotal.Add(1)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "letterlab_generation_started_total", "Total LLM generations started", generationStartedTotal.Load())
	writeCounter(&buf, "letterlab_generation_completed_total", "Total LLM generations completed", generationCompletedTotal.Load())
	writeCounter(&buf, "letterlab_generation_failed_total", "Total LLM generations failed", generationFailedTotal.Load())
	writeHistogram(&buf, "letterlab_generation_duration_ms", "LLM generation duration in milliseconds", generationDuration.Snapshot())
	writeCounter(&buf, "letterlab_archive_jobs_received_total", "Archive jobs received by the worker", archiveJobsReceivedTotal.Load())
	writeCounter(&buf, "letterlab_archive_jobs_completed_total", "Archive jobs completed", archiveJobsCompletedTotal.Load())
	writeCounter(&buf, "letterlab_archive_jobs_failed_total", "Archive jobs failed", archiveJobsFailedTotal.Load())
	writeCounter(&buf, "letterlab_archive_jobs_unrecoverable_total", "Archive messages deleted as unrecoverable", archiveJobsUnrecoverableTotal.Load())
	writeCounter(&buf, "letterlab_idempotent_replays_total", "Responses replayed from the idempotency store", idempotentReplaysTotal.Load())
	writeCounter(&buf, "letterlab_rate_limited_total", "Requests rejected by rate limiting", rateLimitedTotal.Load())
	writeCounter(&buf, "letterlab_panics_total", "Handler panics recovered", panicsTotal.Load())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	// Observe already counts each value in every bucket it fits.
	for i, bound := range snap.buckets {
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), snap.counts[i])
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// NowMillis returns current time in milliseconds, useful for callers without time utilities.
func NowMillis() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
