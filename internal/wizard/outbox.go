package wizard

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/labclient"
	"letterlab-backend/internal/localstore"
	"letterlab-backend/internal/retry"
)

// Outbox job kinds.
const (
	KindSaveIteration  = "save_iteration"
	KindPhaseResponses = "save_phase_responses"
	KindMarkCompleted  = "mark_completed"
	KindFinalFeedback  = "submit_final_feedback"
)

const drainBatch = 100

// Queue is the durable job table. localstore.Store implements it.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload []byte, idempotencyKey string) (localstore.Job, error)
	Pending(ctx context.Context, limit int) ([]localstore.Job, error)
	Count(ctx context.Context) (int, error)
	RecordFailure(ctx context.Context, id int64, msg string) error
	Delete(ctx context.Context, id int64) error
}

// Sender performs the remote calls behind outbox jobs.
type Sender interface {
	SaveIteration(ctx context.Context, in labclient.IterationRecord, opts ...labclient.Option) error
	SavePhaseResponses(ctx context.Context, in labclient.PhaseResponses, opts ...labclient.Option) error
	MarkCompleted(ctx context.Context, sessionID string, opts ...labclient.Option) error
	SubmitFinalFeedback(ctx context.Context, in labclient.FinalFeedback, opts ...labclient.Option) (compare.Preference, error)
}

// Outbox turns fire-and-forget writes into durable jobs sent in order.
type Outbox struct {
	Queue  Queue
	Sender Sender
	Policy retry.Policy
	Log    *zap.Logger

	mu sync.Mutex
}

// NewOutbox uses the default retry policy and a no-op logger.
func NewOutbox(q Queue, sender Sender) *Outbox {
	return &Outbox{Queue: q, Sender: sender, Policy: retry.Default(), Log: zap.NewNop()}
}

// Add stores a job. A job with the same key that is still pending is kept
// and the new one ignored.
func (o *Outbox) Add(ctx context.Context, kind, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s job", kind)
	}
	if _, err := o.Queue.Enqueue(ctx, kind, raw, key); err != nil {
		return errors.Wrapf(err, "enqueue %s job", kind)
	}
	return nil
}

// Pending returns the number of unsent jobs.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	return o.Queue.Count(ctx)
}

// Drain sends pending jobs in insertion order, retrying transient failures
// with backoff. It stops at the first job that still fails transiently so
// later jobs never overtake it. Permanent failures are logged and dropped.
// A rejected token stops the drain with labclient.ErrTokenInvalidated.
func (o *Outbox) Drain(ctx context.Context) error {
	return o.drain(ctx, o.Policy)
}

// TrySend is a single pass without backoff.
func (o *Outbox) TrySend(ctx context.Context) error {
	p := o.Policy
	p.MaxRetries = 0
	return o.drain(ctx, p)
}

func (o *Outbox) drain(ctx context.Context, policy retry.Policy) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	jobs, err := o.Queue.Pending(ctx, drainBatch)
	if err != nil {
		return errors.Wrap(err, "list outbox")
	}
	for _, job := range jobs {
		err := policy.Do(ctx, func(ctx context.Context) error {
			return o.send(ctx, job)
		})
		switch {
		case err == nil:
			if err := o.Queue.Delete(ctx, job.ID); err != nil {
				return errors.Wrap(err, "delete sent job")
			}
		case errors.Is(err, labclient.ErrTokenInvalidated):
			return err
		case retry.Retryable(err):
			o.logger().Warn("outbox.deferred",
				zap.Int64("job_id", job.ID), zap.String("kind", job.Kind), zap.Error(err))
			if recErr := o.Queue.RecordFailure(ctx, job.ID, err.Error()); recErr != nil {
				return errors.Wrap(recErr, "record job failure")
			}
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			o.logger().Error("outbox.dropped",
				zap.Int64("job_id", job.ID), zap.String("kind", job.Kind),
				zap.Int("status", labclient.Status(err)), zap.Error(err))
			if err := o.Queue.Delete(ctx, job.ID); err != nil {
				return errors.Wrap(err, "delete dropped job")
			}
		}
	}
	return nil
}

func (o *Outbox) send(ctx context.Context, job localstore.Job) error {
	key := labclient.WithIdempotencyKey(job.IdempotencyKey)
	switch job.Kind {
	case KindSaveIteration:
		var in labclient.IterationRecord
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return permanent(err)
		}
		return o.Sender.SaveIteration(ctx, in, key)
	case KindPhaseResponses:
		var in labclient.PhaseResponses
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return permanent(err)
		}
		return o.Sender.SavePhaseResponses(ctx, in, key)
	case KindMarkCompleted:
		var in struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return permanent(err)
		}
		return o.Sender.MarkCompleted(ctx, in.SessionID, key)
	case KindFinalFeedback:
		var in labclient.FinalFeedback
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return permanent(err)
		}
		_, err := o.Sender.SubmitFinalFeedback(ctx, in, key)
		return err
	default:
		return permanent(errors.Errorf("unknown job kind %q", job.Kind))
	}
}

func (o *Outbox) logger() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

// badJob marks a job that can never succeed.
type badJob struct{ err error }

func (e badJob) Error() string   { return "bad outbox job: " + e.err.Error() }
func (e badJob) Unwrap() error   { return e.err }
func (e badJob) HTTPStatus() int { return 400 }

func permanent(err error) error {
	return badJob{err: err}
}
