package labsessions

import (
	"context"
	"time"
)

// Repo defines persistence for session documents and iteration logs.
type Repo interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Update(ctx context.Context, s Session) error
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]Session, error)
	CountCompleted(ctx context.Context) (int, error)

	// AppendIteration stores it and returns it with its ID set. Entries that
	// break the ordering rule for their bullet return ErrConflict.
	AppendIteration(ctx context.Context, it Iteration) (Iteration, error)
	ListIterations(ctx context.Context, sessionID string) ([]Iteration, error)
}
