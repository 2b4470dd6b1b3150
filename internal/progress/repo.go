package progress

import "context"

// Repo persists progress events.
type Repo interface {
	Insert(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
}
