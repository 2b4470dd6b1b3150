package tokens

import (
	"context"
	"time"
)

// Repo persists access tokens.
type Repo interface {
	CreateMany(ctx context.Context, items []AccessToken) error
	Get(ctx context.Context, token string) (AccessToken, error)
	List(ctx context.Context) ([]AccessToken, error)
	// MarkUsed sets usedAt if the token is unused and valid; otherwise ErrUnusable.
	MarkUsed(ctx context.Context, token string, at time.Time) error
	Invalidate(ctx context.Context, token string, at time.Time) error
	BindSession(ctx context.Context, token, sessionID string) error
}
