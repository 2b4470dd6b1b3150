package prompts

import "context"

// Repo persists prompt versions.
type Repo interface {
	// Publish stores content as the next version of t and makes it the only
	// active version.
	Publish(ctx context.Context, t Type, content, modifiedBy string) (Template, error)
	Active(ctx context.Context, t Type) (Template, error)
	ListActive(ctx context.Context) ([]Template, error)
	History(ctx context.Context, t Type) ([]Template, error)
	GetVersion(ctx context.Context, t Type, version int) (Template, error)
}
