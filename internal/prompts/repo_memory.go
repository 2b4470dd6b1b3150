package prompts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu       sync.RWMutex
	versions map[Type][]Template // oldest first
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{versions: make(map[Type][]Template)}
}

func (r *MemoryRepo) Publish(ctx context.Context, t Type, content, modifiedBy string) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.versions[t]
	for i := range existing {
		existing[i].IsActive = false
	}
	tmpl := Template{
		ID:         uuid.NewString(),
		PromptType: t,
		Content:    content,
		Version:    len(existing) + 1,
		CreatedAt:  time.Now().UTC(),
		ModifiedBy: modifiedBy,
		IsActive:   true,
	}
	r.versions[t] = append(existing, tmpl)
	return tmpl, nil
}

func (r *MemoryRepo) Active(ctx context.Context, t Type) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tmpl := range r.versions[t] {
		if tmpl.IsActive {
			return tmpl, nil
		}
	}
	return Template{}, ErrNotFound
}

func (r *MemoryRepo) ListActive(ctx context.Context) ([]Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Template
	for _, versions := range r.versions {
		for _, tmpl := range versions {
			if tmpl.IsActive {
				out = append(out, tmpl)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromptType < out[j].PromptType })
	return out, nil
}

func (r *MemoryRepo) History(ctx context.Context, t Type) ([]Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[t]
	out := make([]Template, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		out = append(out, versions[i])
	}
	return out, nil
}

func (r *MemoryRepo) GetVersion(ctx context.Context, t Type, version int) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tmpl := range r.versions[t] {
		if tmpl.Version == version {
			return tmpl, nil
		}
	}
	return Template{}, ErrNotFound
}

var _ Repo = (*MemoryRepo)(nil)
