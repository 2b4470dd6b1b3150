package tokens

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]AccessToken
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]AccessToken)}
}

func (r *MemoryRepo) CreateMany(ctx context.Context, items []AccessToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		r.data[item.Token] = item
	}
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, token string) (AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return AccessToken{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.data[token]
	if !ok {
		return AccessToken{}, ErrNotFound
	}
	return item, nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]AccessToken, 0, len(r.data))
	for _, item := range r.data {
		out = append(out, item)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) MarkUsed(ctx context.Context, token string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.data[token]
	if !ok || item.UsedAt != nil || item.Invalidated {
		return ErrUnusable
	}
	item.UsedAt = &at
	r.data[token] = item
	return nil
}

func (r *MemoryRepo) Invalidate(ctx context.Context, token string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.data[token]
	if !ok {
		return ErrNotFound
	}
	if !item.Invalidated {
		item.Invalidated = true
		item.InvalidatedAt = &at
	}
	r.data[token] = item
	return nil
}

func (r *MemoryRepo) BindSession(ctx context.Context, token, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.data[token]
	if !ok {
		return ErrNotFound
	}
	item.SessionID = sessionID
	r.data[token] = item
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
