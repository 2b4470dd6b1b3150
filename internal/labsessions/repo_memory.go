package labsessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores sessions in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu         sync.RWMutex
	byID       map[string]Session
	iterations map[string][]Iteration
	nextID     int64
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:       make(map[string]Session),
		iterations: make(map[string][]Iteration),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = detach(s)
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return detach(s), nil
}

// Update replaces the stored document; completion is sticky.
func (r *MemoryRepo) Update(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[s.ID]
	if !ok {
		return ErrNotFound
	}
	if prev.Completed && !s.Completed {
		s.Completed = true
		s.CompletedAt = prev.CompletedAt
	}
	s.TokenRef = prev.TokenRef
	r.byID[s.ID] = detach(s)
	return nil
}

func (r *MemoryRepo) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if !s.Completed {
		s.Completed = true
		s.CompletedAt = &at
	}
	s.UpdatedAt = at
	r.byID[id] = s
	return nil
}

// List returns all sessions, oldest first.
func (r *MemoryRepo) List(ctx context.Context) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) CountCompleted(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.byID {
		if s.Completed {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) AppendIteration(ctx context.Context, it Iteration) (Iteration, error) {
	if err := ctx.Err(); err != nil {
		return Iteration{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[it.SessionID]; !ok {
		return Iteration{}, ErrNotFound
	}
	var last *Iteration
	log := r.iterations[it.SessionID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].BulletIndex == it.BulletIndex {
			last = &log[i]
			break
		}
	}
	if err := checkOrder(last, it.IterationNumber); err != nil {
		return Iteration{}, err
	}
	r.nextID++
	it.ID = r.nextID
	r.iterations[it.SessionID] = append(log, it)
	return it, nil
}

// ListIterations returns the log in insertion order.
func (r *MemoryRepo) ListIterations(ctx context.Context, sessionID string) ([]Iteration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.iterations[sessionID]
	out := make([]Iteration, len(log))
	copy(out, log)
	return out, nil
}

// detach copies the slices a caller may mutate in place.
func detach(s Session) Session {
	s.Iterations = nil
	if s.Bullets != nil {
		s.Bullets = append([]Bullet(nil), s.Bullets...)
	}
	return s
}
