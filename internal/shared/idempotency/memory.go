package idempotency

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

type pending struct{}

// MemoryStore keeps keys in process memory.
type MemoryStore struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryStore{
		cache: cache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

func (s *MemoryStore) Begin(ctx context.Context, key string) (*Response, error) {
	if err := s.cache.Add(key, pending{}, s.ttl); err == nil {
		return nil, nil
	}
	val, found := s.cache.Get(key)
	if !found {
		// expired between Add and Get
		if err := s.cache.Add(key, pending{}, s.ttl); err == nil {
			return nil, nil
		}
		return nil, ErrInFlight
	}
	if resp, ok := val.(Response); ok {
		return &resp, nil
	}
	return nil, ErrInFlight
}

func (s *MemoryStore) Complete(ctx context.Context, key string, resp Response) error {
	s.cache.Set(key, resp, s.ttl)
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
