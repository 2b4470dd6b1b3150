package wizard

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const stateKey = "session"

// Mirror is the durable copy of the state. localstore.Store implements it.
type Mirror interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context) error
}

// Update maps the previous state to the next one. It runs under the store
// lock and must not call back into the Store.
type Update func(prev State) State

// Replace returns an Update that swaps in next wholesale.
func Replace(next State) Update {
	return func(State) State { return next }
}

// Store holds the session in memory and mirrors every change to a Mirror
// through one writer goroutine. Pending snapshots are coalesced, so the
// mirror only ever sees the latest state.
type Store struct {
	mirror  Mirror
	onError func(error)

	mu       sync.Mutex
	state    State
	ok       bool
	version  uint64
	written  uint64
	cleared  bool
	lastErr  error
	caughtUp chan struct{}

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	calls singleflight.Group
}

// StoreOption configures OpenStore.
type StoreOption func(*Store)

// WithWriteErrors reports failed mirror writes to fn.
func WithWriteErrors(fn func(error)) StoreOption {
	return func(s *Store) { s.onError = fn }
}

// OpenStore rehydrates from mirror and starts the writer. A nil mirror keeps
// state in memory only.
func OpenStore(ctx context.Context, mirror Mirror, opts ...StoreOption) (*Store, error) {
	s := &Store{
		mirror:   mirror,
		caughtUp: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if mirror == nil {
		close(s.done)
		return s, nil
	}

	raw, ok, err := mirror.Get(ctx, stateKey)
	if err != nil {
		return nil, errors.Wrap(err, "load session state")
	}
	if ok {
		if err := json.Unmarshal(raw, &s.state); err != nil {
			return nil, errors.Wrap(err, "decode session state")
		}
		s.ok = true
	}
	go s.run()
	return s, nil
}

// Get returns a copy of the current state. ok is false when nothing has been
// stored yet.
func (s *Store) Get() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone(), s.ok
}

// Set applies u and schedules a mirror write. It returns the new state.
func (s *Store) Set(u Update) State {
	s.mu.Lock()
	next := u(s.state.clone())
	s.state = next.clone()
	s.ok = true
	s.bump()
	s.mu.Unlock()
	s.signal()
	return next
}

// Clear wipes memory and the mirror, then waits for the wipe to land.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.state = State{}
	s.ok = false
	s.cleared = true
	s.bump()
	s.mu.Unlock()
	s.signal()
	return s.Flush(ctx)
}

// Flush waits until the mirror holds every change made before the call and
// returns the error of the last write, if any.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	target := s.version
	s.mu.Unlock()
	for {
		s.mu.Lock()
		if s.written >= target {
			err := s.lastErr
			s.mu.Unlock()
			return err
		}
		ch := s.caughtUp
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drains pending writes and stops the writer.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.mirror != nil {
			close(s.quit)
		}
	})
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Once runs fn unless a call with the same key is already in flight, in which
// case the caller waits for that call and shares its error.
func (s *Store) Once(key string, fn func() error) error {
	_, err, _ := s.calls.Do(key, func() (any, error) {
		return nil, fn()
	})
	return err
}

// bump must be called with mu held.
func (s *Store) bump() {
	s.version++
	if s.mirror == nil {
		s.written = s.version
	}
}

func (s *Store) signal() {
	if s.mirror == nil {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.write()
		case <-s.quit:
			s.write()
			return
		}
	}
}

func (s *Store) write() {
	s.mu.Lock()
	if s.written == s.version {
		s.mu.Unlock()
		return
	}
	target := s.version
	wipe := s.cleared
	s.cleared = false
	var raw []byte
	var encErr error
	if s.ok {
		raw, encErr = json.Marshal(s.state)
	}
	s.mu.Unlock()

	ctx := context.Background()
	var err error
	if wipe {
		err = s.mirror.Clear(ctx)
	}
	if err == nil && encErr != nil {
		err = errors.Wrap(encErr, "encode session state")
	}
	if err == nil && raw != nil {
		err = s.mirror.Put(ctx, stateKey, raw)
	}

	s.mu.Lock()
	s.written = target
	s.lastErr = err
	close(s.caughtUp)
	s.caughtUp = make(chan struct{})
	s.mu.Unlock()

	if err != nil && s.onError != nil {
		s.onError(err)
	}
}
