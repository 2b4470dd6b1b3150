package wizard

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterlab-backend/internal/localstore"
)

func TestStoreEmptyUntilSet(t *testing.T) {
	s, err := OpenStore(context.Background(), nil)
	require.NoError(t, err)

	_, ok := s.Get()
	assert.False(t, ok)

	s.Set(func(st State) State {
		st.Resume = "r"
		return st
	})
	got, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "r", got.Resume)
	require.NoError(t, s.Flush(context.Background()))
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s, err := OpenStore(context.Background(), nil)
	require.NoError(t, err)
	s.Set(Replace(State{Bullets: []BulletState{{Text: "one"}}}))

	got, _ := s.Get()
	got.Bullets[0].Text = "mutated"

	again, _ := s.Get()
	assert.Equal(t, "one", again.Bullets[0].Text)
}

func TestStoreRehydratesFromMirror(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "client.db")

	ls, err := localstore.Open(path)
	require.NoError(t, err)
	s, err := OpenStore(ctx, ls)
	require.NoError(t, err)
	s.Set(func(st State) State {
		st.AccessToken = "tok"
		st.HasAccess = true
		st.SessionID = "sess-9"
		return st
	})
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())
	require.NoError(t, ls.Close())

	ls, err = localstore.Open(path)
	require.NoError(t, err)
	defer ls.Close()
	s, err = OpenStore(ctx, ls)
	require.NoError(t, err)
	defer s.Close()

	got, ok := s.Get()
	require.True(t, ok)
	assert.Equal(t, "sess-9", got.SessionID)
	assert.True(t, got.Authorized())
}

func TestStoreClearWipesMirror(t *testing.T) {
	ctx := context.Background()
	ls, err := localstore.Open(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	defer ls.Close()
	s, err := OpenStore(ctx, ls)
	require.NoError(t, err)
	defer s.Close()

	s.Set(Replace(State{SessionID: "sess-1"}))
	_, err = ls.Enqueue(ctx, KindMarkCompleted, []byte(`{}`), "k")
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))

	require.NoError(t, s.Clear(ctx))

	_, ok := s.Get()
	assert.False(t, ok)
	_, ok, err = ls.Get(ctx, stateKey)
	require.NoError(t, err)
	assert.False(t, ok)
	n, err := ls.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// gatedMirror blocks the first Put until released.
type gatedMirror struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu   sync.Mutex
	puts [][]byte
}

func (m *gatedMirror) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (m *gatedMirror) Clear(context.Context) error                       { return nil }

func (m *gatedMirror) Put(_ context.Context, _ string, value []byte) error {
	first := false
	m.once.Do(func() { first = true })
	if first {
		close(m.entered)
		<-m.release
	}
	m.mu.Lock()
	m.puts = append(m.puts, value)
	m.mu.Unlock()
	return nil
}

func TestStoreCoalescesPendingWrites(t *testing.T) {
	ctx := context.Background()
	m := &gatedMirror{entered: make(chan struct{}), release: make(chan struct{})}
	s, err := OpenStore(ctx, m)
	require.NoError(t, err)
	defer s.Close()

	s.Set(Replace(State{Comments: "v1"}))
	<-m.entered
	for i := 2; i <= 10; i++ {
		s.Set(Replace(State{Comments: "v" + string(rune('0'+i%10))}))
	}
	close(m.release)
	require.NoError(t, s.Flush(ctx))

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.puts, 2)
	var last State
	require.NoError(t, json.Unmarshal(m.puts[1], &last))
	assert.Equal(t, "v0", last.Comments)
}

func TestStoreFlushHonorsContext(t *testing.T) {
	m := &gatedMirror{entered: make(chan struct{}), release: make(chan struct{})}
	s, err := OpenStore(context.Background(), m)
	require.NoError(t, err)

	s.Set(Replace(State{Comments: "stuck"}))
	<-m.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Flush(ctx), context.DeadlineExceeded)

	close(m.release)
	require.NoError(t, s.Close())
}

func TestOnceSharesInFlightCall(t *testing.T) {
	s, err := OpenStore(context.Background(), nil)
	require.NoError(t, err)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func() error {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Once("initialize", fn))
	}()
	<-started
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Once("initialize", fn))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
