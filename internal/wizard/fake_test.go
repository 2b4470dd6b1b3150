package wizard

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/labclient"
	"letterlab-backend/internal/labsessions"
	"letterlab-backend/internal/localstore"
	"letterlab-backend/internal/retry"
)

type fakeAPI struct {
	mu    sync.Mutex
	token string
	calls map[string]int
	keys  map[string][]string

	validateErr error
	initGate    chan struct{}
	profileErr  error
	saveErr     error
	regenErr    error
	regenFn     func(ctx context.Context) (labclient.CurrentBullet, error)
	chatErr     error
	finalErr    error

	bullets    []labsessions.Bullet
	iterations []labclient.IterationRecord
	regens     []labclient.RegenerateRequest
	phases     []labclient.PhaseResponses
	finals     []labclient.FinalFeedback
	completed  []string
	chats      []labclient.ChatRequest
}

func newFakeAPI() *fakeAPI {
	bullets := make([]labsessions.Bullet, 6)
	for i := range bullets {
		bullets[i] = labsessions.Bullet{
			Index:     i,
			Category:  labsessions.CategoryFor(i),
			Text:      "statement " + string(rune('A'+i)),
			Rationale: "because",
		}
	}
	return &fakeAPI{calls: map[string]int{}, keys: map[string][]string{}, bullets: bullets}
}

func (f *fakeAPI) record(name string, opts []labclient.Option) {
	req := httptest.NewRequest("POST", "/", nil)
	for _, opt := range opts {
		opt(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.keys[name] = append(f.keys[name], req.Header.Get("Idempotency-Key"))
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) SetToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeAPI) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeAPI) ValidateToken(_ context.Context, token string) error {
	f.record("validate", nil)
	if f.validateErr != nil {
		return f.validateErr
	}
	f.SetToken(token)
	return nil
}

func (f *fakeAPI) Initialize(ctx context.Context, resume, jobDesc string, opts ...labclient.Option) (labclient.InitializeResult, error) {
	f.record("initialize", opts)
	if f.initGate != nil {
		select {
		case <-f.initGate:
		case <-ctx.Done():
			return labclient.InitializeResult{}, ctx.Err()
		}
	}
	return labclient.InitializeResult{
		SessionID:          "sess-1",
		InitialCoverLetter: "initial letter",
		ReviewIntro:        "intro",
	}, nil
}

func (f *fakeAPI) GenerateControlProfile(_ context.Context, _ string, opts ...labclient.Option) (string, error) {
	f.record("control", opts)
	if f.profileErr != nil {
		return "", f.profileErr
	}
	return "control profile", nil
}

func (f *fakeAPI) GenerateAlignedProfile(_ context.Context, _ string, opts ...labclient.Option) (string, error) {
	f.record("aligned", opts)
	return "aligned profile", nil
}

func (f *fakeAPI) GenerateBullets(_ context.Context, _, _, _ string, opts ...labclient.Option) ([]labsessions.Bullet, error) {
	f.record("bullets", opts)
	return f.bullets, nil
}

func (f *fakeAPI) RegenerateBullet(ctx context.Context, in labclient.RegenerateRequest, opts ...labclient.Option) (labclient.CurrentBullet, error) {
	f.record("regenerate", opts)
	f.mu.Lock()
	f.regens = append(f.regens, in)
	f.mu.Unlock()
	if f.regenFn != nil {
		return f.regenFn(ctx)
	}
	if f.regenErr != nil {
		return labclient.CurrentBullet{}, f.regenErr
	}
	return labclient.CurrentBullet{Text: in.Current.Text + " v2", Rationale: "sharper"}, nil
}

func (f *fakeAPI) SaveIteration(_ context.Context, in labclient.IterationRecord, opts ...labclient.Option) error {
	f.record("iteration", opts)
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	f.iterations = append(f.iterations, in)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) SavePhaseResponses(_ context.Context, in labclient.PhaseResponses, opts ...labclient.Option) error {
	f.record("phase", opts)
	f.mu.Lock()
	f.phases = append(f.phases, in)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) MarkCompleted(_ context.Context, sessionID string, opts ...labclient.Option) error {
	f.record("completed", opts)
	f.mu.Lock()
	f.completed = append(f.completed, sessionID)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) SubmitFinalFeedback(_ context.Context, in labclient.FinalFeedback, opts ...labclient.Option) (compare.Preference, error) {
	f.record("final", opts)
	if f.finalErr != nil {
		return "", f.finalErr
	}
	f.mu.Lock()
	f.finals = append(f.finals, in)
	f.mu.Unlock()
	return in.Preference, nil
}

func (f *fakeAPI) CoverLetter(_ context.Context, _, _ string, opts ...labclient.Option) (string, error) {
	f.record("letter", opts)
	return "final letter", nil
}

func (f *fakeAPI) Chat(_ context.Context, in labclient.ChatRequest) (string, error) {
	f.record("chat", nil)
	f.mu.Lock()
	f.chats = append(f.chats, in)
	f.mu.Unlock()
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return "Thanks, noted.", nil
}

type harness struct {
	c   *Controller
	api *fakeAPI
	ls  *localstore.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ls, err := localstore.Open(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	store, err := OpenStore(context.Background(), ls)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		ls.Close()
	})

	api := newFakeAPI()
	ob := NewOutbox(ls, api)
	ob.Policy = retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return &harness{c: NewController(store, api, ob), api: api, ls: ls}
}

// authorize validates a token and starts a session with both inputs set.
func (h *harness) authorize(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.c.ValidateToken(ctx, "tok-1"))
	require.NoError(t, h.c.SetInputs("my resume", "the job"))
}

// toBullets moves a session straight onto the refinement screen.
func (h *harness) toBullets(t *testing.T) {
	t.Helper()
	h.authorize(t)
	h.c.Store.Set(func(st State) State {
		st.SessionID = "sess-1"
		st.InitialCoverLetter = "initial letter"
		st.Screen = ScreenBulletRefinement
		return st
	})
	require.NoError(t, h.c.EnsureBullets(context.Background()))
}

func (h *harness) outboxCount(t *testing.T) int {
	t.Helper()
	n, err := h.ls.Count(context.Background())
	require.NoError(t, err)
	return n
}

func answered() (labsessions.Likert, labsessions.OpenResponses) {
	likert := labsessions.Likert{
		Accuracy:   intPtr(6),
		Control:    intPtr(5),
		Expression: intPtr(4),
		Alignment:  intPtr(7),
	}
	open := labsessions.OpenResponses{Likes: "clear", Dislikes: "long", Changes: "shorter"}
	return likert, open
}

func unavailable() error {
	return &labclient.APIError{Status: 503, Code: "llm_unavailable", Message: "try later"}
}

func tokenRejected() error {
	return &labclient.APIError{Status: 401, Message: "Token has been invalidated."}
}
