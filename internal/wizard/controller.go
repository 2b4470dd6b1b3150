package wizard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/labclient"
	"letterlab-backend/internal/labsessions"
)

// MsgInvalidToken is shown when token validation fails for any reason.
const MsgInvalidToken = "Invalid or used token"

var (
	// ErrInvalidToken is returned by ValidateToken for any non-2xx answer.
	ErrInvalidToken = errors.New(MsgInvalidToken)
	// ErrUnauthorized means the backend rejected the token and local state was wiped.
	ErrUnauthorized = errors.New("session ended, enter a new access token")
	// ErrIncomplete means the current screen's requirements are not met.
	ErrIncomplete = errors.New("screen is not complete")
	// ErrFinalized means the comparison was submitted and earlier screens are locked.
	ErrFinalized = errors.New("responses already submitted")
	// ErrBusy means a call for this screen is still running.
	ErrBusy = errors.New("request in progress")
)

// API is the lab backend as the wizard uses it. labclient.Client implements it.
type API interface {
	Sender
	SetToken(token string)
	ValidateToken(ctx context.Context, token string) error
	Initialize(ctx context.Context, resume, jobDesc string, opts ...labclient.Option) (labclient.InitializeResult, error)
	GenerateControlProfile(ctx context.Context, sessionID string, opts ...labclient.Option) (string, error)
	GenerateBullets(ctx context.Context, sessionID, resume, jobDesc string, opts ...labclient.Option) ([]labsessions.Bullet, error)
	RegenerateBullet(ctx context.Context, in labclient.RegenerateRequest, opts ...labclient.Option) (labclient.CurrentBullet, error)
	GenerateAlignedProfile(ctx context.Context, sessionID string, opts ...labclient.Option) (string, error)
	CoverLetter(ctx context.Context, resume, jobDesc string, opts ...labclient.Option) (string, error)
	Chat(ctx context.Context, in labclient.ChatRequest) (string, error)
}

// Controller decides which screen the participant may see and runs the
// remote calls each screen needs.
type Controller struct {
	Store  *Store
	API    API
	Outbox *Outbox

	// RequireSecondRating makes the authenticity rating mandatory on draft screens.
	RequireSecondRating bool
	// Coin decides the draft mapping. Nil flips a fair coin.
	Coin func() bool

	mu   sync.Mutex
	busy map[Screen]int
}

// NewController wires the pieces and hands any stored token to the API.
func NewController(store *Store, api API, outbox *Outbox) *Controller {
	c := &Controller{Store: store, API: api, Outbox: outbox, busy: map[Screen]int{}}
	st, ok := store.Get()
	if !ok {
		return c
	}
	if st.AccessToken != "" {
		api.SetToken(st.AccessToken)
	}
	// A regeneration cannot outlive the process that started it.
	for i, b := range st.Bullets {
		if b.Phase == PhaseRegenerating {
			pos := i
			store.Set(func(st State) State {
				st.Bullets[pos].Phase = PhaseRated
				return st
			})
		}
	}
	return c
}

// Current is the screen to show. Without a validated token every screen
// resolves to token entry.
func (c *Controller) Current() Screen {
	st, _ := c.Store.Get()
	return c.resolve(st)
}

func (c *Controller) resolve(st State) Screen {
	if !st.Authorized() {
		return ScreenEnterToken
	}
	if st.Screen == "" || st.Screen == ScreenEnterToken {
		return ScreenWelcome
	}
	return st.Screen
}

// Complete evaluates a screen's completion predicate.
func (c *Controller) Complete(st State, screen Screen) bool {
	switch screen {
	case ScreenEnterToken:
		return st.Authorized()
	case ScreenWelcome:
		return !blank(st.Resume) && !blank(st.JobDescription)
	case ScreenControlProfile:
		return st.ControlProfile.Answered()
	case ScreenBulletRefinement:
		return allAccepted(st.Bullets)
	case ScreenAlignedProfile:
		return st.AlignedProfile.Answered()
	case ScreenProfileComparison:
		return st.ControlProfile.Answered() && st.AlignedProfile.Answered()
	case ScreenComparisonIntro:
		return st.DraftMapping != nil && st.DraftMapping.Valid() && st.FinalCoverLetter != ""
	case ScreenDraft1:
		return c.draftComplete(st, compare.LabelDraft1)
	case ScreenDraft2:
		return c.draftComplete(st, compare.LabelDraft2)
	case ScreenFinalSurvey:
		return st.FinalSubmitted
	}
	return false
}

// allAccepted holds once every bullet is accepted. A bullet reopened from a
// later screen keeps refinement incomplete until it is accepted again.
func allAccepted(bullets []BulletState) bool {
	if len(bullets) == 0 {
		return false
	}
	for _, b := range bullets {
		if b.Phase != PhaseAccepted {
			return false
		}
	}
	return true
}

// CanAdvance reports whether forward navigation is enabled.
func (c *Controller) CanAdvance() bool {
	st, _ := c.Store.Get()
	screen := c.resolve(st)
	return screen != ScreenDone && !c.Busy(screen) && c.Complete(st, screen)
}

// CanGoBack reports whether backward navigation is enabled.
func (c *Controller) CanGoBack() bool {
	st, _ := c.Store.Get()
	screen := c.resolve(st)
	return !st.FinalSubmitted && screen.position() > ScreenWelcome.position() && !c.Busy(screen)
}

// Reachable reports whether every screen before target is complete.
func (c *Controller) Reachable(target Screen) bool {
	st, _ := c.Store.Get()
	if target == ScreenEnterToken {
		return true
	}
	if !st.Authorized() || target.position() < 0 {
		return false
	}
	for _, sc := range Screens[:target.position()] {
		if !c.Complete(st, sc) {
			return false
		}
	}
	return true
}

// Next leaves the current screen once its predicate holds, runs the
// leaving action and mounts the next screen. A failed mount leaves the
// participant on the new screen with the error to show and Retry to call.
func (c *Controller) Next(ctx context.Context) (Screen, error) {
	st, _ := c.Store.Get()
	screen := c.resolve(st)
	if c.Busy(screen) {
		return screen, ErrBusy
	}
	if screen == ScreenDone || !c.Complete(st, screen) {
		return screen, ErrIncomplete
	}

	switch screen {
	case ScreenWelcome:
		if err := c.Generate(ctx); err != nil {
			return screen, err
		}
	case ScreenControlProfile:
		if err := c.queueProfile(ctx, st, labsessions.PhaseControl, st.ControlProfile); err != nil {
			return screen, err
		}
	case ScreenAlignedProfile:
		if err := c.queueProfile(ctx, st, labsessions.PhaseAligned, st.AlignedProfile); err != nil {
			return screen, err
		}
	}

	next := Screens[screen.position()+1]
	c.moveTo(next)
	return next, c.Enter(ctx)
}

// Back moves one screen backward.
func (c *Controller) Back() (Screen, error) {
	st, _ := c.Store.Get()
	screen := c.resolve(st)
	if st.FinalSubmitted {
		return screen, ErrFinalized
	}
	if !c.CanGoBack() {
		return screen, ErrIncomplete
	}
	prev := Screens[screen.position()-1]
	c.moveTo(prev)
	return prev, nil
}

// Goto jumps to a reachable screen.
func (c *Controller) Goto(target Screen) error {
	st, _ := c.Store.Get()
	if st.FinalSubmitted && target != ScreenDone {
		return ErrFinalized
	}
	if !c.Reachable(target) {
		return ErrIncomplete
	}
	c.moveTo(target)
	return nil
}

func (c *Controller) moveTo(screen Screen) {
	c.Store.Set(func(st State) State {
		st.Screen = screen
		return st
	})
}

// Enter runs the first-mount call of the current screen when its data is
// missing. Calling it again after a failure is a retry.
func (c *Controller) Enter(ctx context.Context) error {
	switch c.Current() {
	case ScreenControlProfile:
		return c.EnsureControlProfile(ctx)
	case ScreenBulletRefinement:
		return c.EnsureBullets(ctx)
	case ScreenAlignedProfile:
		return c.EnsureAlignedProfile(ctx)
	case ScreenComparisonIntro:
		return c.EnterComparison(ctx)
	}
	return nil
}

// Busy reports whether a call for screen is running.
func (c *Controller) Busy(screen Screen) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy[screen] > 0
}

// run marks screen busy for the duration of a deduplicated call.
func (c *Controller) run(screen Screen, key string, fn func() error) error {
	c.mu.Lock()
	c.busy[screen]++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy[screen]--
		c.mu.Unlock()
	}()
	return c.fail(c.Store.Once(key, fn))
}

// fail wipes local state when the backend rejected the token.
func (c *Controller) fail(err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, labclient.ErrTokenInvalidated) {
		return err
	}
	c.API.SetToken("")
	if clearErr := c.Store.Clear(context.Background()); clearErr != nil {
		return errors.Wrap(clearErr, "clear state after token rejection")
	}
	return ErrUnauthorized
}

// ValidateToken exchanges a one-time token for access.
func (c *Controller) ValidateToken(ctx context.Context, token string) error {
	if blank(token) {
		return ErrInvalidToken
	}
	if err := c.API.ValidateToken(ctx, token); err != nil {
		if labclient.Status(err) != 0 {
			return ErrInvalidToken
		}
		return errors.Wrap(err, "validate token")
	}
	c.Store.Set(func(st State) State {
		if st.ClientID == "" {
			st.ClientID = uuid.NewString()
		}
		st.AccessToken = token
		st.HasAccess = true
		if st.Screen == "" || st.Screen == ScreenEnterToken {
			st.Screen = ScreenWelcome
		}
		return st
	})
	return nil
}

// SetInputs records the resume and job description. They are fixed once the
// session exists.
func (c *Controller) SetInputs(resume, jobDesc string) error {
	var locked bool
	c.Store.Set(func(st State) State {
		if st.SessionID != "" {
			locked = true
			return st
		}
		st.Resume = resume
		st.JobDescription = jobDesc
		return st
	})
	if locked {
		return errors.New("inputs are fixed once the session has started")
	}
	return nil
}

// Generate creates the backend session. Duplicate calls while one is in
// flight share its result; calls after success do nothing.
func (c *Controller) Generate(ctx context.Context) error {
	return c.run(ScreenWelcome, "initialize", func() error {
		st, _ := c.Store.Get()
		if st.SessionID != "" {
			return nil
		}
		if !c.Complete(st, ScreenWelcome) {
			return ErrIncomplete
		}
		res, err := c.API.Initialize(ctx, st.Resume, st.JobDescription, c.idempotency(st, "initialize"))
		if err != nil {
			return errors.Wrap(err, "initialize session")
		}
		c.Store.Set(func(st State) State {
			st.SessionID = res.SessionID
			st.InitialCoverLetter = res.InitialCoverLetter
			st.ReviewIntro = res.ReviewIntro
			st.ReviewBullets = res.Bullets
			return st
		})
		return nil
	})
}

// EnsureControlProfile fetches the control profile once.
func (c *Controller) EnsureControlProfile(ctx context.Context) error {
	return c.run(ScreenControlProfile, "control-profile", func() error {
		st, _ := c.Store.Get()
		if st.ControlProfile != nil && st.ControlProfile.Text != "" {
			return nil
		}
		text, err := c.API.GenerateControlProfile(ctx, st.SessionID, c.idempotency(st, "control-profile"))
		if err != nil {
			return errors.Wrap(err, "generate control profile")
		}
		c.Store.Set(func(st State) State {
			if st.ControlProfile == nil {
				st.ControlProfile = &ProfileState{}
			}
			st.ControlProfile.Text = text
			return st
		})
		return nil
	})
}

// EnsureAlignedProfile fetches the aligned profile once.
func (c *Controller) EnsureAlignedProfile(ctx context.Context) error {
	return c.run(ScreenAlignedProfile, "aligned-profile", func() error {
		st, _ := c.Store.Get()
		if st.AlignedProfile != nil && st.AlignedProfile.Text != "" {
			return nil
		}
		text, err := c.API.GenerateAlignedProfile(ctx, st.SessionID, c.idempotency(st, "aligned-profile"))
		if err != nil {
			return errors.Wrap(err, "generate aligned profile")
		}
		c.Store.Set(func(st State) State {
			if st.AlignedProfile == nil {
				st.AlignedProfile = &ProfileState{}
			}
			st.AlignedProfile.Text = text
			return st
		})
		return nil
	})
}

// EnsureBullets fetches the statements to refine once and orders them by
// category, then by index.
func (c *Controller) EnsureBullets(ctx context.Context) error {
	return c.run(ScreenBulletRefinement, "bullets", func() error {
		st, _ := c.Store.Get()
		if len(st.Bullets) > 0 {
			return nil
		}
		bullets, err := c.API.GenerateBullets(ctx, st.SessionID, st.Resume, st.JobDescription, c.idempotency(st, "bullets"))
		if err != nil {
			return errors.Wrap(err, "generate bullets")
		}
		if len(bullets) == 0 {
			return errors.New("generate bullets: backend returned no bullets")
		}
		c.Store.Set(func(st State) State {
			st.Bullets = orderBullets(bullets)
			st.CurrentBullet = 0
			return st
		})
		return nil
	})
}

func orderBullets(in []labsessions.Bullet) []BulletState {
	rank := make(map[string]int, len(labsessions.Categories))
	for i, cat := range labsessions.Categories {
		rank[cat] = i
	}
	sorted := append([]labsessions.Bullet(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := categoryRank(rank, sorted[i]), categoryRank(rank, sorted[j])
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Index < sorted[j].Index
	})
	out := make([]BulletState, len(sorted))
	for i, b := range sorted {
		out[i] = BulletState{
			Index:     b.Index,
			Category:  b.Category,
			Text:      b.Text,
			Rationale: b.Rationale,
			Iteration: 1,
			Phase:     PhasePresented,
		}
	}
	return out
}

func categoryRank(rank map[string]int, b labsessions.Bullet) int {
	cat := b.Category
	if cat == "" {
		cat = labsessions.CategoryFor(b.Index)
	}
	if r, ok := rank[cat]; ok {
		return r
	}
	return len(rank)
}

// SetProfileResponses records the survey answers for a profile phase.
func (c *Controller) SetProfileResponses(phase string, likert labsessions.Likert, open labsessions.OpenResponses) error {
	for _, v := range []*int{likert.Accuracy, likert.Control, likert.Expression, likert.Alignment} {
		if v != nil && !compare.ValidRating(*v) {
			return errors.Errorf("rating %d is outside 1-7", *v)
		}
	}
	if phase != labsessions.PhaseControl && phase != labsessions.PhaseAligned {
		return errors.Errorf("unknown phase %q", phase)
	}
	c.Store.Set(func(st State) State {
		target := &st.ControlProfile
		if phase == labsessions.PhaseAligned {
			target = &st.AlignedProfile
		}
		if *target == nil {
			*target = &ProfileState{}
		}
		(*target).Likert = likert
		(*target).Open = open
		return st
	})
	return nil
}

func (c *Controller) queueProfile(ctx context.Context, st State, phase string, p *ProfileState) error {
	in := labclient.PhaseResponses{SessionID: st.SessionID, Phase: phase, Likert: p.Likert, Open: p.Open}
	key := contentKey(st.ClientID, "phase-"+phase, in)
	if err := c.Outbox.Add(ctx, KindPhaseResponses, key, in); err != nil {
		return err
	}
	return c.flushOutbox(ctx)
}

// flushOutbox makes one attempt at pending jobs. Failures stay queued and
// only a rejected token is reported.
func (c *Controller) flushOutbox(ctx context.Context) error {
	if err := c.fail(c.Outbox.TrySend(ctx)); errors.Is(err, ErrUnauthorized) {
		return err
	}
	return nil
}

// SyncOutbox drains the outbox with backoff.
func (c *Controller) SyncOutbox(ctx context.Context) error {
	return c.fail(c.Outbox.Drain(ctx))
}

func (c *Controller) idempotency(st State, op string) labclient.Option {
	return labclient.WithIdempotencyKey(st.ClientID + ":" + op)
}

// contentKey derives an idempotency key that changes when the payload does.
func contentKey(clientID, op string, payload any) string {
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%s:%s", clientID, op, hex.EncodeToString(sum[:8]))
}
