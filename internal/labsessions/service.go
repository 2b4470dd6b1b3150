package labsessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/llm"
	"letterlab-backend/internal/progress"
	"letterlab-backend/internal/prompts"
	"letterlab-backend/internal/shared/telemetry"
)

// Archive reasons.
const (
	ReasonCompleted     = "session_completed"
	ReasonFinalFeedback = "final_feedback"
)

// Archiver schedules a snapshot of a session.
type Archiver interface {
	Enqueue(ctx context.Context, sessionID, reason string) error
}

// TokenBinder links a session to the access token that created it.
type TokenBinder interface {
	BindSession(ctx context.Context, token, sessionID string) error
}

// Service runs the participant session workflow.
type Service struct {
	Repo     Repo
	Prompts  *prompts.Service
	LLM      llm.Client
	Tokens   TokenBinder
	Events   progress.Publisher
	Archiver Archiver
	Now      func() time.Time
	NewID    func() string
}

func NewService(repo Repo, promptSvc *prompts.Service, client llm.Client, tokens TokenBinder, events progress.Publisher, archiver Archiver) *Service {
	if client == nil {
		client = llm.DisabledClient{}
	}
	if events == nil {
		events = progress.NopPublisher{}
	}
	return &Service{
		Repo:     repo,
		Prompts:  promptSvc,
		LLM:      client,
		Tokens:   tokens,
		Events:   events,
		Archiver: archiver,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// Owner identifies the caller of a gated operation.
type Owner struct {
	Token    string
	TokenRef string
}

// Initialize creates a session and generates its opening content.
func (s *Service) Initialize(ctx context.Context, owner Owner, resume, jobDesc string) (Session, error) {
	if strings.TrimSpace(resume) == "" || strings.TrimSpace(jobDesc) == "" {
		return Session{}, ErrInvalidInput
	}
	vars := map[string]string{"resume": resume, "jobDescription": jobDesc}

	letter, err := s.generateText(ctx, prompts.TypeCoverLetter, vars)
	if err != nil {
		return Session{}, err
	}
	intro, err := s.generateText(ctx, prompts.TypeReviewIntro, vars)
	if err != nil {
		return Session{}, err
	}
	bullets, err := s.generateBullets(ctx, vars)
	if err != nil {
		return Session{}, err
	}

	now := s.Now().UTC()
	sess := Session{
		ID:                 s.NewID(),
		TokenRef:           owner.TokenRef,
		Resume:             resume,
		JobDescription:     jobDesc,
		InitialCoverLetter: letter,
		ReviewIntro:        intro,
		Bullets:            bullets,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.Repo.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	if s.Tokens != nil && owner.Token != "" {
		if err := s.Tokens.BindSession(ctx, owner.Token, sess.ID); err != nil {
			telemetry.Warn("session.bind_token_failed", map[string]any{"session_id": sess.ID, "error": err.Error()})
		}
	}
	s.Events.Publish(ctx, progress.EventSessionInitialized, sess.ID, map[string]any{"bullets": len(bullets)})
	return sess, nil
}

// Get returns a session with its iteration log. Sessions owned by another
// token look missing.
func (s *Service) Get(ctx context.Context, owner Owner, id string) (Session, error) {
	sess, err := s.load(ctx, owner, id)
	if err != nil {
		return Session{}, err
	}
	iterations, err := s.Repo.ListIterations(ctx, id)
	if err != nil {
		return Session{}, err
	}
	sess.Iterations = iterations
	return sess, nil
}

// Snapshot returns a session with iterations regardless of owner.
func (s *Service) Snapshot(ctx context.Context, id string) (Session, error) {
	sess, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	iterations, err := s.Repo.ListIterations(ctx, id)
	if err != nil {
		return Session{}, err
	}
	sess.Iterations = iterations
	return sess, nil
}

// List returns every session document.
func (s *Service) List(ctx context.Context) ([]Session, error) {
	return s.Repo.List(ctx)
}

// CountCompleted reports how many sessions finished.
func (s *Service) CountCompleted(ctx context.Context) (int, error) {
	return s.Repo.CountCompleted(ctx)
}

// GenerateControlProfile returns the stored control profile text or
// generates it once.
func (s *Service) GenerateControlProfile(ctx context.Context, owner Owner, id string) (string, error) {
	sess, err := s.load(ctx, owner, id)
	if err != nil {
		return "", err
	}
	if sess.ControlProfile != nil && sess.ControlProfile.Text != "" {
		return sess.ControlProfile.Text, nil
	}
	text, err := s.generateText(ctx, prompts.TypeControl, map[string]string{
		"resume":         sess.Resume,
		"jobDescription": sess.JobDescription,
	})
	if err != nil {
		return "", err
	}
	now := s.Now().UTC()
	if sess.ControlProfile == nil {
		sess.ControlProfile = &Profile{}
	}
	sess.ControlProfile.Text = text
	sess.ControlProfile.GeneratedAt = &now
	sess.UpdatedAt = now
	if err := s.Repo.Update(ctx, sess); err != nil {
		return "", err
	}
	s.Events.Publish(ctx, progress.EventControlGenerated, id, nil)
	return text, nil
}

// SavePhaseResponses stores the survey answers for one profile.
func (s *Service) SavePhaseResponses(ctx context.Context, owner Owner, id, phase string, likert Likert, open OpenResponses) error {
	if phase != PhaseControl && phase != PhaseAligned {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidInput, phase)
	}
	if strings.TrimSpace(open.Likes) == "" || strings.TrimSpace(open.Dislikes) == "" || strings.TrimSpace(open.Changes) == "" {
		return fmt.Errorf("%w: open responses are required", ErrInvalidInput)
	}
	for _, v := range []*int{likert.Accuracy, likert.Control, likert.Expression, likert.Alignment} {
		if v == nil || !compare.ValidRating(*v) {
			return fmt.Errorf("%w: likert responses must be 1-7", ErrInvalidInput)
		}
	}
	sess, err := s.load(ctx, owner, id)
	if err != nil {
		return err
	}
	now := s.Now().UTC()
	target := &sess.ControlProfile
	if phase == PhaseAligned {
		target = &sess.AlignedProfile
	}
	if *target == nil {
		*target = &Profile{}
	}
	(*target).Likert = &likert
	(*target).OpenResponses = &open
	(*target).RespondedAt = &now
	sess.UpdatedAt = now
	if err := s.Repo.Update(ctx, sess); err != nil {
		return err
	}
	s.Events.Publish(ctx, progress.EventPhaseResponsesSaved, id, map[string]any{"phase": phase})
	return nil
}

// GenerateBullets returns the stored bullets or generates them once.
func (s *Service) GenerateBullets(ctx context.Context, owner Owner, id string) ([]Bullet, error) {
	sess, err := s.load(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if len(sess.Bullets) > 0 {
		return sess.Bullets, nil
	}
	bullets, err := s.generateBullets(ctx, map[string]string{
		"resume":         sess.Resume,
		"jobDescription": sess.JobDescription,
	})
	if err != nil {
		return nil, err
	}
	sess.Bullets = bullets
	sess.UpdatedAt = s.Now().UTC()
	if err := s.Repo.Update(ctx, sess); err != nil {
		return nil, err
	}
	s.Events.Publish(ctx, progress.EventBulletsGenerated, id, map[string]any{"bullets": len(bullets)})
	return bullets, nil
}

// HistoryEntry is one earlier version of a bullet sent with a regeneration.
type HistoryEntry struct {
	IterationNumber int    `json:"iteration_number"`
	Text            string `json:"text"`
	Rationale       string `json:"rationale"`
	Rating          *int   `json:"rating"`
	Feedback        string `json:"feedback"`
}

// RegenerateInput carries the participant's verdict on the shown bullet.
type RegenerateInput struct {
	BulletIndex int
	Text        string
	Rationale   string
	Rating      *int
	Feedback    string
	History     []HistoryEntry
}

// RegenerateBullet asks the model for a revised bullet. The request context
// bounds the model call.
func (s *Service) RegenerateBullet(ctx context.Context, owner Owner, id string, in RegenerateInput) (Bullet, error) {
	if in.Rating == nil || !compare.ValidRating(*in.Rating) {
		return Bullet{}, fmt.Errorf("%w: user_rating is required", ErrInvalidInput)
	}
	sess, err := s.load(ctx, owner, id)
	if err != nil {
		return Bullet{}, err
	}
	if in.BulletIndex < 0 || in.BulletIndex >= len(sess.Bullets) {
		return Bullet{}, fmt.Errorf("%w: bullet_index out of range", ErrInvalidInput)
	}
	current := sess.Bullets[in.BulletIndex]
	if strings.TrimSpace(in.Text) == "" {
		in.Text = current.Text
		in.Rationale = current.Rationale
	}

	prompt, err := s.Prompts.Render(ctx, prompts.TypeRegeneration, map[string]string{
		"rating":           strconv.Itoa(*in.Rating),
		"feedback":         in.Feedback,
		"bulletText":       in.Text,
		"rationale":        in.Rationale,
		"iterationHistory": formatHistory(in.History),
		"resume":           sess.Resume,
		"jobDescription":   sess.JobDescription,
	})
	if err != nil {
		return Bullet{}, err
	}
	raw, err := s.LLM.Complete(ctx, llm.UserPrompt(prompt, true))
	if err != nil {
		return Bullet{}, wrapGeneration(err)
	}
	var reply struct {
		Bullet struct {
			Text      string `json:"text"`
			Rationale string `json:"rationale"`
		} `json:"bullet"`
	}
	if err := llm.DecodeJSON(raw, &reply); err != nil || strings.TrimSpace(reply.Bullet.Text) == "" {
		return Bullet{}, fmt.Errorf("%w: regeneration reply unusable", ErrGeneration)
	}

	next := Bullet{
		Index:     current.Index,
		Category:  current.Category,
		Text:      strings.TrimSpace(reply.Bullet.Text),
		Rationale: strings.TrimSpace(reply.Bullet.Rationale),
	}
	sess.Bullets[in.BulletIndex] = next
	sess.UpdatedAt = s.Now().UTC()
	if err := s.Repo.Update(ctx, sess); err != nil {
		return Bullet{}, err
	}
	s.Events.Publish(ctx, progress.EventBulletRegenerated, id, map[string]any{
		"bullet_index": in.BulletIndex,
		"rating":       *in.Rating,
	})
	return next, nil
}

// SaveIteration appends one record to a bullet's log.
func (s *Service) SaveIteration(ctx context.Context, owner Owner, it Iteration) (Iteration, error) {
	if it.UserRating != nil && !compare.ValidRating(*it.UserRating) {
		return Iteration{}, fmt.Errorf("%w: user_rating must be 1-7", ErrInvalidInput)
	}
	if it.IterationNumber < 1 {
		return Iteration{}, fmt.Errorf("%w: iteration_number must be positive", ErrInvalidInput)
	}
	sess, err := s.load(ctx, owner, it.SessionID)
	if err != nil {
		return Iteration{}, err
	}
	if it.BulletIndex < 0 || it.BulletIndex >= len(sess.Bullets) {
		return Iteration{}, fmt.Errorf("%w: bullet_index out of range", ErrInvalidInput)
	}
	it.CreatedAt = s.Now().UTC()
	saved, err := s.Repo.AppendIteration(ctx, it)
	if err != nil {
		return Iteration{}, err
	}
	s.Events.Publish(ctx, progress.EventIterationSaved, it.SessionID, map[string]any{
		"bullet_index":     it.BulletIndex,
		"iteration_number": it.IterationNumber,
		"is_final":         it.IsFinal,
	})
	return saved, nil
}

// GenerateAlignedProfile synthesizes a profile from the iteration log, once.
func (s *Service) GenerateAlignedProfile(ctx context.Context, owner Owner, id string) (string, error) {
	sess, err := s.load(ctx, owner, id)
	if err != nil {
		return "", err
	}
	if sess.AlignedProfile != nil && sess.AlignedProfile.Text != "" {
		return sess.AlignedProfile.Text, nil
	}
	iterations, err := s.Repo.ListIterations(ctx, id)
	if err != nil {
		return "", err
	}
	text, err := s.generateText(ctx, prompts.TypeFinalSynthesis, map[string]string{
		"resume":         sess.Resume,
		"jobDescription": sess.JobDescription,
		"bulletData":     formatBulletData(sess.Bullets, iterations),
	})
	if err != nil {
		return "", err
	}
	now := s.Now().UTC()
	if sess.AlignedProfile == nil {
		sess.AlignedProfile = &Profile{}
	}
	sess.AlignedProfile.Text = text
	sess.AlignedProfile.GeneratedAt = &now
	sess.UpdatedAt = now
	if err := s.Repo.Update(ctx, sess); err != nil {
		return "", err
	}
	s.Events.Publish(ctx, progress.EventAlignedGenerated, id, map[string]any{"iterations": len(iterations)})
	return text, nil
}

// MarkCompleted flags the session done and schedules an archive snapshot.
func (s *Service) MarkCompleted(ctx context.Context, owner Owner, id string) error {
	if _, err := s.load(ctx, owner, id); err != nil {
		return err
	}
	if err := s.Repo.MarkCompleted(ctx, id, s.Now().UTC()); err != nil {
		return err
	}
	s.Events.Publish(ctx, progress.EventSessionCompleted, id, nil)
	s.archive(ctx, id, ReasonCompleted)
	return nil
}

// FinalInput is the comparison submission from the client.
type FinalInput struct {
	DraftMapping compare.Mapping
	Ratings      compare.Ratings
	Feedback     map[string]DraftFeedback
	Comments     string
}

// SubmitFinalFeedback stores the comparison results, recomputing the
// preference from the ratings.
func (s *Service) SubmitFinalFeedback(ctx context.Context, owner Owner, id string, in FinalInput) (compare.Preference, error) {
	if !in.DraftMapping.Valid() {
		return "", fmt.Errorf("%w: draft_mapping must assign initial and final", ErrInvalidInput)
	}
	for _, r := range []*int{in.Ratings.Draft1, in.Ratings.Draft2} {
		if r != nil && !compare.ValidRating(*r) {
			return "", fmt.Errorf("%w: ratings must be 1-7", ErrInvalidInput)
		}
	}
	for label := range in.Feedback {
		if label != string(compare.LabelDraft1) && label != string(compare.LabelDraft2) {
			return "", fmt.Errorf("%w: unknown draft label %q", ErrInvalidInput, label)
		}
	}
	sess, err := s.load(ctx, owner, id)
	if err != nil {
		return "", err
	}
	if sess.DraftMapping != nil && *sess.DraftMapping != in.DraftMapping {
		return "", fmt.Errorf("%w: draft_mapping differs from the recorded one", ErrConflict)
	}
	pref, _ := compare.DerivePreference(in.Ratings, in.DraftMapping)
	now := s.Now().UTC()
	mapping := in.DraftMapping
	sess.DraftMapping = &mapping
	sess.FinalFeedback = &FinalFeedback{
		DraftMapping: in.DraftMapping,
		Ratings:      in.Ratings,
		Feedback:     in.Feedback,
		Preference:   pref,
		Comments:     in.Comments,
		SubmittedAt:  now,
	}
	sess.UpdatedAt = now
	if err := s.Repo.Update(ctx, sess); err != nil {
		return "", err
	}
	s.Events.Publish(ctx, progress.EventFinalFeedback, id, map[string]any{"preference": string(pref)})
	s.archive(ctx, id, ReasonFinalFeedback)
	return pref, nil
}

// CoverLetter is the single-shot generator with no session attached.
func (s *Service) CoverLetter(ctx context.Context, resume, jobDesc string) (string, error) {
	if strings.TrimSpace(resume) == "" || strings.TrimSpace(jobDesc) == "" {
		return "", ErrInvalidInput
	}
	letter, err := s.generateText(ctx, prompts.TypeCoverLetter, map[string]string{
		"resume":         resume,
		"jobDescription": jobDesc,
	})
	if err != nil {
		return "", err
	}
	s.Events.Publish(ctx, progress.EventCoverLetterGenerated, "", nil)
	return letter, nil
}

func (s *Service) load(ctx context.Context, owner Owner, id string) (Session, error) {
	if strings.TrimSpace(id) == "" {
		return Session{}, fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	sess, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.TokenRef != owner.TokenRef {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *Service) archive(ctx context.Context, id, reason string) {
	if s.Archiver == nil {
		return
	}
	if err := s.Archiver.Enqueue(ctx, id, reason); err != nil {
		telemetry.Error("session.archive_enqueue_failed", map[string]any{
			"session_id": id,
			"reason":     reason,
			"error":      err.Error(),
		})
	}
}

func (s *Service) generateText(ctx context.Context, t prompts.Type, vars map[string]string) (string, error) {
	prompt, err := s.Prompts.Render(ctx, t, vars)
	if err != nil {
		return "", err
	}
	raw, err := s.LLM.Complete(ctx, llm.UserPrompt(prompt, false))
	if err != nil {
		return "", wrapGeneration(err)
	}
	text := strings.TrimSpace(llm.StripCodeFences(raw))
	if text == "" {
		return "", fmt.Errorf("%w: empty %s reply", ErrGeneration, t)
	}
	return text, nil
}

func (s *Service) generateBullets(ctx context.Context, vars map[string]string) ([]Bullet, error) {
	prompt, err := s.Prompts.Render(ctx, prompts.TypeBSEGeneration, vars)
	if err != nil {
		return nil, err
	}
	raw, err := s.LLM.Complete(ctx, llm.UserPrompt(prompt, true))
	if err != nil {
		return nil, wrapGeneration(err)
	}
	return parseBullets(raw)
}

func parseBullets(raw string) ([]Bullet, error) {
	var reply struct {
		Bullets []struct {
			Index     *int   `json:"index"`
			Text      string `json:"text"`
			Rationale string `json:"rationale"`
		} `json:"bullets"`
	}
	if err := llm.DecodeJSON(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	out := make([]Bullet, 0, len(reply.Bullets))
	for _, b := range reply.Bullets {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		// Indexes are reassigned densely so the log keys stay contiguous.
		idx := len(out)
		out = append(out, Bullet{
			Index:     idx,
			Category:  CategoryFor(idx),
			Text:      text,
			Rationale: strings.TrimSpace(b.Rationale),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no bullets in reply", ErrGeneration)
	}
	return out, nil
}

func wrapGeneration(err error) error {
	if errors.Is(err, llm.ErrDisabled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrGeneration, err)
}

func formatHistory(history []HistoryEntry) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous iterations:\n")
	for _, h := range history {
		rating := "unrated"
		if h.Rating != nil {
			rating = fmt.Sprintf("%d/7", *h.Rating)
		}
		fmt.Fprintf(&b, "%d. %q (rating %s)", h.IterationNumber, h.Text, rating)
		if fb := strings.TrimSpace(h.Feedback); fb != "" {
			fmt.Fprintf(&b, " feedback: %q", fb)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatBulletData(bullets []Bullet, iterations []Iteration) string {
	byIndex := make(map[int][]Iteration)
	for _, it := range iterations {
		byIndex[it.BulletIndex] = append(byIndex[it.BulletIndex], it)
	}
	var b strings.Builder
	for _, bullet := range bullets {
		fmt.Fprintf(&b, "[%s] bullet %d\n", bullet.Category, bullet.Index)
		fmt.Fprintf(&b, "  final text: %s\n", bullet.Text)
		for _, it := range byIndex[bullet.Index] {
			rating := "unrated"
			if it.UserRating != nil {
				rating = fmt.Sprintf("%d/7", *it.UserRating)
			}
			marker := ""
			if it.IsFinal {
				marker = " (accepted)"
			}
			fmt.Fprintf(&b, "  iteration %d%s: %q rating %s", it.IterationNumber, marker, it.BulletText, rating)
			if fb := strings.TrimSpace(it.UserFeedback); fb != "" {
				fmt.Fprintf(&b, " feedback: %q", fb)
			}
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
