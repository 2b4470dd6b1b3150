// Package labclient calls the LetterLab lab API on behalf of the participant client.
package labclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/labsessions"
	"letterlab-backend/internal/shared/server/middleware"
)

const (
	defaultTimeout   = 2 * time.Minute
	maxResponseBytes = 4 << 20
)

// Client talks JSON to the lab API.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a client for baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

// SetToken sets the access token sent with gated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Option adjusts a single request.
type Option func(*http.Request)

// WithIdempotencyKey sends key so the backend replays retried mutations.
func WithIdempotencyKey(key string) Option {
	return func(r *http.Request) {
		if key != "" {
			r.Header.Set(middleware.IdempotencyHeader, key)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, opts ...Option) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "encode %s", path)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s", path)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set(middleware.AccessTokenHeader, token)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

// ValidateToken consumes a one-time token. On success the client keeps it.
func (c *Client) ValidateToken(ctx context.Context, token string) error {
	if err := c.do(ctx, http.MethodPost, "/lab/validate-token", map[string]string{"token": token}, nil); err != nil {
		return err
	}
	c.SetToken(token)
	return nil
}

// InitializeResult is the opening content of a new session.
type InitializeResult struct {
	SessionID          string                          `json:"document_id"`
	InitialCoverLetter string                          `json:"initial_cover_letter"`
	ReviewIntro        string                          `json:"review_all_view_intro"`
	Bullets            map[string][]labsessions.Bullet `json:"bullets"`
}

// Initialize creates the session from the participant's inputs.
func (c *Client) Initialize(ctx context.Context, resume, jobDesc string, opts ...Option) (InitializeResult, error) {
	var out InitializeResult
	err := c.do(ctx, http.MethodPost, "/lab/initialize", map[string]string{
		"resume_text": resume,
		"job_desc":    jobDesc,
	}, &out, opts...)
	return out, err
}

// Session fetches the stored document.
func (c *Client) Session(ctx context.Context, id string) (labsessions.Session, error) {
	var out labsessions.Session
	err := c.do(ctx, http.MethodGet, "/lab/sessions/"+id, nil, &out)
	return out, err
}

type textResponse struct {
	Text string `json:"text"`
}

// GenerateControlProfile returns the control profile text.
func (c *Client) GenerateControlProfile(ctx context.Context, sessionID string, opts ...Option) (string, error) {
	var out textResponse
	err := c.do(ctx, http.MethodPost, "/lab/generate-control-profile", map[string]string{"session_id": sessionID}, &out, opts...)
	return out.Text, err
}

// GenerateAlignedProfile returns the aligned profile text.
func (c *Client) GenerateAlignedProfile(ctx context.Context, sessionID string, opts ...Option) (string, error) {
	var out textResponse
	err := c.do(ctx, http.MethodPost, "/lab/generate-aligned-profile", map[string]string{"session_id": sessionID}, &out, opts...)
	return out.Text, err
}

// PhaseResponses is a profile survey submission.
type PhaseResponses struct {
	SessionID string                    `json:"session_id"`
	Phase     string                    `json:"phase"`
	Likert    labsessions.Likert        `json:"likert_responses"`
	Open      labsessions.OpenResponses `json:"open_responses"`
}

// SavePhaseResponses stores a profile survey.
func (c *Client) SavePhaseResponses(ctx context.Context, in PhaseResponses, opts ...Option) error {
	return c.do(ctx, http.MethodPost, "/lab/save-phase-responses", in, nil, opts...)
}

// GenerateBullets returns the flat bullet list.
func (c *Client) GenerateBullets(ctx context.Context, sessionID, resume, jobDesc string, opts ...Option) ([]labsessions.Bullet, error) {
	var out struct {
		Bullets []labsessions.Bullet `json:"bullets"`
	}
	err := c.do(ctx, http.MethodPost, "/lab/generate-bse-bullets", map[string]string{
		"session_id":      sessionID,
		"resume":          resume,
		"job_description": jobDesc,
	}, &out, opts...)
	return out.Bullets, err
}

// CurrentBullet is the statement being refined.
type CurrentBullet struct {
	Text      string `json:"text"`
	Rationale string `json:"rationale"`
}

// RegenerateRequest asks for a new version of one bullet.
type RegenerateRequest struct {
	SessionID   string                     `json:"session_id"`
	BulletIndex int                        `json:"bullet_index"`
	Current     CurrentBullet              `json:"current_bullet"`
	Rating      *int                       `json:"user_rating"`
	Feedback    string                     `json:"user_feedback"`
	History     []labsessions.HistoryEntry `json:"iteration_history"`
}

// RegenerateBullet returns the replacement text and rationale.
func (c *Client) RegenerateBullet(ctx context.Context, in RegenerateRequest, opts ...Option) (CurrentBullet, error) {
	var out struct {
		Bullet CurrentBullet `json:"bullet"`
	}
	err := c.do(ctx, http.MethodPost, "/lab/regenerate-bullet", in, &out, opts...)
	return out.Bullet, err
}

// IterationRecord is one entry of the refinement log.
type IterationRecord struct {
	SessionID       string `json:"session_id"`
	BulletIndex     int    `json:"bullet_index"`
	IterationNumber int    `json:"iteration_number"`
	BulletText      string `json:"bullet_text"`
	Rationale       string `json:"rationale"`
	UserRating      *int   `json:"user_rating,omitempty"`
	UserFeedback    string `json:"user_feedback"`
	IsFinal         bool   `json:"is_final"`
}

// SaveIteration appends to the refinement log.
func (c *Client) SaveIteration(ctx context.Context, in IterationRecord, opts ...Option) error {
	return c.do(ctx, http.MethodPost, "/lab/save-iteration-data", in, nil, opts...)
}

// MarkCompleted flags the session as done.
func (c *Client) MarkCompleted(ctx context.Context, sessionID string, opts ...Option) error {
	return c.do(ctx, http.MethodPost, "/lab/mark-session-completed", map[string]string{"session_id": sessionID}, nil, opts...)
}

// FinalFeedback is the aggregate comparison submission.
type FinalFeedback struct {
	SessionID      string                               `json:"session_id"`
	DraftMapping   compare.Mapping                      `json:"draft_mapping"`
	Ratings        compare.Ratings                      `json:"ratings"`
	Feedback       map[string]labsessions.DraftFeedback `json:"feedback"`
	Preference     compare.Preference                   `json:"preference,omitempty"`
	Comments       string                               `json:"comments,omitempty"`
	Resume         string                               `json:"resume"`
	JobDescription string                               `json:"job_description"`
}

// SubmitFinalFeedback returns the preference the backend derived.
func (c *Client) SubmitFinalFeedback(ctx context.Context, in FinalFeedback, opts ...Option) (compare.Preference, error) {
	var out struct {
		Preference compare.Preference `json:"preference"`
	}
	err := c.do(ctx, http.MethodPost, "/lab/submit-final-feedback", in, &out, opts...)
	return out.Preference, err
}

// ChatRequest is one turn of a draft chat panel.
type ChatRequest struct {
	Messages  []labsessions.ChatMessage `json:"messages"`
	Draft     string                    `json:"draft,omitempty"`
	SessionID string                    `json:"session_id,omitempty"`
	Label     string                    `json:"label,omitempty"`
}

// Chat returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, in ChatRequest) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/api/chat", in, &out)
	return out.Message, err
}

// CoverLetter runs the single-shot generator.
func (c *Client) CoverLetter(ctx context.Context, resume, jobDesc string, opts ...Option) (string, error) {
	var out struct {
		CoverLetter string `json:"cover_letter"`
	}
	err := c.do(ctx, http.MethodPost, "/cover-letter", map[string]string{
		"resume_text": resume,
		"job_desc":    jobDesc,
	}, &out, opts...)
	return out.CoverLetter, err
}
