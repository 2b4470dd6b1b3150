package tokens

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"letterlab-backend/internal/progress"
)

const (
	tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	tokenLength   = 10
	maxBatch      = 500
)

// Service issues and checks access tokens.
type Service struct {
	Repo   Repo
	Events progress.Publisher
	Now    func() time.Time
}

func NewService(repo Repo, events progress.Publisher) *Service {
	if events == nil {
		events = progress.NopPublisher{}
	}
	return &Service{Repo: repo, Events: events, Now: time.Now}
}

// Generate creates count new tokens sharing a note.
func (s *Service) Generate(ctx context.Context, count int, note string) ([]AccessToken, error) {
	if count < 1 || count > maxBatch {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidInput, maxBatch)
	}
	now := s.Now().UTC()
	items := make([]AccessToken, 0, count)
	for i := 0; i < count; i++ {
		tok, err := newToken()
		if err != nil {
			return nil, err
		}
		items = append(items, AccessToken{Token: tok, Note: strings.TrimSpace(note), CreatedAt: now})
	}
	if err := s.Repo.CreateMany(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// Validate consumes a token on first use.
func (s *Service) Validate(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrUnusable
	}
	if err := s.Repo.MarkUsed(ctx, token, s.Now().UTC()); err != nil {
		return err
	}
	s.Events.Publish(ctx, progress.EventTokenValidated, "", nil)
	return nil
}

// IsActive reports whether a token exists and has not been invalidated.
func (s *Service) IsActive(ctx context.Context, token string) (bool, error) {
	item, err := s.Repo.Get(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !item.Invalidated, nil
}

// Invalidate revokes a token; later gated calls get 401.
func (s *Service) Invalidate(ctx context.Context, token string) error {
	return s.Repo.Invalidate(ctx, token, s.Now().UTC())
}

func (s *Service) List(ctx context.Context) ([]AccessToken, error) {
	return s.Repo.List(ctx)
}

// BindSession records which session a token created.
func (s *Service) BindSession(ctx context.Context, token, sessionID string) error {
	return s.Repo.BindSession(ctx, token, sessionID)
}

func newToken() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < tokenLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}
