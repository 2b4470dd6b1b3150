package prompts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service resolves active prompts and manages versions.
type Service struct {
	Repo     Repo
	Defaults map[Type]string
}

// NewService constructs a Service; nil defaults load the embedded seed.
func NewService(repo Repo, defaults map[Type]string) (*Service, error) {
	if defaults == nil {
		var err error
		defaults, err = LoadDefaults("")
		if err != nil {
			return nil, err
		}
	}
	return &Service{Repo: repo, Defaults: defaults}, nil
}

// Get returns the active template for t. Types never published fall back to
// the seed content as version 0.
func (s *Service) Get(ctx context.Context, t Type) (Template, error) {
	if _, ok := allowedPlaceholders[t]; !ok {
		return Template{}, ErrUnknownType
	}
	tmpl, err := s.Repo.Active(ctx, t)
	if err == nil {
		return tmpl, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Template{}, err
	}
	content, ok := s.Defaults[t]
	if !ok {
		return Template{}, ErrNotFound
	}
	return Template{PromptType: t, Content: content, Version: 0, ModifiedBy: "system", IsActive: true}, nil
}

// Render fills the active template for t.
func (s *Service) Render(ctx context.Context, t Type, vars map[string]string) (string, error) {
	tmpl, err := s.Get(ctx, t)
	if err != nil {
		return "", err
	}
	return Render(tmpl.Content, vars)
}

// ListActive returns one entry per type, using seed content where nothing
// was published.
func (s *Service) ListActive(ctx context.Context) ([]Template, error) {
	stored, err := s.Repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	byType := make(map[Type]Template, len(stored))
	for _, tmpl := range stored {
		byType[tmpl.PromptType] = tmpl
	}
	out := make([]Template, 0, len(AllTypes))
	for _, t := range AllTypes {
		if tmpl, ok := byType[t]; ok {
			out = append(out, tmpl)
			continue
		}
		if content, ok := s.Defaults[t]; ok {
			out = append(out, Template{PromptType: t, Content: content, ModifiedBy: "system", IsActive: true})
		}
	}
	return out, nil
}

// Update publishes new content for t.
func (s *Service) Update(ctx context.Context, t Type, content, modifiedBy string) (Template, error) {
	content = strings.TrimSpace(content)
	if err := Validate(t, content); err != nil {
		return Template{}, err
	}
	if modifiedBy == "" {
		modifiedBy = "admin"
	}
	return s.Repo.Publish(ctx, t, content, modifiedBy)
}

// Revert republishes an older version's content as a new active version.
func (s *Service) Revert(ctx context.Context, t Type, version int, modifiedBy string) (Template, error) {
	if _, ok := allowedPlaceholders[t]; !ok {
		return Template{}, ErrUnknownType
	}
	if version < 1 {
		return Template{}, fmt.Errorf("%w: version must be positive", ErrInvalidInput)
	}
	old, err := s.Repo.GetVersion(ctx, t, version)
	if err != nil {
		return Template{}, err
	}
	if modifiedBy == "" {
		modifiedBy = "admin"
	}
	return s.Repo.Publish(ctx, t, old.Content, fmt.Sprintf("%s (revert to v%d)", modifiedBy, version))
}

// History lists versions of t, newest first.
func (s *Service) History(ctx context.Context, t Type) ([]Template, error) {
	if _, ok := allowedPlaceholders[t]; !ok {
		return nil, ErrUnknownType
	}
	return s.Repo.History(ctx, t)
}

// Seed publishes the defaults for every type without an active version.
// With force, every type gets a new version.
func (s *Service) Seed(ctx context.Context, force bool) ([]Template, error) {
	var out []Template
	for _, t := range AllTypes {
		content, ok := s.Defaults[t]
		if !ok {
			continue
		}
		if !force {
			_, err := s.Repo.Active(ctx, t)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return out, err
			}
		}
		tmpl, err := s.Repo.Publish(ctx, t, content, "system")
		if err != nil {
			return out, fmt.Errorf("seed %s: %w", t, err)
		}
		out = append(out, tmpl)
	}
	return out, nil
}
