package tokens

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestGenerateCreatesDistinctTokens(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	items, err := svc.Generate(context.Background(), 20, " pilot ")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	seen := map[string]bool{}
	for _, item := range items {
		if len(item.Token) != tokenLength || strings.Trim(item.Token, tokenAlphabet) != "" {
			t.Fatalf("unexpected token format %q", item.Token)
		}
		if seen[item.Token] {
			t.Fatalf("duplicate token %q", item.Token)
		}
		seen[item.Token] = true
		if item.Note != "pilot" {
			t.Fatalf("expected trimmed note, got %q", item.Note)
		}
	}
	if _, err := svc.Generate(context.Background(), 0, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero count, got %v", err)
	}
}

func TestValidateIsSingleUse(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	ctx := context.Background()
	items, _ := svc.Generate(ctx, 1, "")
	tok := items[0].Token

	if err := svc.Validate(ctx, tok); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if err := svc.Validate(ctx, tok); !errors.Is(err, ErrUnusable) {
		t.Fatalf("expected second validate to fail, got %v", err)
	}
	if err := svc.Validate(ctx, "NOPE"); !errors.Is(err, ErrUnusable) {
		t.Fatalf("expected unknown token to fail, got %v", err)
	}

	active, err := svc.IsActive(ctx, tok)
	if err != nil || !active {
		t.Fatalf("used token should stay active for gated calls, active=%v err=%v", active, err)
	}
}

func TestInvalidateDeactivates(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	ctx := context.Background()
	items, _ := svc.Generate(ctx, 1, "")
	tok := items[0].Token

	if err := svc.Invalidate(ctx, tok); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	active, _ := svc.IsActive(ctx, tok)
	if active {
		t.Fatalf("expected invalidated token to be inactive")
	}
	if err := svc.Validate(ctx, tok); !errors.Is(err, ErrUnusable) {
		t.Fatalf("expected invalidated token to fail validation, got %v", err)
	}
	if err := svc.Invalidate(ctx, "MISSING"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
