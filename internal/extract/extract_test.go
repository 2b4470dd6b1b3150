package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"letterlab-backend/internal/shared/storage/object"
	"letterlab-backend/internal/shared/storage/object/local"
)

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.4\n%âãÏÓ\n")) {
		t.Fatalf("expected PDF magic to be detected")
	}
	if IsPDF([]byte("hello world")) {
		t.Fatalf("expected plain text to be rejected")
	}
}

func TestFromBytesRejectsNonPDF(t *testing.T) {
	if _, err := FromBytes(context.Background(), []byte("just text")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestFromBytesHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := FromBytes(ctx, []byte("%PDF-1.4")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTextUsesCachedCopy(t *testing.T) {
	ctx := context.Background()
	store := local.New(t.TempDir())
	if _, err := store.Put(ctx, "resumes/a.pdf", "application/pdf", strings.NewReader("not really a pdf")); err != nil {
		t.Fatalf("put pdf: %v", err)
	}
	if _, err := store.Put(ctx, "resumes/a.pdf"+TextSuffix, "text/plain", strings.NewReader("cached text")); err != nil {
		t.Fatalf("put cache: %v", err)
	}

	got, err := Text(ctx, store, "resumes/a.pdf")
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if got != "cached text" {
		t.Fatalf("expected cached text, got %q", got)
	}
}

func TestTextMissingObject(t *testing.T) {
	store := local.New(t.TempDir())
	if _, err := Text(context.Background(), store, "resumes/missing.pdf"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected object.ErrNotFound, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	in := "Jane Doe  \r\n\r\n\r\nEngineer\t\n\n\nSkills"
	want := "Jane Doe\n\nEngineer\n\nSkills"
	if got := normalize(in); got != want {
		t.Fatalf("normalize() = %q, want %q", got, want)
	}
}
