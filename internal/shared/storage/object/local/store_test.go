package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"letterlab-backend/internal/shared/storage/object"
)

func TestPutThenOpen(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	n, err := store.Put(ctx, "archive/s1.json", "application/json", strings.NewReader(`{"id":"s1"}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if n != 11 {
		t.Fatalf("expected 11 bytes, got %d", n)
	}

	rc, err := store.Open(ctx, "archive/s1.json")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, []byte(`{"id":"s1"}`)) {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestOpenMissingReturnsNotFound(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Open(context.Background(), "resumes/nope.pdf"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	store := New(t.TempDir())
	for _, key := range []string{"../x.pdf", "/etc/passwd", ""} {
		if _, err := store.Put(context.Background(), key, "", strings.NewReader("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestPing(t *testing.T) {
	if err := New(t.TempDir()).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
