package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	resp, err := store.Begin(ctx, "k1")
	if err != nil || resp != nil {
		t.Fatalf("expected ownership, got resp=%v err=%v", resp, err)
	}

	if _, err := store.Begin(ctx, "k1"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}

	if err := store.Complete(ctx, "k1", Response{Status: 201, ContentType: "application/json", Body: []byte(`{"ok":true}`)}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	resp, err = store.Begin(ctx, "k1")
	if err != nil {
		t.Fatalf("begin after complete: %v", err)
	}
	if resp == nil || resp.Status != 201 || string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected replay: %+v", resp)
	}
}

func TestMemoryStoreReleaseFreesKey(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if _, err := store.Begin(ctx, "k2"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Release(ctx, "k2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	resp, err := store.Begin(ctx, "k2")
	if err != nil || resp != nil {
		t.Fatalf("expected fresh ownership, got resp=%v err=%v", resp, err)
	}
}
