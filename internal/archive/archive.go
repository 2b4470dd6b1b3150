// Package archive writes JSON snapshots of finished sessions to the object
// store, either inline or through the SQS job queue.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"letterlab-backend/internal/labsessions"
	"letterlab-backend/internal/queue"
	"letterlab-backend/internal/shared/server/middleware"
	"letterlab-backend/internal/shared/storage/object"
	"letterlab-backend/internal/shared/telemetry"
)

// ErrNotConfigured is returned when no object store is wired.
var ErrNotConfigured = errors.New("archive store not configured")

// SnapshotSource loads a session with its iteration log.
type SnapshotSource interface {
	Snapshot(ctx context.Context, id string) (labsessions.Session, error)
}

// Service schedules and performs archive jobs. With a nil Queue, Enqueue
// archives inline.
type Service struct {
	Sessions SnapshotSource
	Store    object.ObjectStore
	Queue    queue.Client
	Now      func() time.Time
}

func NewService(sessions SnapshotSource, store object.ObjectStore, q queue.Client) *Service {
	return &Service{Sessions: sessions, Store: store, Queue: q, Now: time.Now}
}

// Key returns the object key for a session snapshot.
func Key(sessionID string) string {
	return "archive/" + sessionID + ".json"
}

// Snapshot is the archived document.
type Snapshot struct {
	Reason     string              `json:"reason"`
	ArchivedAt time.Time           `json:"archived_at"`
	RequestID  string              `json:"request_id,omitempty"`
	Session    labsessions.Session `json:"session"`
}

// Enqueue implements labsessions.Archiver.
func (s *Service) Enqueue(ctx context.Context, sessionID, reason string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("archive: session id is required")
	}
	requestID := middleware.RequestIDFromCtx(ctx)
	if s.Queue == nil {
		return s.ProcessArchive(ctx, sessionID, reason)
	}
	msg := queue.Message{
		SessionID:  sessionID,
		RequestID:  requestID,
		Reason:     reason,
		EnqueuedAt: s.Now().UTC().Format(time.RFC3339),
		Version:    queue.MessageVersion,
	}
	if err := s.Queue.Send(ctx, msg); err != nil {
		return err
	}
	telemetry.Info("archive.enqueued", map[string]any{
		"session_id": sessionID,
		"reason":     reason,
		"request_id": requestID,
	})
	return nil
}

// ProcessArchive writes the current snapshot of a session. Rewriting the
// same key makes repeated deliveries harmless.
func (s *Service) ProcessArchive(ctx context.Context, sessionID, reason string) error {
	if s.Store == nil {
		return ErrNotConfigured
	}
	sess, err := s.Sessions.Snapshot(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	payload, err := json.MarshalIndent(Snapshot{
		Reason:     reason,
		ArchivedAt: s.Now().UTC(),
		RequestID:  middleware.RequestIDFromCtx(ctx),
		Session:    sess,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	size, err := s.Store.Put(ctx, Key(sessionID), "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	telemetry.Info("archive.written", map[string]any{
		"session_id": sessionID,
		"reason":     reason,
		"key":        Key(sessionID),
		"size_bytes": size,
	})
	return nil
}
