// Package localstore keeps the participant client's durable state in SQLite:
// a lab_state key/value table and an outbox of pending remote calls.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS lab_state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS outbox (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	kind            TEXT NOT NULL,
	payload         BLOB NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);`

// Job is a queued remote call.
type Job struct {
	ID             int64
	Kind           string
	Payload        []byte
	IdempotencyKey string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
}

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored at key. ok is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT value FROM lab_state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading state %s: %w", key, err)
	}
	return value, true, nil
}

// Put replaces the value stored at key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lab_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC())
	if err != nil {
		return fmt.Errorf("writing state %s: %w", key, err)
	}
	return nil
}

// Clear wipes all state and every pending outbox job.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM lab_state"); err != nil {
		return fmt.Errorf("clearing state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM outbox"); err != nil {
		return fmt.Errorf("clearing outbox: %w", err)
	}
	return tx.Commit()
}

// Enqueue adds a job. A job whose idempotency key is already queued is left
// unchanged and the existing row is returned.
func (s *Store) Enqueue(ctx context.Context, kind string, payload []byte, idempotencyKey string) (Job, error) {
	if idempotencyKey == "" {
		return Job{}, errors.New("idempotency key is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO outbox (kind, payload, idempotency_key, created_at)
		VALUES (?, ?, ?, ?)`, kind, payload, idempotencyKey, s.now().UTC())
	if err != nil {
		return Job{}, fmt.Errorf("enqueueing %s: %w", kind, err)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, payload, idempotency_key, attempts, last_error, created_at
		FROM outbox WHERE idempotency_key = ?`, idempotencyKey)
	return scanJob(row.Scan)
}

// Pending returns up to limit jobs in insertion order.
func (s *Store) Pending(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, idempotency_key, attempts, last_error, created_at
		FROM outbox ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing outbox: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Count returns the number of queued jobs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting outbox: %w", err)
	}
	return n, nil
}

// RecordFailure increments a job's attempt count and stores the error text.
func (s *Store) RecordFailure(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?", msg, id)
	if err != nil {
		return fmt.Errorf("recording failure for job %d: %w", id, err)
	}
	return nil
}

// Delete removes a job once it is sent or dropped.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM outbox WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting job %d: %w", id, err)
	}
	return nil
}

func scanJob(scan func(dest ...any) error) (Job, error) {
	var job Job
	if err := scan(&job.ID, &job.Kind, &job.Payload, &job.IdempotencyKey, &job.Attempts, &job.LastError, &job.CreatedAt); err != nil {
		return Job{}, fmt.Errorf("scanning outbox row: %w", err)
	}
	return job, nil
}
