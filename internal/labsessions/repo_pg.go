package labsessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres. The session document lives in a
// JSONB column; the iteration log has its own table.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) Create(ctx context.Context, s Session) error {
	const query = `
INSERT INTO lab_sessions (id, token_ref, document, completed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	doc, err := marshalDocument(s)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query, s.ID, s.TokenRef, doc, s.Completed, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *PGRepo) Get(ctx context.Context, id string) (Session, error) {
	const query = `
SELECT id, token_ref, document, completed, created_at, updated_at
FROM lab_sessions
WHERE id = $1
LIMIT 1`
	s, err := scanSession(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

// Update replaces the document. The completed column only moves forward.
func (r *PGRepo) Update(ctx context.Context, s Session) error {
	const query = `
UPDATE lab_sessions
SET document = $2, completed = completed OR $3, updated_at = $4
WHERE id = $1`
	doc, err := marshalDocument(s)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, s.ID, doc, s.Completed, s.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PGRepo) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	const query = `
UPDATE lab_sessions
SET completed = TRUE,
    document = jsonb_set(jsonb_set(document, '{completed}', 'true'::jsonb), '{completed_at}',
        COALESCE(document->'completed_at', to_jsonb($2::timestamptz))),
    updated_at = $2
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// List returns all sessions, oldest first.
func (r *PGRepo) List(ctx context.Context) ([]Session, error) {
	const query = `
SELECT id, token_ref, document, completed, created_at, updated_at
FROM lab_sessions
ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PGRepo) CountCompleted(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM lab_sessions WHERE completed`).Scan(&n)
	return n, err
}

// AppendIteration serializes writers per bullet with an advisory lock, then
// checks the ordering rule against the newest entry.
func (r *PGRepo) AppendIteration(ctx context.Context, it Iteration) (Iteration, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Iteration{}, err
	}
	defer tx.Rollback()

	lockKey := fmt.Sprintf("%s:%d", it.SessionID, it.BulletIndex)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return Iteration{}, err
	}

	var last Iteration
	var lastPtr *Iteration
	err = tx.QueryRowContext(ctx, `
SELECT iteration_number, is_final
FROM bullet_iterations
WHERE session_id = $1 AND bullet_index = $2
ORDER BY id DESC
LIMIT 1`, it.SessionID, it.BulletIndex).Scan(&last.IterationNumber, &last.IsFinal)
	switch {
	case err == nil:
		lastPtr = &last
	case errors.Is(err, sql.ErrNoRows):
	default:
		return Iteration{}, err
	}
	if err := checkOrder(lastPtr, it.IterationNumber); err != nil {
		return Iteration{}, err
	}

	var rating sql.NullInt64
	if it.UserRating != nil {
		rating = sql.NullInt64{Int64: int64(*it.UserRating), Valid: true}
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO bullet_iterations (
    session_id, bullet_index, iteration_number, bullet_text, rationale,
    user_rating, user_feedback, is_final, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		it.SessionID,
		it.BulletIndex,
		it.IterationNumber,
		it.BulletText,
		it.Rationale,
		rating,
		it.UserFeedback,
		it.IsFinal,
		it.CreatedAt,
	).Scan(&it.ID)
	if err != nil {
		return Iteration{}, err
	}
	if err := tx.Commit(); err != nil {
		return Iteration{}, err
	}
	return it, nil
}

func (r *PGRepo) ListIterations(ctx context.Context, sessionID string) ([]Iteration, error) {
	const query = `
SELECT id, session_id, bullet_index, iteration_number, bullet_text, rationale,
       user_rating, user_feedback, is_final, created_at
FROM bullet_iterations
WHERE session_id = $1
ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Iteration
	for rows.Next() {
		var it Iteration
		var rating sql.NullInt64
		if err := rows.Scan(
			&it.ID,
			&it.SessionID,
			&it.BulletIndex,
			&it.IterationNumber,
			&it.BulletText,
			&it.Rationale,
			&rating,
			&it.UserFeedback,
			&it.IsFinal,
			&it.CreatedAt,
		); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := int(rating.Int64)
			it.UserRating = &v
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		id, tokenRef string
		doc          []byte
		completed    bool
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := row.Scan(&id, &tokenRef, &doc, &completed, &createdAt, &updatedAt); err != nil {
		return Session{}, err
	}
	var s Session
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &s); err != nil {
			return Session{}, fmt.Errorf("decode session %s: %w", id, err)
		}
	}
	s.ID = id
	s.TokenRef = tokenRef
	s.Completed = completed
	s.CreatedAt = createdAt
	s.UpdatedAt = updatedAt
	return s, nil
}

func marshalDocument(s Session) ([]byte, error) {
	s.Iterations = nil
	return json.Marshal(s)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
