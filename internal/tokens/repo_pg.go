package tokens

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

func (r *PGRepo) CreateMany(ctx context.Context, items []AccessToken) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `INSERT INTO access_tokens (token, note, created_at) VALUES ($1, $2, $3)`
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, query, item.Token, item.Note, item.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const tokenColumns = `token, note, created_at, used_at, invalidated, invalidated_at, session_id`

func (r *PGRepo) Get(ctx context.Context, token string) (AccessToken, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE token = $1`, token)
	item, err := scanToken(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return AccessToken{}, ErrNotFound
	}
	return item, err
}

func (r *PGRepo) List(ctx context.Context) ([]AccessToken, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+tokenColumns+` FROM access_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccessToken
	for rows.Next() {
		item, err := scanToken(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *PGRepo) MarkUsed(ctx context.Context, token string, at time.Time) error {
	const query = `
UPDATE access_tokens
SET used_at = $1
WHERE token = $2 AND used_at IS NULL AND NOT invalidated`
	res, err := r.DB.ExecContext(ctx, query, at, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnusable
	}
	return nil
}

func (r *PGRepo) Invalidate(ctx context.Context, token string, at time.Time) error {
	const query = `
UPDATE access_tokens
SET invalidated = TRUE, invalidated_at = COALESCE(invalidated_at, $1)
WHERE token = $2`
	res, err := r.DB.ExecContext(ctx, query, at, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) BindSession(ctx context.Context, token, sessionID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE access_tokens SET session_id = $1 WHERE token = $2`, sessionID, token)
	return err
}

func scanToken(scan func(dest ...any) error) (AccessToken, error) {
	var item AccessToken
	var usedAt, invalidatedAt sql.NullTime
	var sessionID sql.NullString
	if err := scan(&item.Token, &item.Note, &item.CreatedAt, &usedAt, &item.Invalidated, &invalidatedAt, &sessionID); err != nil {
		return AccessToken{}, err
	}
	if usedAt.Valid {
		item.UsedAt = &usedAt.Time
	}
	if invalidatedAt.Valid {
		item.InvalidatedAt = &invalidatedAt.Time
	}
	if sessionID.Valid {
		item.SessionID = sessionID.String
	}
	return item, nil
}

var _ Repo = (*PGRepo)(nil)
