package prompts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const templateColumns = `id, prompt_type, content, version, created_at, modified_by, is_active`

// Publish inserts the next version inside a transaction serialized per type.
func (r *PGRepo) Publish(ctx context.Context, t Type, content, modifiedBy string) (Template, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Template{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(t)); err != nil {
		return Template{}, fmt.Errorf("lock prompt type: %w", err)
	}

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM prompt_templates WHERE prompt_type = $1`, string(t),
	).Scan(&current); err != nil {
		return Template{}, fmt.Errorf("read max version: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE prompt_templates SET is_active = FALSE WHERE prompt_type = $1 AND is_active`, string(t),
	); err != nil {
		return Template{}, fmt.Errorf("deactivate prompt: %w", err)
	}

	tmpl := Template{
		ID:         uuid.NewString(),
		PromptType: t,
		Content:    content,
		Version:    current + 1,
		CreatedAt:  time.Now().UTC(),
		ModifiedBy: modifiedBy,
		IsActive:   true,
	}
	const insert = `
INSERT INTO prompt_templates (id, prompt_type, content, version, created_at, modified_by, is_active)
VALUES ($1, $2, $3, $4, $5, $6, TRUE)`
	if _, err := tx.ExecContext(ctx, insert,
		tmpl.ID, string(tmpl.PromptType), tmpl.Content, tmpl.Version, tmpl.CreatedAt, tmpl.ModifiedBy,
	); err != nil {
		return Template{}, fmt.Errorf("insert prompt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Template{}, err
	}
	return tmpl, nil
}

// Active returns the active version for a type.
func (r *PGRepo) Active(ctx context.Context, t Type) (Template, error) {
	query := `SELECT ` + templateColumns + ` FROM prompt_templates WHERE prompt_type = $1 AND is_active LIMIT 1`
	return scanOne(r.DB.QueryRowContext(ctx, query, string(t)))
}

// ListActive returns the active version of every type that has one.
func (r *PGRepo) ListActive(ctx context.Context) ([]Template, error) {
	query := `SELECT ` + templateColumns + ` FROM prompt_templates WHERE is_active ORDER BY prompt_type`
	return r.list(ctx, query)
}

// History returns all versions of a type, newest first.
func (r *PGRepo) History(ctx context.Context, t Type) ([]Template, error) {
	query := `SELECT ` + templateColumns + ` FROM prompt_templates WHERE prompt_type = $1 ORDER BY version DESC`
	return r.list(ctx, query, string(t))
}

// GetVersion returns a specific version.
func (r *PGRepo) GetVersion(ctx context.Context, t Type, version int) (Template, error) {
	query := `SELECT ` + templateColumns + ` FROM prompt_templates WHERE prompt_type = $1 AND version = $2`
	return scanOne(r.DB.QueryRowContext(ctx, query, string(t), version))
}

func (r *PGRepo) list(ctx context.Context, query string, args ...any) ([]Template, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var tmpl Template
		var promptType string
		if err := rows.Scan(&tmpl.ID, &promptType, &tmpl.Content, &tmpl.Version, &tmpl.CreatedAt, &tmpl.ModifiedBy, &tmpl.IsActive); err != nil {
			return nil, err
		}
		tmpl.PromptType = Type(promptType)
		out = append(out, tmpl)
	}
	return out, rows.Err()
}

func scanOne(row *sql.Row) (Template, error) {
	var tmpl Template
	var promptType string
	err := row.Scan(&tmpl.ID, &promptType, &tmpl.Content, &tmpl.Version, &tmpl.CreatedAt, &tmpl.ModifiedBy, &tmpl.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, ErrNotFound
		}
		return Template{}, err
	}
	tmpl.PromptType = Type(promptType)
	return tmpl, nil
}

var _ Repo = (*PGRepo)(nil)
