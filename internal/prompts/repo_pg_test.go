package prompts

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGRepoPublishDeactivatesAndInsertsNextVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("control").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("control").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
	mock.ExpectExec("UPDATE prompt_templates SET is_active = FALSE").
		WithArgs("control").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO prompt_templates").
		WithArgs(sqlmock.AnyArg(), "control", "new {resume}", 5, sqlmock.AnyArg(), "alice").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tmpl, err := repo.Publish(context.Background(), TypeControl, "new {resume}", "alice")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if tmpl.Version != 5 || !tmpl.IsActive {
		t.Fatalf("unexpected template %+v", tmpl)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoActiveNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery("FROM prompt_templates WHERE prompt_type").
		WithArgs("chat").
		WillReturnRows(sqlmock.NewRows([]string{"id", "prompt_type", "content", "version", "created_at", "modified_by", "is_active"}))

	repo := &PGRepo{DB: db}
	if _, err := repo.Active(context.Background(), TypeChat); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
