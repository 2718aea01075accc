package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

func TestResultSaveUpsertsByEntityAndSpec(t *testing.T) {
	db, mock, done := newDBWithMock(t)
	defer done()
	repo := NewResultRepository(db)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	record := domain.RunRecord{
		EntityID:   "project-1",
		SpecName:   "tender_parse",
		RunID:      "run-2",
		Status:     domain.RunSucceeded,
		Mode:       domain.ModePreferNew,
		Variant:    domain.VariantNew,
		Result:     &domain.ExtractionResult{RunID: "run-2", Degraded: true, Data: map[string]any{"base": map[string]any{}}},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}

	mock.ExpectExec("ON CONFLICT \\(entity_id, spec_name\\) DO UPDATE").
		WithArgs("project-1", "tender_parse", "run-2", "succeeded", "PREFER_NEW", "new", "", "", true,
			sqlmock.AnyArg(), started, started.Add(time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResultGetDecodesStoredResult(t *testing.T) {
	db, mock, done := newDBWithMock(t)
	defer done()
	repo := NewResultRepository(db)

	now := time.Now().UTC()
	columns := []string{"entity_id", "spec_name", "run_id", "status", "mode", "variant", "error_class", "message", "result", "started_at", "finished_at"}
	mock.ExpectQuery("FROM extraction_runs").
		WithArgs("project-1", "tender_parse").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"project-1", "tender_parse", "run-1", "failed", "NEW_ONLY", "new", "LlmError", "exhausted",
			[]byte(`{"run_id":"run-1","spec_name":"tender_parse","evidence_chunk_ids":["s1"]}`), now, now,
		))

	record, err := repo.Get(context.Background(), "project-1", "tender_parse")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record.Status != domain.RunFailed || record.Mode != domain.ModeNewOnly || record.ErrorClass != "LlmError" {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Result == nil || len(record.Result.EvidenceChunkIDs) != 1 {
		t.Fatalf("expected decoded result, got %+v", record.Result)
	}
}

func TestResultGetMissingIsNotFound(t *testing.T) {
	db, mock, done := newDBWithMock(t)
	defer done()
	repo := NewResultRepository(db)

	mock.ExpectQuery("FROM extraction_runs").
		WithArgs("project-1", "tender_parse").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "project-1", "tender_parse")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
