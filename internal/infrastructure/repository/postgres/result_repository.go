package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// ResultRepository keeps the latest run record per entity and spec. A rerun
// replaces the stored row wholesale.
type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

func (r *ResultRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS extraction_runs (
	entity_id TEXT NOT NULL,
	spec_name TEXT NOT NULL,
	run_id TEXT NOT NULL,
	status TEXT NOT NULL,
	mode TEXT NOT NULL,
	variant TEXT NOT NULL,
	error_class TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	degraded BOOLEAN NOT NULL DEFAULT FALSE,
	result JSONB,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, spec_name)
);
`)
	if err != nil {
		return fmt.Errorf("execute results ddl: %w", err)
	}
	return nil
}

func (r *ResultRepository) Save(ctx context.Context, record domain.RunRecord) error {
	var (
		resultJSON []byte
		degraded   bool
	)
	if record.Result != nil {
		raw, err := json.Marshal(record.Result)
		if err != nil {
			return fmt.Errorf("marshal extraction result: %w", err)
		}
		resultJSON = raw
		degraded = record.Result.Degraded
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO extraction_runs (
	entity_id, spec_name, run_id, status, mode, variant, error_class, message, degraded, result, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (entity_id, spec_name) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	status = EXCLUDED.status,
	mode = EXCLUDED.mode,
	variant = EXCLUDED.variant,
	error_class = EXCLUDED.error_class,
	message = EXCLUDED.message,
	degraded = EXCLUDED.degraded,
	result = EXCLUDED.result,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at
`,
		record.EntityID, record.SpecName, record.RunID, string(record.Status), string(record.Mode), string(record.Variant),
		record.ErrorClass, record.Message, degraded, resultJSON, record.StartedAt, record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert extraction run: %w", err)
	}
	return nil
}

func (r *ResultRepository) Get(ctx context.Context, entityID, specName string) (*domain.RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT entity_id, spec_name, run_id, status, mode, variant, error_class, message, result, started_at, finished_at
FROM extraction_runs
WHERE entity_id = $1 AND spec_name = $2
`, entityID, specName)

	var (
		record     domain.RunRecord
		status     string
		mode       string
		variant    string
		resultJSON []byte
	)
	err := row.Scan(
		&record.EntityID, &record.SpecName, &record.RunID, &status, &mode, &variant,
		&record.ErrorClass, &record.Message, &resultJSON, &record.StartedAt, &record.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get extraction run", fmt.Errorf("entity=%s spec=%s", entityID, specName))
		}
		return nil, fmt.Errorf("scan extraction run: %w", err)
	}
	record.Status = domain.RunStatus(status)
	record.Mode = domain.CutoverMode(mode)
	record.Variant = domain.RunVariant(variant)
	if len(resultJSON) > 0 {
		var result domain.ExtractionResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("unmarshal extraction result: %w", err)
		}
		record.Result = &result
	}
	return &record, nil
}
