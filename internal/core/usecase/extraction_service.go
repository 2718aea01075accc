package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/core/ports"
)

type ServiceConfig struct {
	MaxConcurrentRuns int
	DefaultModel      string
	PersistTimeout    time.Duration
}

// ExtractionService runs gated extractions for entities and records every
// outcome, including failures and cancellations, in the result store.
type ExtractionService struct {
	specs   ports.SpecCatalog
	gate    ports.ModeResolver
	legacy  ports.Extractor
	next    ports.Extractor
	results ports.ResultStore
	events  ports.RunEvents
	metrics ports.Metrics
	runs    *semaphore.Weighted
	cfg     ServiceConfig
}

func NewExtractionService(
	specs ports.SpecCatalog,
	gate ports.ModeResolver,
	legacy ports.Extractor,
	next ports.Extractor,
	results ports.ResultStore,
	cfg ServiceConfig,
) *ExtractionService {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 4
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &ExtractionService{
		specs:   specs,
		gate:    gate,
		legacy:  legacy,
		next:    next,
		results: results,
		metrics: nopMetrics{},
		runs:    semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		cfg:     cfg,
	}
}

func (s *ExtractionService) SetEvents(events ports.RunEvents) {
	s.events = events
}

func (s *ExtractionService) SetMetrics(m ports.Metrics) {
	if m != nil {
		s.metrics = m
	}
}

func (s *ExtractionService) RunForEntity(ctx context.Context, req domain.RunRequest) (*domain.RunRecord, error) {
	if req.EntityID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run extraction", errors.New("entity id is empty"))
	}
	spec, ok := s.specs.Get(req.SpecName)
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "run extraction", fmt.Errorf("extraction spec %q", req.SpecName))
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.ModelID == "" {
		req.ModelID = s.cfg.DefaultModel
	}
	scope := req.Scope
	if scope.EntityID == "" {
		scope.EntityID = req.EntityID
	}

	record := domain.RunRecord{
		EntityID:  req.EntityID,
		SpecName:  spec.Name,
		RunID:     req.RunID,
		Mode:      domain.ModeOld,
		Variant:   domain.VariantOld,
		StartedAt: time.Now().UTC(),
	}

	if err := s.runs.Acquire(ctx, 1); err != nil {
		return s.finish(ctx, record, nil, domain.WrapError(domain.ErrRunCancelled, "wait for run slot", err))
	}
	defer s.runs.Release(1)

	outcome, err := RunStage(ctx, s.gate, s.metrics, spec.StageName(), req.EntityID,
		func(ctx context.Context) (*domain.ExtractionResult, error) {
			return s.legacy.Run(ctx, spec, scope, req.ModelID, req.RunID)
		},
		func(ctx context.Context) (*domain.ExtractionResult, error) {
			return s.next.Run(ctx, spec, scope, req.ModelID, req.RunID)
		},
		diffExtractionResults,
	)
	record.Mode = outcome.Mode
	record.Variant = outcome.Variant
	return s.finish(ctx, record, outcome.Value, err)
}

func (s *ExtractionService) finish(
	ctx context.Context,
	record domain.RunRecord,
	result *domain.ExtractionResult,
	runErr error,
) (*domain.RunRecord, error) {
	record.FinishedAt = time.Now().UTC()
	switch {
	case runErr == nil:
		record.Status = domain.RunSucceeded
		record.Result = result
	case errors.Is(runErr, domain.ErrRunCancelled) || errors.Is(ctx.Err(), context.Canceled):
		record.Status = domain.RunCancelled
		record.ErrorClass = "cancelled"
		record.Message = "run cancelled"
		runErr = domain.WrapError(domain.ErrRunCancelled, "run extraction", runErr)
	default:
		record.Status = domain.RunFailed
		record.ErrorClass = domain.ErrorClass(runErr)
		record.Message = runErr.Error()
	}

	var timing domain.Timing
	if result != nil {
		timing = result.Timing
	}
	s.metrics.ObserveRun(record.Status, record.ErrorClass, timing)

	// The record must land even when the caller cancelled the run.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.results.Save(persistCtx, record); err != nil {
		return &record, fmt.Errorf("save run record: %w", err)
	}
	if s.events != nil {
		if err := s.events.PublishRunFinished(persistCtx, record); err != nil {
			slog.Warn("run_event_publish_failed", "run_id", record.RunID, "error", err)
		}
	}

	slog.Info("extraction_run_recorded",
		"run_id", record.RunID,
		"entity_id", record.EntityID,
		"spec", record.SpecName,
		"status", string(record.Status),
		"mode", string(record.Mode),
		"variant", string(record.Variant),
		"error_class", record.ErrorClass,
	)
	return &record, runErr
}
