package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/core/ports"
	"github.com/kirillkom/bidscope/internal/infrastructure/resilience"
)

type EngineConfig struct {
	GroupConcurrency int
	DenseLimit       int
	LexicalLimit     int
	MaxTokens        int
	LLMTimeout       time.Duration
	DefaultModel     string
}

func (c EngineConfig) normalize() EngineConfig {
	out := c
	if out.GroupConcurrency <= 0 {
		out.GroupConcurrency = 4
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	if out.LLMTimeout <= 0 {
		out.LLMTimeout = 120 * time.Second
	}
	return out
}

// ExtractionEngine turns an extraction spec into a structured result:
// retrieval per query group, one LLM call, parsing and schema projection.
// It does not persist anything.
type ExtractionEngine struct {
	retriever ports.Retriever
	llm       ports.LLM
	executor  *resilience.Executor
	cfg       EngineConfig
}

func NewExtractionEngine(
	retriever ports.Retriever,
	llm ports.LLM,
	executor *resilience.Executor,
	cfg EngineConfig,
) *ExtractionEngine {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &ExtractionEngine{
		retriever: retriever,
		llm:       llm,
		executor:  executor,
		cfg:       cfg.normalize(),
	}
}

func (e *ExtractionEngine) Run(
	ctx context.Context,
	spec domain.ExtractionSpec,
	scope domain.Scope,
	modelID, runID string,
) (*domain.ExtractionResult, error) {
	start := time.Now()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if modelID == "" {
		modelID = e.cfg.DefaultModel
	}

	pool, degraded, err := e.collectEvidence(ctx, spec, scope)
	if err != nil {
		return nil, cancelledOr(ctx, "collect evidence", err)
	}
	retrievalDone := time.Now()

	messages, err := buildExtractionMessages(spec, pool)
	if err != nil {
		return nil, err
	}
	raw, err := e.generate(ctx, spec, modelID, messages)
	if err != nil {
		return nil, cancelledOr(ctx, "generate", err)
	}
	llmDone := time.Now()

	data, err := parseModelOutput(raw)
	if err != nil {
		return nil, err
	}
	evidence := collectEvidenceIDs(raw, data, pool)
	data, missing := projectRequired(spec.Name, data, spec.Required)
	parseDone := time.Now()

	result := &domain.ExtractionResult{
		RunID:            runID,
		SpecName:         spec.Name,
		SpecVersion:      spec.Version,
		ModelID:          modelID,
		Data:             data,
		EvidenceChunkIDs: evidence,
		MissingRequired:  missing,
		Degraded:         degraded,
		Timing: domain.Timing{
			RetrievalMs: domain.DurationMs(retrievalDone.Sub(start)),
			LLMMs:       domain.DurationMs(llmDone.Sub(retrievalDone)),
			ParseMs:     domain.DurationMs(parseDone.Sub(llmDone)),
			TotalMs:     domain.DurationMs(time.Since(start)),
		},
	}

	slog.Info("extraction_run_finished",
		"run_id", runID,
		"spec", spec.Name,
		"model", modelID,
		"evidence_pool", len(pool),
		"evidence_cited", len(evidence),
		"missing_required", len(missing),
		"degraded", degraded,
		"total_ms", result.Timing.TotalMs,
	)
	return result, nil
}

// collectEvidence runs every query group on a bounded pool and merges the
// chunks in group order, then rank order, keeping the first occurrence.
func (e *ExtractionEngine) collectEvidence(
	ctx context.Context,
	spec domain.ExtractionSpec,
	scope domain.Scope,
) ([]domain.RetrievedChunk, bool, error) {
	results := make([]*domain.RetrievalResult, len(spec.QueryGroups))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.GroupConcurrency)
	for i, group := range spec.QueryGroups {
		i, group := i, group
		g.Go(func() error {
			res, err := e.retriever.Retrieve(groupCtx, domain.RetrievalRequest{
				Query:        group.Query,
				Scope:        scope,
				TopK:         group.TopK,
				DenseLimit:   e.cfg.DenseLimit,
				LexicalLimit: e.cfg.LexicalLimit,
			})
			if err != nil {
				return fmt.Errorf("retrieve group %q: %w", group.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	degraded := false
	seen := make(map[string]struct{})
	pool := make([]domain.RetrievedChunk, 0)
	for _, res := range results {
		if res == nil {
			continue
		}
		degraded = degraded || res.Degraded
		for _, chunk := range res.Chunks {
			if _, dup := seen[chunk.ID]; dup {
				continue
			}
			seen[chunk.ID] = struct{}{}
			pool = append(pool, chunk)
		}
	}
	return pool, degraded, nil
}

func (e *ExtractionEngine) generate(
	ctx context.Context,
	spec domain.ExtractionSpec,
	modelID string,
	messages []domain.Message,
) (string, error) {
	maxTokens := spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = e.cfg.MaxTokens
	}
	opts := domain.GenerateOptions{
		Model:     modelID,
		MaxTokens: maxTokens,
		Timeout:   e.cfg.LLMTimeout,
		JSON:      true,
	}
	return callLLM(ctx, e.executor, e.llm, "llm.extract."+spec.Name, messages, opts)
}

// callLLM calls the model with a per-attempt timeout, retrying with backoff
// until the executor gives up. Exhaustion yields *domain.LLMError.
func callLLM(
	ctx context.Context,
	executor *resilience.Executor,
	llm ports.LLM,
	operation string,
	messages []domain.Message,
	opts domain.GenerateOptions,
) (string, error) {
	var text string
	stats, err := executor.ExecuteWithStats(ctx, operation, func(callCtx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(callCtx, opts.Timeout)
		defer cancel()
		out, err := llm.Generate(attemptCtx, messages, opts)
		if err != nil {
			return err
		}
		text = out
		return nil
	}, llmErrorClassifier(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &domain.LLMError{Attempts: stats.Attempts, Elapsed: stats.Elapsed, Err: err}
	}
	return text, nil
}

// llmErrorClassifier retries everything except caller cancellation and
// invalid requests; per-attempt timeouts count as transient.
func llmErrorClassifier(parent context.Context) resilience.ErrorClassifier {
	return func(err error) resilience.ErrorClassification {
		if parent.Err() != nil {
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
}

// cancelledOr maps caller cancellation to ErrRunCancelled and leaves every
// other error untouched.
func cancelledOr(ctx context.Context, operation string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.WrapError(domain.ErrRunCancelled, operation, ctx.Err())
	}
	return err
}
