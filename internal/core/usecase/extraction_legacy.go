package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/core/ports"
	"github.com/kirillkom/bidscope/internal/infrastructure/resilience"
)

type LegacyConfig struct {
	MaxChars     int
	MaxTokens    int
	LLMTimeout   time.Duration
	DefaultModel string
}

func (c LegacyConfig) normalize() LegacyConfig {
	out := c
	if out.MaxChars <= 0 {
		out.MaxChars = 60000
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	if out.LLMTimeout <= 0 {
		out.LLMTimeout = 180 * time.Second
	}
	return out
}

// LegacyExtractor is the pre-retrieval implementation: it sends the leading
// document text, in segment order, to the model in one prompt.
type LegacyExtractor struct {
	store    ports.DocumentStore
	registry ports.DocumentRegistry
	llm      ports.LLM
	executor *resilience.Executor
	cfg      LegacyConfig
}

func NewLegacyExtractor(
	store ports.DocumentStore,
	registry ports.DocumentRegistry,
	llm ports.LLM,
	executor *resilience.Executor,
	cfg LegacyConfig,
) *LegacyExtractor {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &LegacyExtractor{
		store:    store,
		registry: registry,
		llm:      llm,
		executor: executor,
		cfg:      cfg.normalize(),
	}
}

func (l *LegacyExtractor) Run(
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
		modelID = l.cfg.DefaultModel
	}

	pool, err := l.loadDocumentText(ctx, scope)
	if err != nil {
		return nil, cancelledOr(ctx, "load document text", err)
	}
	loaded := time.Now()

	messages, err := buildExtractionMessages(spec, pool)
	if err != nil {
		return nil, err
	}
	maxTokens := spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = l.cfg.MaxTokens
	}
	raw, err := callLLM(ctx, l.executor, l.llm, "llm.legacy."+spec.Name, messages, domain.GenerateOptions{
		Model:     modelID,
		MaxTokens: maxTokens,
		Timeout:   l.cfg.LLMTimeout,
		JSON:      true,
	})
	if err != nil {
		return nil, cancelledOr(ctx, "generate", err)
	}
	generated := time.Now()

	data, err := parseModelOutput(raw)
	if err != nil {
		return nil, err
	}
	evidence := collectEvidenceIDs(raw, data, pool)
	data, missing := projectRequired(spec.Name, data, spec.Required)
	parsed := time.Now()

	return &domain.ExtractionResult{
		RunID:            runID,
		SpecName:         spec.Name,
		SpecVersion:      spec.Version,
		ModelID:          modelID,
		Data:             data,
		EvidenceChunkIDs: evidence,
		MissingRequired:  missing,
		Timing: domain.Timing{
			RetrievalMs: domain.DurationMs(loaded.Sub(start)),
			LLMMs:       domain.DurationMs(generated.Sub(loaded)),
			ParseMs:     domain.DurationMs(parsed.Sub(generated)),
			TotalMs:     domain.DurationMs(time.Since(start)),
		},
	}, nil
}

func (l *LegacyExtractor) loadDocumentText(ctx context.Context, scope domain.Scope) ([]domain.RetrievedChunk, error) {
	versionIDs := append([]string(nil), scope.VersionIDs...)
	if len(versionIDs) == 0 && scope.EntityID != "" && l.registry != nil {
		refs, err := l.registry.ResolveVersions(ctx, scope.EntityID, scope.DocTypes)
		if err != nil {
			return nil, fmt.Errorf("resolve scope versions: %w", err)
		}
		for _, ref := range refs {
			versionIDs = append(versionIDs, ref.VersionID)
		}
	}
	sort.Strings(versionIDs)

	budget := l.cfg.MaxChars
	pool := make([]domain.RetrievedChunk, 0)
	for _, versionID := range versionIDs {
		segments, err := l.store.QuerySegmentsByVersion(ctx, versionID)
		if err != nil {
			return nil, fmt.Errorf("query segments for version %s: %w", versionID, err)
		}
		for _, seg := range segments {
			if budget <= 0 {
				slog.Info("legacy_extraction_truncated", "version_id", versionID, "max_chars", l.cfg.MaxChars)
				return pool, nil
			}
			budget -= len(seg.Text)
			pool = append(pool, domain.RetrievedChunk{Segment: seg, Path: domain.PathLexical, DenseRank: -1, LexicalRank: -1})
		}
	}
	return pool, nil
}
