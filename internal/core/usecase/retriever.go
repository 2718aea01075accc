package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/core/ports"
)

var errDenseUnavailable = errors.New("dense retrieval is not configured")

type RetrieverConfig struct {
	RRFK                int
	DefaultTopK         int
	DefaultDenseLimit   int
	DefaultLexicalLimit int
	DenseTimeout        time.Duration
	LexicalTimeout      time.Duration
}

func (c RetrieverConfig) normalize() RetrieverConfig {
	out := c
	if out.RRFK <= 0 {
		out.RRFK = defaultRRFK
	}
	if out.DefaultTopK <= 0 {
		out.DefaultTopK = 5
	}
	if out.DefaultDenseLimit <= 0 {
		out.DefaultDenseLimit = 30
	}
	if out.DefaultLexicalLimit <= 0 {
		out.DefaultLexicalLimit = 30
	}
	if out.DenseTimeout <= 0 {
		out.DenseTimeout = 10 * time.Second
	}
	if out.LexicalTimeout <= 0 {
		out.LexicalTimeout = 10 * time.Second
	}
	return out
}

// denseOutcome is the tagged result of the dense path: either hits or the
// reason the path was unavailable. It never aborts retrieval on its own.
type denseOutcome struct {
	Hits []domain.DenseHit
	Err  error
}

type HybridRetriever struct {
	store    ports.DocumentStore
	registry ports.DocumentRegistry
	embedder ports.Embedder
	index    ports.VectorIndex
	cache    ports.RetrievalCache
	metrics  ports.Metrics
	cfg      RetrieverConfig
}

// NewHybridRetriever builds a retriever. embedder and index may be nil, in
// which case every retrieval runs degraded on the lexical path.
func NewHybridRetriever(
	store ports.DocumentStore,
	registry ports.DocumentRegistry,
	embedder ports.Embedder,
	index ports.VectorIndex,
	cfg RetrieverConfig,
) *HybridRetriever {
	return &HybridRetriever{
		store:    store,
		registry: registry,
		embedder: embedder,
		index:    index,
		metrics:  nopMetrics{},
		cfg:      cfg.normalize(),
	}
}

func (r *HybridRetriever) SetCache(c ports.RetrievalCache) {
	r.cache = c
}

func (r *HybridRetriever) SetMetrics(m ports.Metrics) {
	if m != nil {
		r.metrics = m
	}
}

func (r *HybridRetriever) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	start := time.Now()
	req = r.withDefaults(req)

	versionIDs, err := r.resolveScope(ctx, req.Scope)
	if err != nil {
		return nil, err
	}
	if len(versionIDs) == 0 {
		return &domain.RetrievalResult{Chunks: []domain.RetrievedChunk{}}, nil
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, req, versionIDs); ok {
			return cached, nil
		}
	}

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	denseCh := make(chan denseOutcome, 1)
	go func() {
		denseCh <- r.searchDense(searchCtx, req.Query, versionIDs, req.DenseLimit)
	}()

	lexical, lexErr := r.searchLexical(searchCtx, req.Query, versionIDs, req.LexicalLimit)
	if lexErr != nil {
		cancel()
		<-denseCh
		return nil, lexErr
	}
	dense := <-denseCh

	result := &domain.RetrievalResult{}
	var candidates []fusedCandidate
	if dense.Err != nil {
		result.Degraded = true
		result.DegradedReason = dense.Err.Error()
		slog.Warn("retrieval_dense_failed",
			"query", req.Query,
			"versions", len(versionIDs),
			"lexical_hits", len(lexical),
			"error", dense.Err,
		)
		candidates = trimCandidates(lexicalOnlyCandidates(lexical), req.TopK)
	} else {
		candidates = trimCandidates(fuseCandidatesRRF(dense.Hits, lexical, r.cfg.RRFK), req.TopK)
	}

	chunks, err := r.hydrate(ctx, candidates)
	if err != nil {
		return nil, err
	}
	result.Chunks = chunks

	r.metrics.ObserveRetrieval(result.Degraded, time.Since(start))
	slog.Debug("retrieval_finished",
		"query", req.Query,
		"dense_hits", len(dense.Hits),
		"lexical_hits", len(lexical),
		"chunks", len(chunks),
		"degraded", result.Degraded,
		"duration_ms", domain.DurationMs(time.Since(start)),
	)

	if r.cache != nil && !result.Degraded {
		r.cache.Set(ctx, req, versionIDs, result)
	}
	return result, nil
}

func (r *HybridRetriever) withDefaults(req domain.RetrievalRequest) domain.RetrievalRequest {
	if req.TopK <= 0 {
		req.TopK = r.cfg.DefaultTopK
	}
	if req.DenseLimit <= 0 {
		req.DenseLimit = r.cfg.DefaultDenseLimit
	}
	if req.LexicalLimit <= 0 {
		req.LexicalLimit = r.cfg.DefaultLexicalLimit
	}
	return req
}

// resolveScope returns a sorted, de-duplicated version id set so that cache
// keys and downstream queries do not depend on caller ordering.
func (r *HybridRetriever) resolveScope(ctx context.Context, scope domain.Scope) ([]string, error) {
	ids := scope.VersionIDs
	if len(ids) == 0 && scope.EntityID != "" {
		if r.registry == nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "resolve scope", fmt.Errorf("no document registry for entity %s", scope.EntityID))
		}
		refs, err := r.registry.ResolveVersions(ctx, scope.EntityID, scope.DocTypes)
		if err != nil {
			return nil, fmt.Errorf("resolve scope versions: %w", err)
		}
		ids = make([]string, 0, len(refs))
		for _, ref := range refs {
			ids = append(ids, ref.VersionID)
		}
	}

	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *HybridRetriever) searchDense(ctx context.Context, query string, versionIDs []string, limit int) denseOutcome {
	if r.embedder == nil || r.index == nil {
		return denseOutcome{Err: domain.WrapError(domain.ErrDenseRetrieval, "dense search", errDenseUnavailable)}
	}

	denseCtx, cancel := context.WithTimeout(ctx, r.cfg.DenseTimeout)
	defer cancel()

	vector, err := r.embedder.EmbedQuery(denseCtx, query)
	if err != nil {
		return denseOutcome{Err: domain.WrapError(domain.ErrDenseRetrieval, "embed query", err)}
	}
	hits, err := r.index.Search(denseCtx, vector, versionIDs, limit)
	if err != nil {
		return denseOutcome{Err: domain.WrapError(domain.ErrDenseRetrieval, "vector search", err)}
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return denseOutcome{Hits: hits}
}

func (r *HybridRetriever) searchLexical(ctx context.Context, query string, versionIDs []string, limit int) ([]domain.LexicalHit, error) {
	lexCtx, cancel := context.WithTimeout(ctx, r.cfg.LexicalTimeout)
	defer cancel()

	hits, err := r.store.LexicalSearch(lexCtx, versionIDs, query, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrLexicalRetrieval, "lexical search", err)
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// hydrate loads payloads for the final candidates only, keeping candidate order.
func (r *HybridRetriever) hydrate(ctx context.Context, candidates []fusedCandidate) ([]domain.RetrievedChunk, error) {
	if len(candidates) == 0 {
		return []domain.RetrievedChunk{}, nil
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.segmentID)
	}

	segments, err := r.store.GetSegments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load retrieved segments: %w", err)
	}
	byID := make(map[string]domain.Segment, len(segments))
	for _, seg := range segments {
		byID[seg.ID] = seg
	}

	out := make([]domain.RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		seg, ok := byID[c.segmentID]
		if !ok {
			slog.Warn("retrieval_segment_missing", "segment_id", c.segmentID)
			continue
		}
		out = append(out, domain.RetrievedChunk{
			Segment:     seg,
			Score:       c.score,
			Path:        c.path(),
			DenseRank:   c.denseRank,
			LexicalRank: c.lexicalRank,
		})
	}
	return out, nil
}
