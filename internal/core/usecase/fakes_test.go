package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/infrastructure/repository/memory"
	"github.com/kirillkom/bidscope/internal/infrastructure/resilience"
)

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
		BreakerEnabled:      false,
	})
}

type llmFake struct {
	mu       sync.Mutex
	calls    int
	messages [][]domain.Message
	opts     []domain.GenerateOptions
	delay    time.Duration
	reply    func(call int) (string, error)
}

func (f *llmFake) Generate(ctx context.Context, messages []domain.Message, opts domain.GenerateOptions) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.messages = append(f.messages, messages)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.reply(call)
}

func (f *llmFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func staticLLM(out string) *llmFake {
	return &llmFake{delay: time.Millisecond, reply: func(int) (string, error) { return out, nil }}
}

// embedderFake maps a text to a one-hot-ish vector keyed by its length so the
// index fake can stay deterministic.
type embedderFake struct {
	err error
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type indexFake struct {
	mu      sync.Mutex
	hits    []domain.DenseHit
	err     error
	indexed []domain.Segment
	calls   int
}

func (f *indexFake) IndexSegments(_ context.Context, segments []domain.Segment, vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if len(segments) != len(vectors) {
		return fmt.Errorf("mismatch %d/%d", len(segments), len(vectors))
	}
	f.indexed = append(f.indexed, segments...)
	return nil
}

func (f *indexFake) Search(_ context.Context, _ []float32, versionIDs []string, limit int) ([]domain.DenseHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	allowed := make(map[string]struct{}, len(versionIDs))
	for _, id := range versionIDs {
		allowed[id] = struct{}{}
	}
	out := make([]domain.DenseHit, 0, len(f.hits))
	for _, hit := range f.hits {
		if _, ok := allowed[hit.VersionID]; ok {
			out = append(out, hit)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type gateFake map[string]domain.CutoverMode

func (g gateFake) GetMode(stage, _ string) domain.CutoverMode {
	if mode, ok := g[stage]; ok {
		return mode
	}
	return domain.ModeOld
}

type metricsFake struct {
	mu        sync.Mutex
	retrieval []bool
	runs      []domain.RunStatus
	cutover   []domain.CutoverMode
	shadow    []bool
}

func (m *metricsFake) ObserveRetrieval(degraded bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrieval = append(m.retrieval, degraded)
}

func (m *metricsFake) ObserveRun(status domain.RunStatus, _ string, _ domain.Timing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, status)
}

func (m *metricsFake) ObserveCutover(_ string, mode domain.CutoverMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutover = append(m.cutover, mode)
}

func (m *metricsFake) ObserveShadow(_ string, drifted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shadow = append(m.shadow, drifted)
}

type specsFake map[string]domain.ExtractionSpec

func (s specsFake) Get(name string) (domain.ExtractionSpec, bool) {
	spec, ok := s[name]
	return spec, ok
}

func (s specsFake) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type eventsFake struct {
	records []domain.RunRecord
	err     error
}

func (e *eventsFake) PublishRunFinished(_ context.Context, record domain.RunRecord) error {
	e.records = append(e.records, record)
	return e.err
}

type extractorFake struct {
	mu     sync.Mutex
	calls  int
	result *domain.ExtractionResult
	err    error
	wait   bool
}

func (f *extractorFake) Run(ctx context.Context, spec domain.ExtractionSpec, _ domain.Scope, modelID, runID string) (*domain.ExtractionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.wait {
		<-ctx.Done()
		return nil, domain.WrapError(domain.ErrRunCancelled, "fake run", ctx.Err())
	}
	if f.err != nil {
		return nil, f.err
	}
	out := *f.result
	out.SpecName = spec.Name
	out.ModelID = modelID
	out.RunID = runID
	return &out, nil
}

func (f *extractorFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errBoom = errors.New("boom")

// seedCorpus stores n segments in one version owned by entityID.
func seedCorpus(store *memory.Store, entityID string, texts []string) (string, []domain.Segment) {
	ctx := context.Background()
	docID, err := store.CreateDocument(ctx, "tender", entityID)
	if err != nil {
		panic(err)
	}
	versionID, _, err := store.CreateVersion(ctx, docID, "hash-"+entityID, 100)
	if err != nil {
		panic(err)
	}
	segments := make([]domain.Segment, len(texts))
	for i, text := range texts {
		segments[i] = domain.Segment{
			ID:       fmt.Sprintf("seg-%02d", i),
			Position: i,
			Text:     text,
			Kind:     domain.SegmentParagraph,
		}
	}
	if _, err := store.CreateSegments(ctx, versionID, segments); err != nil {
		panic(err)
	}
	stored, _ := store.QuerySegmentsByVersion(ctx, versionID)
	return versionID, stored
}
