package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// DocumentStore persists documents, immutable versions and their segments and
// serves lexical search over them.
type DocumentStore interface {
	CreateDocument(ctx context.Context, namespace, ownerID string) (string, error)
	// CreateVersion returns the existing version id when (documentID, contentHash) already exists.
	CreateVersion(ctx context.Context, documentID, contentHash string, sizeBytes int64) (versionID string, created bool, err error)
	CreateSegments(ctx context.Context, versionID string, segments []domain.Segment) (int, error)
	QuerySegmentsByVersion(ctx context.Context, versionID string) ([]domain.Segment, error)
	GetSegments(ctx context.Context, ids []string) ([]domain.Segment, error)
	LexicalSearch(ctx context.Context, versionIDs []string, query string, limit int) ([]domain.LexicalHit, error)
}

// DocumentRegistry maps an owning entity to its document versions.
type DocumentRegistry interface {
	ResolveVersions(ctx context.Context, entityID string, docTypes []string) ([]domain.VersionRef, error)
}

// ObjectStorage stores raw uploaded bytes.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// TextExtractor turns uploaded bytes into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, mimeType string, content []byte) (string, error)
}

// Segmenter splits text into ordered segments with structural metadata.
type Segmenter interface {
	Segment(text string) []domain.Segment
}

// Embedder builds vectors for segments and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex indexes segment vectors and serves dense search restricted to versions.
type VectorIndex interface {
	IndexSegments(ctx context.Context, segments []domain.Segment, vectors [][]float32) error
	Search(ctx context.Context, queryVector []float32, versionIDs []string, limit int) ([]domain.DenseHit, error)
}

// LLM is the single chat-completion capability the extraction engine depends on.
type LLM interface {
	Generate(ctx context.Context, messages []domain.Message, opts domain.GenerateOptions) (string, error)
}

// ResultStore persists one run record per entity and spec, overwriting on rerun.
type ResultStore interface {
	Save(ctx context.Context, record domain.RunRecord) error
	Get(ctx context.Context, entityID, specName string) (*domain.RunRecord, error)
}

// RetrievalCache caches non-degraded retrieval results.
type RetrievalCache interface {
	Get(ctx context.Context, req domain.RetrievalRequest, versionIDs []string) (*domain.RetrievalResult, bool)
	Set(ctx context.Context, req domain.RetrievalRequest, versionIDs []string, result *domain.RetrievalResult)
}

// SpecCatalog resolves extraction specs by name.
type SpecCatalog interface {
	Get(name string) (domain.ExtractionSpec, bool)
	Names() []string
}

// RunEvents publishes run completion notifications.
type RunEvents interface {
	PublishRunFinished(ctx context.Context, record domain.RunRecord) error
}

// ModeResolver is the cutover decision the extraction service depends on.
type ModeResolver interface {
	GetMode(stage, entityID string) domain.CutoverMode
}

// Metrics receives core observability signals.
type Metrics interface {
	ObserveRetrieval(degraded bool, duration time.Duration)
	ObserveRun(status domain.RunStatus, errorClass string, timing domain.Timing)
	ObserveCutover(stage string, mode domain.CutoverMode)
	ObserveShadow(stage string, drifted bool)
}
