package ports

import (
	"context"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// DocumentIngestor is the inbound contract for storing uploaded document versions.
type DocumentIngestor interface {
	CreateDocument(ctx context.Context, namespace, ownerID string) (string, error)
	CreateVersion(ctx context.Context, documentID string, content []byte) (string, error)
	Ingest(ctx context.Context, documentID, mimeType string, content []byte) (*domain.DocumentVersion, int, error)
}

// Retriever is the inbound contract for hybrid retrieval.
type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

// Extractor runs one extraction spec over a scope.
type Extractor interface {
	Run(ctx context.Context, spec domain.ExtractionSpec, scope domain.Scope, modelID, runID string) (*domain.ExtractionResult, error)
}

// ExtractionRunner is the inbound contract for gated, persisted extraction runs.
type ExtractionRunner interface {
	RunForEntity(ctx context.Context, req domain.RunRequest) (*domain.RunRecord, error)
}
