package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/core/ports"
)

// IngestService turns uploaded bytes into an immutable document version with
// stored, indexed segments.
type IngestService struct {
	store     ports.DocumentStore
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	segmenter ports.Segmenter
	embedder  ports.Embedder
	index     ports.VectorIndex
}

func NewIngestService(
	store ports.DocumentStore,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	segmenter ports.Segmenter,
	embedder ports.Embedder,
	index ports.VectorIndex,
) *IngestService {
	return &IngestService{
		store:     store,
		storage:   storage,
		extractor: extractor,
		segmenter: segmenter,
		embedder:  embedder,
		index:     index,
	}
}

func (s *IngestService) CreateDocument(ctx context.Context, namespace, ownerID string) (string, error) {
	if strings.TrimSpace(namespace) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "create document", errors.New("namespace is empty"))
	}
	id, err := s.store.CreateDocument(ctx, namespace, ownerID)
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	return id, nil
}

// CreateVersion hashes content and returns the version id for it, reusing the
// existing version when the same bytes were stored before.
func (s *IngestService) CreateVersion(ctx context.Context, documentID string, content []byte) (string, error) {
	hash, err := domain.ContentHash(content)
	if err != nil {
		return "", err
	}
	versionID, _, err := s.store.CreateVersion(ctx, documentID, hash, int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("create version: %w", err)
	}
	return versionID, nil
}

// Ingest stores, segments and indexes content as a version of documentID.
// Re-ingesting identical bytes returns the existing version untouched.
func (s *IngestService) Ingest(ctx context.Context, documentID, mimeType string, content []byte) (*domain.DocumentVersion, int, error) {
	if len(content) == 0 {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("content is empty"))
	}
	hash, err := domain.ContentHash(content)
	if err != nil {
		return nil, 0, err
	}
	if err := s.saveObject(ctx, hash, content); err != nil {
		return nil, 0, err
	}

	versionID, created, err := s.store.CreateVersion(ctx, documentID, hash, int64(len(content)))
	if err != nil {
		return nil, 0, fmt.Errorf("create version: %w", err)
	}
	version := &domain.DocumentVersion{
		ID:          versionID,
		DocumentID:  documentID,
		ContentHash: hash,
		SizeBytes:   int64(len(content)),
		CreatedAt:   time.Now().UTC(),
	}

	if !created {
		existing, err := s.store.QuerySegmentsByVersion(ctx, versionID)
		if err != nil {
			return nil, 0, fmt.Errorf("query existing segments: %w", err)
		}
		if len(existing) > 0 {
			slog.Info("ingest_version_reused", "document_id", documentID, "version_id", versionID, "segments", len(existing))
			return version, len(existing), nil
		}
	}

	text, err := s.extractText(ctx, mimeType, content)
	if err != nil {
		return nil, 0, err
	}
	segments := s.segmenter.Segment(text)
	if len(segments) == 0 {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "segment document", errors.New("segmentation produced zero segments"))
	}
	count, err := s.store.CreateSegments(ctx, versionID, segments)
	if err != nil {
		return nil, 0, fmt.Errorf("create segments: %w", err)
	}

	s.indexVersion(ctx, versionID)

	slog.Info("ingest_version_created",
		"document_id", documentID,
		"version_id", versionID,
		"content_hash", hash,
		"segments", count,
	)
	return version, count, nil
}

func (s *IngestService) saveObject(ctx context.Context, hash string, content []byte) error {
	if s.storage == nil {
		return nil
	}
	key := objectKey(hash)
	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check object storage: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.storage.Save(ctx, key, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("save to object storage: %w", err)
	}
	return nil
}

func (s *IngestService) extractText(ctx context.Context, mimeType string, content []byte) (string, error) {
	text, err := s.extractor.Extract(ctx, mimeType, content)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	return text, nil
}

// indexVersion embeds the stored segments of a version. A failure leaves the
// version lexically searchable and dense retrieval simply misses it.
func (s *IngestService) indexVersion(ctx context.Context, versionID string) {
	if s.embedder == nil || s.index == nil {
		return
	}
	if err := s.embedAndIndex(ctx, versionID); err != nil {
		slog.Warn("ingest_index_failed", "version_id", versionID, "error", err)
	}
}

func (s *IngestService) embedAndIndex(ctx context.Context, versionID string) error {
	stored, err := s.store.QuerySegmentsByVersion(ctx, versionID)
	if err != nil {
		return fmt.Errorf("query stored segments: %w", err)
	}
	texts := make([]string, 0, len(stored))
	for _, seg := range stored {
		texts = append(texts, seg.Text)
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed segments: %w", err)
	}
	if len(vectors) != len(stored) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"embed segments",
			fmt.Errorf("vectors/segments mismatch: %d/%d", len(vectors), len(stored)),
		)
	}
	if err := s.index.IndexSegments(ctx, stored, vectors); err != nil {
		return fmt.Errorf("index segments in vector db: %w", err)
	}
	return nil
}

func objectKey(hash string) string {
	return "versions/" + hash[:2] + "/" + hash
}
