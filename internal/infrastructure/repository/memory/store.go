// Package memory is an in-process implementation of the document store,
// registry and result store for tests and local runs without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

type storedVersion struct {
	domain.DocumentVersion
	seq uint64
}

type storedSegment struct {
	domain.Segment
	stats termStats
}

type Store struct {
	mu sync.RWMutex

	documents map[string]domain.Document
	versions  map[string]storedVersion
	byHash    map[string]string
	segments  map[string]storedSegment
	byVersion map[string][]string
	results   map[string]domain.RunRecord
	seq       uint64

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		documents: map[string]domain.Document{},
		versions:  map[string]storedVersion{},
		byHash:    map[string]string{},
		segments:  map[string]storedSegment{},
		byVersion: map[string][]string{},
		results:   map[string]domain.RunRecord{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateDocument(_ context.Context, namespace, ownerID string) (string, error) {
	if namespace == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "create document", fmt.Errorf("namespace is empty"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.documents[id] = domain.Document{ID: id, Namespace: namespace, OwnerID: ownerID, CreatedAt: s.now()}
	return id, nil
}

func (s *Store) CreateVersion(_ context.Context, documentID, contentHash string, sizeBytes int64) (string, bool, error) {
	if contentHash == "" {
		return "", false, domain.WrapError(domain.ErrInvalidInput, "create version", fmt.Errorf("content hash is empty"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return "", false, domain.WrapError(domain.ErrNotFound, "create version", fmt.Errorf("document %s", documentID))
	}
	key := documentID + "\x00" + contentHash
	if id, ok := s.byHash[key]; ok {
		return id, false, nil
	}
	s.seq++
	id := uuid.NewString()
	s.versions[id] = storedVersion{
		DocumentVersion: domain.DocumentVersion{
			ID:          id,
			DocumentID:  documentID,
			ContentHash: contentHash,
			SizeBytes:   sizeBytes,
			CreatedAt:   s.now(),
		},
		seq: s.seq,
	}
	s.byHash[key] = id
	return id, true, nil
}

func (s *Store) CreateSegments(_ context.Context, versionID string, segments []domain.Segment) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}
	if err := domain.CheckSegmentOrder(segments); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[versionID]; !ok {
		return 0, domain.WrapError(domain.ErrNotFound, "create segments", fmt.Errorf("version %s", versionID))
	}

	taken := make(map[int]struct{}, len(s.byVersion[versionID]))
	for _, id := range s.byVersion[versionID] {
		taken[s.segments[id].Position] = struct{}{}
	}
	for _, seg := range segments {
		if _, dup := taken[seg.Position]; dup {
			return 0, domain.WrapError(domain.ErrInvalidInput, "create segments", fmt.Errorf("position %d already exists in version %s", seg.Position, versionID))
		}
	}

	for _, seg := range segments {
		if seg.ID == "" {
			seg.ID = uuid.NewString()
		}
		seg.VersionID = versionID
		if seg.Kind == "" {
			seg.Kind = domain.SegmentOther
		}
		seg.HeadingPath = append([]string(nil), seg.HeadingPath...)
		s.segments[seg.ID] = storedSegment{Segment: seg, stats: newTermStats(seg.Text)}
		s.byVersion[versionID] = append(s.byVersion[versionID], seg.ID)
	}
	ids := s.byVersion[versionID]
	sort.SliceStable(ids, func(i, j int) bool {
		return s.segments[ids[i]].Position < s.segments[ids[j]].Position
	})
	return len(segments), nil
}

func (s *Store) QuerySegmentsByVersion(_ context.Context, versionID string) ([]domain.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byVersion[versionID]
	out := make([]domain.Segment, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.segments[id].Segment)
	}
	return out, nil
}

func (s *Store) GetSegments(_ context.Context, ids []string) ([]domain.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Segment, 0, len(ids))
	for _, id := range ids {
		if seg, ok := s.segments[id]; ok {
			out = append(out, seg.Segment)
		}
	}
	return out, nil
}

// LexicalSearch ranks segments of the given versions by BM25, any query term
// matching. Ties break by segment id.
func (s *Store) LexicalSearch(ctx context.Context, versionIDs []string, query string, limit int) ([]domain.LexicalHit, error) {
	terms := queryTerms(query)
	if len(versionIDs) == 0 || len(terms) == 0 || limit <= 0 {
		return []domain.LexicalHit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	corpus := make([]storedSegment, 0)
	seen := make(map[string]struct{}, len(versionIDs))
	for _, versionID := range versionIDs {
		if _, dup := seen[versionID]; dup {
			continue
		}
		seen[versionID] = struct{}{}
		for _, id := range s.byVersion[versionID] {
			corpus = append(corpus, s.segments[id])
		}
	}
	stats := make([]termStats, len(corpus))
	for i, seg := range corpus {
		stats[i] = seg.stats
	}
	scorer := newBM25Scorer(terms, stats)

	hits := make([]domain.LexicalHit, 0)
	for _, seg := range corpus {
		score := scorer.score(terms, seg.stats)
		if score <= 0 {
			continue
		}
		hits = append(hits, domain.LexicalHit{SegmentID: seg.ID, VersionID: seg.VersionID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SegmentID < hits[j].SegmentID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ResolveVersions returns the latest version of every document owned by
// entityID, optionally restricted to the given namespaces, ordered by document id.
func (s *Store) ResolveVersions(_ context.Context, entityID string, docTypes []string) ([]domain.VersionRef, error) {
	allowed := make(map[string]struct{}, len(docTypes))
	for _, t := range docTypes {
		allowed[t] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]storedVersion)
	for _, v := range s.versions {
		doc := s.documents[v.DocumentID]
		if doc.OwnerID != entityID {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[doc.Namespace]; !ok {
				continue
			}
		}
		if cur, ok := latest[v.DocumentID]; !ok || v.seq > cur.seq {
			latest[v.DocumentID] = v
		}
	}

	out := make([]domain.VersionRef, 0, len(latest))
	for docID, v := range latest {
		out = append(out, domain.VersionRef{VersionID: v.ID, DocumentID: docID, Namespace: s.documents[docID].Namespace})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func resultKey(entityID, specName string) string {
	return entityID + "\x00" + specName
}

func (s *Store) Save(_ context.Context, record domain.RunRecord) error {
	if record.EntityID == "" || record.SpecName == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save run record", fmt.Errorf("entity id and spec name are required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[resultKey(record.EntityID, record.SpecName)] = record
	return nil
}

func (s *Store) Get(_ context.Context, entityID, specName string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.results[resultKey(entityID, specName)]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get run record", fmt.Errorf("%s/%s", entityID, specName))
	}
	return &record, nil
}
