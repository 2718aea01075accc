package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

func seedVersion(t *testing.T, s *Store, owner, namespace, hash string) (string, string) {
	t.Helper()
	ctx := context.Background()
	docID, err := s.CreateDocument(ctx, namespace, owner)
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	versionID, created, err := s.CreateVersion(ctx, docID, hash, 10)
	if err != nil || !created {
		t.Fatalf("CreateVersion() = %s, %v, %v", versionID, created, err)
	}
	return docID, versionID
}

func TestCreateVersionIsIdempotentPerHash(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	docID, first := seedVersion(t, s, "p1", "tender", "hash-a")

	again, created, err := s.CreateVersion(ctx, docID, "hash-a", 10)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if created || again != first {
		t.Fatalf("expected existing version %s, got %s created=%v", first, again, created)
	}

	other, created, err := s.CreateVersion(ctx, docID, "hash-b", 12)
	if err != nil || !created || other == first {
		t.Fatalf("expected new version, got %s created=%v err=%v", other, created, err)
	}

	if _, _, err := s.CreateVersion(ctx, "missing", "hash-a", 1); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSegmentsKeepsPositionOrder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, versionID := seedVersion(t, s, "p1", "tender", "h")

	if n, err := s.CreateSegments(ctx, versionID, nil); err != nil || n != 0 {
		t.Fatalf("empty batch = %d, %v", n, err)
	}
	if _, err := s.CreateSegments(ctx, versionID, []domain.Segment{{Position: 5, Text: "late"}}); err != nil {
		t.Fatalf("CreateSegments() error = %v", err)
	}
	if _, err := s.CreateSegments(ctx, versionID, []domain.Segment{{Position: 0, Text: "a"}, {Position: 2, Text: "b"}}); err != nil {
		t.Fatalf("CreateSegments() error = %v", err)
	}
	if _, err := s.CreateSegments(ctx, versionID, []domain.Segment{{Position: 3}, {Position: 1}}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unordered batch, got %v", err)
	}
	if _, err := s.CreateSegments(ctx, versionID, []domain.Segment{{Position: 2, Text: "dup"}}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for taken position, got %v", err)
	}

	segments, err := s.QuerySegmentsByVersion(ctx, versionID)
	if err != nil {
		t.Fatalf("QuerySegmentsByVersion() error = %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	for i, want := range []int{0, 2, 5} {
		if segments[i].Position != want {
			t.Fatalf("segment %d position = %d, want %d", i, segments[i].Position, want)
		}
		if segments[i].Kind != domain.SegmentOther || segments[i].VersionID != versionID {
			t.Fatalf("unexpected segment %+v", segments[i])
		}
	}
}

func TestLexicalSearchRanksByBM25WithinScope(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, v1 := seedVersion(t, s, "p1", "tender", "h1")
	_, v2 := seedVersion(t, s, "p1", "contract", "h2")

	_, _ = s.CreateSegments(ctx, v1, []domain.Segment{
		{ID: "a", Position: 0, Text: "Bid submission deadline is 10 May. Deadline is final."},
		{ID: "b", Position: 1, Text: "Evaluation criteria: price 60 points"},
		{ID: "c", Position: 2, Text: "The deadline for questions"},
	})
	_, _ = s.CreateSegments(ctx, v2, []domain.Segment{
		{ID: "d", Position: 0, Text: "deadline deadline deadline"},
	})

	hits, err := s.LexicalSearch(ctx, []string{v1}, "Deadline submission", 10)
	if err != nil {
		t.Fatalf("LexicalSearch() error = %v", err)
	}
	if len(hits) != 2 || hits[0].SegmentID != "a" || hits[1].SegmentID != "c" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("expected descending scores, got %+v", hits)
	}

	hits, _ = s.LexicalSearch(ctx, []string{v1, v2}, "deadline", 1)
	if len(hits) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(hits))
	}

	hits, _ = s.LexicalSearch(ctx, []string{v1}, "  ...  ", 10)
	if len(hits) != 0 {
		t.Fatalf("expected no hits for empty query, got %+v", hits)
	}
}

func TestLexicalSearchBreaksTiesBySegmentID(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, v1 := seedVersion(t, s, "p1", "tender", "h1")
	_, _ = s.CreateSegments(ctx, v1, []domain.Segment{
		{ID: "z", Position: 0, Text: "guarantee"},
		{ID: "m", Position: 1, Text: "guarantee"},
		{ID: "q", Position: 2, Text: "other"},
	})
	hits, _ := s.LexicalSearch(ctx, []string{v1}, "guarantee", 10)
	if len(hits) != 2 || hits[0].SegmentID != "m" || hits[1].SegmentID != "z" {
		t.Fatalf("unexpected tie order %+v", hits)
	}
}

func TestResolveVersionsReturnsLatestPerDocument(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	docID, _ := seedVersion(t, s, "p1", "tender", "h1")
	latest, _, _ := s.CreateVersion(ctx, docID, "h2", 5)
	seedVersion(t, s, "p1", "contract", "h3")
	seedVersion(t, s, "p2", "tender", "h4")

	refs, err := s.ResolveVersions(ctx, "p1", []string{"tender"})
	if err != nil {
		t.Fatalf("ResolveVersions() error = %v", err)
	}
	if len(refs) != 1 || refs[0].VersionID != latest || refs[0].Namespace != "tender" {
		t.Fatalf("unexpected refs %+v", refs)
	}

	refs, _ = s.ResolveVersions(ctx, "p1", nil)
	if len(refs) != 2 {
		t.Fatalf("expected 2 documents for p1, got %+v", refs)
	}
}

func TestResultsOverwritePerEntityAndSpec(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if _, err := s.Get(ctx, "p1", "tender_parse"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Save(ctx, domain.RunRecord{EntityID: "p1", SpecName: "tender_parse", RunID: fmt.Sprintf("run-%d", i)}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	got, err := s.Get(ctx, "p1", "tender_parse")
	if err != nil || got.RunID != "run-1" {
		t.Fatalf("expected latest record, got %+v, %v", got, err)
	}
	if err := s.Save(ctx, domain.RunRecord{SpecName: "x"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
