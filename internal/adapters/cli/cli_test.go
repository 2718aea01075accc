package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/bidscope/internal/core/domain"
	"github.com/kirillkom/bidscope/internal/core/usecase"
	"github.com/kirillkom/bidscope/internal/cutover"
	"github.com/kirillkom/bidscope/internal/infrastructure/chunking"
	"github.com/kirillkom/bidscope/internal/infrastructure/extractor/document"
	"github.com/kirillkom/bidscope/internal/infrastructure/repository/memory"
)

type runnerFake struct {
	got    domain.RunRequest
	record *domain.RunRecord
	err    error
}

func (f *runnerFake) RunForEntity(_ context.Context, req domain.RunRequest) (*domain.RunRecord, error) {
	f.got = req
	return f.record, f.err
}

type publisherFake struct {
	requests []domain.RunRequest
}

func (f *publisherFake) PublishRunRequested(_ context.Context, req domain.RunRequest) error {
	f.requests = append(f.requests, req)
	return nil
}

func execute(t *testing.T, svc *Services, args ...string) (string, error) {
	t.Helper()
	released := false
	root := NewRootCommand(func(context.Context) (*Services, func(), error) {
		return svc, func() { released = true }, nil
	})
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil && !released && len(args) > 0 && args[0] != "help" {
		t.Fatalf("expected services to be released")
	}
	return buf.String(), err
}

func TestIngestThenRetrieveLexicalOnly(t *testing.T) {
	store := memory.NewStore()
	ingest := usecase.NewIngestService(store, nil, document.NewExtractor(), chunking.NewSegmenter(900, 0), nil, nil)
	retriever := usecase.NewHybridRetriever(store, store, nil, nil, usecase.RetrieverConfig{})
	svc := &Services{Ingest: ingest, Retriever: retriever}

	path := filepath.Join(t.TempDir(), "tender.txt")
	if err := os.WriteFile(path, []byte("Bid security is 5 percent of the contract price."), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	out, err := execute(t, svc, "ingest", "--entity", "project-1", path)
	if err != nil {
		t.Fatalf("ingest error = %v", err)
	}
	if !strings.Contains(out, "segments=1") {
		t.Fatalf("unexpected ingest output %q", out)
	}

	out, err = execute(t, svc, "retrieve", "--entity", "project-1", "bid security")
	if err != nil {
		t.Fatalf("retrieve error = %v", err)
	}
	if !strings.Contains(out, "degraded:") || !strings.Contains(out, "[1]") {
		t.Fatalf("expected a degraded lexical hit, got %q", out)
	}
}

func TestIngestRequiresEntityForNewDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	_ = os.WriteFile(path, []byte("x"), 0o644)
	_, err := execute(t, &Services{}, "ingest", path)
	if err == nil || !strings.Contains(err.Error(), "--entity") {
		t.Fatalf("expected entity error, got %v", err)
	}
}

func TestRunInlinePrintsRecordAndReturnsRunError(t *testing.T) {
	runner := &runnerFake{
		record: &domain.RunRecord{RunID: "r1", Status: domain.RunFailed, Mode: domain.ModeNewOnly, Variant: domain.VariantNew, ErrorClass: "LlmError", Message: "exhausted"},
		err:    errors.New("llm exhausted"),
	}
	out, err := execute(t, &Services{Runner: runner}, "run", "--entity", "project-9", "--type", "tender")
	if err == nil {
		t.Fatalf("expected run error to propagate")
	}
	if runner.got.SpecName != "tender_parse" || runner.got.Scope.EntityID != "project-9" || runner.got.Scope.DocTypes[0] != "tender" {
		t.Fatalf("unexpected request %+v", runner.got)
	}
	if !strings.Contains(out, "status=failed") || !strings.Contains(out, "error_class=LlmError") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRunPublishQueuesRequest(t *testing.T) {
	pub := &publisherFake{}
	out, err := execute(t, &Services{Publisher: pub}, "run", "--entity", "project-3", "--publish")
	if err != nil {
		t.Fatalf("run --publish error = %v", err)
	}
	if len(pub.requests) != 1 || pub.requests[0].RequestedAt.IsZero() {
		t.Fatalf("expected one stamped request, got %+v", pub.requests)
	}
	if !strings.Contains(out, "queued tender_parse for project-3") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCutoverShowsModesPerEntity(t *testing.T) {
	snap, err := cutover.ParseSnapshot([]byte(`
stages:
  tender_parse:
    mode: NEW_ONLY
    scope: PROJECT
    allowlist: ["project-1"]
`))
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	svc := &Services{Cutover: cutover.NewGate(snap)}

	out, err := execute(t, svc, "cutover", "--entity", "project-1")
	if err != nil {
		t.Fatalf("cutover error = %v", err)
	}
	if !strings.Contains(out, "tender_parse\tNEW_ONLY") {
		t.Fatalf("expected allowlisted mode, got %q", out)
	}

	out, _ = execute(t, svc, "cutover", "--entity", "project-2")
	if !strings.Contains(out, "tender_parse\tOLD") {
		t.Fatalf("expected OLD outside the allowlist, got %q", out)
	}

	out, _ = execute(t, &Services{Cutover: cutover.NewGate(nil)}, "cutover")
	if !strings.Contains(out, "every stage runs OLD") {
		t.Fatalf("unexpected empty-config output %q", out)
	}
}

func TestLoaderErrorIsReported(t *testing.T) {
	root := NewRootCommand(func(context.Context) (*Services, func(), error) {
		return nil, nil, errors.New("postgres down")
	})
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"specs"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "postgres down") {
		t.Fatalf("expected loader error, got %v", err)
	}
}
