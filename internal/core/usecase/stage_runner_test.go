package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

type stageCalls struct {
	legacy, next atomic.Int32
}

func (c *stageCalls) funcs(legacyErr, nextErr error) (StageFunc[string], StageFunc[string]) {
	legacy := func(context.Context) (string, error) {
		c.legacy.Add(1)
		return "old", legacyErr
	}
	next := func(context.Context) (string, error) {
		c.next.Add(1)
		return "new", nextErr
	}
	return legacy, next
}

func stringDiff(a, b string) []string {
	if a == b {
		return nil
	}
	return []string{a + " -> " + b}
}

func TestRunStageOldRunsLegacyOnly(t *testing.T) {
	calls := &stageCalls{}
	legacy, next := calls.funcs(nil, nil)
	out, err := RunStage(context.Background(), gateFake{}, nil, "tender_parse", "p1", legacy, next, stringDiff)
	if err != nil || out.Value != "old" || out.Mode != domain.ModeOld || out.Variant != domain.VariantOld {
		t.Fatalf("unexpected outcome %+v, %v", out, err)
	}
	if calls.next.Load() != 0 {
		t.Fatalf("new implementation must not run in OLD mode")
	}
}

func TestRunStageNilGateIsOld(t *testing.T) {
	calls := &stageCalls{}
	legacy, next := calls.funcs(nil, nil)
	out, _ := RunStage[string](context.Background(), nil, nil, "s", "p1", legacy, next, nil)
	if out.Mode != domain.ModeOld || calls.next.Load() != 0 {
		t.Fatalf("expected OLD without a gate, got %+v", out)
	}
}

func TestRunStageNewOnlySurfacesFailure(t *testing.T) {
	calls := &stageCalls{}
	legacy, next := calls.funcs(nil, errBoom)
	out, err := RunStage(context.Background(), gateFake{"s": domain.ModeNewOnly}, nil, "s", "p1", legacy, next, stringDiff)
	if !errors.Is(err, errBoom) || out.Variant != domain.VariantNew {
		t.Fatalf("expected new failure surfaced, got %+v, %v", out, err)
	}
	if calls.legacy.Load() != 0 {
		t.Fatalf("legacy must not run in NEW_ONLY mode")
	}
}

func TestRunStagePreferNewFallsBack(t *testing.T) {
	calls := &stageCalls{}
	legacy, next := calls.funcs(nil, errBoom)
	out, err := RunStage(context.Background(), gateFake{"s": domain.ModePreferNew}, nil, "s", "p1", legacy, next, stringDiff)
	if err != nil || out.Value != "old" || !out.FellBack || out.Variant != domain.VariantOld {
		t.Fatalf("expected fallback to legacy, got %+v, %v", out, err)
	}

	calls = &stageCalls{}
	legacy, next = calls.funcs(nil, nil)
	out, err = RunStage(context.Background(), gateFake{"s": domain.ModePreferNew}, nil, "s", "p1", legacy, next, stringDiff)
	if err != nil || out.Value != "new" || out.FellBack || calls.legacy.Load() != 0 {
		t.Fatalf("expected new result without fallback, got %+v, %v", out, err)
	}
}

func TestRunStagePreferNewDoesNotFallBackOnCancellation(t *testing.T) {
	calls := &stageCalls{}
	legacy, next := calls.funcs(nil, domain.WrapError(domain.ErrRunCancelled, "run", context.Canceled))
	_, err := RunStage(context.Background(), gateFake{"s": domain.ModePreferNew}, nil, "s", "p1", legacy, next, stringDiff)
	if !domain.IsKind(err, domain.ErrRunCancelled) || calls.legacy.Load() != 0 {
		t.Fatalf("expected cancellation without fallback, got %v legacy=%d", err, calls.legacy.Load())
	}
}

func TestRunStageShadowReturnsLegacyAndReportsDrift(t *testing.T) {
	calls := &stageCalls{}
	legacy, next := calls.funcs(nil, nil)
	metrics := &metricsFake{}
	out, err := RunStage(context.Background(), gateFake{"s": domain.ModeShadow}, metrics, "s", "p1", legacy, next, stringDiff)
	if err != nil || out.Value != "old" || out.Variant != domain.VariantOld {
		t.Fatalf("expected legacy value in SHADOW, got %+v, %v", out, err)
	}
	if calls.legacy.Load() != 1 || calls.next.Load() != 1 {
		t.Fatalf("expected both implementations to run")
	}
	if len(out.Drift) != 1 || len(metrics.shadow) != 1 || !metrics.shadow[0] {
		t.Fatalf("expected drift reported, got %+v metrics=%v", out.Drift, metrics.shadow)
	}
	if len(metrics.cutover) != 1 || metrics.cutover[0] != domain.ModeShadow {
		t.Fatalf("expected cutover decision observed, got %v", metrics.cutover)
	}
}

func TestRunStageShadowIgnoresNewFailure(t *testing.T) {
	calls := &stageCalls{}
	legacy, next := calls.funcs(nil, errBoom)
	out, err := RunStage(context.Background(), gateFake{"s": domain.ModeShadow}, nil, "s", "p1", legacy, next, stringDiff)
	if err != nil || out.Value != "old" || out.Drift != nil {
		t.Fatalf("expected legacy result despite new failure, got %+v, %v", out, err)
	}
}

func TestDiffExtractionResultsIsStructural(t *testing.T) {
	legacy := &domain.ExtractionResult{Data: map[string]any{
		"base":    map[string]any{"projectName": "A", "price": 1.0},
		"scoring": []any{map[string]any{"w": 1.0}},
	}}
	next := &domain.ExtractionResult{Data: map[string]any{
		"base":    map[string]any{"projectName": "B", "customer": "C"},
		"scoring": []any{},
	}}
	got := diffExtractionResults(legacy, next)
	want := []string{"$.base.customer: only in new", "$.base.price: missing in new", "$.scoring: length 1 -> 0"}
	if len(got) != len(want) {
		t.Fatalf("unexpected diff %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("diff[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if d := diffExtractionResults(legacy, legacy); len(d) != 0 {
		t.Fatalf("expected no drift for identical results, got %v", d)
	}
}
