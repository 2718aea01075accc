package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

func scrape(t *testing.T, m *WorkerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestWorkerMetricsCountsCoreSignals(t *testing.T) {
	m := NewWorkerMetrics("w")
	m.ObserveRetrieval(true, 10*time.Millisecond)
	m.ObserveRetrieval(false, 5*time.Millisecond)
	m.ObserveRetrieval(false, 5*time.Millisecond)
	m.ObserveRun(domain.RunFailed, "LlmError", domain.Timing{})
	m.ObserveRun(domain.RunSucceeded, "", domain.Timing{RetrievalMs: 10, LLMMs: 900, ParseMs: 1, TotalMs: 911})
	m.ObserveCutover("tender_parse", domain.ModeShadow)
	m.ObserveShadow("tender_parse", true)

	out := scrape(t, m)
	for _, want := range []string{
		`bidscope_retrieval_requests_total{degraded="false",service="w"} 2`,
		`bidscope_retrieval_requests_total{degraded="true",service="w"} 1`,
		`bidscope_extraction_runs_total{error_class="LlmError",service="w",status="failed"} 1`,
		`bidscope_extraction_phase_duration_seconds_count{phase="llm",service="w"} 1`,
		`bidscope_cutover_decisions_total{mode="SHADOW",service="w",stage="tender_parse"} 1`,
		`bidscope_cutover_shadow_comparisons_total{drifted="true",service="w",stage="tender_parse"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, out)
		}
	}
}

func TestWorkerMetricsTracksRunsInFlightAndLag(t *testing.T) {
	m := NewWorkerMetrics("w")
	m.StartRun()
	m.ObserveQueueLag(2 * time.Second)
	m.ObserveQueueLag(-time.Second)

	out := scrape(t, m)
	for _, want := range []string{
		`bidscope_worker_runs_in_flight{service="w"} 1`,
		`bidscope_worker_queue_lag_seconds_count{service="w"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, out)
		}
	}

	m.FinishRun()
	if out := scrape(t, m); !strings.Contains(out, `bidscope_worker_runs_in_flight{service="w"} 0`) {
		t.Fatalf("expected no runs in flight:\n%s", out)
	}
}
