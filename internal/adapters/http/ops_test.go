package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpsHandlerServesMetricsAndHealth(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("bidscope_worker_runs_in_flight 0\n"))
	})
	handler := NewOpsHandler(metrics)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "bidscope_worker_runs_in_flight 0\n" {
		t.Fatalf("unexpected metrics response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id header")
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "probe-1")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rec.Code)
	}
	if got := rec.Header().Get(requestIDHeader); got != "probe-1" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	natsUp := errors.New("nats not connected")
	handler := NewOpsHandler(nil,
		ReadinessCheck{Name: "nats", Check: func() error { return natsUp }},
		ReadinessCheck{Name: "store", Check: func() error { return nil }},
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Failures map[string]string `json:"failures"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Failures["nats"] != "nats not connected" || len(body.Failures) != 1 {
		t.Fatalf("unexpected failures %v", body.Failures)
	}

	natsUp = nil
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once checks pass, got %d", rec.Code)
	}
}
