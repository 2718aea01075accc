package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// WorkerMetrics holds the worker's registry. It implements ports.Metrics for
// the retrieval and extraction core and adds queue-level gauges.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	retrievalTotal    *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	runTotal          *prometheus.CounterVec
	phaseDuration     *prometheus.HistogramVec
	cutoverTotal      *prometheus.CounterVec
	shadowTotal       *prometheus.CounterVec
	runsInFlight      prometheus.Gauge
	queueLag          *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	retrievalTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidscope",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Hybrid retrieval calls by degraded flag.",
		},
		[]string{"service", "degraded"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bidscope",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Hybrid retrieval duration in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "degraded"},
	)
	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidscope",
			Subsystem: "extraction",
			Name:      "runs_total",
			Help:      "Extraction runs by status and error class.",
		},
		[]string{"service", "status", "error_class"},
	)
	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bidscope",
			Subsystem: "extraction",
			Name:      "phase_duration_seconds",
			Help:      "Extraction phase durations of successful runs.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "phase"},
	)
	cutoverTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidscope",
			Subsystem: "cutover",
			Name:      "decisions_total",
			Help:      "Cutover mode decisions by stage and mode.",
		},
		[]string{"service", "stage", "mode"},
	)
	shadowTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidscope",
			Subsystem: "cutover",
			Name:      "shadow_comparisons_total",
			Help:      "Shadow comparisons by stage and drift outcome.",
		},
		[]string{"service", "stage", "drifted"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bidscope",
			Subsystem: "worker",
			Name:      "runs_in_flight",
			Help:      "Number of in-flight extraction run requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bidscope",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between run request and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(
		retrievalTotal, retrievalDuration,
		runTotal, phaseDuration,
		cutoverTotal, shadowTotal,
		runsInFlight, queueLag,
	)

	return &WorkerMetrics{
		registry:          registry,
		service:           service,
		retrievalTotal:    retrievalTotal,
		retrievalDuration: retrievalDuration,
		runTotal:          runTotal,
		phaseDuration:     phaseDuration,
		cutoverTotal:      cutoverTotal,
		shadowTotal:       shadowTotal,
		runsInFlight:      runsInFlight,
		queueLag:          queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) ObserveRetrieval(degraded bool, duration time.Duration) {
	label := boolLabel(degraded)
	m.retrievalTotal.WithLabelValues(m.service, label).Inc()
	m.retrievalDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveRun(status domain.RunStatus, errorClass string, timing domain.Timing) {
	m.runTotal.WithLabelValues(m.service, string(status), errorClass).Inc()
	if status != domain.RunSucceeded {
		return
	}
	m.phaseDuration.WithLabelValues(m.service, "retrieval").Observe(timing.RetrievalMs / 1000)
	m.phaseDuration.WithLabelValues(m.service, "llm").Observe(timing.LLMMs / 1000)
	m.phaseDuration.WithLabelValues(m.service, "parse").Observe(timing.ParseMs / 1000)
	m.phaseDuration.WithLabelValues(m.service, "total").Observe(timing.TotalMs / 1000)
}

func (m *WorkerMetrics) ObserveCutover(stage string, mode domain.CutoverMode) {
	m.cutoverTotal.WithLabelValues(m.service, stage, string(mode)).Inc()
}

func (m *WorkerMetrics) ObserveShadow(stage string, drifted bool) {
	m.shadowTotal.WithLabelValues(m.service, stage, boolLabel(drifted)).Inc()
}

func (m *WorkerMetrics) StartRun() {
	m.runsInFlight.Inc()
}

func (m *WorkerMetrics) FinishRun() {
	m.runsInFlight.Dec()
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
