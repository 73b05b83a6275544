package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	stageTotal       *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	stageInFlight    *prometheus.GaugeVec
	retriesTotal     *prometheus.CounterVec
	queueLag         *prometheus.HistogramVec
	findings         *prometheus.GaugeVec
	housekeepingRuns *prometheus.CounterVec
	deletedTotal     *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "stage_runs_total",
			Help:      "Total stage executions by outcome.",
		},
		[]string{"service", "stage", "outcome"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds by outcome.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "stage", "outcome"},
	)
	stageInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "stage_in_flight",
			Help:      "Number of in-flight stage executions.",
		},
		[]string{"service", "stage"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "retries_scheduled_total",
			Help:      "Total delayed retries scheduled after a transient stage failure.",
		},
		[]string{"service", "stage"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between a task becoming due and its processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "stage"},
	)
	findings := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docpipe",
			Subsystem: "diagnostics",
			Name:      "findings",
			Help:      "Findings reported by the last diagnostics pass by kind.",
		},
		[]string{"service", "kind"},
	)
	housekeepingRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "housekeeping",
			Name:      "runs_total",
			Help:      "Total housekeeping runs by status.",
		},
		[]string{"service", "status"},
	)
	deletedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "housekeeping",
			Name:      "deleted_total",
			Help:      "Total expired items removed by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(stageTotal, stageDuration, stageInFlight, retriesTotal, queueLag, findings, housekeepingRuns, deletedTotal)

	return &WorkerMetrics{
		service:          service,
		registry:         registry,
		stageTotal:       stageTotal,
		stageDuration:    stageDuration,
		stageInFlight:    stageInFlight,
		retriesTotal:     retriesTotal,
		queueLag:         queueLag,
		findings:         findings,
		housekeepingRuns: housekeepingRuns,
		deletedTotal:     deletedTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StageStarted(stage domain.Stage) {
	m.stageInFlight.WithLabelValues(m.service, string(stage)).Inc()
}

func (m *WorkerMetrics) StageFinished(stage domain.Stage, outcome string, seconds float64) {
	m.stageInFlight.WithLabelValues(m.service, string(stage)).Dec()
	if outcome == "" {
		outcome = "unknown"
	}
	m.stageTotal.WithLabelValues(m.service, string(stage), outcome).Inc()
	m.stageDuration.WithLabelValues(m.service, string(stage), outcome).Observe(seconds)
}

func (m *WorkerMetrics) RetryScheduled(stage domain.Stage) {
	m.retriesTotal.WithLabelValues(m.service, string(stage)).Inc()
}

// ObserveQueueLag records how late a task started relative to when it became due.
func (m *WorkerMetrics) ObserveQueueLag(task domain.StageTask, now time.Time) {
	if task.NotBefore.IsZero() {
		return
	}
	lag := now.Sub(task.NotBefore)
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service, string(task.Stage)).Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveDiagnostics(report domain.DiagnosticsReport) {
	m.findings.Reset()
	for _, kind := range []domain.FindingKind{domain.FindingIntegrityFault, domain.FindingDegraded, domain.FindingStuck} {
		m.findings.WithLabelValues(m.service, string(kind)).Set(float64(report.Count(kind)))
	}
}

func (m *WorkerMetrics) ObserveCleanup(result domain.CleanupResult, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.housekeepingRuns.WithLabelValues(m.service, status).Inc()
	m.deletedTotal.WithLabelValues(m.service, "records").Add(float64(result.DeletedRecords))
	m.deletedTotal.WithLabelValues(m.service, "files").Add(float64(result.DeletedFiles))
}
