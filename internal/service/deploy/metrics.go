package deploy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/repodeploy/internal/archive"
)

var stageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

type pipelineMetrics struct {
	startedTotal  prometheus.Counter
	finishedTotal *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	skippedFiles  *prometheus.CounterVec
	inflight      prometheus.Gauge
}

func newPipelineMetrics() *pipelineMetrics {
	m := &pipelineMetrics{
		startedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "repodeploy",
			Subsystem: "pipeline",
			Name:      "deployments_started_total",
			Help:      "Deployments accepted for processing",
		}),
		finishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repodeploy",
			Subsystem: "pipeline",
			Name:      "deployments_finished_total",
			Help:      "Deployments that reached a final state",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repodeploy",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   stageBuckets,
		}, []string{"stage", "outcome"}),
		skippedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repodeploy",
			Subsystem: "pipeline",
			Name:      "skipped_files_total",
			Help:      "Archive entries left out of the deployed file set",
		}, []string{"reason"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "repodeploy",
			Subsystem: "pipeline",
			Name:      "deployments_inflight",
			Help:      "Deployments currently being processed",
		}),
	}

	m.startedTotal = register(m.startedTotal)
	m.finishedTotal = register(m.finishedTotal)
	m.stageDuration = register(m.stageDuration)
	m.skippedFiles = register(m.skippedFiles)
	m.inflight = register(m.inflight)
	return m
}

// register returns the already registered collector when one with the same descriptor exists.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *pipelineMetrics) started() {
	m.startedTotal.Inc()
}

func (m *pipelineMetrics) finished(status string) {
	m.finishedTotal.WithLabelValues(status).Inc()
}

func (m *pipelineMetrics) observeStage(stage, outcome string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

func (m *pipelineMetrics) skipped(stats archive.Stats) {
	m.skippedFiles.WithLabelValues("denylisted").Add(float64(stats.Denylisted))
	m.skippedFiles.WithLabelValues("undecodable").Add(float64(stats.Undecodable))
	m.skippedFiles.WithLabelValues("oversized").Add(float64(stats.Oversized))
	m.skippedFiles.WithLabelValues("unsafe").Add(float64(stats.Unsafe))
	if stats.BudgetExceeded {
		m.skippedFiles.WithLabelValues("budget").Inc()
	}
}
