// Package metrics exposes Prometheus instrumentation for the orchestration
// engine. All collectors are registered on a caller-supplied registry so the
// binaries and the tests can each own their registration lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Redeliveries  prometheus.Counter
	DeadLettered  prometheus.Counter
	SweptJobs     prometheus.Counter
}

// New builds and registers the engine's collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careerassist_jobs_completed_total",
			Help: "Jobs that reached the completed status.",
		}, []string{"job_type"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careerassist_jobs_failed_total",
			Help: "Jobs that reached the failed status.",
		}, []string{"job_type", "stage"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careerassist_stage_duration_seconds",
			Help:    "Wall-clock duration of individual worker stages.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		Redeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careerassist_queue_redeliveries_total",
			Help: "Messages reclaimed after exceeding the visibility timeout.",
		}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careerassist_queue_dead_lettered_total",
			Help: "Messages moved to the dead-letter stream.",
		}),
		SweptJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careerassist_reconciler_swept_jobs_total",
			Help: "Stale processing jobs failed by the reconciliation sweep.",
		}),
	}
	reg.MustRegister(
		m.JobsCompleted, m.JobsFailed, m.StageDuration,
		m.Redeliveries, m.DeadLettered, m.SweptJobs,
	)
	return m
}

// ObserveStage records one stage execution. Nil-safe so components can run
// without instrumentation in tests.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncCompleted(jobType string) {
	if m == nil {
		return
	}
	m.JobsCompleted.WithLabelValues(jobType).Inc()
}

func (m *Metrics) IncFailed(jobType, stage string) {
	if m == nil {
		return
	}
	m.JobsFailed.WithLabelValues(jobType, stage).Inc()
}

func (m *Metrics) IncRedelivery() {
	if m == nil {
		return
	}
	m.Redeliveries.Inc()
}

func (m *Metrics) IncDeadLettered() {
	if m == nil {
		return
	}
	m.DeadLettered.Inc()
}

func (m *Metrics) IncSwept() {
	if m == nil {
		return
	}
	m.SweptJobs.Inc()
}
