// Package metrics defines the Prometheus metrics for indexing runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "autoindex"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	SubmissionsTotal    *prometheus.CounterVec
	LivenessTotal       *prometheus.CounterVec
	CreditsDeducted     prometheus.Counter
	JobRunsTotal        *prometheus.CounterVec
	JobDurationSeconds  *prometheus.HistogramVec
	SitesProcessedTotal *prometheus.CounterVec
	AlertsTotal         *prometheus.CounterVec
	ManualQueueDepth    prometheus.Gauge
}

// New creates and registers all metrics on reg (the default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "URL submissions by provider and outcome",
		}, []string{"provider", "outcome"}),

		LivenessTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_checks_total",
			Help:      "Liveness probe results by classification",
		}, []string{"result"}),

		CreditsDeducted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_deducted_total",
			Help:      "Credits charged for successful submissions",
		}),

		JobRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Orchestrator job runs by job and result",
		}, []string{"job", "result"}),

		JobDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of orchestrator job runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68min
		}, []string{"job"}),

		SitesProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sites_processed_total",
			Help:      "Per-site pipeline runs by outcome",
		}, []string{"outcome"}),

		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by event and delivery outcome",
		}, []string{"event", "delivered"}),

		ManualQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "manual_run_queue_depth",
			Help:      "Pending manual site runs",
		}),
	}
}

// Submission records n URLs for a provider outcome.
func (m *Metrics) Submission(provider, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SubmissionsTotal.WithLabelValues(provider, outcome).Add(float64(n))
}

// Liveness records one probe result.
func (m *Metrics) Liveness(result string) {
	if m == nil {
		return
	}
	m.LivenessTotal.WithLabelValues(result).Inc()
}

// Credits records credits deducted.
func (m *Metrics) Credits(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CreditsDeducted.Add(float64(n))
}

// JobRun records a completed orchestrator job.
func (m *Metrics) JobRun(job, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobRunsTotal.WithLabelValues(job, result).Inc()
	m.JobDurationSeconds.WithLabelValues(job).Observe(d.Seconds())
}

// SiteProcessed records a per-site pipeline outcome.
func (m *Metrics) SiteProcessed(outcome string) {
	if m == nil {
		return
	}
	m.SitesProcessedTotal.WithLabelValues(outcome).Inc()
}

// Alert records an alert attempt.
func (m *Metrics) Alert(event string, delivered bool) {
	if m == nil {
		return
	}
	d := "false"
	if delivered {
		d = "true"
	}
	m.AlertsTotal.WithLabelValues(event, d).Inc()
}

// QueueDepth sets the manual-run queue depth.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.ManualQueueDepth.Set(float64(n))
}
