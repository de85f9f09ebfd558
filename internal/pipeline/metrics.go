package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the pipeline's Prometheus collectors.
type Metrics struct {
	IncidentsTotal    *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	StageFailures     *prometheus.CounterVec
	PullRequestsTotal prometheus.Counter
	SecretsRedacted   prometheus.Counter
}

// NewMetrics registers the collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IncidentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neverdown_incidents_total",
			Help: "Incidents ingested, by source.",
		}, []string{"source"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "neverdown_stage_duration_seconds",
			Help:    "Wall-clock duration of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.1, 3, 8),
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neverdown_stage_failures_total",
			Help: "Halting stage failures, by stage and error code.",
		}, []string{"stage", "code"}),
		PullRequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "neverdown_pull_requests_opened_total",
			Help: "Pull requests opened by the publisher.",
		}),
		SecretsRedacted: factory.NewCounter(prometheus.CounterOpts{
			Name: "neverdown_secrets_redacted_total",
			Help: "Secrets redacted by the sanitizer.",
		}),
	}
}
