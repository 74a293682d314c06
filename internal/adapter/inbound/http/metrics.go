// Package http provides the HTTP API adapter for Guardian: synchronous
// evaluation, intent intake, the approval workflow, and policy management.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Guardian.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	DecisionsTotal  *prometheus.CounterVec
	WorkerMessages  *prometheus.CounterVec
	PolicyReloads   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "guardian",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "guardian",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "guardian",
				Name:      "decisions_total",
				Help:      "Total decisions rendered, by effect",
			},
			[]string{"decision"}, // ALLOW/REWRITE/REQUIRE_APPROVAL/BLOCK
		),
		WorkerMessages: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "guardian",
				Name:      "worker_messages_total",
				Help:      "Intent stream messages handled, by result",
			},
			[]string{"result"}, // processed/skipped/malformed/failed
		),
		PolicyReloads: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "guardian",
				Name:      "policy_reloads_total",
				Help:      "Policy snapshot invalidations triggered by the API",
			},
		),
	}
}
