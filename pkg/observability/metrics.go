// Package observability exports the control plane's Prometheus metrics.
// Grounded on _examples/wisbric-nightowl's internal/telemetry package:
// package-level collectors registered into a caller-owned registry and
// exposed through promhttp.HandlerFor, rather than a process-wide default
// registry singleton.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the control plane emits, grouped by the
// component that updates it (spec.md §2's C2-C7).
type Metrics struct {
	// C3 command queue
	CommandsEnqueued *prometheus.CounterVec
	CommandsResolved *prometheus.CounterVec // label "status": SUCCESS|FAILED|TIMEOUT|ERROR
	CommandLatency   *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec

	// C2 session manager
	SessionsActive *prometheus.GaugeVec // label "cluster_id"
	HotClusters    prometheus.Gauge

	// C4 executor stream endpoint
	ExecutorConnections *prometheus.GaugeVec // label "cluster_id"
	ExecutorReconnects  *prometheus.CounterVec

	// C8 auth module
	AuthSuccesses *prometheus.CounterVec // label "method": api_key|bearer_token
	AuthFailures  prometheus.Counter

	// C7 agent protocol binding
	A2ARequests *prometheus.CounterVec // label "method": message/send|message/stream|invoke
}

// New builds and registers the full metric set into reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CommandsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kubently",
			Subsystem: "queue",
			Name:      "commands_enqueued_total",
			Help:      "Total commands enqueued per cluster.",
		}, []string{"cluster_id"}),

		CommandsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kubently",
			Subsystem: "queue",
			Name:      "commands_resolved_total",
			Help:      "Total commands resolved per cluster and terminal status.",
		}, []string{"cluster_id", "status"}),

		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kubently",
			Subsystem: "queue",
			Name:      "command_latency_seconds",
			Help:      "Time from enqueue to result delivery.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"cluster_id"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kubently",
			Subsystem: "queue",
			Name:      "pending_depth",
			Help:      "Current pending command count per cluster.",
		}, []string{"cluster_id"}),

		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kubently",
			Subsystem: "session",
			Name:      "active",
			Help:      "Currently active sessions per cluster.",
		}, []string{"cluster_id"}),

		HotClusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kubently",
			Subsystem: "session",
			Name:      "hot_clusters",
			Help:      "Number of clusters with at least one active session.",
		}),

		ExecutorConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kubently",
			Subsystem: "executor",
			Name:      "connections",
			Help:      "Whether an executor stream is currently connected (0/1) per cluster.",
		}, []string{"cluster_id"}),

		ExecutorReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kubently",
			Subsystem: "executor",
			Name:      "reconnects_total",
			Help:      "Total executor stream (re)connections per cluster.",
		}, []string{"cluster_id"}),

		AuthSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kubently",
			Subsystem: "auth",
			Name:      "successes_total",
			Help:      "Total successful authentications by method.",
		}, []string{"method"}),

		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kubently",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total failed authentication attempts.",
		}),

		A2ARequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kubently",
			Subsystem: "a2a",
			Name:      "requests_total",
			Help:      "Total JSON-RPC requests handled by method.",
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.CommandsEnqueued, m.CommandsResolved, m.CommandLatency, m.QueueDepth,
		m.SessionsActive, m.HotClusters,
		m.ExecutorConnections, m.ExecutorReconnects,
		m.AuthSuccesses, m.AuthFailures,
		m.A2ARequests,
	)
	return m
}
