// Package metrics provides Prometheus metrics for the analytics service
// (RED + engines + WebSocket). Scrapeable at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "enms"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// BaselineTrainingsTotal counts trainings by outcome (succeeded, failed, gated).
	BaselineTrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "baseline_trainings_total",
			Help:      "Total number of baseline training runs by outcome.",
		},
		[]string{"outcome"},
	)

	// BaselineTrainingDurationSeconds is training latency.
	BaselineTrainingDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "baseline_training_duration_seconds",
			Help:      "Baseline model training duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)

	// AnomaliesDetectedTotal counts persisted anomalies by severity.
	AnomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Total number of anomalies persisted, by severity.",
		},
		[]string{"severity"},
	)

	// EventPublishFailuresTotal counts swallowed bus publish failures.
	EventPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Total number of event bus publish failures by channel.",
		},
		[]string{"channel"},
	)

	// WebSocketConnectionsActive is the current number of WebSocket clients per topic.
	WebSocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket connections per topic.",
		},
		[]string{"topic"},
	)

	// WebSocketDroppedClientsTotal counts clients dropped for slow consumption.
	WebSocketDroppedClientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_dropped_clients_total",
			Help:      "Total number of WebSocket clients dropped on send overflow or error.",
		},
		[]string{"topic"},
	)

	// SchedulerJobRunsTotal counts scheduled job executions by job and outcome.
	SchedulerJobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Total number of scheduler job runs by job_id and outcome.",
		},
		[]string{"job_id", "outcome"},
	)

	// RateLimitRejectionsTotal counts 429s by category.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total number of rate-limited requests by category.",
		},
		[]string{"category"},
	)
)
