package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Per-item notification outcomes.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_notifications_total",
			Help: "Notification dispatch outcomes by job kind and result",
		},
		[]string{"kind", "result"}, // result: sent, failed, skipped
	)

	// Send failures by classified error type.
	SendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_send_errors_total",
			Help: "Notification sender failures by error type",
		},
		[]string{"kind", "error_type"},
	)

	// Whole-run duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_run_duration_seconds",
			Help:    "Duration of a reminder or overdue alert run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"kind"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_runs_total",
			Help: "Job runs by kind and final status",
		},
		[]string{"kind", "status"}, // status: completed, partial, failed
	)

	// Sender latency.
	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_send_latency_ms",
			Help:    "Notification sender call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"sender", "status"},
	)

	// Slow queries.
	SlowQueryTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Number of database queries above the slow query threshold",
		},
	)

	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow database queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
	)
)

// AddNotifications records n dispatch outcomes of one result.
func AddNotifications(kind, result string, n int) {
	if n > 0 {
		NotificationsTotal.WithLabelValues(kind, result).Add(float64(n))
	}
}

// IncrementSendError records a classified sender failure.
func IncrementSendError(kind, errorType string) {
	SendErrorsTotal.WithLabelValues(kind, errorType).Inc()
}

// RecordRun records the duration and status of a completed run.
func RecordRun(kind, status string, duration time.Duration) {
	RunDuration.WithLabelValues(kind).Observe(duration.Seconds())
	RunsTotal.WithLabelValues(kind, status).Inc()
}

// RecordSendLatency records one provider call.
func RecordSendLatency(sender, status string, duration time.Duration) {
	SendLatency.WithLabelValues(sender, status).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery counts a query over the slow threshold.
func IncrementSlowQuery(duration time.Duration) {
	SlowQueryTotal.Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}
