package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Completed inbox runs by outcome.
	InboxRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_runs_total",
			Help: "Total number of inbox review runs",
		},
		[]string{"trigger", "status"}, // trigger: manual, scheduled; status: completed, failed, conflict
	)

	// Messages reviewed by verdict action.
	MessagesReviewedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_reviewed_total",
			Help: "Total number of messages reviewed",
		},
		[]string{"action"}, // TRASH, KEEP, IMPORTANT, omitted, error
	)

	// Classifier call latency (milliseconds).
	ClassifierLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_call_latency_ms",
			Help:    "Classifier call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"model", "status"},
	)

	// Gmail API call latency (milliseconds).
	GmailCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gmail_call_latency_ms",
			Help:    "Gmail API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"op", "status"},
	)

	// Currently scheduled per-user jobs.
	ScheduledJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_scheduled_jobs",
			Help: "Number of per-user inbox jobs currently scheduled",
		},
	)

	// HTTP request latency (seconds).
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRun records one completed run attempt.
func RecordRun(trigger, status string) {
	InboxRunsTotal.WithLabelValues(trigger, status).Inc()
}

// RecordMessage records one reviewed message.
func RecordMessage(action string) {
	MessagesReviewedTotal.WithLabelValues(action).Inc()
}

// RecordClassifierLatency records one classifier call.
func RecordClassifierLatency(model, status string, duration time.Duration) {
	ClassifierLatency.WithLabelValues(model, status).Observe(float64(duration.Milliseconds()))
}

// RecordGmailLatency records one Gmail API call.
func RecordGmailLatency(op, status string, duration time.Duration) {
	GmailCallLatency.WithLabelValues(op, status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration records one HTTP request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
