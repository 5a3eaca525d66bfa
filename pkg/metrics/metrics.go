package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync run duration (seconds)
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Mailbox sync duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~200s
		},
		[]string{"trigger"}, // trigger: manual, scheduled
	)

	// Per-message ingestion outcome
	EmailProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_processed_count",
			Help: "Total number of emails handled by the ingestion pipeline",
		},
		[]string{"status"}, // status: stored, skipped_duplicate, skipped_empty, failed
	)

	// Oracle call latency (milliseconds)
	OracleCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_call_latency_ms",
			Help:    "Classification oracle call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"operation", "status"},
	)

	// Keyword fallback usage
	ClassificationFallbackCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classification_fallback_count",
			Help: "Total number of classifications resolved by the keyword fallback",
		},
		[]string{"reason"},
	)

	// Gmail API latency (milliseconds)
	GmailCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gmail_call_latency_ms",
			Help:    "Gmail API call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"operation", "status"},
	)

	// Unsubscribe attempts
	UnsubscribeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unsubscribe_attempt_count",
			Help: "Total number of unsubscribe attempts",
		},
		[]string{"method", "status"}, // method: browser, mailto, none
	)

	// HTTP request latency (seconds)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Slow SQL
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "db_slow_query_duration_seconds",
			Help:    "Duration of slow queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~12s
		},
	)
)

// RecordSyncDuration records a sync run.
func RecordSyncDuration(trigger string, duration time.Duration) {
	SyncDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// IncrementEmailProcessed counts one per-message outcome.
func IncrementEmailProcessed(status string) {
	EmailProcessedCount.WithLabelValues(status).Inc()
}

// RecordOracleCallLatency records an oracle round-trip.
func RecordOracleCallLatency(operation, status string, duration time.Duration) {
	OracleCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// IncrementClassificationFallback counts a keyword fallback.
func IncrementClassificationFallback(reason string) {
	ClassificationFallbackCount.WithLabelValues(reason).Inc()
}

// RecordGmailCallLatency records a Gmail API call.
func RecordGmailCallLatency(operation, status string, duration time.Duration) {
	GmailCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// IncrementUnsubscribe counts an unsubscribe attempt.
func IncrementUnsubscribe(method, status string) {
	UnsubscribeCount.WithLabelValues(method, status).Inc()
}

// RecordHTTPRequestDuration records an HTTP request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery counts a slow query, labelled by its leading SQL verb.
func IncrementSlowQuery(operation string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(operation).Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}
