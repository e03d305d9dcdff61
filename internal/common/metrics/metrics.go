package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// gRPC metrics
var (
	// GRPCRequestDuration tracks request latency by method and status code.
	GRPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "status_code"},
	)

	// GRPCRequestsTotal counts gRPC requests by method and status code.
	GRPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status_code"},
	)

	// RateLimitExceededTotal counts rejected requests by identifier type.
	RateLimitExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_exceeded_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"identifier_type"},
	)
)

// Payment metrics
var (
	// PaymentsTotal counts authorization outcomes by status (AUTHORIZED, DECLINED, DUPLICATE).
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Total number of payment authorization results",
		},
		[]string{"status"},
	)

	// PaymentAmountCents tracks authorized amounts in minor units.
	PaymentAmountCents = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_amount_cents",
			Help:    "Distribution of authorized payment amounts in cents",
			Buckets: prometheus.ExponentialBuckets(100, 10, 7),
		},
	)

	// DBOptimisticLockConflicts counts optimistic lock conflicts by entity.
	DBOptimisticLockConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_optimistic_lock_conflicts_total",
			Help: "Total number of optimistic lock conflicts",
		},
		[]string{"entity"},
	)
)

// Outbox metrics
var (
	// OutboxPublishedTotal counts events successfully published to the broker.
	OutboxPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox events published",
		},
	)

	// OutboxPublishFailuresTotal counts failed publish attempts.
	OutboxPublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		},
	)

	// OutboxDLQTotal counts events escalated to the dead-letter topic.
	OutboxDLQTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_dlq_total",
			Help: "Total number of outbox events sent to the dead-letter topic",
		},
	)

	// OutboxBatchDuration tracks the duration of one dispatcher poll iteration.
	OutboxBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_batch_duration_seconds",
			Help:    "Duration of one outbox dispatch batch in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordGRPCRequest records duration and count for one gRPC request.
// Side effects: records Prometheus metrics.
func RecordGRPCRequest(method, statusCode string, duration time.Duration) {
	GRPCRequestDuration.WithLabelValues(method, statusCode).Observe(duration.Seconds())
	GRPCRequestsTotal.WithLabelValues(method, statusCode).Inc()
}

// RecordRateLimitExceeded increments the rate-limit rejection counter.
// Side effects: records a Prometheus metric.
func RecordRateLimitExceeded(identifierType string) {
	RateLimitExceededTotal.WithLabelValues(identifierType).Inc()
}

// RecordPaymentResult increments the payment outcome counter.
// Side effects: records a Prometheus metric.
func RecordPaymentResult(status string) {
	PaymentsTotal.WithLabelValues(status).Inc()
}

// RecordOptimisticLockConflict increments the optimistic lock conflict counter.
// Side effects: records a Prometheus metric.
func RecordOptimisticLockConflict(entity string) {
	DBOptimisticLockConflicts.WithLabelValues(entity).Inc()
}
