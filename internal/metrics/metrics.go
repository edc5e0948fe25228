// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// ActiveConnections tracks current active connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	// ChecksTotal counts sliding window checks by limiter type and outcome.
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Total number of rate limit checks",
		},
		[]string{"type", "outcome"},
	)

	// PenaltiesTotal counts penalty escalations by limiter type.
	PenaltiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_penalties_total",
			Help: "Total number of penalty escalations",
		},
		[]string{"type"},
	)

	// QuotaChecksTotal counts quota checks by period and outcome.
	QuotaChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_checks_total",
			Help: "Total number of quota checks",
		},
		[]string{"period", "outcome"},
	)

	// StoreOperationDuration measures storage backend latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// StoreErrorsTotal counts storage failures that were absorbed by the
	// limiter.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Total number of storage errors",
		},
		[]string{"operation"},
	)

	// RecordsCleanedTotal counts stale records removed by the janitor.
	RecordsCleanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "records_cleaned_total",
			Help: "Total number of stale records removed",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request metric.
func RecordRequest(method, path string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCheck records a sliding window decision.
func RecordCheck(limiterType string, allowed bool) {
	ChecksTotal.WithLabelValues(limiterType, outcome(allowed)).Inc()
}

// RecordPenalty records a penalty escalation.
func RecordPenalty(limiterType string) {
	PenaltiesTotal.WithLabelValues(limiterType).Inc()
}

// RecordQuota records a quota decision.
func RecordQuota(period string, allowed bool) {
	QuotaChecksTotal.WithLabelValues(period, outcome(allowed)).Inc()
}

// RecordStoreOp records a storage operation duration.
func RecordStoreOp(operation string, duration time.Duration) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreError records a storage failure.
func RecordStoreError(operation string) {
	StoreErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordCleaned records removed stale records.
func RecordCleaned(n int) {
	if n > 0 {
		RecordsCleanedTotal.Add(float64(n))
	}
}

func outcome(allowed bool) string {
	if allowed {
		return OutcomeAllowed
	}
	return OutcomeDenied
}
