// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the honeypot service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// TURN METRICS
// =============================================================================

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "honeypot_turns_total",
			Help: "Total number of processed conversation turns",
		},
		[]string{"outcome"}, // outcome: ok, degraded, duplicate
	)

	turnDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "honeypot_turn_duration_seconds",
			Help:    "End-to-end turn processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
		},
	)

	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "honeypot_classifications_total",
			Help: "Classification results by strategy",
		},
		[]string{"strategy", "result"}, // result: scam, benign
	)

	fragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "honeypot_intelligence_items_total",
			Help: "New intelligence items accepted into sessions",
		},
		[]string{"category", "source"},
	)

	repliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "honeypot_replies_total",
			Help: "Replies by rendering path",
		},
		[]string{"path"}, // path: model, canned, neutral
	)
)

// =============================================================================
// BACKEND METRICS
// =============================================================================

var (
	generationCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "honeypot_generation_calls_total",
			Help: "Generation backend calls",
		},
		[]string{"purpose", "status"}, // status: ok, cache_hit, unavailable
	)

	generationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "honeypot_generation_duration_seconds",
			Help:    "Generation backend call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"purpose"},
	)

	storeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "honeypot_store_failures_total",
			Help: "Session store operations that failed",
		},
		[]string{"op"},
	)
)

// =============================================================================
// LIFECYCLE METRICS
// =============================================================================

var (
	finalizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "honeypot_finalizations_total",
			Help: "Finalize calls by result",
		},
		[]string{"result"}, // result: finalized, repeated, error
	)

	callbackDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "honeypot_callback_deliveries_total",
			Help: "Callback delivery attempts by result",
		},
		[]string{"result"}, // result: delivered, retry, failed, dropped
	)

	evictedSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "honeypot_evicted_sessions_total",
			Help: "Sessions removed by the lifecycle worker",
		},
	)

	monitorSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "honeypot_monitor_subscribers",
			Help: "Open live-feed subscriptions",
		},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordTurn records a processed turn.
func RecordTurn(outcome string, d time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDurationSeconds.Observe(d.Seconds())
}

// RecordClassification records which strategy produced a verdict.
func RecordClassification(strategy string, scam bool) {
	result := "benign"
	if scam {
		result = "scam"
	}
	classificationsTotal.WithLabelValues(strategy, result).Inc()
}

// RecordIntelligence records newly accepted intelligence items.
func RecordIntelligence(category, source string, n int) {
	if n <= 0 {
		return
	}
	fragmentsTotal.WithLabelValues(category, source).Add(float64(n))
}

// RecordReply records which rendering path produced a reply.
func RecordReply(path string) {
	repliesTotal.WithLabelValues(path).Inc()
}

// RecordGeneration records a backend call.
func RecordGeneration(purpose, status string, d time.Duration) {
	generationCallsTotal.WithLabelValues(purpose, status).Inc()
	if d > 0 {
		generationDurationSeconds.WithLabelValues(purpose).Observe(d.Seconds())
	}
}

// RecordStoreFailure records a failed store operation.
func RecordStoreFailure(op string) {
	storeFailuresTotal.WithLabelValues(op).Inc()
}

// RecordFinalize records a finalize call.
func RecordFinalize(result string) {
	finalizationsTotal.WithLabelValues(result).Inc()
}

// RecordCallback records a callback delivery attempt.
func RecordCallback(result string) {
	callbackDeliveriesTotal.WithLabelValues(result).Inc()
}

// RecordEvicted records sessions removed by eviction.
func RecordEvicted(n int64) {
	if n > 0 {
		evictedSessionsTotal.Add(float64(n))
	}
}

// AddMonitorSubscribers adjusts the live-feed subscriber gauge.
func AddMonitorSubscribers(delta int) {
	monitorSubscribers.Add(float64(delta))
}
