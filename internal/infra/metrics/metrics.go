// Package metrics exposes Prometheus collectors for the speaker queue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speakerq_operations_total",
			Help: "Total session operations by outcome",
		},
		[]string{"operation", "status"},
	)

	queueLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speakerq_queue_length",
			Help:    "Queue length observed after each published change",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	sessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "speakerq_sessions",
			Help: "Number of sessions held in memory",
		},
	)

	connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "speakerq_connections",
			Help: "Number of open realtime connections",
		},
	)

	speakingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speakerq_effective_duration_seconds",
			Help:    "Effective speaking duration resolved at start",
			Buckets: prometheus.LinearBuckets(30, 30, 10),
		},
	)

	broadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speakerq_broadcast_failures_total",
			Help: "Events a subscriber could not accept",
		},
		[]string{"event"},
	)
)

// Operation counts one session operation with its outcome code.
func Operation(operation, status string) {
	operations.WithLabelValues(operation, status).Inc()
}

// QueueLength observes a session's queue length after a change.
func QueueLength(n int) {
	queueLength.Observe(float64(n))
}

// Sessions records the number of sessions.
func Sessions(n int) {
	sessions.Set(float64(n))
}

// Connections records the number of open connections.
func Connections(n int) {
	connections.Set(float64(n))
}

// EffectiveDuration records a resolved speaking duration.
func EffectiveDuration(sec int) {
	speakingDuration.Observe(float64(sec))
}

// BroadcastFailure counts an undelivered event.
func BroadcastFailure(event string) {
	broadcastFailures.WithLabelValues(event).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
