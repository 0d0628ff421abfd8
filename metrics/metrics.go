// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the engine.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: packets, connections, frames.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HandshakeLatencyHistogram tracks the wall-clock time from a
	// connection's creation to EventHandshakeComplete.
	HandshakeLatencyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "quic_handshake_latency_seconds",
			Help: "handshake completion latency distribution (seconds)",
			Buckets: []float64{
				0.001, 0.00125, 0.0016, 0.002, 0.0025, 0.0032, 0.004, 0.005, 0.0063, 0.0079,
				0.01, 0.0125, 0.016, 0.02, 0.025, 0.032, 0.04, 0.05, 0.063, 0.079,
				0.1, 0.125, 0.16, 0.2, 0.25, 0.32, 0.4, 0.5, 0.63, 0.79, 1, 2,
			},
		},
	)

	// RTTHistogram tracks smoothed RTT samples across all connections,
	// labeled by packet number space so the Initial/Handshake RTT doesn't
	// distort the 1-RTT application-data picture.
	RTTHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "quic_rtt_seconds",
			Help: "smoothed RTT distribution (seconds)",
			Buckets: []float64{
				0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5,
			},
		},
		[]string{"space"})

	// CongestionWindowHistogram tracks the congestion window size observed
	// at each congestion-event callback.
	CongestionWindowHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "quic_congestion_window_bytes",
			Help: "congestion window size distribution (bytes)",
			Buckets: []float64{
				1200, 2400, 4800, 9600, 1 << 14, 1 << 15, 1 << 16, 1 << 17,
				1 << 18, 1 << 19, 1 << 20, 1 << 21, 1 << 22,
			},
		},
	)

	// LossEventCount counts packets declared lost, labeled by packet
	// number space.
	LossEventCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quic_loss_events_total",
			Help: "The total number of packets declared lost.",
		}, []string{"space"})

	// PTOFiredCount counts probe-timeout firings, labeled by packet number
	// space.
	PTOFiredCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quic_pto_fired_total",
			Help: "The total number of probe timeouts that fired.",
		}, []string{"space"})

	// ConnectionsActiveGauge tracks the number of connections an endpoint
	// currently has in its CID table.
	ConnectionsActiveGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quic_connections_active",
			Help: "Number of connections currently tracked by the endpoint.",
		},
	)

	// ConnectionsTotalCount counts every connection ever admitted.
	ConnectionsTotalCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quic_connections_total",
			Help: "Total number of connections admitted.",
		},
	)

	// ErrorCount measures the number of errors.
	// Provides metrics:
	//    quic_error_total
	// Example usage:
	//    metrics.ErrorCount.With(prometheus.Labels{"type": "decrypt"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quic_error_total",
			Help: "The total number of errors encountered.",
		}, []string{"type"})

	// PacketsSentCount and PacketsReceivedCount count packets crossing the
	// wire, labeled by packet number space.
	PacketsSentCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quic_packets_sent_total",
			Help: "Total packets sent.",
		}, []string{"space"})

	PacketsReceivedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quic_packets_received_total",
			Help: "Total packets received.",
		}, []string{"space"})

	// BytesSentCount and BytesReceivedCount count payload bytes crossing
	// the wire; they carry no labels.
	BytesSentCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quic_bytes_sent_total",
			Help: "Total stream bytes sent.",
		},
	)

	BytesReceivedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quic_bytes_received_total",
			Help: "Total stream bytes received.",
		},
	)

	// ConnectionEventsCounter counts connection lifecycle notifications
	// published over the eventsocket, labeled "open" or "close".
	ConnectionEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quic_connection_events_total",
			Help: "Total connection open/close events published over the eventsocket.",
		}, []string{"event"})

	// PathMigrationsCount counts completed path migrations, one per
	// validated PATH_RESPONSE that promoted a probed address to active.
	PathMigrationsCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quic_path_migrations_total",
			Help: "Total number of connections that migrated to a newly validated path.",
		},
	)

	// ConnectionIDsIssuedCount and ConnectionIDsRetiredCount track local
	// connection ID pool churn (NEW_CONNECTION_ID/RETIRE_CONNECTION_ID).
	ConnectionIDsIssuedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quic_connection_ids_issued_total",
			Help: "Total number of connection IDs issued to peers.",
		},
	)

	ConnectionIDsRetiredCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quic_connection_ids_retired_total",
			Help: "Total number of connection IDs retired, locally or by peer request.",
		},
	)
)

// init prints a log message to let the operator know the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in qtransport.metrics are registered.")
}
