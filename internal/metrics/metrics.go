// Package metrics provides Prometheus metrics for dispatch.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "dispatch"
)

// Metrics contains all Prometheus metrics for the proxy.
type Metrics struct {
	// Client connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Egress selection metrics
	SelectionsTotal *prometheus.CounterVec

	// Outbound connect metrics
	ConnectFailures *prometheus.CounterVec
	ConnectLatency  prometheus.Histogram

	// Relay metrics
	BytesRelayed *prometheus.CounterVec

	// Failure metrics
	ProtocolErrors prometheus.Counter
	PoolExhausted  prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of currently active client connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of client connections accepted",
		}),

		SelectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "egress_selections_total",
			Help:      "Total egress selections by egress path",
		}, []string{"egress"}),

		ConnectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Total outbound connect failures by egress path",
		}, []string{"egress"}),
		ConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_seconds",
			Help:      "Histogram of outbound connect latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		BytesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_relayed_total",
			Help:      "Total bytes relayed by direction",
		}, []string{"direction"}),

		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total SOCKS5 protocol errors from clients",
		}),
		PoolExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_exhausted_total",
			Help:      "Total tunnel connections that exhausted every egress path",
		}),
	}
}

// Relay directions for BytesRelayed.
const (
	DirClientToRemote = "client_to_remote"
	DirRemoteToClient = "remote_to_client"
)
