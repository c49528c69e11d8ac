// Package prometheus provides Prometheus-backed implementations of the
// metrics hooks.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clamentos/blackhole/pkg/metrics"
)

type serverMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsRefused  prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeConnections   prometheus.Gauge
	requestsInFlight    prometheus.Gauge
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	bytesTransferred    *prometheus.CounterVec
}

// NewServerMetrics registers network metrics in the global registry, or
// returns a no-op implementation when metrics are disabled.
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopServerMetrics()
	}
	return NewServerMetricsWith(metrics.GetRegistry())
}

// NewServerMetricsWith registers network metrics in reg.
func NewServerMetricsWith(reg prometheus.Registerer) metrics.ServerMetrics {
	f := promauto.With(reg)

	return &serverMetrics{
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "blackhole_connections_accepted_total",
			Help: "Total number of client connections accepted",
		}),
		connectionsRefused: f.NewCounter(prometheus.CounterOpts{
			Name: "blackhole_connections_refused_total",
			Help: "Total number of client connections refused by per-address admission control",
		}),
		connectionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "blackhole_connections_closed_total",
			Help: "Total number of client connections closed",
		}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "blackhole_active_connections",
			Help: "Current number of open client connections",
		}),
		requestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "blackhole_requests_in_flight",
			Help: "Current number of requests being served",
		}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blackhole_requests_total",
			Help: "Total number of requests by method, resource and status",
		}, []string{"method", "resource", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "blackhole_request_duration_seconds",
			Help: "Duration of requests from header decode to response write",
			Buckets: []float64{
				0.0005, // 500µs
				0.001,  // 1ms
				0.005,  // 5ms
				0.025,  // 25ms
				0.1,    // 100ms
				0.5,    // 500ms
				2.5,    // 2.5s
				10.0,   // 10s
			},
		}, []string{"method", "resource"}),
		bytesTransferred: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blackhole_bytes_total",
			Help: "Total bytes read from and written to clients",
		}, []string{"direction"}),
	}
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
	m.activeConnections.Inc()
}

func (m *serverMetrics) RecordConnectionRefused() {
	m.connectionsRefused.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
	m.activeConnections.Dec()
}

func (m *serverMetrics) RecordRequestStart() {
	m.requestsInFlight.Inc()
}

func (m *serverMetrics) RecordRequest(method, resource, status string, d time.Duration) {
	m.requestsInFlight.Dec()
	m.requestsTotal.WithLabelValues(method, resource, status).Inc()
	m.requestDuration.WithLabelValues(method, resource).Observe(d.Seconds())
}

func (m *serverMetrics) RecordBytes(direction string, n int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}
