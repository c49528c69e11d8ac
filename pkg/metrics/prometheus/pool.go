package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clamentos/blackhole/pkg/metrics"
)

type poolMetrics struct {
	size        prometheus.Gauge
	inUse       prometheus.Gauge
	acquireWait *prometheus.HistogramVec
	refreshes   *prometheus.CounterVec
}

// NewPoolMetrics registers connection pool metrics in the global registry, or
// returns a no-op implementation when metrics are disabled.
func NewPoolMetrics() metrics.PoolMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopPoolMetrics()
	}
	return NewPoolMetricsWith(metrics.GetRegistry())
}

// NewPoolMetricsWith registers connection pool metrics in reg.
func NewPoolMetricsWith(reg prometheus.Registerer) metrics.PoolMetrics {
	f := promauto.With(reg)

	return &poolMetrics{
		size: f.NewGauge(prometheus.GaugeOpts{
			Name: "blackhole_pool_size",
			Help: "Number of pooled database connections",
		}),
		inUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "blackhole_pool_in_use",
			Help: "Number of pooled connections currently checked out",
		}),
		acquireWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blackhole_pool_acquire_wait_seconds",
			Help:    "Time spent acquiring a pooled connection",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		}, []string{"path"}), // scan or parked
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blackhole_pool_refreshes_total",
			Help: "Connection health checks by outcome",
		}, []string{"outcome"}),
	}
}

func (m *poolMetrics) SetPoolSize(size int) {
	m.size.Set(float64(size))
}

func (m *poolMetrics) RecordAcquire(wait time.Duration, parked bool) {
	path := "scan"
	if parked {
		path = "parked"
	}
	m.inUse.Inc()
	m.acquireWait.WithLabelValues(path).Observe(wait.Seconds())
}

func (m *poolMetrics) RecordRelease() {
	m.inUse.Dec()
}

func (m *poolMetrics) RecordRefresh(reconnected bool, err error) {
	outcome := "valid"
	switch {
	case err != nil:
		outcome = "failed"
	case reconnected:
		outcome = "reconnected"
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}
