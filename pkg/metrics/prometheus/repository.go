package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clamentos/blackhole/pkg/metrics"
)

type repositoryMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
}

// NewRepositoryMetrics registers repository metrics in the global registry,
// or returns a no-op implementation when metrics are disabled.
func NewRepositoryMetrics() metrics.RepositoryMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopRepositoryMetrics()
	}
	return NewRepositoryMetricsWith(metrics.GetRegistry())
}

// NewRepositoryMetricsWith registers repository metrics in reg.
func NewRepositoryMetricsWith(reg prometheus.Registerer) metrics.RepositoryMetrics {
	f := promauto.With(reg)

	return &repositoryMetrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blackhole_repository_operations_total",
			Help: "Repository operations by kind and outcome",
		}, []string{"operation", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blackhole_repository_operation_duration_seconds",
			Help:    "Duration of repository operations including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blackhole_repository_retries_total",
			Help: "Operations re-run after a connection refresh",
		}, []string{"operation"}),
	}
}

func (m *repositoryMetrics) RecordOperation(op string, d time.Duration, retried bool, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
	if retried {
		m.retries.WithLabelValues(op).Inc()
	}
}
