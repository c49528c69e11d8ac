// Package metrics defines the observability hooks of the server, pool and
// repository, the in-process Stats counters served by the SYSTEM resource,
// and the Prometheus registry and HTTP endpoint.
//
// Prometheus collection is optional. Without InitRegistry every constructor
// in metrics/prometheus returns a no-op implementation, and Stats keeps
// counting on its own.
//
// Usage:
//
//	metrics.InitRegistry()
//	stats := metrics.NewStats(prometheus.NewServerMetrics(), prometheus.NewPoolMetrics(), prometheus.NewRepositoryMetrics())
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
