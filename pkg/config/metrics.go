package config

import (
	"github.com/clamentos/blackhole/pkg/metrics"
	promMetrics "github.com/clamentos/blackhole/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Stats aggregates the counters served by the SYSTEM resource and logged
	// by the metrics task. It forwards every event to the Prometheus
	// recorders, which are no-ops when metrics are disabled.
	Stats *metrics.Stats
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed recorders for the server, the pool and the repository
//
// If metrics are disabled:
//   - Returns nil server
//   - Stats still counts, with no-op recorders behind it
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Server: nil,
			Stats: metrics.NewStats(
				metrics.NewNoopServerMetrics(),
				metrics.NewNoopPoolMetrics(),
				metrics.NewNoopRepositoryMetrics(),
			),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server: server,
		Stats: metrics.NewStats(
			promMetrics.NewServerMetrics(),
			promMetrics.NewPoolMetrics(),
			promMetrics.NewRepositoryMetrics(),
		),
	}
}
