package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store and driver option maps only receive the keys a sample file shows
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyTasksDefaults(&cfg.Tasks)
	applyDatabaseDefaults(&cfg.Database)
	applySessionDefaults(&cfg.Session)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []string{"stdout"}
	}
	if cfg.Rotation.MaxSizeMB == 0 {
		cfg.Rotation.MaxSizeMB = 100
	}
	if cfg.Rotation.MaxBackups == 0 {
		cfg.Rotation.MaxBackups = 5
	}
	if cfg.Rotation.MaxAgeDays == 0 {
		cfg.Rotation.MaxAgeDays = 28
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.AcceptTimeout == 0 {
		cfg.AcceptTimeout = 250 * time.Millisecond
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.BodyTimeout == 0 {
		cfg.BodyTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = 16 << 20 // 16MiB
	}
	if cfg.Deserializer == "" {
		cfg.Deserializer = "entries"
	}
}

// applyTasksDefaults sets task manager defaults.
func applyTasksDefaults(cfg *TasksConfig) {
	if cfg.ShutdownPollInterval == 0 {
		cfg.ShutdownPollInterval = 50 * time.Millisecond
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyDatabaseDefaults sets connection pool defaults.
func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite3"
	}
	if cfg.DSN == "" && cfg.Driver == "sqlite3" {
		cfg.DSN = "/tmp/blackhole/blackhole.db"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 8
	}
	if cfg.ValidationTimeout == 0 {
		cfg.ValidationTimeout = 2 * time.Second
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}
	if cfg.Options == nil {
		cfg.Options = make(map[string]any)
	}
}

// applySessionDefaults sets session store defaults.
func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Store == "" {
		cfg.Store = "memory"
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.SQL == nil {
		cfg.SQL = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/tmp/blackhole/sessions"
	}
	if _, ok := cfg.SQL["table"]; !ok {
		cfg.SQL["table"] = "sessions"
	}
	if _, ok := cfg.SQL["create_table"]; !ok {
		cfg.SQL["create_table"] = true
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
}

// zeroMeaningful holds defaults for keys where zero is a valid setting.
// They are registered with viper instead of being applied to zero values.
var zeroMeaningful = map[string]any{
	"logging.queue_size":                 4096,
	"server.max_connections_per_address": 16,
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{QueueSize: zeroMeaningful["logging.queue_size"].(int)},
		Server:  ServerConfig{MaxConnectionsPerAddress: zeroMeaningful["server.max_connections_per_address"].(int)},
	}
	ApplyDefaults(cfg)
	return cfg
}
