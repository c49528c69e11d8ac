package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete blackhole configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (BLACKHOLE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Sections with driver or store specific settings (database.options,
// session.badger, session.sql) are kept as raw maps and decoded by the
// factory that needs them.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the TCP listener and per-connection limits
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Tasks configures the task manager
	Tasks TasksConfig `mapstructure:"tasks" yaml:"tasks"`

	// Database configures the connection pool
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// Session selects the session store
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Metrics configures the Prometheus endpoint and the periodic stats line
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Outputs lists where logs are written: stdout, stderr or file paths
	Outputs []string `mapstructure:"outputs" yaml:"outputs" validate:"required,min=1,dive,required"`

	// QueueSize bounds the asynchronous log queue drained by the log task.
	// Zero writes synchronously.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=0"`

	// Rotation enables size based rotation of file outputs
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig controls rotation of file log outputs.
type RotationConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig configures the TCP server.
type ServerConfig struct {
	// BindAddress is the interface to listen on (empty = all interfaces)
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`

	// AcceptTimeout bounds each accept call so the server observes stop requests
	AcceptTimeout time.Duration `mapstructure:"accept_timeout" yaml:"accept_timeout" validate:"gt=0"`

	// MaxConnectionsPerAddress limits open connections per client IP (0 = unlimited)
	MaxConnectionsPerAddress int `mapstructure:"max_connections_per_address" yaml:"max_connections_per_address" validate:"gte=0"`

	// IdleTimeout closes connections that send no frame for this long
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`

	// BodyTimeout is the read deadline for each read of a frame body
	BodyTimeout time.Duration `mapstructure:"body_timeout" yaml:"body_timeout" validate:"gt=0"`

	// WriteTimeout is the deadline for writing one response
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`

	// MaxFrameSize rejects larger frames with TOO_LARGE
	MaxFrameSize int64 `mapstructure:"max_frame_size" yaml:"max_frame_size" validate:"gt=0"`

	// RequestsPerSecond throttles each connection (0 = unlimited)
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`

	// RequestBurst is the token bucket size (0 = twice the rate)
	RequestBurst uint `mapstructure:"request_burst" yaml:"request_burst"`

	// Deserializer selects how request bodies are read
	// Valid values: entries, reactive
	Deserializer string `mapstructure:"deserializer" yaml:"deserializer" validate:"required,oneof=entries reactive"`
}

// TasksConfig configures the task manager.
type TasksConfig struct {
	// ShutdownPollInterval is how often shutdown checks whether tasks stopped
	ShutdownPollInterval time.Duration `mapstructure:"shutdown_poll_interval" yaml:"shutdown_poll_interval" validate:"gt=0"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig configures the connection pool and its driver.
type DatabaseConfig struct {
	// Enabled opens the pool at startup
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Driver selects the database/sql driver
	// Valid values: mysql, sqlite3
	Driver string `mapstructure:"driver" yaml:"driver" validate:"required,oneof=mysql sqlite3"`

	// DSN is the MySQL data source name or the SQLite database path
	DSN string `mapstructure:"dsn" yaml:"dsn"`

	// PoolSize is the number of sessions opened eagerly
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size" validate:"gt=0"`

	// ValidationTimeout bounds the ping issued when a session is refreshed
	ValidationTimeout time.Duration `mapstructure:"validation_timeout" yaml:"validation_timeout" validate:"gt=0"`

	// AcquireTimeout bounds how long a caller waits for a free session
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout" validate:"gte=0"`

	// Options contains driver specific settings
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// SessionConfig selects and configures the session store.
type SessionConfig struct {
	// Store specifies which session store implementation to use
	// Valid values: memory, badger, sql
	Store string `mapstructure:"store" yaml:"store" validate:"required,oneof=memory badger sql"`

	// Required rejects requests without a live session with UNAUTHORIZED
	Required bool `mapstructure:"required" yaml:"required"`

	// TTL is the lifetime of a session
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gt=0"`

	// SweepInterval is how often expired sessions are purged from the
	// memory and sql stores. Badger expires them itself.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gt=0"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Store = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// SQL contains SQL store configuration
	// Only used when Store = "sql"
	SQL map[string]any `mapstructure:"sql" yaml:"sql"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled registers Prometheus collectors and serves /metrics
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port for the metrics HTTP endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`

	// LogInterval is how often the stats summary is logged
	LogInterval time.Duration `mapstructure:"log_interval" yaml:"log_interval" validate:"gt=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: BLACKHOLE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("BLACKHOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	for key, value := range zeroMeaningful {
		v.SetDefault(key, value)
	}

	// Known keys are bound so environment overrides work without a file.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

// envKeys are the scalar keys that may be set from the environment alone.
var envKeys = []string{
	"logging.level", "logging.format",
	"server.bind_address", "server.port",
	"server.idle_timeout", "server.body_timeout", "server.write_timeout",
	"server.max_frame_size", "server.requests_per_second", "server.request_burst",
	"server.deserializer",
	"tasks.shutdown_timeout",
	"database.enabled", "database.driver", "database.dsn", "database.pool_size",
	"session.store", "session.required", "session.ttl", "session.sweep_interval",
	"metrics.enabled", "metrics.port", "metrics.log_interval",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "blackhole")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "blackhole")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
