package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_EmptyLogOutput(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Outputs = []string{""}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for empty log output")
	}
}

func TestValidate_StructTags(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative queue size", func(c *Config) { c.Logging.QueueSize = -1 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"negative port", func(c *Config) { c.Server.Port = -1 }},
		{"negative max connections", func(c *Config) { c.Server.MaxConnectionsPerAddress = -1 }},
		{"zero body timeout", func(c *Config) { c.Server.BodyTimeout = 0 }},
		{"negative idle timeout", func(c *Config) { c.Server.IdleTimeout = -time.Second }},
		{"zero frame size", func(c *Config) { c.Server.MaxFrameSize = 0 }},
		{"unknown deserializer", func(c *Config) { c.Server.Deserializer = "json" }},
		{"zero shutdown timeout", func(c *Config) { c.Tasks.ShutdownTimeout = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"zero pool size", func(c *Config) { c.Database.PoolSize = 0 }},
		{"unknown session store", func(c *Config) { c.Session.Store = "redis" }},
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }},
		{"zero sweep interval", func(c *Config) { c.Session.SweepInterval = 0 }},
		{"zero metrics interval", func(c *Config) { c.Metrics.LogInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			if err := Validate(cfg); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestValidate_DatabaseEnabledWithoutDSN(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Database.Enabled = true
	cfg.Database.Driver = "mysql"
	cfg.Database.DSN = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing dsn")
	}
	if !strings.Contains(err.Error(), "dsn") {
		t.Errorf("Expected error to mention dsn, got: %v", err)
	}
}

func TestValidate_SQLSessionsNeedDatabase(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Session.Store = "sql"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for sql store without database")
	}

	cfg.Database.Enabled = true
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected sql store with database to be valid, got: %v", err)
	}
}

func TestValidate_MetricsPortClash(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.Port

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for shared port")
	}
}

func TestValidate_BurstWithoutRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.RequestBurst = 10

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for burst without rate")
	}

	cfg.Server.RequestsPerSecond = 5
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected burst with rate to be valid, got: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	levels := []string{"debug", "INFO", "Warn", "error"}

	for _, level := range levels {
		cfg := &Config{Logging: LoggingConfig{Level: level}}
		ApplyDefaults(cfg)

		if err := Validate(cfg); err != nil {
			t.Errorf("Expected level %q to be valid after normalization, got: %v", level, err)
		}
		if cfg.Logging.Level != strings.ToUpper(level) {
			t.Errorf("Expected level normalized to %q, got %q", strings.ToUpper(level), cfg.Logging.Level)
		}
	}
}
