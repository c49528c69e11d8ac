package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a commented default configuration to the default
// location and returns its path. An existing file is only replaced when
// force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment on every
// section and setting.
func generateYAMLWithComments(cfg *Config) (string, error) {
	root := mapping(
		section("logging", "Logging: level is DEBUG, INFO, WARN or ERROR; format is text or json.\nqueue_size 0 writes synchronously.", mapping(
			field("level", str(cfg.Logging.Level), ""),
			field("format", str(cfg.Logging.Format), ""),
			field("outputs", strList(cfg.Logging.Outputs), "stdout, stderr or file paths"),
			field("queue_size", num(cfg.Logging.QueueSize), ""),
			field("rotation", mapping(
				field("enabled", boolean(cfg.Logging.Rotation.Enabled), "rotate file outputs by size"),
				field("max_size_mb", num(cfg.Logging.Rotation.MaxSizeMB), ""),
				field("max_backups", num(cfg.Logging.Rotation.MaxBackups), ""),
				field("max_age_days", num(cfg.Logging.Rotation.MaxAgeDays), ""),
				field("compress", boolean(cfg.Logging.Rotation.Compress), ""),
			), ""),
		)),
		section("server", "TCP server", mapping(
			field("bind_address", str(cfg.Server.BindAddress), "empty listens on all interfaces"),
			field("port", num(cfg.Server.Port), ""),
			field("accept_timeout", dur(cfg.Server.AcceptTimeout), ""),
			field("max_connections_per_address", num(cfg.Server.MaxConnectionsPerAddress), "0 = unlimited"),
			field("idle_timeout", dur(cfg.Server.IdleTimeout), "close connections idle for this long"),
			field("body_timeout", dur(cfg.Server.BodyTimeout), "a stalled body is answered with BAD_FORMATTING"),
			field("write_timeout", dur(cfg.Server.WriteTimeout), ""),
			field("max_frame_size", num(cfg.Server.MaxFrameSize), "larger frames get TOO_LARGE"),
			field("requests_per_second", num(cfg.Server.RequestsPerSecond), "per connection, 0 = unlimited"),
			field("request_burst", num(cfg.Server.RequestBurst), "0 = twice the rate"),
			field("deserializer", str(cfg.Server.Deserializer), "entries or reactive"),
		)),
		section("tasks", "Task manager", mapping(
			field("shutdown_poll_interval", dur(cfg.Tasks.ShutdownPollInterval), ""),
			field("shutdown_timeout", dur(cfg.Tasks.ShutdownTimeout), ""),
		)),
		section("database", "Connection pool. driver is mysql or sqlite3; for sqlite3 the dsn is a file path.", mapping(
			field("enabled", boolean(cfg.Database.Enabled), ""),
			field("driver", str(cfg.Database.Driver), ""),
			field("dsn", str(cfg.Database.DSN), "e.g. user:password@tcp(localhost:3306)/blackhole"),
			field("pool_size", num(cfg.Database.PoolSize), ""),
			field("validation_timeout", dur(cfg.Database.ValidationTimeout), ""),
			field("acquire_timeout", dur(cfg.Database.AcquireTimeout), ""),
			field("options", anyMap(cfg.Database.Options), "driver specific"),
		)),
		section("session", "Sessions. store is memory, badger or sql (sql needs the database).", mapping(
			field("store", str(cfg.Session.Store), ""),
			field("required", boolean(cfg.Session.Required), "reject requests without a live session"),
			field("ttl", dur(cfg.Session.TTL), ""),
			field("sweep_interval", dur(cfg.Session.SweepInterval), "purge period for expired sessions"),
			field("badger", anyMap(cfg.Session.Badger), ""),
			field("sql", anyMap(cfg.Session.SQL), ""),
		)),
		section("metrics", "Prometheus endpoint and periodic stats line", mapping(
			field("enabled", boolean(cfg.Metrics.Enabled), ""),
			field("port", num(cfg.Metrics.Port), ""),
			field("log_interval", dur(cfg.Metrics.LogInterval), ""),
		)),
	)

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "Blackhole Configuration File\nGenerated by 'blackhole init'. Environment variables (BLACKHOLE_*) override these values.",
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return buf.String(), nil
}

type pair struct {
	key   *yaml.Node
	value *yaml.Node
}

func mapping(pairs ...pair) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range pairs {
		n.Content = append(n.Content, p.key, p.value)
	}
	return n
}

func field(key string, value *yaml.Node, comment string) pair {
	return pair{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Value: key, LineComment: comment},
		value: value,
	}
}

func section(key, comment string, value *yaml.Node) pair {
	p := field(key, value, "")
	p.key.HeadComment = comment
	return p
}

func str(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func num[T ~int | ~int64 | ~uint](v T) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(v)}
}

func boolean(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
}

func dur(d time.Duration) *yaml.Node {
	return str(d.String())
}

func strList(values []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode}
	for _, v := range values {
		n.Content = append(n.Content, str(v))
	}
	return n
}

// anyMap renders an option map with sorted keys.
func anyMap(m map[string]any) *yaml.Node {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		var v yaml.Node
		if err := v.Encode(m[k]); err != nil {
			v = *str(fmt.Sprint(m[k]))
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &v)
	}
	return n
}
