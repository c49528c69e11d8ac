package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mitchellh/mapstructure"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/internal/network"
	"github.com/clamentos/blackhole/internal/protocol"
	"github.com/clamentos/blackhole/pkg/metrics"
	"github.com/clamentos/blackhole/pkg/pool"
	"github.com/clamentos/blackhole/pkg/repository"
	"github.com/clamentos/blackhole/pkg/session"
)

// decodeOptions decodes a driver or store specific option map into out.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// LoggerConfig converts the logging section into the logger's configuration.
func LoggerConfig(cfg *LoggingConfig) logger.Config {
	return logger.Config{
		Level:     cfg.Level,
		Format:    cfg.Format,
		Outputs:   cfg.Outputs,
		QueueSize: cfg.QueueSize,
		Rotation: logger.RotationConfig{
			Enabled:    cfg.Rotation.Enabled,
			MaxSizeMB:  cfg.Rotation.MaxSizeMB,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAgeDays: cfg.Rotation.MaxAgeDays,
			Compress:   cfg.Rotation.Compress,
		},
	}
}

// NetworkConfig converts the server section into the TCP server's configuration.
func NetworkConfig(cfg *ServerConfig) network.Config {
	return network.Config{
		BindAddress:              cfg.BindAddress,
		Port:                     cfg.Port,
		AcceptTimeout:            cfg.AcceptTimeout,
		MaxConnectionsPerAddress: cfg.MaxConnectionsPerAddress,
		IdleTimeout:              cfg.IdleTimeout,
		BodyTimeout:              cfg.BodyTimeout,
		WriteTimeout:             cfg.WriteTimeout,
		MaxFrameSize:             cfg.MaxFrameSize,
		RequestsPerSecond:        cfg.RequestsPerSecond,
		RequestBurst:             cfg.RequestBurst,
	}
}

// CreateDeserializer returns the request body deserializer named by the
// server section.
func CreateDeserializer(cfg *ServerConfig) (protocol.Deserializer, error) {
	d, ok := protocol.NewDeserializer(cfg.Deserializer)
	if !ok {
		return nil, fmt.Errorf("unknown deserializer: %q", cfg.Deserializer)
	}
	return d, nil
}

// MySQLOptions are the database.options understood by the mysql driver.
type MySQLOptions struct {
	Timeout      time.Duration     `mapstructure:"timeout"`
	ReadTimeout  time.Duration     `mapstructure:"read_timeout"`
	WriteTimeout time.Duration     `mapstructure:"write_timeout"`
	Params       map[string]string `mapstructure:"params"`
}

// CreateConnector creates the connector for the configured driver.
//
// Supported drivers:
//   - "mysql": dsn is parsed with mysql.ParseDSN, options override timeouts
//   - "sqlite3": dsn is the database path, options set pragmas
func CreateConnector(cfg *DatabaseConfig) (*pool.DBConnector, error) {
	switch cfg.Driver {
	case "mysql":
		return createMySQLConnector(cfg.DSN, cfg.Options)
	case "sqlite3":
		return createSQLiteConnector(cfg.DSN, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown database driver: %q", cfg.Driver)
	}
}

func createMySQLConnector(dsn string, options map[string]any) (*pool.DBConnector, error) {
	mysqlCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}

	var opts MySQLOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode mysql options: %w", err)
	}

	if opts.Timeout > 0 {
		mysqlCfg.Timeout = opts.Timeout
	}
	if opts.ReadTimeout > 0 {
		mysqlCfg.ReadTimeout = opts.ReadTimeout
	}
	if opts.WriteTimeout > 0 {
		mysqlCfg.WriteTimeout = opts.WriteTimeout
	}
	if len(opts.Params) > 0 {
		if mysqlCfg.Params == nil {
			mysqlCfg.Params = make(map[string]string, len(opts.Params))
		}
		for k, v := range opts.Params {
			mysqlCfg.Params[k] = v
		}
	}

	return pool.NewMySQLConnector(mysqlCfg)
}

func createSQLiteConnector(path string, options map[string]any) (*pool.DBConnector, error) {
	var opts pool.SQLiteOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode sqlite3 options: %w", err)
	}
	return pool.NewSQLiteConnector(path, opts)
}

// CreatePool opens the connection pool. It returns nil when the database is
// disabled.
func CreatePool(ctx context.Context, cfg *DatabaseConfig, m metrics.PoolMetrics) (*pool.Pool, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	connector, err := CreateConnector(cfg)
	if err != nil {
		return nil, err
	}

	p, err := pool.New(ctx, connector, pool.Config{
		Size:              cfg.PoolSize,
		ValidationTimeout: cfg.ValidationTimeout,
		AcquireTimeout:    cfg.AcquireTimeout,
	}, m)
	if err != nil {
		_ = connector.Close()
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return p, nil
}

// CreateSessionStore creates the session store selected by cfg.
//
// Supported stores:
//   - "memory": sessions live in the process
//   - "badger": sessions persist in BadgerDB with native expiry
//   - "sql": sessions are rows in the pooled database (repo required)
func CreateSessionStore(ctx context.Context, cfg *SessionConfig, repo *repository.Repository) (session.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Store {
	case "memory":
		return session.NewMemoryStore(cfg.TTL), nil
	case "badger":
		return createBadgerSessionStore(cfg)
	case "sql":
		return createSQLSessionStore(ctx, cfg, repo)
	default:
		return nil, fmt.Errorf("unknown session store: %q", cfg.Store)
	}
}

func createBadgerSessionStore(cfg *SessionConfig) (session.Store, error) {
	var opts session.BadgerConfig
	if err := decodeOptions(cfg.Badger, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger session store options: %w", err)
	}
	if opts.TTL == 0 {
		opts.TTL = cfg.TTL
	}

	store, err := session.NewBadgerStore(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger session store: %w", err)
	}
	return store, nil
}

func createSQLSessionStore(ctx context.Context, cfg *SessionConfig, repo *repository.Repository) (session.Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("sql session store: database is not enabled")
	}

	var opts session.SQLConfig
	if err := decodeOptions(cfg.SQL, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode sql session store options: %w", err)
	}
	if opts.TTL == 0 {
		opts.TTL = cfg.TTL
	}

	store, err := session.NewSQLStore(ctx, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create sql session store: %w", err)
	}
	return store, nil
}
