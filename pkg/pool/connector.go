package pool

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Connector opens the native database sessions the pool wraps. The pool
// keeps the connector for its whole life and uses it again to replace
// sessions that fail validation.
type Connector interface {
	// Connect opens one dedicated session.
	Connect(ctx context.Context) (*sql.Conn, error)

	// Driver names the database driver, for logs and error classification.
	Driver() string

	// Close releases whatever the connector holds. Called by Pool.Close.
	Close() error
}

// DBConnector hands out dedicated sessions from a *sql.DB.
type DBConnector struct {
	db     *sql.DB
	driver string
}

// NewDBConnector wraps an already opened handle. The pool owns every session
// it takes, so the handle's own idle pool is disabled.
func NewDBConnector(db *sql.DB, driver string) *DBConnector {
	db.SetMaxIdleConns(0)
	return &DBConnector{db: db, driver: driver}
}

func (c *DBConnector) Connect(ctx context.Context) (*sql.Conn, error) {
	return c.db.Conn(ctx)
}

func (c *DBConnector) Driver() string {
	return c.driver
}

func (c *DBConnector) Close() error {
	return c.db.Close()
}

// DB exposes the underlying handle.
func (c *DBConnector) DB() *sql.DB {
	return c.db
}

// NewMySQLConnector opens a MySQL handle from a parsed driver configuration.
func NewMySQLConnector(cfg *mysql.Config) (*DBConnector, error) {
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	return NewDBConnector(sql.OpenDB(connector), "mysql"), nil
}

// SQLiteOptions are the connection parameters appended to a SQLite DSN.
type SQLiteOptions struct {
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
	ForeignKeys   bool   `mapstructure:"foreign_keys"`
	JournalMode   string `mapstructure:"journal_mode"`
}

// NewSQLiteConnector opens an embedded SQLite database at path, creating the
// parent directory when needed.
func NewSQLiteConnector(path string, opts SQLiteOptions) (*DBConnector, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite3: database path is required")
	}

	file := strings.TrimPrefix(path, "file:")
	base, query, _ := strings.Cut(file, "?")
	switch {
	case base == ":memory:":
		path = sharedMemoryPath(query)
	case !strings.HasPrefix(base, ":"):
		if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	return NewDBConnector(db, "sqlite3"), nil
}

// sharedMemoryPath names a shared-cache in-memory database unique to one
// connector. A plain ":memory:" gives every pooled session its own empty
// database.
func sharedMemoryPath(query string) string {
	params, _ := url.ParseQuery(query)
	params.Set("mode", "memory")
	params.Set("cache", "shared")
	return "file:blackhole-" + uuid.NewString() + "?" + params.Encode()
}

func sqliteDSN(path string, opts SQLiteOptions) string {
	params := url.Values{}
	if opts.BusyTimeoutMS > 0 {
		params.Set("_busy_timeout", fmt.Sprint(opts.BusyTimeoutMS))
	}
	if opts.ForeignKeys {
		params.Set("_foreign_keys", "on")
	}
	if opts.JournalMode != "" {
		params.Set("_journal_mode", opts.JournalMode)
	}
	if len(params) == 0 {
		return path
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}
