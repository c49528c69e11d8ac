// Package pooltest provides a scripted database/sql driver for tests of the
// pool, the repository and anything built on them.
//
// Every Script is reachable through its own DSN of the shared "pooltest"
// driver. Statements are answered by the OnExec and OnQuery hooks. A hook
// returning a *net.OpError breaks the connection it ran on: from then on Ping
// fails with driver.ErrBadConn, as a real driver would after losing its
// socket.
package pooltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// DriverName is the name the scripted driver is registered under.
const DriverName = "pooltest"

var (
	registerOnce sync.Once
	scripts      sync.Map // dsn -> *Script
	nextID       atomic.Int64
)

type fakeDriver struct{}

func (fakeDriver) Open(dsn string) (driver.Conn, error) {
	v, ok := scripts.Load(dsn)
	if !ok {
		return nil, fmt.Errorf("pooltest: unknown dsn %q", dsn)
	}
	return v.(*Script).open()
}

// ExecFunc answers a statement run through Exec.
type ExecFunc func(query string, args []driver.Value) (driver.Result, error)

// QueryFunc answers a statement run through Query.
type QueryFunc func(query string, args []driver.Value) (driver.Rows, error)

// Script is the behaviour of one fake database.
type Script struct {
	dsn string

	mu      sync.Mutex
	onExec  ExecFunc
	onQuery QueryFunc
	openErr error
	log     []string

	opens     atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	pings     atomic.Int64
}

// New registers a fresh script.
func New() *Script {
	registerOnce.Do(func() {
		sql.Register(DriverName, fakeDriver{})
	})

	s := &Script{dsn: fmt.Sprintf("script-%d", nextID.Add(1))}
	scripts.Store(s.dsn, s)
	return s
}

// DSN is the data source name that opens this script.
func (s *Script) DSN() string {
	return s.dsn
}

// Open returns a *sql.DB bound to this script.
func (s *Script) Open() *sql.DB {
	db, err := sql.Open(DriverName, s.dsn)
	if err != nil {
		panic(err)
	}
	return db
}

// OnExec installs the Exec hook.
func (s *Script) OnExec(fn ExecFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExec = fn
}

// OnQuery installs the Query hook.
func (s *Script) OnQuery(fn QueryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQuery = fn
}

// FailOpen makes every new connection attempt fail with err, or succeed
// again when err is nil.
func (s *Script) FailOpen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

// Opens counts physical connections opened.
func (s *Script) Opens() int64 { return s.opens.Load() }

// Commits counts committed transactions.
func (s *Script) Commits() int64 { return s.commits.Load() }

// Rollbacks counts rolled back transactions.
func (s *Script) Rollbacks() int64 { return s.rollbacks.Load() }

// Pings counts validation pings.
func (s *Script) Pings() int64 { return s.pings.Load() }

// Statements returns every statement text executed or queried, in order.
func (s *Script) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *Script) open() (driver.Conn, error) {
	s.mu.Lock()
	err := s.openErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.opens.Add(1)
	return &conn{script: s}, nil
}

func (s *Script) exec(c *conn, query string, args []driver.Value) (driver.Result, error) {
	s.mu.Lock()
	s.log = append(s.log, query)
	fn := s.onExec
	s.mu.Unlock()

	if fn == nil {
		return Result{Affected: 1}, nil
	}
	res, err := fn(query, args)
	c.observe(err)
	return res, err
}

func (s *Script) query(c *conn, query string, args []driver.Value) (driver.Rows, error) {
	s.mu.Lock()
	s.log = append(s.log, query)
	fn := s.onQuery
	s.mu.Unlock()

	if fn == nil {
		return NewRows(nil), nil
	}
	rows, err := fn(query, args)
	c.observe(err)
	return rows, err
}

// ConnectionError is a connection-class failure: a reset TCP socket.
func ConnectionError() error {
	return &net.OpError{Op: "write", Net: "tcp", Err: syscall.ECONNRESET}
}

// IntegrityError is a data-class failure: a duplicate key.
func IntegrityError() error {
	return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'PRIMARY'"}
}

// SyntaxError is a data-class failure: malformed SQL.
func SyntaxError() error {
	return &mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"}
}

type conn struct {
	script *Script
	broken atomic.Bool
}

func (c *conn) observe(err error) {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		c.broken.Store(true)
	}
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	if c.broken.Load() {
		return nil, driver.ErrBadConn
	}
	return &stmt{conn: c, query: query}, nil
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.broken.Load() {
		return nil, driver.ErrBadConn
	}
	return &tx{script: c.script}, nil
}

func (c *conn) Ping(ctx context.Context) error {
	c.script.pings.Add(1)
	if c.broken.Load() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *conn) IsValid() bool {
	return !c.broken.Load()
}

type tx struct {
	script *Script
}

func (t *tx) Commit() error {
	t.script.commits.Add(1)
	return nil
}

func (t *tx) Rollback() error {
	t.script.rollbacks.Add(1)
	return nil
}

type stmt struct {
	conn  *conn
	query string
}

func (s *stmt) Close() error  { return nil }
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.conn.script.exec(s.conn, s.query, args)
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.conn.script.query(s.conn, s.query, args)
}

// Result is a canned driver.Result.
type Result struct {
	LastID   int64
	Affected int64
}

func (r Result) LastInsertId() (int64, error) { return r.LastID, nil }
func (r Result) RowsAffected() (int64, error) { return r.Affected, nil }

// Rows is a canned result set.
type Rows struct {
	columns []string
	values  [][]driver.Value
	pos     int
}

// NewRows builds a result set; every row must have len(columns) values.
func NewRows(columns []string, values ...[]driver.Value) *Rows {
	return &Rows{columns: columns, values: values}
}

func (r *Rows) Columns() []string { return r.columns }
func (r *Rows) Close() error      { return nil }

func (r *Rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.pos])
	r.pos++
	return nil
}
