package pool

import (
	"database/sql"
	"sync"
	"sync/atomic"
)

// Connection is one slot of the pool. It keeps its slot for the pool's whole
// life; Refresh swaps the native session underneath without changing it.
type Connection struct {
	pool  *Pool
	index int

	available  atomic.Bool
	reconnects atomic.Int64

	mu     sync.Mutex
	conn   *sql.Conn
	binder QueryBinder
}

// Index is the slot number of the connection.
func (c *Connection) Index() int {
	return c.index
}

// Conn returns the native session. Only the current holder may use it.
func (c *Connection) Conn() *sql.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Binder returns the connection's argument binder, rewound.
func (c *Connection) Binder() *QueryBinder {
	c.binder.Reset()
	return &c.binder
}

// Reconnects counts how many times the native session was replaced.
func (c *Connection) Reconnects() int64 {
	return c.reconnects.Load()
}

// Release returns the connection to its pool.
func (c *Connection) Release() {
	c.pool.Release(c)
}

func (c *Connection) swap(conn *sql.Conn) *sql.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.conn
	c.conn = conn
	return old
}
