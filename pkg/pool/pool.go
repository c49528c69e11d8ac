// Package pool implements a fixed-size pool of dedicated database sessions.
//
// Acquisition scans the slot array from a starting index derived from the
// caller's affinity key and claims the first free slot with a compare and
// swap, so a caller that keeps the same key tends to get the same physical
// session back. When every slot is taken the caller parks in a FIFO queue
// until a release wakes it. New arrivals may still win the scan race against
// a woken waiter; fairness is best effort.
package pool

import (
	"container/list"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/pkg/metrics"
)

const (
	DefaultSize              = 8
	DefaultValidationTimeout = 2 * time.Second
)

var ErrPoolClosed = errors.New("connection pool closed")

// Config sizes the pool.
type Config struct {
	// Size is the number of sessions opened at construction.
	Size int

	// ValidationTimeout bounds the ping issued by Refresh.
	ValidationTimeout time.Duration

	// AcquireTimeout bounds Acquire when the caller's context has no
	// deadline. Zero waits until the context is cancelled.
	AcquireTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.ValidationTimeout <= 0 {
		c.ValidationTimeout = DefaultValidationTimeout
	}
}

type affinityKey struct{}

// WithAffinity attaches a key that selects the slot Acquire starts scanning
// from. Callers that want session locality pass a stable key, such as a hash
// of their client connection id.
func WithAffinity(ctx context.Context, key uint64) context.Context {
	return context.WithValue(ctx, affinityKey{}, key)
}

type waiter struct {
	ch     chan struct{}
	elem   *list.Element
	queued bool
}

// Pool is a fixed set of Connections.
type Pool struct {
	connector Connector
	config    Config
	metrics   metrics.PoolMetrics

	slots []*Connection
	next  atomic.Uint64

	mu      sync.Mutex
	waiters list.List
	closed  atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// New opens cfg.Size sessions through connector. If any of them fails the
// ones already open are closed and the error is returned.
func New(ctx context.Context, connector Connector, cfg Config, m metrics.PoolMetrics) (*Pool, error) {
	if connector == nil {
		panic("pool: connector cannot be nil")
	}
	cfg.applyDefaults()
	if m == nil {
		m = metrics.NewNoopPoolMetrics()
	}

	p := &Pool{
		connector: connector,
		config:    cfg,
		metrics:   m,
		slots:     make([]*Connection, cfg.Size),
	}

	for i := range p.slots {
		conn, err := connector.Connect(ctx)
		if err != nil {
			for _, c := range p.slots[:i] {
				_ = c.conn.Close()
			}
			return nil, fmt.Errorf("open pooled connection %d/%d: %w", i+1, cfg.Size, err)
		}

		c := &Connection{pool: p, index: i, conn: conn}
		c.available.Store(true)
		p.slots[i] = c
	}

	m.SetPoolSize(cfg.Size)
	logger.Info("Connection pool ready: %d %s connections", cfg.Size, connector.Driver())
	return p, nil
}

// Size is the fixed number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Driver names the database driver behind the pool.
func (p *Pool) Driver() string {
	return p.connector.Driver()
}

// InUse counts slots currently checked out.
func (p *Pool) InUse() int {
	n := 0
	for _, c := range p.slots {
		if !c.available.Load() {
			n++
		}
	}
	return n
}

// Acquire claims a free connection, parking until one is released when all
// are taken. The caller must Release it.
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if _, ok := ctx.Deadline(); !ok && p.config.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AcquireTimeout)
		defer cancel()
	}

	start := time.Now()
	if c := p.scan(p.startIndex(ctx)); c != nil {
		return p.claimed(c, start, false)
	}

	for {
		w := &waiter{ch: make(chan struct{}, 1)}

		p.mu.Lock()
		if p.closed.Load() {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		w.elem = p.waiters.PushBack(w)
		w.queued = true
		p.mu.Unlock()

		// A release may have happened between the first scan and enqueueing.
		if c := p.scan(p.startIndex(ctx)); c != nil {
			p.cancelWait(w)
			return p.claimed(c, start, true)
		}

		select {
		case <-w.ch:
			if p.closed.Load() {
				return nil, ErrPoolClosed
			}
			if c := p.scan(p.startIndex(ctx)); c != nil {
				return p.claimed(c, start, true)
			}
			// Lost the race to a new arrival; queue again.
		case <-ctx.Done():
			p.cancelWait(w)
			return nil, fmt.Errorf("acquire pooled connection: %w", ctx.Err())
		}
	}
}

func (p *Pool) claimed(c *Connection, start time.Time, parked bool) (*Connection, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	p.metrics.RecordAcquire(time.Since(start), parked)
	return c, nil
}

func (p *Pool) startIndex(ctx context.Context) int {
	n := uint64(len(p.slots))
	if key, ok := ctx.Value(affinityKey{}).(uint64); ok {
		return int(key % n)
	}
	return int(p.next.Add(1) % n)
}

func (p *Pool) scan(start int) *Connection {
	n := len(p.slots)
	for i := 0; i < n; i++ {
		c := p.slots[(start+i)%n]
		if c.available.CompareAndSwap(true, false) {
			return c
		}
	}
	return nil
}

// cancelWait dequeues w. If a release already picked w, the wakeup is handed
// to the next waiter so it is not lost.
func (p *Pool) cancelWait(w *waiter) {
	p.mu.Lock()
	if w.queued {
		p.waiters.Remove(w.elem)
		w.queued = false
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	select {
	case <-w.ch:
		p.wakeOne()
	default:
	}
}

func (p *Pool) wakeOne() {
	p.mu.Lock()
	defer p.mu.Unlock()

	front := p.waiters.Front()
	if front == nil {
		return
	}
	w := p.waiters.Remove(front).(*waiter)
	w.queued = false
	w.ch <- struct{}{}
}

// Release makes c available again and wakes one parked caller.
func (p *Pool) Release(c *Connection) {
	if c == nil || c.pool != p {
		panic("pool: releasing a connection that does not belong to this pool")
	}
	if p.closed.Load() {
		return
	}
	if c.available.Swap(true) {
		logger.Warn("Pooled connection %d released twice", c.index)
		return
	}

	p.metrics.RecordRelease()
	p.wakeOne()
}

// Refresh validates the session of c, which the caller must hold, with a
// bounded ping. A session that fails validation is closed and replaced
// through the connector; c keeps its slot.
func (p *Pool) Refresh(ctx context.Context, c *Connection) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	if conn := c.Conn(); conn != nil {
		pingCtx, cancel := context.WithTimeout(ctx, p.config.ValidationTimeout)
		err := conn.PingContext(pingCtx)
		cancel()

		if err == nil {
			p.metrics.RecordRefresh(false, nil)
			return nil
		}
		logger.Warn("Pooled connection %d failed validation, reconnecting: %v", c.index, err)
	}

	if old := c.swap(nil); old != nil {
		_ = old.Close()
	}

	conn, err := p.connector.Connect(ctx)
	if err != nil {
		p.metrics.RecordRefresh(true, err)
		return fmt.Errorf("reconnect pooled connection %d: %w", c.index, err)
	}

	c.swap(conn)
	c.binder.Reset()
	c.reconnects.Add(1)
	p.metrics.RecordRefresh(true, nil)
	logger.Info("Pooled connection %d reconnected", c.index)
	return nil
}

// Close marks every slot unavailable, wakes parked callers with
// ErrPoolClosed and closes every session. Only the process owner calls it;
// later calls return the first result.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed.Store(true)
		for e := p.waiters.Front(); e != nil; e = p.waiters.Front() {
			w := p.waiters.Remove(e).(*waiter)
			w.queued = false
			w.ch <- struct{}{}
		}
		p.mu.Unlock()

		var errs []error
		for _, c := range p.slots {
			c.available.Store(false)
			if conn := c.swap(nil); conn != nil {
				if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
					errs = append(errs, err)
				}
			}
		}
		if err := p.connector.Close(); err != nil {
			errs = append(errs, err)
		}

		p.closeErr = errors.Join(errs...)
		logger.Info("Connection pool closed")
	})
	return p.closeErr
}
