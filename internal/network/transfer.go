package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/internal/protocol"
	"github.com/clamentos/blackhole/internal/ratelimiter"
	"github.com/clamentos/blackhole/internal/task"
)

// TransferContext is the state a connection shares with its requests.
type TransferContext struct {
	id     uuid.UUID
	conn   net.Conn
	remote net.Addr

	ctx    context.Context
	cancel context.CancelFunc

	writeTimeout time.Duration
	outMu        sync.Mutex

	active   atomic.Int64
	requests sync.WaitGroup

	abortOnce sync.Once
	aborted   chan struct{}
}

func newTransferContext(parent context.Context, conn net.Conn, writeTimeout time.Duration) *TransferContext {
	ctx, cancel := context.WithCancel(parent)
	return &TransferContext{
		id:           uuid.New(),
		conn:         conn,
		remote:       conn.RemoteAddr(),
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		aborted:      make(chan struct{}),
	}
}

func (t *TransferContext) ID() uuid.UUID { return t.id }

// Affinity is a stable key derived from the connection id.
func (t *TransferContext) Affinity() uint64 {
	return binary.BigEndian.Uint64(t.id[:8])
}

// Context is cancelled when the connection is aborted or the server stops.
func (t *TransferContext) Context() context.Context {
	return t.ctx
}

// Active is the number of requests of this connection being served.
func (t *TransferContext) Active() int64 {
	return t.active.Load()
}

// Write sends one encoded response. Writes of concurrent requests never
// interleave.
func (t *TransferContext) Write(b []byte) error {
	t.outMu.Lock()
	defer t.outMu.Unlock()

	if t.Aborted() {
		return net.ErrClosed
	}
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := t.conn.Write(b)
	return err
}

// Abort closes the socket. Every blocked read or write of the connection
// fails and the transfer task ends.
func (t *TransferContext) Abort(reason error) {
	t.abortOnce.Do(func() {
		logger.Debug("Aborting connection %s from %s: %v", t.id, t.remote, reason)
		close(t.aborted)
		t.cancel()
		_ = t.conn.Close()
	})
}

func (t *TransferContext) Aborted() bool {
	select {
	case <-t.aborted:
		return true
	default:
		return false
	}
}

func (t *TransferContext) begin() {
	t.requests.Add(1)
	t.active.Add(1)
}

func (t *TransferContext) end() {
	t.active.Add(-1)
	t.requests.Done()
}

// TransferTask owns one client connection and reads its frames one at a
// time.
type TransferTask struct {
	*task.Continuous

	server  *ServerTask
	tctx    *TransferContext
	host    string
	limiter *ratelimiter.RateLimiter

	// readMu guards reading. Interrupt may only poke the read deadline while
	// the stream belongs to the frame length read.
	readMu  sync.Mutex
	reading bool
}

func newTransferTask(server *ServerTask, conn net.Conn, host string) *TransferTask {
	t := &TransferTask{
		server:  server,
		tctx:    newTransferContext(server.base, conn, server.config.WriteTimeout),
		host:    host,
		limiter: ratelimiter.New(server.config.RequestsPerSecond, server.config.RequestBurst),
	}
	t.Continuous = task.NewContinuous(task.KindTransfer, fmt.Sprintf("transfer-%s", conn.RemoteAddr()), t, server.manager)
	return t
}

func (t *TransferTask) Initialize() error {
	return nil
}

// Work reads one frame length and hands the frame to a request task.
func (t *TransferTask) Work() error {
	conn := t.tctx.conn
	if err := conn.SetReadDeadline(time.Now().Add(t.server.config.IdleTimeout)); err != nil {
		t.closeConnection("set idle deadline", err)
		return nil
	}
	t.setReading(true)
	// A stop that landed before the deadline reset must not wait for idle.
	if t.StopRequested() {
		t.setReading(false)
		return nil
	}

	length, err := protocol.ReadFrameLength(conn)
	t.setReading(false)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded) && t.StopRequested():
			logger.Debug("Connection %s interrupted for shutdown", t.tctx.id)
		case errors.Is(err, os.ErrDeadlineExceeded):
			t.closeConnection("idle timeout", err)
		case errors.Is(err, io.EOF):
			t.closeConnection("closed by client", nil)
		case t.tctx.Aborted():
		default:
			t.closeConnection("read error", err)
		}
		return nil
	}

	if length < 0 {
		t.closeConnection("close requested by client", nil)
		return nil
	}

	if delay := t.limiter.Reserve(); delay > 0 {
		logger.Debug("Connection %s rate limited for %v", t.tctx.id, delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-t.tctx.aborted:
		case <-t.Done():
		}
		timer.Stop()

		// The frame is dropped unread; the connection closes on termination.
		if t.StopRequested() || t.tctx.Aborted() {
			return nil
		}
	}

	latch := make(chan struct{})
	t.tctx.begin()
	req := newRequestTask(t, length, latch)
	t.server.manager.Spawn(req)

	select {
	case <-latch:
	case <-t.tctx.aborted:
	}
	if t.tctx.Aborted() {
		t.Stop()
	}
	return nil
}

func (t *TransferTask) closeConnection(reason string, err error) {
	if err != nil {
		logger.Debug("Closing connection %s from %s: %s: %v", t.tctx.id, t.tctx.remote, reason, err)
	} else {
		logger.Debug("Closing connection %s from %s: %s", t.tctx.id, t.tctx.remote, reason)
	}
	t.Stop()
}

func (t *TransferTask) setReading(v bool) {
	t.readMu.Lock()
	t.reading = v
	t.readMu.Unlock()
}

// Interrupt makes a blocked frame read return at once. A request task
// reading its body is left alone: requests run to completion.
func (t *TransferTask) Interrupt() {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if t.reading {
		_ = t.tctx.conn.SetReadDeadline(time.Now())
	}
}

// Terminate waits for the connection's requests to finish, then closes it.
func (t *TransferTask) Terminate() error {
	t.tctx.requests.Wait()
	t.tctx.Abort(errors.New("connection closed"))

	t.server.admission.release(t.host)
	t.server.app.metrics.RecordConnectionClosed()
	return nil
}
