// Package network serves the wire protocol over TCP.
//
// Three kinds of task cooperate per server:
//
//   - ServerTask accepts sockets and applies admission control.
//   - TransferTask owns one socket. It reads a frame length, hands the frame
//     to a RequestTask and waits for that task to release the stream before
//     reading the next length.
//   - RequestTask decodes one frame, calls the servlet and writes the
//     response under the connection's output lock.
//
// With a non-reactive deserializer the stream is released as soon as the
// body has been decoded, so requests of one connection may be served
// concurrently and answered out of order. A reactive deserializer keeps the
// stream until the servlet has answered.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/internal/task"
)

// ServerTask is the singleton accept loop.
type ServerTask struct {
	*task.Continuous

	app       *Application
	config    Config
	manager   *task.Manager
	admission *admission

	// base is the parent context of every connection.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener *net.TCPListener
	closed   bool
}

// NewServerTask creates the accept loop. It panics on an invalid config.
func NewServerTask(manager *task.Manager, app *Application, cfg Config) *ServerTask {
	if app == nil {
		panic("network: application cannot be nil")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("network: %v", err))
	}

	base, cancel := context.WithCancel(context.Background())
	s := &ServerTask{
		app:       app,
		config:    cfg,
		manager:   manager,
		admission: newAdmission(cfg.MaxConnectionsPerAddress),
		base:      base,
		cancel:    cancel,
	}
	s.Continuous = task.NewContinuous(task.KindServer, "server", s, manager)
	return s
}

// Listen binds the listening socket. Calling it before spawning the task
// surfaces bind errors to the caller; otherwise Initialize calls it.
func (s *ServerTask) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	addr := net.JoinHostPort(s.config.BindAddress, fmt.Sprintf("%d", s.config.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = l.(*net.TCPListener)

	logger.Info("Server listening on %s", s.listener.Addr())
	logger.Debug("Server config: accept_timeout=%v idle_timeout=%v body_timeout=%v write_timeout=%v max_frame=%d max_per_address=%d rps=%d",
		s.config.AcceptTimeout, s.config.IdleTimeout, s.config.BodyTimeout, s.config.WriteTimeout,
		s.config.MaxFrameSize, s.config.MaxConnectionsPerAddress, s.config.RequestsPerSecond)
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *ServerTask) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port is the bound port, or 0 before Listen.
func (s *ServerTask) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *ServerTask) Initialize() error {
	return s.Listen()
}

// Work accepts at most one connection. The accept deadline makes it return
// regularly so the stop flag is observed.
func (s *ServerTask) Work() error {
	if err := s.listener.SetDeadline(time.Now().Add(s.config.AcceptTimeout)); err != nil {
		return fmt.Errorf("set accept deadline: %w", err)
	}

	conn, err := s.listener.Accept()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) || s.StopRequested() {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}

	host := hostOf(conn.RemoteAddr())
	if !s.admission.admit(host) {
		s.app.metrics.RecordConnectionRefused()
		logger.Warn("Refusing connection from %s: %d connections already open", conn.RemoteAddr(), s.config.MaxConnectionsPerAddress)
		_ = conn.Close()
		return nil
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	transfer := newTransferTask(s, conn, host)
	s.app.metrics.RecordConnectionAccepted()
	logger.Debug("Connection accepted from %s (id %s)", conn.RemoteAddr(), transfer.ID())

	s.manager.Spawn(transfer)
	return nil
}

// Interrupt wakes a blocked Accept.
func (s *ServerTask) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.SetDeadline(time.Now())
	}
}

// Terminate closes the listener. It may also be called on a server that was
// never spawned; later calls do nothing.
func (s *ServerTask) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil || s.closed {
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	logger.Info("Server stopped listening on %s", s.listener.Addr())
	return err
}

// Cancel cancels the context of every connection. Servlets blocked on it,
// such as repository calls waiting for a pooled connection, return early.
func (s *ServerTask) Cancel() {
	s.cancel()
}
