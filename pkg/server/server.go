// Package server assembles a blackhole process from its configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/internal/network"
	"github.com/clamentos/blackhole/internal/protocol"
	"github.com/clamentos/blackhole/internal/task"
	"github.com/clamentos/blackhole/pkg/config"
	"github.com/clamentos/blackhole/pkg/metrics"
	"github.com/clamentos/blackhole/pkg/pool"
	"github.com/clamentos/blackhole/pkg/repository"
	"github.com/clamentos/blackhole/pkg/servlet"
	"github.com/clamentos/blackhole/pkg/session"
)

// Server owns every long lived component of the process: the task manager,
// the connection pool, the session store and the network tasks.
//
// Lifecycle:
//  1. New opens the pool and the session store and binds the listener
//  2. Register adds application servlets (optional)
//  3. Start spawns the server, metrics and log drain tasks and the session
//     sweeper
//  4. Shutdown stops the tasks in order, then closes the pool and the store
//
// Only Server closes the pool, so no request can observe a closed pool
// before the tasks serving it have stopped.
type Server struct {
	cfg     *config.Config
	manager *task.Manager

	stats         *metrics.Stats
	metricsServer *metrics.Server

	pool     *pool.Pool
	repo     *repository.Repository
	sessions session.Store
	sweeper  *session.Sweeper

	app    *network.Application
	server *network.ServerTask

	startOnce    sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a server from cfg. Resources acquired before a failure are
// released before the error is returned.
func New(ctx context.Context, cfg *config.Config) (s *Server, err error) {
	if cfg == nil {
		panic("server: config cannot be nil")
	}

	s = &Server{
		cfg:     cfg,
		manager: task.NewManager(cfg.Tasks.ShutdownPollInterval),
	}
	defer func() {
		if err != nil {
			s.closeResources()
		}
	}()

	m := config.InitializeMetrics(cfg)
	s.stats = m.Stats
	s.metricsServer = m.Server

	if s.pool, err = config.CreatePool(ctx, &cfg.Database, s.stats); err != nil {
		return nil, err
	}
	if s.pool != nil {
		s.repo = repository.New(s.pool, s.stats)
	}

	if s.sessions, err = config.CreateSessionStore(ctx, &cfg.Session, s.repo); err != nil {
		return nil, err
	}
	logger.Info("Session store: %s (ttl %v, required %t)", cfg.Session.Store, cfg.Session.TTL, cfg.Session.Required)
	s.sweeper = session.NewSweeper(s.sessions, cfg.Session.SweepInterval)

	deserializer, err := config.CreateDeserializer(&cfg.Server)
	if err != nil {
		return nil, err
	}

	s.app = network.NewApplication(protocol.NewResourceSet(), deserializer, s.stats)
	s.app.UseSessions(s.sessions, cfg.Session.Required)
	if err = s.app.Register(servlet.NewSystem(s.stats)); err != nil {
		return nil, err
	}
	if err = s.app.Register(servlet.NewSession(s.sessions)); err != nil {
		return nil, err
	}

	s.server = network.NewServerTask(s.manager, s.app, config.NetworkConfig(&cfg.Server))
	if err = s.server.Listen(); err != nil {
		return nil, err
	}

	return s, nil
}

// Register adds an application servlet. Its resource code must have been
// registered in Resources first.
func (s *Server) Register(sv protocol.Servlet) error {
	return s.app.Register(sv)
}

// Resources is the resource set requests are decoded against.
func (s *Server) Resources() *protocol.ResourceSet {
	return s.app.Resources()
}

// Repository is the persistence facade, or nil when the database is disabled.
func (s *Server) Repository() *repository.Repository {
	return s.repo
}

// Stats are the process counters.
func (s *Server) Stats() *metrics.Stats {
	return s.stats
}

// Addr is the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.server.Addr()
}

// Start spawns the singleton tasks. Later calls do nothing.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		s.manager.Spawn(task.NewLogDrainTask(s.manager, 0, 0))
		s.manager.Spawn(metrics.NewTask(s.manager, s.stats, s.metricsServer, s.cfg.Metrics.LogInterval))
		s.manager.Spawn(s.server)
		if s.sweeper != nil {
			s.sweeper.Start()
		}
		logger.Info("blackhole is serving on %s", s.Addr())
	})
}

// Shutdown stops the tasks and releases the pool and the session store.
//
// When ctx has no deadline the configured shutdown timeout applies. If the
// tasks do not stop in time the connection contexts are cancelled, so that
// servlets waiting on the database give up, and the resources are closed
// anyway. Later calls return the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Tasks.ShutdownTimeout)
			defer cancel()
		}

		logger.Info("Shutting down")
		err := s.manager.Shutdown(ctx)
		if err != nil {
			logger.Warn("Graceful shutdown incomplete, cancelling in-flight requests: %v", err)
			s.server.Cancel()
		}
		if s.sweeper != nil {
			if serr := s.sweeper.Stop(ctx); serr != nil {
				err = errors.Join(err, serr)
			}
		}

		s.shutdownErr = errors.Join(err, s.closeResources())
		logger.Info("Shutdown complete")
		logger.Flush()
	})
	return s.shutdownErr
}

func (s *Server) closeResources() error {
	var errs []error
	if s.sessions != nil {
		if err := s.sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection pool: %w", err))
		}
	}
	if s.server != nil {
		// Releases the listener when Start was never called.
		if err := s.server.Terminate(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	return errors.Join(errs...)
}
