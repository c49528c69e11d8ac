package session

import (
	"context"
	"sync"
	"time"

	"github.com/clamentos/blackhole/internal/logger"
)

// DefaultSweepInterval is how often expired sessions are purged when no
// interval is configured.
const DefaultSweepInterval = time.Minute

// Sweepable is implemented by stores that cannot expire sessions on their
// own. Stores without it only drop expired sessions when they are looked up.
type Sweepable interface {
	// Sweep deletes every session that expired at or before now and returns
	// how many went.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically purges expired sessions from a Sweepable store.
//
// Thread Safety: Safe for concurrent use.
type Sweeper struct {
	store    Sweepable
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSweeper returns a sweeper for store, or nil when store expires sessions
// itself. A zero interval uses DefaultSweepInterval.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	sw, ok := store.(Sweepable)
	if !ok {
		return nil
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		store:    sw,
		interval: interval,
		timeout:  interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins background sweeping. Later calls do nothing.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		logger.Info("Starting session sweeper: interval=%s", s.interval)
		s.started = true
		go s.worker()
	})
}

// Stop signals the worker and waits for it, or for ctx to expire.
// It is safe to call more than once, and before Start.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	// Claims startOnce so a later Start cannot spawn a worker.
	s.startOnce.Do(func() {})
	if !s.started {
		return nil
	}

	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Session sweeper shutdown timeout")
		return ctx.Err()
	}
}

// RunNow purges expired sessions immediately.
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx, s.now())
}

func (s *Sweeper) worker() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			n, err := s.RunNow(ctx)
			cancel()

			if err != nil {
				logger.Error("Session sweep failed: %v", err)
			} else if n > 0 {
				logger.Debug("Session sweep removed %d expired sessions", n)
			}

		case <-s.stopCh:
			return
		}
	}
}
