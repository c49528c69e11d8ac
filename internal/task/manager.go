package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clamentos/blackhole/internal/logger"
)

// DefaultPollInterval is used when NewManager is given a non-positive interval.
const DefaultPollInterval = 50 * time.Millisecond

// ErrShutdownTimeout wraps the context error returned by Shutdown when a
// stage did not drain in time.
var ErrShutdownTimeout = errors.New("task shutdown did not complete")

type slot struct {
	mu   sync.Mutex
	task Task
}

type collection struct {
	tasks sync.Map // uuid.UUID -> Task
	count atomic.Int64
}

// Manager tracks live tasks and stops them in dependency order.
//
// Singleton kinds are guarded by a per-kind mutex so that concurrent Add
// calls for the same kind race for a single slot. Collection kinds live in
// concurrent maps keyed by task ID.
type Manager struct {
	pollInterval time.Duration

	singletons  map[Kind]*slot
	collections map[Kind]*collection
}

func NewManager(pollInterval time.Duration) *Manager {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Manager{
		pollInterval: pollInterval,
		singletons: map[Kind]*slot{
			KindServer:   {},
			KindMetrics:  {},
			KindLogDrain: {},
		},
		collections: map[Kind]*collection{
			KindTransfer: {},
			KindRequest:  {},
		},
	}
}

// Add registers t. For singleton kinds it returns false when a task of that
// kind is already registered. An unknown kind panics.
func (m *Manager) Add(t Task) bool {
	if s, ok := m.singletons[t.Kind()]; ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.task != nil {
			return false
		}
		s.task = t
		return true
	}

	if c, ok := m.collections[t.Kind()]; ok {
		if _, loaded := c.tasks.LoadOrStore(t.ID(), t); !loaded {
			c.count.Add(1)
		}
		return true
	}

	panic(fmt.Sprintf("task manager: unknown task kind %s", t.Kind()))
}

// Remove deregisters t. Removing a task that is not registered is a no-op.
func (m *Manager) Remove(t Task) {
	if s, ok := m.singletons[t.Kind()]; ok {
		s.mu.Lock()
		if s.task != nil && s.task.ID() == t.ID() {
			s.task = nil
		}
		s.mu.Unlock()
		return
	}

	if c, ok := m.collections[t.Kind()]; ok {
		if _, loaded := c.tasks.LoadAndDelete(t.ID()); loaded {
			c.count.Add(-1)
		}
		return
	}

	panic(fmt.Sprintf("task manager: unknown task kind %s", t.Kind()))
}

// Spawn registers t and starts it on a new goroutine. It returns false, and
// does not start t, when a singleton of the same kind is already live.
func (m *Manager) Spawn(t Task) bool {
	if !m.Add(t) {
		logger.Warn("%s task already running, not starting %s", t.Kind(), t.Name())
		return false
	}

	go t.Run()
	return true
}

// Get returns the live singleton of the given kind, or nil.
func (m *Manager) Get(kind Kind) Task {
	s, ok := m.singletons[kind]
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

// Count returns the number of live tasks of the given kind.
func (m *Manager) Count(kind Kind) int {
	if c, ok := m.collections[kind]; ok {
		return int(c.count.Load())
	}
	if m.Get(kind) != nil {
		return 1
	}
	return 0
}

// Shutdown stops every task in order:
//  1. the server task, so no new connections are accepted
//  2. all transfer tasks, so no new requests are read
//  3. request tasks are waited for until none remain
//  4. the metrics task
//  5. the log drain task
//
// Each stage waits, polling, for the previous one to finish. If ctx expires
// the remaining stages are still signalled but not awaited, and the returned
// error wraps ctx.Err().
func (m *Manager) Shutdown(ctx context.Context) error {
	var firstErr error
	record := func(stage string, err error) {
		if err != nil && firstErr == nil {
			logger.Warn("Shutdown stage %q did not finish: %v", stage, err)
			firstErr = fmt.Errorf("%w: %s: %w", ErrShutdownTimeout, stage, err)
		}
	}

	record("server", m.stopSingleton(ctx, KindServer))
	record("transfers", m.stopCollection(ctx, KindTransfer))
	record("requests", m.waitCollection(ctx, KindRequest))
	record("metrics", m.stopSingleton(ctx, KindMetrics))
	record("log drain", m.stopSingleton(ctx, KindLogDrain))

	return firstErr
}

func (m *Manager) stopSingleton(ctx context.Context, kind Kind) error {
	t := m.Get(kind)
	if t == nil {
		return nil
	}

	t.Stop()
	return m.poll(ctx, t.IsStopped)
}

func (m *Manager) stopCollection(ctx context.Context, kind Kind) error {
	c := m.collections[kind]
	stopAll := func() {
		c.tasks.Range(func(_, v any) bool {
			v.(Task).Stop()
			return true
		})
	}

	stopAll()
	return m.poll(ctx, func() bool {
		// Catch tasks registered after the first sweep.
		stopAll()
		return c.count.Load() == 0
	})
}

func (m *Manager) waitCollection(ctx context.Context, kind Kind) error {
	c := m.collections[kind]
	return m.poll(ctx, func() bool { return c.count.Load() == 0 })
}

func (m *Manager) poll(ctx context.Context, done func() bool) error {
	if done() {
		return nil
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done() {
				return nil
			}
		}
	}
}
