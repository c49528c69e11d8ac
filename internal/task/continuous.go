package task

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/clamentos/blackhole/internal/logger"
)

// State is the lifecycle state of a continuous task.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Hooks are the phases of a continuous task.
type Hooks interface {
	Initialize() error
	Work() error
	Terminate() error
}

// Continuous runs Hooks as a loop: Initialize once, Work until Stop is
// requested, then Terminate once. A failing or panicking Work is logged and
// the loop goes on. A failing Initialize skips the loop but Terminate still
// runs.
//
// Concrete tasks embed *Continuous and pass themselves as the hooks.
type Continuous struct {
	id      uuid.UUID
	kind    Kind
	name    string
	hooks   Hooks
	manager *Manager

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewContinuous creates a task in the created state. manager may be nil
// for tasks that are run without registration.
func NewContinuous(kind Kind, name string, hooks Hooks, manager *Manager) *Continuous {
	if hooks == nil {
		panic("task: hooks cannot be nil")
	}

	return &Continuous{
		id:      uuid.New(),
		kind:    kind,
		name:    name,
		hooks:   hooks,
		manager: manager,
		stopCh:  make(chan struct{}),
	}
}

func (t *Continuous) ID() uuid.UUID { return t.id }
func (t *Continuous) Kind() Kind    { return t.kind }
func (t *Continuous) Name() string  { return t.name }

// State returns the current lifecycle state.
func (t *Continuous) State() State {
	return State(t.state.Load())
}

// Done is closed as soon as a stop is requested. Work implementations
// select on it to wake from waits.
func (t *Continuous) Done() <-chan struct{} {
	return t.stopCh
}

// StopRequested reports whether Stop has been called.
func (t *Continuous) StopRequested() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// Stop requests the loop to end. An in-progress Work call is not preempted,
// but hooks implementing Interrupter are poked so blocking reads return.
func (t *Continuous) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))

		if i, ok := t.hooks.(Interrupter); ok {
			i.Interrupt()
		}
	})
}

func (t *Continuous) IsStopped() bool {
	return t.State() == StateStopped
}

func (t *Continuous) Run() {
	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		logger.Warn("%s task %s: Run called twice", t.kind, t.name)
		return
	}
	if t.StopRequested() {
		t.state.Store(int32(StateStopping))
	}

	logger.Debug("%s task %s started", t.kind, t.name)

	if safely(t, "initialize", t.hooks.Initialize) {
		for !t.StopRequested() {
			safely(t, "work", t.hooks.Work)
		}
	}

	safely(t, "terminate", t.hooks.Terminate)

	if t.manager != nil {
		t.manager.Remove(t)
	}
	t.state.Store(int32(StateStopped))

	logger.Debug("%s task %s stopped", t.kind, t.name)
}
