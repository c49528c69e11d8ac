package task

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// OneShotHooks are the phases of a one-shot task.
type OneShotHooks interface {
	Initialize() error
	Work() error
}

// OneShot runs Initialize and, if it succeeded, Work exactly once. Nothing is
// retried. Stop is a no-op: the Manager waits for one-shot tasks to finish on
// their own.
type OneShot struct {
	id      uuid.UUID
	kind    Kind
	name    string
	hooks   OneShotHooks
	manager *Manager

	started atomic.Bool
	done    atomic.Bool
}

func NewOneShot(kind Kind, name string, hooks OneShotHooks, manager *Manager) *OneShot {
	if hooks == nil {
		panic("task: hooks cannot be nil")
	}

	return &OneShot{
		id:      uuid.New(),
		kind:    kind,
		name:    name,
		hooks:   hooks,
		manager: manager,
	}
}

func (t *OneShot) ID() uuid.UUID { return t.id }
func (t *OneShot) Kind() Kind    { return t.kind }
func (t *OneShot) Name() string  { return t.name }

func (t *OneShot) Stop() {}

func (t *OneShot) IsStopped() bool {
	return t.done.Load()
}

func (t *OneShot) Run() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}

	defer func() {
		if f, ok := t.hooks.(Finalizer); ok {
			safely(t, "finalize", func() error {
				f.Finalize()
				return nil
			})
		}
		if t.manager != nil {
			t.manager.Remove(t)
		}
		t.done.Store(true)
	}()

	if safely(t, "initialize", t.hooks.Initialize) {
		safely(t, "work", t.hooks.Work)
	}
}
