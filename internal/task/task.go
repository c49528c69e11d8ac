// Package task provides the run/stop contract shared by every goroutine the
// server starts, and the Manager that tracks them and orders shutdown.
//
// Two shapes exist:
//   - Continuous: Initialize once, Work until a stop is requested, Terminate once.
//   - OneShot: Initialize, Work exactly once, done.
//
// Tasks carry an explicit Kind. The Manager allows at most one live task of
// each singleton kind (server, metrics, log drain) and keeps unbounded
// collections of transfer and request tasks.
package task

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/clamentos/blackhole/internal/logger"
)

// Kind identifies the category of a task. The Manager dispatches on it.
type Kind int

const (
	// KindServer is the accept loop. Singleton.
	KindServer Kind = iota
	// KindMetrics is the periodic metrics task. Singleton.
	KindMetrics
	// KindLogDrain writes queued log lines. Singleton.
	KindLogDrain
	// KindTransfer is one per client connection.
	KindTransfer
	// KindRequest is one per request frame.
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindServer:
		return "server"
	case KindMetrics:
		return "metrics"
	case KindLogDrain:
		return "log-drain"
	case KindTransfer:
		return "transfer"
	case KindRequest:
		return "request"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Singleton reports whether at most one task of this kind may be live.
func (k Kind) Singleton() bool {
	return k == KindServer || k == KindMetrics || k == KindLogDrain
}

// Task is the uniform contract the Manager works with.
type Task interface {
	ID() uuid.UUID
	Kind() Kind
	Name() string

	// Run executes the task on the calling goroutine until it completes.
	Run()

	// Stop asks the task to finish. It never blocks and may be called
	// any number of times from any goroutine.
	Stop()

	// IsStopped is true only once the task has fully finished, including
	// its cleanup phase.
	IsStopped() bool
}

// Interrupter is implemented by hooks whose Work blocks on something Stop
// should cut short, such as a socket read.
type Interrupter interface {
	Interrupt()
}

// Finalizer is implemented by one-shot hooks that must release resources no
// matter how Initialize and Work ended.
type Finalizer interface {
	Finalize()
}

// safely runs fn, converting both errors and panics into a log line.
// It returns false if fn failed.
func safely(t Task, phase string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("%s task %s: panic during %s: %v", t.Kind(), t.Name(), phase, r)
			ok = false
		}
	}()

	if err := fn(); err != nil {
		logger.Error("%s task %s: %s failed: %v", t.Kind(), t.Name(), phase, err)
		return false
	}
	return true
}
