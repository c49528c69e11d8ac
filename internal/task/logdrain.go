package task

import (
	"time"

	"github.com/clamentos/blackhole/internal/logger"
)

const (
	defaultDrainBatch = 256
	defaultDrainWait  = 100 * time.Millisecond
)

// LogDrainTask writes queued log lines to the configured sink. When it
// terminates the logger reverts to synchronous writes, flushing whatever is
// still queued.
type LogDrainTask struct {
	*Continuous

	batch int
	wait  time.Duration
}

// NewLogDrainTask creates the drain task. Non-positive batch or wait fall back
// to defaults.
func NewLogDrainTask(manager *Manager, batch int, wait time.Duration) *LogDrainTask {
	if batch <= 0 {
		batch = defaultDrainBatch
	}
	if wait <= 0 {
		wait = defaultDrainWait
	}

	t := &LogDrainTask{batch: batch, wait: wait}
	t.Continuous = NewContinuous(KindLogDrain, "log-drain", t, manager)
	return t
}

func (t *LogDrainTask) Initialize() error {
	return nil
}

func (t *LogDrainTask) Work() error {
	if logger.Async() {
		logger.Drain(t.batch, t.wait)
		return nil
	}

	// Synchronous mode: nothing to drain, idle until stopped.
	select {
	case <-t.Done():
	case <-time.After(t.wait):
	}
	return nil
}

func (t *LogDrainTask) Terminate() error {
	logger.DisableAsync()
	return nil
}
