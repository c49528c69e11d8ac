package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/internal/task"
)

const defaultLogInterval = time.Minute

// Task is the singleton metrics task. It owns the HTTP endpoint, when one is
// configured, and periodically logs a summary of Stats.
type Task struct {
	*task.Continuous

	stats    *Stats
	server   *Server
	interval time.Duration
}

// NewTask creates the metrics task. server may be nil to only log.
func NewTask(manager *task.Manager, stats *Stats, server *Server, interval time.Duration) *Task {
	if stats == nil {
		panic("metrics task: stats cannot be nil")
	}
	if interval <= 0 {
		interval = defaultLogInterval
	}

	t := &Task{stats: stats, server: server, interval: interval}
	t.Continuous = task.NewContinuous(task.KindMetrics, "metrics", t, manager)
	return t
}

func (t *Task) Initialize() error {
	if t.server == nil {
		return nil
	}
	if err := t.server.Listen(); err != nil {
		return err
	}

	go func() {
		if err := t.server.Serve(); err != nil {
			logger.Error("%v", err)
		}
	}()
	return nil
}

func (t *Task) Work() error {
	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	select {
	case <-t.Done():
		return nil
	case <-timer.C:
	}

	logger.Info("%s", Summary(t.stats))
	return nil
}

func (t *Task) Terminate() error {
	logger.Info("%s", Summary(t.stats))

	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Stop(ctx)
}

// Summary renders the one line metrics report.
func Summary(s *Stats) string {
	snap := s.Snapshot()
	get := func(name string) int64 {
		v, _ := Value(snap, name)
		return v
	}

	now := time.Now()
	uptime := strings.TrimSpace(humanize.RelTime(now.Add(-s.Uptime()), now, "", ""))

	return fmt.Sprintf("Metrics: up %s, connections %s active / %s accepted / %s refused, "+
		"requests %s ok / %s failed / %s in flight, pool %d/%d in use, "+
		"repository %s ok / %s failed, traffic %s in / %s out",
		uptime,
		humanize.Comma(get("connections_active")),
		humanize.Comma(get("connections_accepted")),
		humanize.Comma(get("connections_refused")),
		humanize.Comma(get("requests_completed")),
		humanize.Comma(get("requests_failed")),
		humanize.Comma(get("requests_in_flight")),
		get("pool_in_use"), get("pool_size"),
		humanize.Comma(get("repository_successes")),
		humanize.Comma(get("repository_failures")),
		humanize.IBytes(uint64(max(get("bytes_in"), 0))),
		humanize.IBytes(uint64(max(get("bytes_out"), 0))),
	)
}
