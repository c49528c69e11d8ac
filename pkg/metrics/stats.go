package metrics

import (
	"sync/atomic"
	"time"
)

// Sample is one named value of a Stats snapshot.
type Sample struct {
	Name  string
	Value int64
}

// Stats keeps process-wide counters for the SYSTEM resource and the periodic
// metrics log line. It implements ServerMetrics, PoolMetrics and
// RepositoryMetrics and forwards every call to the wrapped recorders, so the
// same hooks feed both the in-process counters and Prometheus.
type Stats struct {
	started time.Time

	server ServerMetrics
	pool   PoolMetrics
	repo   RepositoryMetrics

	connectionsActive   atomic.Int64
	connectionsAccepted atomic.Int64
	connectionsRefused  atomic.Int64
	connectionsClosed   atomic.Int64

	requestsInFlight  atomic.Int64
	requestsCompleted atomic.Int64
	requestsFailed    atomic.Int64

	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	poolSize     atomic.Int64
	poolInUse    atomic.Int64
	poolParked   atomic.Int64
	poolRefresh  atomic.Int64
	poolReplaced atomic.Int64

	repoSuccesses atomic.Int64
	repoFailures  atomic.Int64
	repoRetries   atomic.Int64
}

// NewStats creates counters forwarding to the given recorders. Nil recorders
// are replaced by no-op ones.
func NewStats(server ServerMetrics, pool PoolMetrics, repo RepositoryMetrics) *Stats {
	if server == nil {
		server = NewNoopServerMetrics()
	}
	if pool == nil {
		pool = NewNoopPoolMetrics()
	}
	if repo == nil {
		repo = NewNoopRepositoryMetrics()
	}

	return &Stats{
		started: time.Now(),
		server:  server,
		pool:    pool,
		repo:    repo,
	}
}

// Uptime is the time elapsed since NewStats.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.started)
}

func (s *Stats) RecordConnectionAccepted() {
	s.connectionsAccepted.Add(1)
	s.connectionsActive.Add(1)
	s.server.RecordConnectionAccepted()
}

func (s *Stats) RecordConnectionRefused() {
	s.connectionsRefused.Add(1)
	s.server.RecordConnectionRefused()
}

func (s *Stats) RecordConnectionClosed() {
	s.connectionsClosed.Add(1)
	s.connectionsActive.Add(-1)
	s.server.RecordConnectionClosed()
}

func (s *Stats) RecordRequestStart() {
	s.requestsInFlight.Add(1)
	s.server.RecordRequestStart()
}

func (s *Stats) RecordRequest(method, resource, status string, d time.Duration) {
	s.requestsInFlight.Add(-1)
	if status == "OK" {
		s.requestsCompleted.Add(1)
	} else {
		s.requestsFailed.Add(1)
	}
	s.server.RecordRequest(method, resource, status, d)
}

func (s *Stats) RecordBytes(direction string, n int64) {
	switch direction {
	case "in":
		s.bytesIn.Add(n)
	case "out":
		s.bytesOut.Add(n)
	}
	s.server.RecordBytes(direction, n)
}

func (s *Stats) SetPoolSize(size int) {
	s.poolSize.Store(int64(size))
	s.pool.SetPoolSize(size)
}

func (s *Stats) RecordAcquire(wait time.Duration, parked bool) {
	s.poolInUse.Add(1)
	if parked {
		s.poolParked.Add(1)
	}
	s.pool.RecordAcquire(wait, parked)
}

func (s *Stats) RecordRelease() {
	s.poolInUse.Add(-1)
	s.pool.RecordRelease()
}

func (s *Stats) RecordRefresh(reconnected bool, err error) {
	s.poolRefresh.Add(1)
	if reconnected && err == nil {
		s.poolReplaced.Add(1)
	}
	s.pool.RecordRefresh(reconnected, err)
}

func (s *Stats) RecordOperation(op string, d time.Duration, retried bool, err error) {
	if err == nil {
		s.repoSuccesses.Add(1)
	} else {
		s.repoFailures.Add(1)
	}
	if retried {
		s.repoRetries.Add(1)
	}
	s.repo.RecordOperation(op, d, retried, err)
}

// ActiveConnections is the number of open client connections.
func (s *Stats) ActiveConnections() int64 {
	return s.connectionsActive.Load()
}

// InFlightRequests is the number of requests being served.
func (s *Stats) InFlightRequests() int64 {
	return s.requestsInFlight.Load()
}

// Snapshot returns every counter in a fixed order.
func (s *Stats) Snapshot() []Sample {
	return []Sample{
		{"uptime_seconds", int64(s.Uptime().Seconds())},
		{"connections_active", s.connectionsActive.Load()},
		{"connections_accepted", s.connectionsAccepted.Load()},
		{"connections_refused", s.connectionsRefused.Load()},
		{"connections_closed", s.connectionsClosed.Load()},
		{"requests_in_flight", s.requestsInFlight.Load()},
		{"requests_completed", s.requestsCompleted.Load()},
		{"requests_failed", s.requestsFailed.Load()},
		{"bytes_in", s.bytesIn.Load()},
		{"bytes_out", s.bytesOut.Load()},
		{"pool_size", s.poolSize.Load()},
		{"pool_in_use", s.poolInUse.Load()},
		{"pool_parked", s.poolParked.Load()},
		{"pool_refreshes", s.poolRefresh.Load()},
		{"pool_reconnects", s.poolReplaced.Load()},
		{"repository_successes", s.repoSuccesses.Load()},
		{"repository_failures", s.repoFailures.Load()},
		{"repository_retries", s.repoRetries.Load()},
	}
}

// Value returns the named counter from a snapshot, or false.
func Value(snapshot []Sample, name string) (int64, bool) {
	for _, s := range snapshot {
		if s.Name == name {
			return s.Value, true
		}
	}
	return 0, false
}
