package metrics

import "time"

// ServerMetrics observes the network layer.
type ServerMetrics interface {
	RecordConnectionAccepted()

	// RecordConnectionRefused counts connections closed by admission control.
	RecordConnectionRefused()

	RecordConnectionClosed()

	// RecordRequestStart marks a request task as in flight.
	RecordRequestStart()

	// RecordRequest ends a request started with RecordRequestStart.
	// status is the response status name, or "ABORTED" when the connection
	// was dropped without a response.
	RecordRequest(method, resource, status string, duration time.Duration)

	// RecordBytes counts bytes read from ("in") or written to ("out") clients.
	RecordBytes(direction string, n int64)
}

// PoolMetrics observes the database connection pool.
type PoolMetrics interface {
	SetPoolSize(size int)

	// RecordAcquire is called once a connection has been claimed. parked is
	// true if the caller had to wait in the queue.
	RecordAcquire(wait time.Duration, parked bool)

	RecordRelease()

	// RecordRefresh reports a health check. reconnected is true when the
	// underlying connection had to be replaced.
	RecordRefresh(reconnected bool, err error)
}

// RepositoryMetrics observes repository operations.
type RepositoryMetrics interface {
	// RecordOperation reports the outcome of insert, select, update or delete.
	// retried is true when the connection was refreshed and the statement
	// run a second time.
	RecordOperation(op string, duration time.Duration, retried bool, err error)
}

// NewNoopServerMetrics returns a ServerMetrics that discards everything.
func NewNoopServerMetrics() ServerMetrics { return noopServerMetrics{} }

// NewNoopPoolMetrics returns a PoolMetrics that discards everything.
func NewNoopPoolMetrics() PoolMetrics { return noopPoolMetrics{} }

// NewNoopRepositoryMetrics returns a RepositoryMetrics that discards everything.
func NewNoopRepositoryMetrics() RepositoryMetrics { return noopRepositoryMetrics{} }

type noopServerMetrics struct{}

func (noopServerMetrics) RecordConnectionAccepted()                                      {}
func (noopServerMetrics) RecordConnectionRefused()                                       {}
func (noopServerMetrics) RecordConnectionClosed()                                        {}
func (noopServerMetrics) RecordRequestStart()                                            {}
func (noopServerMetrics) RecordRequest(method, resource, status string, d time.Duration) {}
func (noopServerMetrics) RecordBytes(direction string, n int64)                          {}

type noopPoolMetrics struct{}

func (noopPoolMetrics) SetPoolSize(size int)                          {}
func (noopPoolMetrics) RecordAcquire(wait time.Duration, parked bool) {}
func (noopPoolMetrics) RecordRelease()                                {}
func (noopPoolMetrics) RecordRefresh(reconnected bool, err error)     {}

type noopRepositoryMetrics struct{}

func (noopRepositoryMetrics) RecordOperation(op string, d time.Duration, retried bool, err error) {}
