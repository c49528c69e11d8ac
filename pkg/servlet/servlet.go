// Package servlet holds the servlets every server registers: SYSTEM, which
// reports server statistics, and SESSION, which logs clients in and out.
package servlet

import (
	"context"
	"errors"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/internal/protocol"
	"github.com/clamentos/blackhole/pkg/metrics"
	"github.com/clamentos/blackhole/pkg/repository"
	"github.com/clamentos/blackhole/pkg/session"
)

// StatusFor maps an error from a store or repository to the status a client
// sees. Details stay in the server log.
func StatusFor(err error) protocol.Status {
	switch {
	case err == nil:
		return protocol.StatusOK
	case errors.Is(err, session.ErrNotFound):
		return protocol.StatusNotFound
	case protocol.IsFormatError(err), errors.Is(err, session.ErrEmptyUser):
		return protocol.StatusBadFormatting
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return protocol.StatusDatabaseConnection
	}

	var repoErr *repository.Error
	if errors.As(err, &repoErr) {
		switch repoErr.Category {
		case repository.CategoryConnection:
			return protocol.StatusDatabaseConnection
		case repository.CategoryIntegrity:
			return protocol.StatusDatabaseIntegrity
		case repository.CategorySyntax:
			return protocol.StatusDatabaseSyntax
		default:
			return protocol.StatusDatabaseUnknown
		}
	}
	return protocol.StatusInternalError
}

// FailWith logs err and builds the client-safe response for it.
func FailWith(req *protocol.Request, err error) *protocol.Response {
	status := StatusFor(err)
	logger.Debug("%s on resource %d failed with %s: %v", req.Header.Method, req.Header.Resource, status, err)

	switch status {
	case protocol.StatusBadFormatting:
		return protocol.Fail(status, err.Error())
	case protocol.StatusNotFound:
		return protocol.Fail(status, "not found")
	case protocol.StatusInternalError:
		return protocol.Fail(status, "internal error")
	default:
		return protocol.Fail(status, "database unavailable or rejected the operation")
	}
}

func methodNotAllowed(req *protocol.Request) *protocol.Response {
	return protocol.Failf(protocol.StatusMethodNotAllowed, "method %s not allowed on this resource", req.Header.Method)
}

// Snapshotter is the part of metrics.Stats the SYSTEM servlet reads.
type Snapshotter interface {
	Snapshot() []metrics.Sample
}

// System serves READ on the SYSTEM resource with the statistics snapshot:
// array-begin, then a string name and long value per counter, then
// array-end.
type System struct {
	stats Snapshotter
}

func NewSystem(stats Snapshotter) *System {
	if stats == nil {
		panic("servlet: stats cannot be nil")
	}
	return &System{stats: stats}
}

func (s *System) Resource() protocol.Resource {
	return protocol.ResourceSystem
}

func (s *System) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req.Header.Method != protocol.MethodRead {
		return methodNotAllowed(req)
	}

	samples := s.stats.Snapshot()
	entries := make([]protocol.Entry, 0, 2*len(samples)+2)
	entries = append(entries, protocol.ArrayBegin())
	for _, sample := range samples {
		entries = append(entries, protocol.String(sample.Name), protocol.Long(sample.Value))
	}
	entries = append(entries, protocol.ArrayEnd())

	return protocol.OK(entries...)
}
