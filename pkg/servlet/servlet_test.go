package servlet

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clamentos/blackhole/internal/protocol"
	"github.com/clamentos/blackhole/pkg/metrics"
	"github.com/clamentos/blackhole/pkg/repository"
	"github.com/clamentos/blackhole/pkg/session"
)

func request(method protocol.Method, resource protocol.Resource, session protocol.SessionID, entries ...protocol.Entry) *protocol.Request {
	return &protocol.Request{
		Header: protocol.Header{ID: 1, Method: method, Resource: resource, Session: session},
		Body:   protocol.NewEntries(entries...),
	}
}

func TestSystemReadReturnsSnapshot(t *testing.T) {
	stats := metrics.NewStats(nil, nil, nil)
	stats.RecordConnectionAccepted()
	stats.RecordBytes("in", 42)

	resp := NewSystem(stats).Handle(context.Background(), request(protocol.MethodRead, protocol.ResourceSystem, protocol.SessionID{}))
	require.Equal(t, protocol.StatusOK, resp.Status)

	entries := resp.Entries
	require.GreaterOrEqual(t, len(entries), 2)
	assert.Equal(t, protocol.TagArrayBegin, entries[0].Tag)
	assert.Equal(t, protocol.TagArrayEnd, entries[len(entries)-1].Tag)

	pairs := entries[1 : len(entries)-1]
	require.Equal(t, 0, len(pairs)%2)

	values := make(map[string]int64)
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].AsString()
		require.True(t, ok)
		require.Equal(t, protocol.TagLong, pairs[i+1].Tag)
		v, _ := pairs[i+1].AsInt()
		values[name] = v
	}
	assert.Equal(t, int64(1), values["connections_accepted"])
	assert.Equal(t, int64(1), values["connections_active"])
	assert.Equal(t, int64(42), values["bytes_in"])
	assert.Contains(t, values, "repository_failures")
}

func TestSystemRejectsOtherMethods(t *testing.T) {
	system := NewSystem(metrics.NewStats(nil, nil, nil))
	for _, m := range []protocol.Method{protocol.MethodCreate, protocol.MethodUpdate, protocol.MethodDelete} {
		resp := system.Handle(context.Background(), request(m, protocol.ResourceSystem, protocol.SessionID{}))
		assert.Equal(t, protocol.StatusMethodNotAllowed, resp.Status, m.String())
	}
}

func TestLoginAndLogout(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	servlet := NewSession(store)
	ctx := context.Background()

	resp := servlet.Handle(ctx, request(protocol.MethodLogin, protocol.ResourceSession, protocol.SessionID{}, protocol.String("ada")))
	require.Equal(t, protocol.StatusOK, resp.Status)
	require.Len(t, resp.Entries, 2)

	raw, ok := resp.Entries[0].AsBytes()
	require.True(t, ok)
	require.Len(t, raw, protocol.SessionIDSize)
	var id protocol.SessionID
	copy(id[:], raw)

	expiry, ok := resp.Entries[1].AsInt()
	require.True(t, ok)
	assert.InDelta(t, time.Now().Add(time.Minute).UnixMilli(), expiry, 5000)

	sess, err := store.Validate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ada", sess.User)

	resp = servlet.Handle(ctx, request(protocol.MethodLogout, protocol.ResourceSession, id))
	assert.Equal(t, protocol.StatusOK, resp.Status)
	_, err = store.Validate(ctx, id)
	assert.ErrorIs(t, err, session.ErrNotFound)

	resp = servlet.Handle(ctx, request(protocol.MethodLogout, protocol.ResourceSession, id))
	assert.Equal(t, protocol.StatusNotFound, resp.Status)
}

func TestLoginRejectsMalformedBodies(t *testing.T) {
	servlet := NewSession(session.NewMemoryStore(time.Minute))

	bodies := [][]protocol.Entry{
		nil,
		{protocol.Long(1)},
		{protocol.String("ada"), protocol.String("extra")},
		{protocol.String("")},
	}
	for _, body := range bodies {
		resp := servlet.Handle(context.Background(), request(protocol.MethodLogin, protocol.ResourceSession, protocol.SessionID{}, body...))
		assert.Equal(t, protocol.StatusBadFormatting, resp.Status, "%v", body)
		require.Len(t, resp.Entries, 1)
		assert.Equal(t, protocol.TagString, resp.Entries[0].Tag)
	}

	resp := servlet.Handle(context.Background(), request(protocol.MethodRead, protocol.ResourceSession, protocol.SessionID{}))
	assert.Equal(t, protocol.StatusMethodNotAllowed, resp.Status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want protocol.Status
	}{
		{nil, protocol.StatusOK},
		{session.ErrNotFound, protocol.StatusNotFound},
		{fmt.Errorf("wrapped: %w", session.ErrNotFound), protocol.StatusNotFound},
		{protocol.Formatf("bad"), protocol.StatusBadFormatting},
		{&repository.Error{Category: repository.CategoryConnection}, protocol.StatusDatabaseConnection},
		{&repository.Error{Category: repository.CategoryIntegrity}, protocol.StatusDatabaseIntegrity},
		{&repository.Error{Category: repository.CategorySyntax}, protocol.StatusDatabaseSyntax},
		{&repository.Error{Category: repository.CategoryUnknown}, protocol.StatusDatabaseUnknown},
		{errors.New("boom"), protocol.StatusInternalError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}
