package session

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clamentos/blackhole/pkg/pool/pooltest"
)

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	old, err := store.Create(context.Background(), "ada")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	fresh, err := store.Create(context.Background(), "bob")
	require.NoError(t, err)

	n, err := store.Sweep(context.Background(), old.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())

	store.now = func() time.Time { return old.ExpiresAt }
	_, err = store.Validate(context.Background(), fresh.ID)
	assert.NoError(t, err)
}

func TestSQLStoreSweep(t *testing.T) {
	store, script := newSQLStore(t, SQLConfig{TTL: time.Minute})
	now := time.Now()

	var bound atomic.Int64
	script.OnExec(func(query string, args []driver.Value) (driver.Result, error) {
		if strings.HasPrefix(query, "DELETE") {
			bound.Store(args[0].(int64))
			return pooltest.Result{Affected: 3}, nil
		}
		return pooltest.Result{}, nil
	})

	n, err := store.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, now.UnixNano(), bound.Load())
	assert.Contains(t, script.Statements(), "DELETE FROM sessions WHERE expires_at <= ?")
}

func TestNewSweeperSkipsSelfExpiringStores(t *testing.T) {
	store, err := NewBadgerStore(BadgerConfig{Path: filepath.Join(t.TempDir(), "s")})
	require.NoError(t, err)
	defer store.Close()

	assert.Nil(t, NewSweeper(store, time.Second))

	sw := NewSweeper(NewMemoryStore(time.Minute), 0)
	require.NotNil(t, sw)
	assert.Equal(t, DefaultSweepInterval, sw.interval)
}

func TestSweeperPurgesPeriodically(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	for i := 0; i < 5; i++ {
		_, err := store.Create(context.Background(), "ada")
		require.NoError(t, err)
	}

	sw := NewSweeper(store, 10*time.Millisecond)
	sw.Start()
	sw.Start()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sw.Stop(ctx))
	require.NoError(t, sw.Stop(ctx))
}

func TestSweeperStopBeforeStart(t *testing.T) {
	sw := NewSweeper(NewMemoryStore(time.Minute), time.Hour)
	require.NoError(t, sw.Stop(context.Background()))

	// Start after Stop spawns nothing.
	sw.Start()
	assert.False(t, sw.started)
}

func TestSweeperRunNow(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	_, err := store.Create(context.Background(), "ada")
	require.NoError(t, err)

	sw := NewSweeper(store, time.Hour)
	sw.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	n, err := sw.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
