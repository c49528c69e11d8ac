package pool

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clamentos/blackhole/pkg/metrics"
	"github.com/clamentos/blackhole/pkg/pool/pooltest"
)

func newTestPool(t *testing.T, size int) (*Pool, *pooltest.Script, *metrics.Stats) {
	t.Helper()

	script := pooltest.New()
	stats := metrics.NewStats(nil, nil, nil)
	p, err := New(context.Background(), NewDBConnector(script.Open(), pooltest.DriverName), Config{
		Size:              size,
		ValidationTimeout: time.Second,
	}, stats)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, script, stats
}

func TestNewOpensEverySessionEagerly(t *testing.T) {
	p, script, stats := newTestPool(t, 4)

	assert.Equal(t, 4, p.Size())
	assert.Equal(t, int64(4), script.Opens())
	assert.Equal(t, 0, p.InUse())

	v, _ := metrics.Value(stats.Snapshot(), "pool_size")
	assert.Equal(t, int64(4), v)
}

func TestNewFailsWhenASessionCannotOpen(t *testing.T) {
	script := pooltest.New()
	script.FailOpen(errors.New("access denied"))

	_, err := New(context.Background(), NewDBConnector(script.Open(), pooltest.DriverName), Config{Size: 2}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestAcquireNeverExceedsSize(t *testing.T) {
	const size = 3
	p, _, _ := newTestPool(t, size)

	var (
		current atomic.Int32
		peak    atomic.Int32
		holders [size]atomic.Int32
		wg      sync.WaitGroup
	)

	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				c, err := p.Acquire(context.Background())
				if !assert.NoError(t, err) {
					return
				}

				if n := holders[c.Index()].Add(1); n != 1 {
					t.Errorf("slot %d held by %d callers", c.Index(), n)
				}
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}

				time.Sleep(100 * time.Microsecond)

				current.Add(-1)
				holders[c.Index()].Add(-1)
				c.Release()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Equal(t, 0, p.InUse())
}

func TestReleasedConnectionKeepsItsSlot(t *testing.T) {
	p, _, _ := newTestPool(t, 4)
	ctx := WithAffinity(context.Background(), 6)

	first, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Index(), "affinity 6 mod 4 starts at slot 2")
	session := first.Conn()
	first.Release()

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer again.Release()

	assert.Same(t, first, again)
	assert.Same(t, session, again.Conn())
}

func TestAcquireScansPastTakenSlots(t *testing.T) {
	p, _, _ := newTestPool(t, 3)
	ctx := WithAffinity(context.Background(), 1)

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer a.Release()
	defer b.Release()

	assert.Equal(t, 1, a.Index())
	assert.Equal(t, 2, b.Index())
}

func TestAcquireParksUntilRelease(t *testing.T) {
	p, _, stats := newTestPool(t, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Connection, 1)
	go func() {
		c, err := p.Acquire(context.Background())
		assert.NoError(t, err)
		got <- c
	}()

	select {
	case <-got:
		t.Fatal("acquire returned while the only connection was taken")
	case <-time.After(30 * time.Millisecond):
	}

	held.Release()

	select {
	case c := <-got:
		assert.Same(t, held, c)
		c.Release()
	case <-time.After(time.Second):
		t.Fatal("parked caller was not woken by release")
	}

	parked, _ := metrics.Value(stats.Snapshot(), "pool_parked")
	assert.Equal(t, int64(1), parked)
}

func TestAcquireHonoursContext(t *testing.T) {
	p, _, _ := newTestPool(t, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	held.Release()
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c.Release()
}

func TestAcquireTimeoutFromConfig(t *testing.T) {
	script := pooltest.New()
	p, err := New(context.Background(), NewDBConnector(script.Open(), pooltest.DriverName), Config{
		Size:           1,
		AcquireTimeout: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCancelledWaiterLeavesTheQueue(t *testing.T) {
	p, _, _ := newTestPool(t, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		cancelled <- err
	}()

	patient := make(chan *Connection, 1)
	go func() {
		c, err := p.Acquire(context.Background())
		assert.NoError(t, err)
		patient <- c
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-cancelled, context.Canceled)

	held.Release()
	select {
	case c := <-patient:
		c.Release()
	case <-time.After(time.Second):
		t.Fatal("release did not reach the remaining waiter")
	}
}

func TestCloseWakesWaitersAndIsIdempotent(t *testing.T) {
	p, _, _ := newTestPool(t, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not wake the parked caller")
	}

	held.Release()
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Equal(t, p.Size(), p.InUse(), "every slot is unavailable after close")
}

func TestRefreshKeepsHealthySession(t *testing.T) {
	p, script, _ := newTestPool(t, 2)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()

	session := c.Conn()
	require.NoError(t, p.Refresh(context.Background(), c))

	assert.Same(t, session, c.Conn())
	assert.Equal(t, int64(0), c.Reconnects())
	assert.Equal(t, int64(2), script.Opens())
	assert.Equal(t, int64(1), script.Pings())
}

func TestRefreshReplacesBrokenSessionInPlace(t *testing.T) {
	p, script, _ := newTestPool(t, 2)

	var fail atomic.Bool
	fail.Store(true)
	script.OnExec(func(query string, args []driver.Value) (driver.Result, error) {
		if fail.CompareAndSwap(true, false) {
			return nil, pooltest.ConnectionError()
		}
		return pooltest.Result{Affected: 1}, nil
	})

	ctx := WithAffinity(context.Background(), 1)
	c, err := p.Acquire(ctx)
	require.NoError(t, err)

	_, err = c.Conn().ExecContext(ctx, "UPDATE t SET a = ?", 1)
	require.Error(t, err)

	require.NoError(t, p.Refresh(ctx, c))
	assert.Equal(t, 1, c.Index())
	assert.Equal(t, int64(1), c.Reconnects())
	assert.Equal(t, int64(3), script.Opens())

	_, err = c.Conn().ExecContext(ctx, "UPDATE t SET a = ?", 1)
	require.NoError(t, err)
	c.Release()

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, c, again)
	again.Release()
}

func TestRefreshReportsReconnectFailure(t *testing.T) {
	p, script, _ := newTestPool(t, 1)
	script.OnExec(func(string, []driver.Value) (driver.Result, error) {
		return nil, pooltest.ConnectionError()
	})

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()

	_, _ = c.Conn().ExecContext(context.Background(), "DELETE FROM t")
	script.FailOpen(errors.New("server gone"))

	err = p.Refresh(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server gone")

	script.FailOpen(nil)
	require.NoError(t, p.Refresh(context.Background(), c), "a later refresh reconnects")
	assert.NotNil(t, c.Conn())
}

func TestQueryBinder(t *testing.T) {
	var b QueryBinder
	b.Bind(1).Bind("two").BindAll(3.0, nil)

	assert.Equal(t, 4, b.Position())
	assert.Equal(t, []any{1, "two", 3.0, nil}, b.Args())

	b.Reset()
	assert.Equal(t, 0, b.Position())
	assert.Empty(t, b.Args())
}

func TestConnectionBinderIsRewoundOnEachUse(t *testing.T) {
	p, _, _ := newTestPool(t, 1)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c.Binder().Bind("leftover")
	c.Release()

	c, err = p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Release()
	assert.Equal(t, 0, c.Binder().Position())
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		path string
		opts SQLiteOptions
		want string
	}{
		{"/tmp/a.db", SQLiteOptions{}, "/tmp/a.db"},
		{"/tmp/a.db", SQLiteOptions{BusyTimeoutMS: 5000, ForeignKeys: true}, "/tmp/a.db?_busy_timeout=5000&_foreign_keys=on"},
		{"file:x.db?cache=shared", SQLiteOptions{JournalMode: "WAL"}, "file:x.db?cache=shared&_journal_mode=WAL"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sqliteDSN(tt.path, tt.opts))
	}
}

func TestSharedMemoryPath(t *testing.T) {
	a := sharedMemoryPath("")
	b := sharedMemoryPath("_loc=auto")

	assert.True(t, strings.HasPrefix(a, "file:blackhole-"))
	assert.True(t, strings.HasSuffix(a, "?cache=shared&mode=memory"))
	assert.Contains(t, b, "_loc=auto")
	nameA, _, _ := strings.Cut(a, "?")
	nameB, _, _ := strings.Cut(b, "?")
	assert.NotEqual(t, nameA, nameB)
}

func newSQLiteMemoryPool(t *testing.T, size int) *Pool {
	t.Helper()

	connector, err := NewSQLiteConnector(":memory:", SQLiteOptions{BusyTimeoutMS: 1000})
	require.NoError(t, err)
	p, err := New(context.Background(), connector, Config{Size: size, ValidationTimeout: time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSQLiteMemorySharedAcrossSlots(t *testing.T) {
	ctx := context.Background()
	p := newSQLiteMemoryPool(t, 2)

	first, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer first.Release()
	second, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer second.Release()
	require.NotEqual(t, first.Index(), second.Index())

	_, err = first.Conn().ExecContext(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)
	_, err = second.Conn().ExecContext(ctx, "INSERT INTO t (v) VALUES (1)")
	require.NoError(t, err)

	var n int
	require.NoError(t, first.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteMemoryIsPrivateToItsPool(t *testing.T) {
	ctx := context.Background()
	a := newSQLiteMemoryPool(t, 1)
	b := newSQLiteMemoryPool(t, 1)

	ca, err := a.Acquire(ctx)
	require.NoError(t, err)
	defer ca.Release()
	_, err = ca.Conn().ExecContext(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	cb, err := b.Acquire(ctx)
	require.NoError(t, err)
	defer cb.Release()
	_, err = cb.Conn().ExecContext(ctx, "INSERT INTO t (v) VALUES (1)")
	assert.Error(t, err)
}
