package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clamentos/blackhole/pkg/metrics"
	"github.com/clamentos/blackhole/pkg/pool"
	"github.com/clamentos/blackhole/pkg/pool/pooltest"
)

type user struct {
	ID    int64
	Name  string
	Email string
}

func (u *user) Values() []any   { return []any{u.ID, u.Name, u.Email} }
func (u *user) Pointers() []any { return []any{&u.ID, &u.Name, &u.Email} }

var users = &Descriptor{
	Table:   "users",
	Columns: []string{"id", "name", "email"},
	AutoKey: true,
}

func newTestRepository(t *testing.T, size int) (*Repository, *pooltest.Script, *metrics.Stats) {
	t.Helper()

	script := pooltest.New()
	stats := metrics.NewStats(nil, nil, nil)
	p, err := pool.New(context.Background(), pool.NewDBConnector(script.Open(), pooltest.DriverName), pool.Config{
		Size:              size,
		ValidationTimeout: time.Second,
	}, stats)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	return New(p, stats), script, stats
}

func counter(t *testing.T, stats *metrics.Stats, name string) int64 {
	t.Helper()
	v, ok := metrics.Value(stats.Snapshot(), name)
	require.True(t, ok, "missing sample %s", name)
	return v
}

func TestDescriptorSQL(t *testing.T) {
	assert.Equal(t, "INSERT INTO users (name, email) VALUES (?, ?)", users.InsertSQL())
	assert.Equal(t, "SELECT id, name, email FROM users", users.SelectSQL(0))
	assert.Equal(t, "SELECT id, name, email FROM users WHERE name = ? AND email = ?", users.SelectSQL(Mask(1, 2)))

	query, set, err := users.UpdateSQL(Mask(0, 2))
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET email = ? WHERE id = ?", query)
	assert.Equal(t, []int{2}, set)

	query, filter, err := users.DeleteSQL(Mask(0))
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE id = ?", query)
	assert.Equal(t, []int{0}, filter)

	manual := &Descriptor{Table: "tags", Columns: []string{"name", "color"}}
	assert.Equal(t, "INSERT INTO tags (name, color) VALUES (?, ?)", manual.InsertSQL())
}

func TestDescriptorRejectsEmptyMasks(t *testing.T) {
	_, _, err := users.UpdateSQL(Mask(0))
	assert.ErrorIs(t, err, ErrEmptyMask, "the key bit alone updates nothing")

	_, _, err = users.DeleteSQL(0)
	assert.ErrorIs(t, err, ErrEmptyMask)

	assert.ErrorIs(t, users.checkMask(Mask(3)), ErrInvalidMask)
	assert.NoError(t, users.checkMask(Mask(0, 1, 2)))
}

func TestDescriptorValidate(t *testing.T) {
	assert.NoError(t, users.Validate())

	bad := []*Descriptor{
		{Table: "users; DROP TABLE x", Columns: []string{"id"}},
		{Table: "users", Columns: nil},
		{Table: "users", Columns: []string{"id", "na-me"}},
		{Table: "users", Columns: []string{"id", "id"}},
	}
	for _, d := range bad {
		assert.Error(t, d.Validate(), "%+v", d)
	}
}

func TestInsertBatchReturnsGeneratedKeys(t *testing.T) {
	repo, script, stats := newTestRepository(t, 2)

	var next atomic.Int64
	var bound [][]driver.Value
	script.OnExec(func(query string, args []driver.Value) (driver.Result, error) {
		bound = append(bound, args)
		return pooltest.Result{LastID: 100 + next.Add(1), Affected: 1}, nil
	})

	keys, err := repo.Insert(context.Background(), users,
		&user{Name: "ada", Email: "ada@example.com"},
		&user{Name: "bob", Email: "bob@example.com"},
	)
	require.NoError(t, err)

	assert.Equal(t, []int64{101, 102}, keys)
	assert.Equal(t, [][]driver.Value{
		{"ada", "ada@example.com"},
		{"bob", "bob@example.com"},
	}, bound)
	assert.Equal(t, int64(1), script.Commits())
	assert.Equal(t, int64(1), counter(t, stats, "repository_successes"))
}

func TestSelectScansRows(t *testing.T) {
	repo, script, _ := newTestRepository(t, 1)

	var gotArgs []driver.Value
	script.OnQuery(func(query string, args []driver.Value) (driver.Rows, error) {
		gotArgs = args
		return pooltest.NewRows(users.Columns,
			[]driver.Value{int64(1), "ada", "ada@example.com"},
			[]driver.Value{int64(2), "ada", "ada@example.org"},
		), nil
	})

	rows, err := repo.Select(context.Background(), users, &user{Name: "ada"}, Mask(1), func() Entity { return &user{} })
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, &user{ID: 1, Name: "ada", Email: "ada@example.com"}, rows[0])
	assert.Equal(t, &user{ID: 2, Name: "ada", Email: "ada@example.org"}, rows[1])
	assert.Equal(t, []driver.Value{"ada"}, gotArgs)
	assert.Equal(t, []string{"SELECT id, name, email FROM users WHERE name = ?"}, script.Statements())
}

func TestUpdateBindsSetColumnsThenKey(t *testing.T) {
	repo, script, _ := newTestRepository(t, 1)

	var gotQuery string
	var gotArgs []driver.Value
	script.OnExec(func(query string, args []driver.Value) (driver.Result, error) {
		gotQuery, gotArgs = query, args
		return pooltest.Result{Affected: 1}, nil
	})

	n, err := repo.Update(context.Background(), users, &user{ID: 7, Name: "ada", Email: "new@example.com"}, Mask(0, 2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), n)
	assert.Equal(t, "UPDATE users SET email = ? WHERE id = ?", gotQuery)
	assert.Equal(t, []driver.Value{"new@example.com", int64(7)}, gotArgs)
}

func TestDeleteRefusesZeroMask(t *testing.T) {
	repo, script, _ := newTestRepository(t, 1)

	_, err := repo.Delete(context.Background(), users, &user{}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyMask)
	assert.Equal(t, CategorySyntax, CategoryOf(err))
	assert.Empty(t, script.Statements(), "nothing reaches the database")
}

func TestRetryOnceAfterConnectionFailure(t *testing.T) {
	repo, script, stats := newTestRepository(t, 1)

	var calls atomic.Int32
	script.OnExec(func(query string, args []driver.Value) (driver.Result, error) {
		if calls.Add(1) == 1 {
			return nil, pooltest.ConnectionError()
		}
		return pooltest.Result{Affected: 3}, nil
	})

	n, err := repo.Delete(context.Background(), users, &user{Name: "ada"}, Mask(1))
	require.NoError(t, err)

	assert.Equal(t, int64(3), n)
	assert.Equal(t, int32(2), calls.Load(), "exactly one retry")
	assert.Equal(t, int64(1), script.Rollbacks())
	assert.Equal(t, int64(1), script.Commits())
	assert.Equal(t, int64(2), script.Opens(), "the broken session was replaced")
	assert.Equal(t, int64(1), counter(t, stats, "repository_retries"))
	assert.Equal(t, int64(1), counter(t, stats, "pool_reconnects"))
	assert.Equal(t, int64(1), counter(t, stats, "repository_successes"))
}

func TestConnectionFailureTwiceGivesUp(t *testing.T) {
	repo, script, stats := newTestRepository(t, 1)

	var calls atomic.Int32
	script.OnExec(func(string, []driver.Value) (driver.Result, error) {
		calls.Add(1)
		return nil, pooltest.ConnectionError()
	})

	_, err := repo.Delete(context.Background(), users, &user{ID: 1}, Mask(0))
	require.Error(t, err)

	assert.Equal(t, CategoryConnection, CategoryOf(err))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), counter(t, stats, "repository_failures"))
}

func TestNoRetryOnDataFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
	}{
		{"integrity", pooltest.IntegrityError(), CategoryIntegrity},
		{"syntax", pooltest.SyntaxError(), CategorySyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, script, stats := newTestRepository(t, 1)

			var calls atomic.Int32
			script.OnExec(func(string, []driver.Value) (driver.Result, error) {
				calls.Add(1)
				return nil, tt.err
			})

			_, err := repo.Insert(context.Background(), users, &user{Name: "ada"})
			require.Error(t, err)

			var repoErr *Error
			require.ErrorAs(t, err, &repoErr)
			assert.Equal(t, OpInsert, repoErr.Op)
			assert.Equal(t, "users", repoErr.Table)
			assert.Equal(t, tt.category, repoErr.Category)

			assert.Equal(t, int32(1), calls.Load(), "no retry")
			assert.Equal(t, int64(1), script.Rollbacks())
			assert.Equal(t, int64(1), script.Opens())
			assert.Equal(t, int64(0), counter(t, stats, "repository_retries"))
		})
	}
}

func TestExecRunsStatement(t *testing.T) {
	repo, script, _ := newTestRepository(t, 1)

	_, err := repo.Exec(context.Background(), "CREATE TABLE IF NOT EXISTS t (id BIGINT)")
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE TABLE IF NOT EXISTS t (id BIGINT)"}, script.Statements())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryUnknown},
		{"plain", errors.New("boom"), CategoryUnknown},
		{"bad conn", driver.ErrBadConn, CategoryConnection},
		{"invalid mysql conn", mysql.ErrInvalidConn, CategoryConnection},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, CategoryConnection},
		{"pool closed", pool.ErrPoolClosed, CategoryConnection},
		{"duplicate", &mysql.MySQLError{Number: 1062}, CategoryIntegrity},
		{"foreign key", &mysql.MySQLError{Number: 1452}, CategoryIntegrity},
		{"parse", &mysql.MySQLError{Number: 1064}, CategorySyntax},
		{"gone away", &mysql.MySQLError{Number: 2006}, CategoryConnection},
		{"other mysql", &mysql.MySQLError{Number: 1205}, CategoryUnknown},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, CategoryIntegrity},
		{"sqlite error", sqlite3.Error{Code: sqlite3.ErrError}, CategorySyntax},
		{"sqlite io", sqlite3.Error{Code: sqlite3.ErrIoErr}, CategoryConnection},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
