// Package repository maps entities onto SQL tables through the connection
// pool.
//
// Every operation runs in its own transaction on one pooled connection. A
// failure classified as a connection failure rolls back, refreshes the
// connection and runs the whole transaction once more; any other failure
// rolls back and is returned as is.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/clamentos/blackhole/internal/logger"
	"github.com/clamentos/blackhole/pkg/metrics"
	"github.com/clamentos/blackhole/pkg/pool"
)

// Operation names reported to metrics and carried by Error.
const (
	OpInsert = "insert"
	OpSelect = "select"
	OpUpdate = "update"
	OpDelete = "delete"
	OpExec   = "exec"
)

// Entity is a row of a table described by a Descriptor.
type Entity interface {
	// Values returns the column values in Descriptor.Columns order.
	Values() []any

	// Pointers returns scan destinations in Descriptor.Columns order.
	Pointers() []any
}

// Repository runs entity operations on pooled connections.
type Repository struct {
	pool    *pool.Pool
	metrics metrics.RepositoryMetrics
}

// New creates a Repository. A nil m disables metrics.
func New(p *pool.Pool, m metrics.RepositoryMetrics) *Repository {
	if p == nil {
		panic("repository: pool cannot be nil")
	}
	if m == nil {
		m = metrics.NewNoopRepositoryMetrics()
	}
	return &Repository{pool: p, metrics: m}
}

type txFunc func(ctx context.Context, tx *sql.Tx, binder *pool.QueryBinder) error

// Insert adds entities in one transaction using a single prepared
// statement. For AutoKey tables it returns the generated keys in entity
// order, otherwise nil.
func (r *Repository) Insert(ctx context.Context, d *Descriptor, entities ...Entity) ([]int64, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	query := d.InsertSQL()
	cols := d.insertColumns()

	var keys []int64
	err := r.run(ctx, OpInsert, d.Table, func(ctx context.Context, tx *sql.Tx, b *pool.QueryBinder) error {
		keys = keys[:0]

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entities {
			if err := bindColumns(b, d, e.Values(), cols); err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx, b.Args()...)
			if err != nil {
				return err
			}
			if d.AutoKey {
				id, err := res.LastInsertId()
				if err != nil {
					return err
				}
				keys = append(keys, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !d.AutoKey {
		return nil, nil
	}
	return keys, nil
}

// Select returns the rows whose masked columns equal those of filter. A zero
// mask returns every row and filter may be nil. newEntity supplies the scan
// target for each row.
func (r *Repository) Select(ctx context.Context, d *Descriptor, filter Entity, mask uint64, newEntity func() Entity) ([]Entity, error) {
	if err := d.checkMask(mask); err != nil {
		return nil, &Error{Op: OpSelect, Table: d.Table, Category: CategorySyntax, Err: err}
	}
	query := d.SelectSQL(mask)
	positions := d.masked(mask)

	var out []Entity
	err := r.run(ctx, OpSelect, d.Table, func(ctx context.Context, tx *sql.Tx, b *pool.QueryBinder) error {
		out = out[:0]

		if len(positions) > 0 {
			if err := bindColumns(b, d, filter.Values(), positions); err != nil {
				return err
			}
		}

		rows, err := tx.QueryContext(ctx, query, b.Args()...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e := newEntity()
			if err := rows.Scan(e.Pointers()...); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update writes the masked non-key columns of e to the row with e's primary
// key and returns the number of rows changed.
func (r *Repository) Update(ctx context.Context, d *Descriptor, e Entity, mask uint64) (int64, error) {
	if err := d.checkMask(mask); err != nil {
		return 0, &Error{Op: OpUpdate, Table: d.Table, Category: CategorySyntax, Err: err}
	}
	query, set, err := d.UpdateSQL(mask)
	if err != nil {
		return 0, &Error{Op: OpUpdate, Table: d.Table, Category: CategorySyntax, Err: err}
	}

	var affected int64
	err = r.run(ctx, OpUpdate, d.Table, func(ctx context.Context, tx *sql.Tx, b *pool.QueryBinder) error {
		values := e.Values()
		if err := bindColumns(b, d, values, set); err != nil {
			return err
		}
		b.Bind(values[0])

		res, err := tx.ExecContext(ctx, query, b.Args()...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// Delete removes the rows whose masked columns equal those of filter and
// returns how many went.
func (r *Repository) Delete(ctx context.Context, d *Descriptor, filter Entity, mask uint64) (int64, error) {
	if err := d.checkMask(mask); err != nil {
		return 0, &Error{Op: OpDelete, Table: d.Table, Category: CategorySyntax, Err: err}
	}
	query, positions, err := d.DeleteSQL(mask)
	if err != nil {
		return 0, &Error{Op: OpDelete, Table: d.Table, Category: CategorySyntax, Err: err}
	}

	var affected int64
	err = r.run(ctx, OpDelete, d.Table, func(ctx context.Context, tx *sql.Tx, b *pool.QueryBinder) error {
		if err := bindColumns(b, d, filter.Values(), positions); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, b.Args()...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// Exec runs a statement that maps to no entity, such as schema setup or a
// bulk delete, with the same transaction and retry rules as the entity
// operations. It returns the number of rows affected.
func (r *Repository) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := r.run(ctx, OpExec, "", func(ctx context.Context, tx *sql.Tx, _ *pool.QueryBinder) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		// Some drivers cannot count rows for DDL.
		if n, err := res.RowsAffected(); err == nil {
			affected = n
		}
		return nil
	})
	return affected, err
}

func bindColumns(b *pool.QueryBinder, d *Descriptor, values []any, positions []int) error {
	if len(values) != len(d.Columns) {
		return fmt.Errorf("entity has %d values, table %s has %d columns", len(values), d.Table, len(d.Columns))
	}
	b.Reset()
	for _, p := range positions {
		b.Bind(values[p])
	}
	return nil
}

func (r *Repository) run(ctx context.Context, op, table string, fn txFunc) (err error) {
	start := time.Now()
	retried := false
	defer func() {
		r.metrics.RecordOperation(op, time.Since(start), retried, err)
	}()

	c, err := r.pool.Acquire(ctx)
	if err != nil {
		return &Error{Op: op, Table: table, Category: CategoryConnection, Err: err}
	}
	defer c.Release()

	err = attempt(ctx, c, fn)
	if err != nil && Classify(err) == CategoryConnection {
		logger.Warn("Repository %s %s lost its connection, retrying once: %v", op, table, err)

		if rerr := r.pool.Refresh(ctx, c); rerr != nil {
			return &Error{Op: op, Table: table, Category: CategoryConnection, Err: fmt.Errorf("%w (refresh: %v)", err, rerr)}
		}
		retried = true
		err = attempt(ctx, c, fn)
	}
	if err != nil {
		category := Classify(err)
		logger.Debug("Repository %s %s failed (%s): %v", op, table, category, err)
		return &Error{Op: op, Table: table, Category: category, Err: err}
	}
	return nil
}

func attempt(ctx context.Context, c *pool.Connection, fn txFunc) error {
	conn := c.Conn()
	if conn == nil {
		return driver.ErrBadConn
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx, c.Binder()); err != nil {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			logger.Debug("Rollback failed: %v", rerr)
		}
		return err
	}
	return tx.Commit()
}
