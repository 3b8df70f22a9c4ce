package driver

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mr-fatalyst/oxyde/hydrate"
	"github.com/mr-fatalyst/oxyde/internal/debug"
	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/codec"
	"github.com/mr-fatalyst/oxyde/query/ir"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
	"github.com/mr-fatalyst/oxyde/telemetry"
)

// runner is the common face of a pooled connection and a pinned transaction
// connection.
type runner interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Execute compiles and runs the IR against the named pool, or against the
// pinned connection of txID when non-zero. Connections acquired for
// stand-alone execution are released on success and failure alike.
func (r *Registry) Execute(ctx context.Context, poolName string, q *ir.QueryIR, txID uint64) (*codec.Result, error) {
	pool, err := r.Pool(poolName)
	if err != nil {
		return nil, err
	}

	if txID != 0 {
		tx, err := r.lookupTx(txID)
		if err != nil {
			return nil, err
		}
		if err := tx.lockForUse(); err != nil {
			return nil, err
		}
		defer tx.mu.Unlock()
		if tx.poisoned {
			return nil, oxerr.New(oxerr.KindTransactionPoisoned, "transaction %d is poisoned", txID)
		}
		if tx.pool != pool {
			return nil, oxerr.New(oxerr.KindUsage, "transaction %d belongs to pool %q, not %q", txID, tx.pool.name, poolName)
		}
		res, err := r.run(ctx, pool, tx.conn, q)
		if err != nil && ctx.Err() != nil {
			tx.Poison()
		}
		return res, err
	}

	conn, err := pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	res, err := r.run(ctx, pool, conn, q)
	releaseAfter(conn, err)
	return res, err
}

// ExecuteGet runs a SELECT expected to yield exactly one row.
func (r *Registry) ExecuteGet(ctx context.Context, poolName string, q *ir.QueryIR, txID uint64) (*codec.Result, error) {
	res, err := r.Execute(ctx, poolName, q, txID)
	if err != nil {
		return nil, err
	}
	switch len(res.Rows) {
	case 1:
		return res, nil
	case 0:
		return nil, oxerr.New(oxerr.KindNotFound, "expected one row from %q, found none", q.Table)
	default:
		return nil, oxerr.New(oxerr.KindMultipleFound, "expected one row from %q, found %d", q.Table, len(res.Rows))
	}
}

// RenderSQL compiles the IR for the named pool's dialect without executing.
func (r *Registry) RenderSQL(poolName string, q *ir.QueryIR) (*sqlgen.Query, error) {
	pool, err := r.Pool(poolName)
	if err != nil {
		return nil, err
	}
	return sqlgen.BuildWithCaps(q, pool.dialect, pool.caps)
}

func (r *Registry) run(ctx context.Context, pool *Pool, rn runner, q *ir.QueryIR) (*codec.Result, error) {
	start := time.Now()
	res, err := r.dispatch(ctx, pool, rn, q)
	telemetry.Record(telemetry.Event{
		Kind:      "execute",
		Pool:      pool.name,
		Dialect:   string(pool.dialect),
		Duration:  time.Since(start),
		ErrorKind: string(oxerr.KindOf(err)),
	})
	return res, err
}

func (r *Registry) dispatch(ctx context.Context, pool *Pool, rn runner, q *ir.QueryIR) (*codec.Result, error) {
	switch q.Op {
	case ir.OpInsert:
		return r.runInsert(ctx, pool, rn, q)
	case ir.OpUpdate, ir.OpDelete:
		return r.runMutation(ctx, pool, rn, q)
	case ir.OpExplain:
		return r.runExplain(ctx, pool, rn, q)
	default:
		return r.runRows(ctx, pool, rn, q)
	}
}

// runRows executes SELECT and RAW, which both return row sets.
func (r *Registry) runRows(ctx context.Context, pool *Pool, rn runner, q *ir.QueryIR) (*codec.Result, error) {
	built, err := sqlgen.BuildWithCaps(q, pool.dialect, pool.caps)
	if err != nil {
		return nil, err
	}
	debug.Debug("executing", "pool", pool.name, "sql", built.SQL)

	rows, err := rn.QueryContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return nil, classify(err)
	}
	columns, data, err := hydrate.Rows(rows, pool.dialect)
	rows.Close()
	if err != nil {
		return nil, err
	}

	res := &codec.Result{Kind: codec.ResultRows, Columns: columns, Rows: data}
	if q.Op == ir.OpSelect && len(q.Prefetches) > 0 {
		if err := r.runPrefetches(ctx, pool, rn, q, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// runPrefetches resolves reverse relations with follow-up SELECTs whose IN
// list is the parent keys of the first result, in strict order on the same
// connection.
func (r *Registry) runPrefetches(ctx context.Context, pool *Pool, rn runner, q *ir.QueryIR, res *codec.Result) error {
	for _, p := range q.Prefetches {
		parentIdx := -1
		for i, c := range res.Columns {
			if c == p.ParentColumn {
				parentIdx = i
				break
			}
		}
		if parentIdx < 0 {
			return oxerr.New(oxerr.KindUsage, "prefetch %q parent column %q is not projected", p.Name, p.ParentColumn)
		}

		seen := make(map[any]bool)
		keys := make([]any, 0, len(res.Rows))
		for _, row := range res.Rows {
			k := row[parentIdx]
			if k == nil {
				continue
			}
			if b, ok := k.([]byte); ok {
				// Byte keys are not map-hashable; dedupe on their string form.
				k = string(b)
			}
			if seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}

		child := &ir.QueryIR{
			Proto:   ir.ProtoVersion,
			Op:      ir.OpSelect,
			Table:   p.Table,
			Columns: p.Columns,
			Filter:  ir.Cond(p.ChildColumn, ir.LookupIn, keys),
		}
		childRes, err := r.runRows(ctx, pool, rn, child)
		if err != nil {
			return err
		}
		if res.Prefetched == nil {
			res.Prefetched = make(map[string]*codec.Result)
		}
		res.Prefetched[p.Name] = childRes
	}
	return nil
}

// runInsert executes INSERT, chunking batches above the builder bound and
// reporting inserted primary keys. Without RETURNING support the dialect's
// last-insert id is read in the same round-trip; for multi-row MySQL inserts
// the reported range is approximate under concurrent writers.
func (r *Registry) runInsert(ctx context.Context, pool *Pool, rn runner, q *ir.QueryIR) (*codec.Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	batch := pool.settings.InsertBatchSize
	if batch <= 0 || batch > sqlgen.MaxInsertRows {
		batch = sqlgen.MaxInsertRows
	}

	total := &codec.Result{Kind: codec.ResultMutation}
	for start := 0; start < len(q.Values); start += batch {
		end := start + batch
		if end > len(q.Values) {
			end = len(q.Values)
		}
		chunk := *q
		chunk.Values = q.Values[start:end]
		if err := r.runInsertChunk(ctx, pool, rn, &chunk, total); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (r *Registry) runInsertChunk(ctx context.Context, pool *Pool, rn runner, q *ir.QueryIR, total *codec.Result) error {
	useReturning := pool.caps.Returning && len(q.Returning) > 0
	built, err := sqlgen.BuildWithCaps(q, pool.dialect, pool.caps)
	if err != nil {
		return err
	}
	debug.Debug("executing", "pool", pool.name, "sql", built.SQL)

	if useReturning {
		rows, err := rn.QueryContext(ctx, built.SQL, built.Args...)
		if err != nil {
			return classify(err)
		}
		columns, data, err := hydrate.Rows(rows, pool.dialect)
		rows.Close()
		if err != nil {
			return err
		}
		total.Affected += int64(len(data))
		total.ReturningColumns = columns
		total.Returning = append(total.Returning, data...)

		pk := q.PKColumn
		if pk == "" {
			pk = "id"
		}
		for i, c := range columns {
			if c != pk {
				continue
			}
			for _, row := range data {
				total.InsertedIDs = append(total.InsertedIDs, row[i])
			}
			break
		}
		return nil
	}

	res, err := rn.ExecContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = int64(len(q.Values))
	}
	total.Affected += affected

	lastID, err := res.LastInsertId()
	if err != nil {
		return nil
	}
	n := int64(len(q.Values))
	if n == 1 {
		total.InsertedIDs = append(total.InsertedIDs, lastID)
		return nil
	}
	// MySQL reports the first generated id of the batch, SQLite the last.
	total.Approximate = true
	if pool.dialect == sqlgen.MySQL {
		for i := int64(0); i < n; i++ {
			total.InsertedIDs = append(total.InsertedIDs, lastID+i)
		}
	} else {
		for i := lastID - n + 1; i <= lastID; i++ {
			total.InsertedIDs = append(total.InsertedIDs, i)
		}
	}
	return nil
}

// runMutation executes UPDATE and DELETE, routing through a row query when a
// supported RETURNING clause is requested.
func (r *Registry) runMutation(ctx context.Context, pool *Pool, rn runner, q *ir.QueryIR) (*codec.Result, error) {
	built, err := sqlgen.BuildWithCaps(q, pool.dialect, pool.caps)
	if err != nil {
		return nil, err
	}
	debug.Debug("executing", "pool", pool.name, "sql", built.SQL)

	if pool.caps.Returning && len(q.Returning) > 0 {
		rows, err := rn.QueryContext(ctx, built.SQL, built.Args...)
		if err != nil {
			return nil, classify(err)
		}
		columns, data, err := hydrate.Rows(rows, pool.dialect)
		rows.Close()
		if err != nil {
			return nil, err
		}
		return &codec.Result{
			Kind:             codec.ResultMutation,
			Affected:         int64(len(data)),
			ReturningColumns: columns,
			Returning:        data,
		}, nil
	}

	res, err := rn.ExecContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return nil, classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, classify(err)
	}
	return &codec.Result{Kind: codec.ResultMutation, Affected: affected}, nil
}

// runExplain executes the prefixed statement and shapes the backend's plan
// output: single-column text plans are joined into one string, anything else
// comes back as raw rows.
func (r *Registry) runExplain(ctx context.Context, pool *Pool, rn runner, q *ir.QueryIR) (*codec.Result, error) {
	built, err := sqlgen.BuildWithCaps(q, pool.dialect, pool.caps)
	if err != nil {
		return nil, err
	}
	rows, err := rn.QueryContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return nil, classify(err)
	}
	columns, data, err := hydrate.Rows(rows, pool.dialect)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if len(columns) == 1 {
		lines := make([]string, 0, len(data))
		textOnly := true
		for _, row := range data {
			s, ok := row[0].(string)
			if !ok {
				textOnly = false
				break
			}
			lines = append(lines, s)
		}
		if textOnly {
			return &codec.Result{Kind: codec.ResultPlan, Plan: strings.Join(lines, "\n")}, nil
		}
	}
	return &codec.Result{Kind: codec.ResultPlan, Plan: data, Columns: columns}, nil
}
