package driver

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/mr-fatalyst/oxyde/internal/debug"
	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
	"github.com/mr-fatalyst/oxyde/telemetry"
)

// Tx is a transaction handle pinned to one connection. Depth 0 means no
// active transaction; depth >= 1 is an open BEGIN plus a savepoint stack of
// size depth-1. The handle is owned by the registry's table while active.
type Tx struct {
	id   uint64
	pool *Pool
	conn *sql.Conn

	// mu serialises use of the handle. Concurrent use from two tasks is a
	// usage error, so contention is detected with TryLock rather than waited
	// out; only the reaper, pool shutdown and the Depth accessor block on it.
	mu sync.Mutex

	depth        int
	rollbackOnly bool
	poisoned     bool
	done         bool

	createdAt time.Time
	deadline  time.Time
}

// ID returns the opaque handle id.
func (t *Tx) ID() uint64 { return t.id }

// Depth returns the current nesting depth.
func (t *Tx) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.depth
}

// lockForUse guards one owner-driven operation on the handle.
func (t *Tx) lockForUse() error {
	if !t.mu.TryLock() {
		return oxerr.New(oxerr.KindUsage, "transaction %d is in use by another task", t.id)
	}
	if t.done {
		t.mu.Unlock()
		return oxerr.New(oxerr.KindUsage, "transaction %d is already finalised", t.id)
	}
	return nil
}

func (t *Tx) savepointName(depth int) string {
	return fmt.Sprintf("sp%d", depth)
}

// exec runs one statement on the pinned connection, poisoning the handle on
// cancellation.
func (t *Tx) exec(ctx context.Context, stmt string, args ...any) error {
	_, err := t.conn.ExecContext(ctx, stmt, args...)
	if err != nil {
		if ctx.Err() != nil {
			t.poisoned = true
		}
		return classify(err)
	}
	return nil
}

// lookupTx resolves a transaction id.
func (r *Registry) lookupTx(id uint64) (*Tx, error) {
	v, ok := r.txs.Load(id)
	if !ok {
		return nil, oxerr.New(oxerr.KindUsage, "unknown transaction %d", id)
	}
	return v.(*Tx), nil
}

// Begin pins a connection from the named pool and opens a transaction on it.
// Depth becomes 1 only after BEGIN succeeds.
func (r *Registry) Begin(ctx context.Context, poolName string) (uint64, error) {
	pool, err := r.Pool(poolName)
	if err != nil {
		return 0, err
	}
	conn, err := pool.acquire(ctx)
	if err != nil {
		return 0, err
	}

	tx := &Tx{
		id:        r.nextTx.Add(1),
		pool:      pool,
		conn:      conn,
		createdAt: time.Now(),
		deadline:  time.Now().Add(pool.settings.TransactionTimeout),
	}
	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		discard(conn)
		return 0, classify(err)
	}
	tx.depth = 1
	r.txs.Store(tx.id, tx)
	debug.Debug("transaction begun", "pool", poolName, "tx", tx.id)
	return tx.id, nil
}

// BeginNested increments the savepoint stack of an active handle. Depth is
// incremented only after the SAVEPOINT statement succeeds; a failed savepoint
// leaves the outer transaction usable.
func (r *Registry) BeginNested(ctx context.Context, id uint64) error {
	tx, err := r.lookupTx(id)
	if err != nil {
		return err
	}
	if err := tx.lockForUse(); err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if tx.poisoned {
		return oxerr.New(oxerr.KindTransactionPoisoned, "transaction %d is poisoned", id)
	}
	if err := tx.exec(ctx, "SAVEPOINT "+tx.savepointName(tx.depth)); err != nil {
		return err
	}
	tx.depth++
	return nil
}

// Commit commits the current scope: COMMIT at depth 1 (honouring the
// rollback flag), RELEASE SAVEPOINT above it.
func (r *Registry) Commit(ctx context.Context, id uint64) error {
	tx, err := r.lookupTx(id)
	if err != nil {
		return err
	}
	if err := tx.lockForUse(); err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if tx.poisoned {
		return oxerr.New(oxerr.KindTransactionPoisoned, "transaction %d is poisoned", id)
	}

	if tx.depth > 1 {
		if err := tx.exec(ctx, "RELEASE SAVEPOINT "+tx.savepointName(tx.depth-1)); err != nil {
			return err
		}
		tx.depth--
		return nil
	}

	stmt := "COMMIT"
	if tx.rollbackOnly {
		stmt = "ROLLBACK"
	}
	err = tx.exec(ctx, stmt)
	r.finalize(tx, err)
	if err != nil {
		return err
	}
	debug.Debug("transaction finalised", "tx", id, "stmt", stmt)
	kind := "tx_commit"
	if stmt == "ROLLBACK" {
		kind = "tx_rollback"
	}
	telemetry.Record(telemetry.Event{Kind: kind, Pool: tx.pool.name, Dialect: string(tx.pool.dialect)})
	return nil
}

// Rollback rolls back the current scope: ROLLBACK at depth 1 or on a
// poisoned handle, ROLLBACK TO SAVEPOINT above it.
func (r *Registry) Rollback(ctx context.Context, id uint64) error {
	tx, err := r.lookupTx(id)
	if err != nil {
		return err
	}
	if err := tx.lockForUse(); err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if tx.depth > 1 && !tx.poisoned {
		if err := tx.exec(ctx, "ROLLBACK TO SAVEPOINT "+tx.savepointName(tx.depth-1)); err != nil {
			return err
		}
		tx.depth--
		return nil
	}

	err = tx.exec(ctx, "ROLLBACK")
	r.finalize(tx, err)
	return err
}

// SetRollbackOnly forces the outermost commit path to roll back.
func (r *Registry) SetRollbackOnly(id uint64) error {
	tx, err := r.lookupTx(id)
	if err != nil {
		return err
	}
	if err := tx.lockForUse(); err != nil {
		return err
	}
	defer tx.mu.Unlock()
	tx.rollbackOnly = true
	return nil
}

var savepointNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CreateSavepoint opens a caller-named savepoint on an active handle.
func (r *Registry) CreateSavepoint(ctx context.Context, id uint64, name string) error {
	return r.savepointOp(ctx, id, name, "SAVEPOINT ", +1)
}

// RollbackToSavepoint rolls back to a caller-named savepoint.
func (r *Registry) RollbackToSavepoint(ctx context.Context, id uint64, name string) error {
	return r.savepointOp(ctx, id, name, "ROLLBACK TO SAVEPOINT ", -1)
}

// ReleaseSavepoint releases a caller-named savepoint.
func (r *Registry) ReleaseSavepoint(ctx context.Context, id uint64, name string) error {
	return r.savepointOp(ctx, id, name, "RELEASE SAVEPOINT ", -1)
}

func (r *Registry) savepointOp(ctx context.Context, id uint64, name, prefix string, delta int) error {
	if !savepointNameRE.MatchString(name) {
		return oxerr.New(oxerr.KindUsage, "invalid savepoint name %q", name)
	}
	tx, err := r.lookupTx(id)
	if err != nil {
		return err
	}
	if err := tx.lockForUse(); err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if tx.poisoned {
		return oxerr.New(oxerr.KindTransactionPoisoned, "transaction %d is poisoned", id)
	}
	if tx.depth < 1 {
		return oxerr.New(oxerr.KindUsage, "transaction %d has no open scope", id)
	}
	if err := tx.exec(ctx, prefix+name); err != nil {
		return err
	}
	if tx.depth+delta >= 1 {
		tx.depth += delta
	}
	return nil
}

// finalize releases the pinned connection and removes the handle. The
// connection returns to the pool unless the finalising statement failed at
// the connection level.
func (r *Registry) finalize(tx *Tx, err error) {
	if tx.done {
		return
	}
	tx.done = true
	tx.depth = 0
	r.txs.Delete(tx.id)
	releaseAfter(tx.conn, err)
}

// forceRollback finalises a handle from the reaper or pool shutdown path.
// Double finalisation with the owner is a no-op.
func (r *Registry) forceRollback(ctx context.Context, tx *Tx, kind oxerr.Kind) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.poisoned = true
	_, execErr := tx.conn.ExecContext(ctx, "ROLLBACK")
	r.finalize(tx, classifyOrNil(execErr))
	if kind == oxerr.KindTransactionTimeout {
		debug.Warn("transaction reaped", "tx", tx.id, "pool", tx.pool.name)
		telemetry.Record(telemetry.Event{Kind: "tx_reaped", Pool: tx.pool.name, Dialect: string(tx.pool.dialect)})
	}
	return classifyOrNil(execErr)
}

func classifyOrNil(err error) error {
	if err == nil {
		return nil
	}
	return classify(err)
}

// Poison marks the handle poisoned after a cancelled in-flight statement.
func (t *Tx) Poison() {
	t.poisoned = true
}

// SchemaLock takes the backend's advisory lock on the pinned connection so
// schema mutation is serialised across processes. Lock and unlock run on the
// same connection by construction. SQLite relies on database-level locking.
func (r *Registry) SchemaLock(ctx context.Context, id uint64, key string) error {
	return r.advisory(ctx, id, key, true)
}

// SchemaUnlock releases the advisory lock taken by SchemaLock.
func (r *Registry) SchemaUnlock(ctx context.Context, id uint64, key string) error {
	return r.advisory(ctx, id, key, false)
}

func (r *Registry) advisory(ctx context.Context, id uint64, key string, lock bool) error {
	tx, err := r.lookupTx(id)
	if err != nil {
		return err
	}
	if err := tx.lockForUse(); err != nil {
		return err
	}
	defer tx.mu.Unlock()

	if tx.poisoned {
		return oxerr.New(oxerr.KindTransactionPoisoned, "transaction %d is poisoned", id)
	}

	switch tx.pool.dialect {
	case sqlgen.Postgres:
		fn := "pg_advisory_lock"
		if !lock {
			fn = "pg_advisory_unlock"
		}
		_, err := tx.conn.ExecContext(ctx, "SELECT "+fn+"($1)", advisoryKey(key))
		return classifyOrNil(err)
	case sqlgen.MySQL:
		if lock {
			_, err := tx.conn.ExecContext(ctx, "SELECT GET_LOCK(?, ?)", key, int64(tx.pool.settings.AcquireTimeout/time.Second))
			return classifyOrNil(err)
		}
		_, err := tx.conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", key)
		return classifyOrNil(err)
	default:
		// SQLite locks at the database level.
		return nil
	}
}

// advisoryKey folds the key into the int64 space Postgres advisory locks use.
func advisoryKey(key string) int64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return int64(h)
}
