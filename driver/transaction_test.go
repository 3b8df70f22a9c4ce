package driver

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
)

func expectExec(mock sqlmock.Sqlmock, stmt string) {
	mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestNestedTransactionFlow(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())
	ctx := context.Background()

	expectExec(mock, "BEGIN")
	mock.ExpectExec(`INSERT INTO "users" ("name") VALUES ($1)`).
		WithArgs("A").WillReturnResult(sqlmock.NewResult(1, 1))
	expectExec(mock, "SAVEPOINT sp1")
	mock.ExpectExec(`INSERT INTO "posts" ("title") VALUES ($1)`).
		WithArgs("X").WillReturnResult(sqlmock.NewResult(1, 1))
	expectExec(mock, "ROLLBACK TO SAVEPOINT sp1")
	expectExec(mock, "COMMIT")

	txID, err := r.Begin(ctx, "main")
	require.NoError(t, err)

	insert := func(table, col, val string) {
		q := &ir.QueryIR{
			Proto:  ir.ProtoVersion,
			Op:     ir.OpInsert,
			Table:  table,
			Values: [][]ir.ColumnValue{{{Column: col, Value: val}}},
		}
		_, err := r.Execute(ctx, "main", q, txID)
		require.NoError(t, err)
	}

	insert("users", "name", "A")

	require.NoError(t, r.BeginNested(ctx, txID)) // depth 2
	insert("posts", "title", "X")
	require.NoError(t, r.Rollback(ctx, txID)) // back to depth 1

	tx, err := r.lookupTx(txID)
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Depth())

	require.NoError(t, r.Commit(ctx, txID)) // depth 0, conn released

	_, err = r.lookupTx(txID)
	require.Error(t, err, "finalised handle leaves the table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepthBookkeeping(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())
	ctx := context.Background()

	expectExec(mock, "BEGIN")
	expectExec(mock, "SAVEPOINT sp1")
	expectExec(mock, "SAVEPOINT sp2")
	expectExec(mock, "RELEASE SAVEPOINT sp2")
	expectExec(mock, "RELEASE SAVEPOINT sp1")
	expectExec(mock, "COMMIT")

	txID, err := r.Begin(ctx, "main")
	require.NoError(t, err)
	tx, err := r.lookupTx(txID)
	require.NoError(t, err)

	require.NoError(t, r.BeginNested(ctx, txID))
	require.NoError(t, r.BeginNested(ctx, txID))
	assert.Equal(t, 3, tx.Depth())

	require.NoError(t, r.Commit(ctx, txID))
	require.NoError(t, r.Commit(ctx, txID))
	assert.Equal(t, 1, tx.Depth())

	require.NoError(t, r.Commit(ctx, txID))
	_, err = r.lookupTx(txID)
	assert.Error(t, err, "depth returned to zero only at finalisation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackOnlyFlagForcesRollback(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())
	ctx := context.Background()

	expectExec(mock, "BEGIN")
	expectExec(mock, "ROLLBACK")

	txID, err := r.Begin(ctx, "main")
	require.NoError(t, err)
	require.NoError(t, r.SetRollbackOnly(txID))

	require.NoError(t, r.Commit(ctx, txID), "commit path executes ROLLBACK when flagged")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedSavepointKeepsOuterUsable(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())
	ctx := context.Background()

	expectExec(mock, "BEGIN")
	mock.ExpectExec("SAVEPOINT sp1").WillReturnError(assertableError("savepoint refused"))
	expectExec(mock, "COMMIT")

	txID, err := r.Begin(ctx, "main")
	require.NoError(t, err)

	err = r.BeginNested(ctx, txID)
	require.Error(t, err)

	tx, lookupErr := r.lookupTx(txID)
	require.NoError(t, lookupErr)
	assert.Equal(t, 1, tx.Depth(), "depth unchanged after failed savepoint")

	require.NoError(t, r.Commit(ctx, txID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type assertableError string

func (e assertableError) Error() string { return string(e) }

func TestNamedSavepoints(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())
	ctx := context.Background()

	expectExec(mock, "BEGIN")
	expectExec(mock, "SAVEPOINT before_risky")
	expectExec(mock, "ROLLBACK TO SAVEPOINT before_risky")
	expectExec(mock, "ROLLBACK")

	txID, err := r.Begin(ctx, "main")
	require.NoError(t, err)

	require.NoError(t, r.CreateSavepoint(ctx, txID, "before_risky"))
	require.NoError(t, r.RollbackToSavepoint(ctx, txID, "before_risky"))

	err = r.CreateSavepoint(ctx, txID, "bad name; DROP")
	require.Error(t, err)
	assert.True(t, oxerr.IsKind(err, oxerr.KindUsage))

	require.NoError(t, r.Rollback(ctx, txID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoisonedHandleRejectsWork(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())
	ctx := context.Background()

	expectExec(mock, "BEGIN")
	expectExec(mock, "ROLLBACK")

	txID, err := r.Begin(ctx, "main")
	require.NoError(t, err)

	tx, err := r.lookupTx(txID)
	require.NoError(t, err)
	tx.Poison()

	err = r.Commit(ctx, txID)
	require.Error(t, err)
	assert.True(t, oxerr.IsKind(err, oxerr.KindTransactionPoisoned))

	q := &ir.QueryIR{Proto: ir.ProtoVersion, Op: ir.OpSelect, Table: "t", Columns: []string{"a"}}
	_, err = r.Execute(ctx, "main", q, txID)
	require.Error(t, err)
	assert.True(t, oxerr.IsKind(err, oxerr.KindTransactionPoisoned))

	// The outermost finaliser still releases the connection via ROLLBACK.
	require.NoError(t, r.Rollback(ctx, txID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConcurrentUseOfOneHandle(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())
	ctx := context.Background()

	expectExec(mock, "BEGIN")
	expectExec(mock, "ROLLBACK")

	txID, err := r.Begin(ctx, "main")
	require.NoError(t, err)

	tx, err := r.lookupTx(txID)
	require.NoError(t, err)

	// Simulate another task holding the handle.
	tx.mu.Lock()
	err = r.Commit(ctx, txID)
	tx.mu.Unlock()
	require.Error(t, err)
	assert.True(t, oxerr.IsKind(err, oxerr.KindUsage))

	require.NoError(t, r.Rollback(ctx, txID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReaperRollsBackExpiredHandles(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	settings := PoolSettings{
		TransactionTimeout:         50 * time.Millisecond,
		TransactionCleanupInterval: 20 * time.Millisecond,
	}
	mock := newMockPool(t, r, "main", sqlgen.Postgres, settings)
	ctx := context.Background()

	expectExec(mock, "BEGIN")
	expectExec(mock, "ROLLBACK")

	txID, err := r.Begin(ctx, "main")
	require.NoError(t, err)

	// Property 6: the handle is finalised within 2x the cleanup interval of
	// its deadline.
	deadlineSlack := settings.TransactionTimeout + 2*settings.TransactionCleanupInterval + 50*time.Millisecond
	require.Eventually(t, func() bool {
		_, err := r.lookupTx(txID)
		return err != nil
	}, deadlineSlack, 10*time.Millisecond, "reaper must finalise the expired handle")

	err = r.Commit(ctx, txID)
	require.Error(t, err, "handle is absent after the reaper rolled it back")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaLockPostgres(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())
	ctx := context.Background()

	expectExec(mock, "BEGIN")
	mock.ExpectExec("SELECT pg_advisory_lock($1)").
		WithArgs(advisoryKey("migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT pg_advisory_unlock($1)").
		WithArgs(advisoryKey("migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectExec(mock, "COMMIT")

	txID, err := r.Begin(ctx, "main")
	require.NoError(t, err)
	require.NoError(t, r.SchemaLock(ctx, txID, "migrations"))
	require.NoError(t, r.SchemaUnlock(ctx, txID, "migrations"))
	require.NoError(t, r.Commit(ctx, txID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
