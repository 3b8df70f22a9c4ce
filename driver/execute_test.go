package driver

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/codec"
	"github.com/mr-fatalyst/oxyde/query/ir"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
)

func TestExecuteSelectRows(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("name").OfType("TEXT", ""),
	).AddRow(int64(1), "A").AddRow(int64(2), "B")
	mock.ExpectQuery(`SELECT "id", "name" FROM "users" WHERE "age" >= $1`).
		WithArgs(int64(18)).
		WillReturnRows(rows)

	q := &ir.QueryIR{
		Proto:   ir.ProtoVersion,
		Op:      ir.OpSelect,
		Table:   "users",
		Columns: []string{"id", "name"},
		Filter:  ir.Cond("age", ir.LookupGte, int64(18)),
	}
	res, err := r.Execute(context.Background(), "main", q, 0)
	require.NoError(t, err)
	assert.Equal(t, codec.ResultRows, res.Kind)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Equal(t, [][]any{{int64(1), "A"}, {int64(2), "B"}}, res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteInsertReturning(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
	).AddRow(int64(11)).AddRow(int64(12))
	mock.ExpectQuery(`INSERT INTO "users" ("name") VALUES ($1),($2) RETURNING "id"`).
		WithArgs("A", "B").
		WillReturnRows(rows)

	q := &ir.QueryIR{
		Proto: ir.ProtoVersion,
		Op:    ir.OpInsert,
		Table: "users",
		Values: [][]ir.ColumnValue{
			{{Column: "name", Value: "A"}},
			{{Column: "name", Value: "B"}},
		},
		Returning: []string{"id"},
	}
	res, err := r.Execute(context.Background(), "main", q, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Affected)
	assert.Equal(t, []any{int64(11), int64(12)}, res.InsertedIDs)
	assert.False(t, res.Approximate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteInsertLastInsertID(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.MySQL, fastSettings())

	mock.ExpectExec("INSERT INTO `users` (`name`) VALUES (?)").
		WithArgs("A").
		WillReturnResult(sqlmock.NewResult(7, 1))

	q := &ir.QueryIR{
		Proto:  ir.ProtoVersion,
		Op:     ir.OpInsert,
		Table:  "users",
		Values: [][]ir.ColumnValue{{{Column: "name", Value: "A"}}},
	}
	res, err := r.Execute(context.Background(), "main", q, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Affected)
	assert.Equal(t, []any{int64(7)}, res.InsertedIDs)
	assert.False(t, res.Approximate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteBulkInsertMySQLApproximateIDs(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.MySQL, fastSettings())

	mock.ExpectExec("INSERT INTO `users` (`name`) VALUES (?),(?),(?)").
		WithArgs("A", "B", "C").
		WillReturnResult(sqlmock.NewResult(10, 3))

	q := &ir.QueryIR{
		Proto: ir.ProtoVersion,
		Op:    ir.OpInsert,
		Table: "users",
		Values: [][]ir.ColumnValue{
			{{Column: "name", Value: "A"}},
			{{Column: "name", Value: "B"}},
			{{Column: "name", Value: "C"}},
		},
	}
	res, err := r.Execute(context.Background(), "main", q, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), int64(11), int64(12)}, res.InsertedIDs)
	assert.True(t, res.Approximate, "multi-row MySQL id ranges are approximate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdateAffected(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.SQLite, fastSettings())

	mock.ExpectExec(`UPDATE "posts" SET "views" = "views" + ? WHERE "id" = ?`).
		WithArgs(int64(1), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := &ir.QueryIR{
		Proto: ir.ProtoVersion,
		Op:    ir.OpUpdate,
		Table: "posts",
		SetValues: map[string]*ir.Expression{
			"views": ir.BinOp(ir.BinAdd, ir.Col("views"), ir.Lit(int64(1))),
		},
		Filter: ir.Cond("id", ir.LookupEq, int64(42)),
	}
	res, err := r.Execute(context.Background(), "main", q, 0)
	require.NoError(t, err)
	assert.Equal(t, codec.ResultMutation, res.Kind)
	assert.Equal(t, int64(1), res.Affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteGetExactlyOne(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())

	empty := sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("id").OfType("BIGINT", int64(0)))
	mock.ExpectQuery(`SELECT "id" FROM "users" WHERE "id" = $1`).
		WithArgs(int64(9)).WillReturnRows(empty)

	q := &ir.QueryIR{
		Proto:   ir.ProtoVersion,
		Op:      ir.OpSelect,
		Table:   "users",
		Columns: []string{"id"},
		Filter:  ir.Cond("id", ir.LookupEq, int64(9)),
	}
	_, err := r.ExecuteGet(context.Background(), "main", q, 0)
	require.Error(t, err)
	assert.True(t, oxerr.IsKind(err, oxerr.KindNotFound))

	multiple := sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("id").OfType("BIGINT", int64(0))).
		AddRow(int64(1)).AddRow(int64(2))
	mock.ExpectQuery(`SELECT "id" FROM "users" WHERE "id" = $1`).
		WithArgs(int64(9)).WillReturnRows(multiple)

	_, err = r.ExecuteGet(context.Background(), "main", q, 0)
	require.Error(t, err)
	assert.True(t, oxerr.IsKind(err, oxerr.KindMultipleFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutePrefetchRunsChildSelect(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())

	parents := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
	).AddRow(int64(1)).AddRow(int64(2))
	mock.ExpectQuery(`SELECT "id" FROM "authors"`).WillReturnRows(parents)

	children := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("author_id").OfType("BIGINT", int64(0)),
	).AddRow(int64(10), int64(1)).AddRow(int64(11), int64(2))
	mock.ExpectQuery(`SELECT "id", "author_id" FROM "posts" WHERE "author_id" IN ($1, $2)`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(children)

	q := &ir.QueryIR{
		Proto:   ir.ProtoVersion,
		Op:      ir.OpSelect,
		Table:   "authors",
		Columns: []string{"id"},
		Prefetches: []ir.Prefetch{{
			Name:         "posts",
			Table:        "posts",
			ParentColumn: "id",
			ChildColumn:  "author_id",
			Columns:      []string{"id", "author_id"},
		}},
	}
	res, err := r.Execute(context.Background(), "main", q, 0)
	require.NoError(t, err)
	require.Contains(t, res.Prefetched, "posts")
	assert.Len(t, res.Prefetched["posts"].Rows, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteEmptyInReturnsNoRows(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(context.Background())
	mock := newMockPool(t, r, "main", sqlgen.Postgres, fastSettings())

	empty := sqlmock.NewRowsWithColumnDefinition(sqlmock.NewColumn("id").OfType("BIGINT", int64(0)))
	mock.ExpectQuery(`SELECT "id" FROM "users" WHERE 1 = 0`).WillReturnRows(empty)

	q := &ir.QueryIR{
		Proto:   ir.ProtoVersion,
		Op:      ir.OpSelect,
		Table:   "users",
		Columns: []string{"id"},
		Filter:  ir.Cond("status", ir.LookupIn, []any{}),
	}
	res, err := r.Execute(context.Background(), "main", q, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUnknownPool(t *testing.T) {
	r := NewRegistry()
	q := &ir.QueryIR{Proto: ir.ProtoVersion, Op: ir.OpSelect, Table: "t", Columns: []string{"a"}}
	_, err := r.Execute(context.Background(), "nope", q, 0)
	require.Error(t, err)
	assert.True(t, oxerr.IsKind(err, oxerr.KindConfig))
}
