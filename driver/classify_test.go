package driver

import (
	"context"
	"errors"
	"io"
	"testing"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-fatalyst/oxyde/oxerr"
)

func TestClassifyPostgres(t *testing.T) {
	unique := &pq.Error{
		Code:       "23505",
		Message:    `duplicate key value violates unique constraint "users_email_key"`,
		Constraint: "users_email_key",
		Column:     "email",
	}
	err := classify(unique)
	var e *oxerr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, oxerr.KindIntegrity, e.Kind)
	assert.Equal(t, "23505", e.BackendCode)
	assert.Equal(t, "users_email_key", e.Constraint)
	assert.Equal(t, "email", e.Column)

	conn := &pq.Error{Code: "08006", Message: "connection failure"}
	assert.True(t, oxerr.IsKind(classify(conn), oxerr.KindConnection))

	syntax := &pq.Error{Code: "42601", Message: "syntax error"}
	assert.True(t, oxerr.IsKind(classify(syntax), oxerr.KindBackend))
}

func TestClassifyMySQL(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a@b.c' for key 'users.email'"}
	err := classify(dup)
	var e *oxerr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, oxerr.KindIntegrity, e.Kind)
	assert.Equal(t, "1062", e.BackendCode)
	assert.Equal(t, "users.email", e.Constraint)

	fk := &mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"}
	assert.True(t, oxerr.IsKind(classify(fk), oxerr.KindIntegrity))

	gone := &mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"}
	assert.True(t, oxerr.IsKind(classify(gone), oxerr.KindConnection))
}

func TestClassifySQLite(t *testing.T) {
	constraint := sqlite3.Error{Code: sqlite3.ErrConstraint}
	assert.True(t, oxerr.IsKind(classify(constraint), oxerr.KindIntegrity))

	cantOpen := sqlite3.Error{Code: sqlite3.ErrCantOpen}
	assert.True(t, oxerr.IsKind(classify(cantOpen), oxerr.KindConnection))
}

func TestClassifyGeneric(t *testing.T) {
	assert.True(t, oxerr.IsKind(classify(io.EOF), oxerr.KindConnection))
	assert.True(t, oxerr.IsKind(classify(context.Canceled), oxerr.KindConnection))
	assert.True(t, oxerr.IsKind(classify(errors.New("weird")), oxerr.KindBackend))
	assert.NoError(t, classify(nil))
}

func TestSQLiteConstraintColumn(t *testing.T) {
	assert.Equal(t, "email", sqliteConstraintColumn("UNIQUE constraint failed: users.email"))
	assert.Equal(t, "", sqliteConstraintColumn("some other failure"))
}

func TestMySQLConstraintName(t *testing.T) {
	assert.Equal(t, "users.email", mysqlConstraintName("Duplicate entry 'x' for key 'users.email'"))
	assert.Equal(t, "", mysqlConstraintName("no key here"))
}
