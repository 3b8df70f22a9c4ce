package driver

import (
	"context"
	stddriver "database/sql/driver"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/mr-fatalyst/oxyde/oxerr"
)

// classify maps a backend error onto the engine's typed envelope. Constraint
// violations (unique, foreign key, not-null, check) come back as INTEGRITY;
// connection-level failures come back as CONNECTION so the caller discards
// the connection instead of pooling it; any other backend error, type and
// data errors included, is BACKEND.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var engineErr *oxerr.Error
	if errors.As(err, &engineErr) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgres(pqErr)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return classifyMySQL(myErr)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return classifySQLite(liteErr)
	}

	if errors.Is(err, stddriver.ErrBadConn) || errors.Is(err, io.EOF) {
		return oxerr.Wrap(oxerr.KindConnection, err, "connection lost")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return oxerr.Wrap(oxerr.KindConnection, err, "network failure")
	}
	if errors.Is(err, context.Canceled) {
		return oxerr.Wrap(oxerr.KindConnection, err, "statement cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return oxerr.Wrap(oxerr.KindConnection, err, "statement deadline exceeded")
	}
	return oxerr.Wrap(oxerr.KindBackend, err, "%s", err.Error())
}

func classifyPostgres(err *pq.Error) error {
	code := string(err.Code)
	switch err.Code.Class() {
	case "23": // integrity_constraint_violation
		return oxerr.Wrap(oxerr.KindIntegrity, err, "%s", err.Message).
			WithBackendCode(code).
			WithConstraint(err.Constraint).
			WithColumn(err.Column)
	case "08": // connection_exception
		return oxerr.Wrap(oxerr.KindConnection, err, "%s", err.Message).WithBackendCode(code)
	case "57": // operator_intervention (admin shutdown, crash shutdown)
		return oxerr.Wrap(oxerr.KindConnection, err, "%s", err.Message).WithBackendCode(code)
	default:
		return oxerr.Wrap(oxerr.KindBackend, err, "%s", err.Message).WithBackendCode(code)
	}
}

func classifyMySQL(err *mysql.MySQLError) error {
	code := strconv.FormatUint(uint64(err.Number), 10)
	switch err.Number {
	case 1062, 1169: // duplicate key
		e := oxerr.Wrap(oxerr.KindIntegrity, err, "%s", err.Message).WithBackendCode(code)
		if name := mysqlConstraintName(err.Message); name != "" {
			e = e.WithConstraint(name)
		}
		return e
	case 1216, 1217, 1451, 1452: // foreign key
		return oxerr.Wrap(oxerr.KindIntegrity, err, "%s", err.Message).WithBackendCode(code)
	case 1048: // column cannot be null
		return oxerr.Wrap(oxerr.KindIntegrity, err, "%s", err.Message).WithBackendCode(code)
	case 3819: // check constraint
		return oxerr.Wrap(oxerr.KindIntegrity, err, "%s", err.Message).WithBackendCode(code)
	case 1040, 1152, 1053, 2002, 2003, 2006, 2013:
		return oxerr.Wrap(oxerr.KindConnection, err, "%s", err.Message).WithBackendCode(code)
	default:
		return oxerr.Wrap(oxerr.KindBackend, err, "%s", err.Message).WithBackendCode(code)
	}
}

// mysqlConstraintName pulls the key name out of "Duplicate entry 'x' for key
// 'users.email'".
func mysqlConstraintName(msg string) string {
	idx := strings.LastIndex(msg, "for key '")
	if idx < 0 {
		return ""
	}
	rest := msg[idx+len("for key '"):]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func classifySQLite(err sqlite3.Error) error {
	code := strconv.Itoa(int(err.Code))
	switch err.Code {
	case sqlite3.ErrConstraint:
		e := oxerr.Wrap(oxerr.KindIntegrity, err, "%s", err.Error()).WithBackendCode(code)
		if col := sqliteConstraintColumn(err.Error()); col != "" {
			e = e.WithColumn(col)
		}
		return e
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
		return oxerr.Wrap(oxerr.KindConnection, err, "%s", err.Error()).WithBackendCode(code)
	default:
		return oxerr.Wrap(oxerr.KindBackend, err, "%s", err.Error()).WithBackendCode(code)
	}
}

// sqliteConstraintColumn pulls the column out of "UNIQUE constraint failed:
// users.email".
func sqliteConstraintColumn(msg string) string {
	idx := strings.Index(msg, "constraint failed: ")
	if idx < 0 {
		return ""
	}
	target := msg[idx+len("constraint failed: "):]
	if dot := strings.LastIndexByte(target, '.'); dot >= 0 {
		return target[dot+1:]
	}
	return target
}
