// Package oxyde exposes the engine's entry points to the embedder: pool
// lifecycle, byte-level query execution, transaction control and SQL
// rendering. Every call is context-aware and blocks only in database I/O;
// the codec, builder and hydrator never suspend.
package oxyde

import (
	"context"

	"github.com/mr-fatalyst/oxyde/driver"
	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/codec"
	"github.com/mr-fatalyst/oxyde/query/ir"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
)

// InitPool registers a named pool. The URL scheme selects the dialect; a nil
// settings pointer uses the dialect defaults.
func InitPool(ctx context.Context, name, url string, settings *driver.PoolSettings) error {
	return driver.Default.Register(ctx, name, url, derefSettings(settings))
}

// InitPoolOverwrite registers a named pool, replacing (and closing) any pool
// already registered under the name.
func InitPoolOverwrite(ctx context.Context, name, url string, settings *driver.PoolSettings) error {
	return driver.Default.RegisterOverwrite(ctx, name, url, derefSettings(settings))
}

func derefSettings(s *driver.PoolSettings) driver.PoolSettings {
	if s == nil {
		return driver.PoolSettings{}
	}
	return *s
}

// ClosePool rolls back the pool's live transactions and closes it. Closing
// an absent pool succeeds.
func ClosePool(ctx context.Context, name string) error {
	return driver.Default.ClosePool(ctx, name)
}

// CloseAll closes every registered pool.
func CloseAll(ctx context.Context) error {
	return driver.Default.CloseAll(ctx)
}

// BeginTransaction pins a connection from the pool and opens a transaction,
// returning the opaque handle id.
func BeginTransaction(ctx context.Context, poolName string) (uint64, error) {
	return driver.Default.Begin(ctx, poolName)
}

// BeginNested opens a depth-based savepoint scope on an active handle.
func BeginNested(ctx context.Context, txID uint64) error {
	return driver.Default.BeginNested(ctx, txID)
}

// CommitTransaction commits the current scope of the handle.
func CommitTransaction(ctx context.Context, txID uint64) error {
	return driver.Default.Commit(ctx, txID)
}

// RollbackTransaction rolls back the current scope of the handle.
func RollbackTransaction(ctx context.Context, txID uint64) error {
	return driver.Default.Rollback(ctx, txID)
}

// SetRollbackOnly forces the outermost commit of the handle to roll back.
func SetRollbackOnly(txID uint64) error {
	return driver.Default.SetRollbackOnly(txID)
}

// CreateSavepoint opens a named savepoint on an active handle.
func CreateSavepoint(ctx context.Context, txID uint64, name string) error {
	return driver.Default.CreateSavepoint(ctx, txID, name)
}

// RollbackToSavepoint rolls back to a named savepoint.
func RollbackToSavepoint(ctx context.Context, txID uint64, name string) error {
	return driver.Default.RollbackToSavepoint(ctx, txID, name)
}

// ReleaseSavepoint releases a named savepoint.
func ReleaseSavepoint(ctx context.Context, txID uint64, name string) error {
	return driver.Default.ReleaseSavepoint(ctx, txID, name)
}

// SchemaLock serialises schema mutation through the backend's advisory lock,
// pinned to the handle's connection.
func SchemaLock(ctx context.Context, txID uint64, key string) error {
	return driver.Default.SchemaLock(ctx, txID, key)
}

// SchemaUnlock releases the advisory lock taken by SchemaLock.
func SchemaUnlock(ctx context.Context, txID uint64, key string) error {
	return driver.Default.SchemaUnlock(ctx, txID, key)
}

// decodeFrame enforces the pool's payload ceiling and parses the IR frame.
func decodeFrame(poolName string, irBytes []byte) (*ir.QueryIR, error) {
	pool, err := driver.Default.Pool(poolName)
	if err != nil {
		return nil, err
	}
	if max := pool.Settings().MaxPayload; max > 0 && len(irBytes) > max {
		return nil, oxerr.New(oxerr.KindProtocol, "payload of %d bytes exceeds ceiling %d", len(irBytes), max)
	}
	q, err := codec.DecodeIR(irBytes)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// Execute decodes an IR frame, runs it on the pool (or on the pinned
// connection of txID when non-zero) and returns the encoded result envelope.
func Execute(ctx context.Context, poolName string, irBytes []byte, txID uint64) ([]byte, error) {
	q, err := decodeFrame(poolName, irBytes)
	if err != nil {
		return nil, err
	}
	res, err := driver.Default.Execute(ctx, poolName, q, txID)
	if err != nil {
		return nil, err
	}
	return codec.EncodeResult(res)
}

// ExecuteGet behaves like Execute but expects exactly one row, raising
// NOT_FOUND and MULTIPLE_FOUND otherwise.
func ExecuteGet(ctx context.Context, poolName string, irBytes []byte, txID uint64) ([]byte, error) {
	q, err := decodeFrame(poolName, irBytes)
	if err != nil {
		return nil, err
	}
	res, err := driver.Default.ExecuteGet(ctx, poolName, q, txID)
	if err != nil {
		return nil, err
	}
	return codec.EncodeResult(res)
}

// RawExecute runs a verbatim statement with parameters on the pool.
func RawExecute(ctx context.Context, poolName, sql string, params []any, txID uint64) ([]byte, error) {
	q := &ir.QueryIR{
		Proto: ir.ProtoVersion,
		Op:    ir.OpRaw,
		Raw:   &ir.Raw{SQL: sql, Params: params},
	}
	res, err := driver.Default.Execute(ctx, poolName, q, txID)
	if err != nil {
		return nil, err
	}
	return codec.EncodeResult(res)
}

// Explain decodes an IR frame and returns the backend's plan for it.
func Explain(ctx context.Context, poolName string, irBytes []byte, analyze bool, format string) ([]byte, error) {
	q, err := decodeFrame(poolName, irBytes)
	if err != nil {
		return nil, err
	}
	q.Op = ir.OpExplain
	q.Explain = &ir.ExplainOptions{Analyze: analyze, Format: format}
	res, err := driver.Default.Execute(ctx, poolName, q, 0)
	if err != nil {
		return nil, err
	}
	return codec.EncodeResult(res)
}

// RenderSQL compiles an IR frame against the named pool's dialect without
// executing it.
func RenderSQL(poolName string, irBytes []byte) (string, []any, error) {
	q, err := decodeFrame(poolName, irBytes)
	if err != nil {
		return "", nil, err
	}
	built, err := driver.Default.RenderSQL(poolName, q)
	if err != nil {
		return "", nil, err
	}
	return built.SQL, built.Args, nil
}

// RenderSQLDebug compiles an IR frame for an explicitly named dialect; no
// pool is consulted. An empty dialect defaults to postgres.
func RenderSQLDebug(irBytes []byte, dialect string) (string, []any, error) {
	var d sqlgen.Dialect
	switch dialect {
	case "", "postgres", "postgresql":
		d = sqlgen.Postgres
	case "sqlite":
		d = sqlgen.SQLite
	case "mysql":
		d = sqlgen.MySQL
	default:
		return "", nil, oxerr.New(oxerr.KindUsage, "unknown dialect %q", dialect)
	}
	q, err := codec.DecodeIR(irBytes)
	if err != nil {
		return "", nil, err
	}
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	built, err := sqlgen.Build(q, d)
	if err != nil {
		return "", nil, err
	}
	return built.SQL, built.Args, nil
}

// GetOrCreate runs the documented get-or-create race recovery: the INSERT is
// attempted first and an INTEGRITY failure is retried as the lookup SELECT.
func GetOrCreate(ctx context.Context, poolName string, insert *ir.QueryIR, lookup *ir.QueryIR, txID uint64) (*codec.Result, bool, error) {
	res, err := driver.Default.Execute(ctx, poolName, insert, txID)
	if err == nil {
		return res, true, nil
	}
	if !oxerr.IsKind(err, oxerr.KindIntegrity) {
		return nil, false, err
	}
	res, err = driver.Default.ExecuteGet(ctx, poolName, lookup, txID)
	if err != nil {
		return nil, false, err
	}
	return res, false, nil
}
