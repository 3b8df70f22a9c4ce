// Package sqlgen compiles a QueryIR into dialect-correct parameterised SQL.
// It is purely functional: equal inputs yield byte-equal SQL and parameter
// vectors, and it performs no I/O.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
)

// Dialect is the target backend's SQL variant.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
	MySQL    Dialect = "mysql"
)

// DialectFromScheme resolves a connection URL scheme to a Dialect.
func DialectFromScheme(scheme string) (Dialect, error) {
	switch scheme {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	default:
		return "", oxerr.New(oxerr.KindConfig, "unknown database scheme %q", scheme)
	}
}

// Query is a compiled statement with its ordered parameter vector.
type Query struct {
	SQL  string
	Args []any
}

// Capabilities gates dialect features that depend on the server version.
type Capabilities struct {
	// Returning reports whether the backend honours a RETURNING clause.
	Returning bool
}

// DefaultCapabilities returns the capabilities assumed when the driver has
// not probed the server: Postgres and SQLite support RETURNING, MySQL does not.
func DefaultCapabilities(d Dialect) Capabilities {
	return Capabilities{Returning: d != MySQL}
}

// MaxInsertRows bounds a single multi-row INSERT. The driver chunks larger
// batches; the builder rejects anything above the bound.
const MaxInsertRows = 1000

// Build compiles the IR for the dialect using DefaultCapabilities.
func Build(q *ir.QueryIR, d Dialect) (*Query, error) {
	return BuildWithCaps(q, d, DefaultCapabilities(d))
}

// BuildWithCaps compiles the IR with explicit backend capabilities.
func BuildWithCaps(q *ir.QueryIR, d Dialect, caps Capabilities) (*Query, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	b := &builder{dialect: d, caps: caps}
	var sql string
	var err error
	switch q.Op {
	case ir.OpSelect:
		sql, err = b.buildSelect(q)
	case ir.OpInsert:
		sql, err = b.buildInsert(q)
	case ir.OpUpdate:
		sql, err = b.buildUpdate(q)
	case ir.OpDelete:
		sql, err = b.buildDelete(q)
	case ir.OpRaw:
		sql, err = b.buildRaw(q)
	case ir.OpExplain:
		sql, err = b.buildExplain(q)
	default:
		err = oxerr.New(oxerr.KindBuild, "unsupported operation %q", string(q.Op))
	}
	if err != nil {
		return nil, err
	}
	return &Query{SQL: sql, Args: b.args}, nil
}

// builder accumulates the parameter vector while clauses are rendered. A
// single builder spans the whole statement so Postgres placeholder numbering
// stays strictly ascending across unions and nested clauses.
type builder struct {
	dialect Dialect
	caps    Capabilities
	args    []any
}

// bind registers v as the next parameter and returns its placeholder.
func (b *builder) bind(v any) (string, error) {
	n, err := ir.Normalize(v)
	if err != nil {
		return "", err
	}
	b.args = append(b.args, n)
	if b.dialect == Postgres {
		return fmt.Sprintf("$%d", len(b.args)), nil
	}
	return "?", nil
}

// quote quotes a possibly schema-qualified identifier for the dialect.
func (b *builder) quote(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = b.quotePart(p)
	}
	return strings.Join(parts, ".")
}

func (b *builder) quotePart(name string) string {
	if name == "*" {
		return "*"
	}
	if b.dialect == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
