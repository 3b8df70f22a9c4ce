// Package ir defines the dialect-neutral query description consumed by the
// engine core: the operation record, the filter tree, the expression algebra
// and the scalar value domain.
package ir

import (
	"strings"

	"github.com/mr-fatalyst/oxyde/oxerr"
)

// ProtoVersion is the IR schema version carried in QueryIR.Proto, inside the
// msgpack body; the frame header byte is codec.Version.
const ProtoVersion = 1

// Operation selects the statement family a QueryIR compiles to.
type Operation string

const (
	OpSelect  Operation = "SELECT"
	OpInsert  Operation = "INSERT"
	OpUpdate  Operation = "UPDATE"
	OpDelete  Operation = "DELETE"
	OpRaw     Operation = "RAW"
	OpExplain Operation = "EXPLAIN"
)

// LockMode selects the row-locking clause appended to a SELECT.
type LockMode string

const (
	LockNone      LockMode = "NONE"
	LockForUpdate LockMode = "FOR_UPDATE"
	LockForShare  LockMode = "FOR_SHARE"
)

// SortDirection orders an ORDER BY term.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// NullsOrder places NULL values within an ORDER BY term.
type NullsOrder string

const (
	NullsDefault NullsOrder = ""
	NullsFirst   NullsOrder = "FIRST"
	NullsLast    NullsOrder = "LAST"
)

// OrderBy is one ORDER BY term.
type OrderBy struct {
	Column    string        `msgpack:"column" json:"column"`
	Direction SortDirection `msgpack:"direction" json:"direction"`
	Nulls     NullsOrder    `msgpack:"nulls,omitempty" json:"nulls,omitempty"`
}

// Join describes one LEFT JOIN emitted for a forward relation.
type Join struct {
	Table        string       `msgpack:"table" json:"table"`
	Alias        string       `msgpack:"alias" json:"alias"`
	SourceColumn string       `msgpack:"source_column" json:"source_column"`
	TargetColumn string       `msgpack:"target_column" json:"target_column"`
	ResultPrefix string       `msgpack:"result_prefix" json:"result_prefix"`
	Columns      []JoinColumn `msgpack:"columns" json:"columns"`
}

// JoinColumn maps a joined column into the projection under the join's
// result prefix.
type JoinColumn struct {
	Field  string `msgpack:"field" json:"field"`
	Column string `msgpack:"column" json:"column"`
}

// Prefetch describes a reverse relation resolved as a follow-up SELECT whose
// IN list is the parent primary keys of the first result set.
type Prefetch struct {
	Name         string   `msgpack:"name" json:"name"`
	Table        string   `msgpack:"table" json:"table"`
	ParentColumn string   `msgpack:"parent_column" json:"parent_column"`
	ChildColumn  string   `msgpack:"child_column" json:"child_column"`
	Columns      []string `msgpack:"columns,omitempty" json:"columns,omitempty"`
}

// ColumnValue is one (column, value) pair of an INSERT row. Rows are ordered
// so the builder emits a deterministic column list.
type ColumnValue struct {
	Column string `msgpack:"column" json:"column"`
	Value  any    `msgpack:"value" json:"value"`
}

// Union appends another SELECT to the tail of this one.
type Union struct {
	Query *QueryIR `msgpack:"query" json:"query"`
	All   bool     `msgpack:"all" json:"all"`
}

// ConflictAction selects the upsert behaviour.
type ConflictAction string

const (
	ConflictNothing ConflictAction = "NOTHING"
	ConflictUpdate  ConflictAction = "UPDATE"
)

// OnConflict turns an INSERT into an upsert.
type OnConflict struct {
	Columns      []string               `msgpack:"columns" json:"columns"`
	Action       ConflictAction         `msgpack:"action" json:"action"`
	UpdateValues map[string]*Expression `msgpack:"update_values,omitempty" json:"update_values,omitempty"`
}

// Raw carries a verbatim SQL statement and its parameters.
type Raw struct {
	SQL    string `msgpack:"sql" json:"sql"`
	Params []any  `msgpack:"params,omitempty" json:"params,omitempty"`
}

// ExplainOptions configure an EXPLAIN operation.
type ExplainOptions struct {
	Analyze bool   `msgpack:"analyze" json:"analyze"`
	Format  string `msgpack:"format,omitempty" json:"format,omitempty"` // "text" (default) or "json"
}

// QueryIR is the declarative query description. One IR value compiles to one
// statement for a given dialect; prefetches compile to follow-up statements.
type QueryIR struct {
	Proto          int                    `msgpack:"proto" json:"proto"`
	Op             Operation              `msgpack:"op" json:"op"`
	Table          string                 `msgpack:"table" json:"table"`
	Columns        []string               `msgpack:"columns,omitempty" json:"columns,omitempty"`
	ColumnMappings map[string]string      `msgpack:"column_mappings,omitempty" json:"column_mappings,omitempty"`
	Filter         *FilterNode            `msgpack:"filter,omitempty" json:"filter,omitempty"`
	OrderBy        []OrderBy              `msgpack:"order_by,omitempty" json:"order_by,omitempty"`
	GroupBy        []string               `msgpack:"group_by,omitempty" json:"group_by,omitempty"`
	Having         *FilterNode            `msgpack:"having,omitempty" json:"having,omitempty"`
	Limit          *int64                 `msgpack:"limit,omitempty" json:"limit,omitempty"`
	Offset         *int64                 `msgpack:"offset,omitempty" json:"offset,omitempty"`
	Joins          []Join                 `msgpack:"joins,omitempty" json:"joins,omitempty"`
	Prefetches     []Prefetch             `msgpack:"prefetches,omitempty" json:"prefetches,omitempty"`
	Annotations    map[string]*Expression `msgpack:"annotations,omitempty" json:"annotations,omitempty"`
	Values         [][]ColumnValue        `msgpack:"values,omitempty" json:"values,omitempty"`
	SetValues      map[string]*Expression `msgpack:"set_values,omitempty" json:"set_values,omitempty"`
	Unions         []Union                `msgpack:"unions,omitempty" json:"unions,omitempty"`
	Locking        LockMode               `msgpack:"locking,omitempty" json:"locking,omitempty"`
	Distinct       bool                   `msgpack:"distinct,omitempty" json:"distinct,omitempty"`
	Returning      []string               `msgpack:"returning,omitempty" json:"returning,omitempty"`
	PKColumn       string                 `msgpack:"pk_column,omitempty" json:"pk_column,omitempty"`
	OnConflict     *OnConflict            `msgpack:"on_conflict,omitempty" json:"on_conflict,omitempty"`
	Exists         bool                   `msgpack:"exists,omitempty" json:"exists,omitempty"`
	Count          bool                   `msgpack:"count,omitempty" json:"count,omitempty"`
	Raw            *Raw                   `msgpack:"raw,omitempty" json:"raw,omitempty"`
	Explain        *ExplainOptions        `msgpack:"explain,omitempty" json:"explain,omitempty"`
}

// Validate checks structural invariants that do not depend on the dialect.
// Violations are USAGE errors.
func (q *QueryIR) Validate() error {
	switch q.Op {
	case OpSelect, OpInsert, OpUpdate, OpDelete, OpRaw, OpExplain:
	default:
		return oxerr.New(oxerr.KindUsage, "unknown operation %q", string(q.Op))
	}

	if q.Op == OpRaw {
		if q.Raw == nil || strings.TrimSpace(q.Raw.SQL) == "" {
			return oxerr.New(oxerr.KindUsage, "raw operation missing sql")
		}
		return nil
	}

	if strings.TrimSpace(q.Table) == "" {
		return oxerr.New(oxerr.KindUsage, "missing table")
	}
	if q.Limit != nil && *q.Limit < 0 {
		return oxerr.New(oxerr.KindUsage, "negative limit %d", *q.Limit)
	}
	if q.Offset != nil && *q.Offset < 0 {
		return oxerr.New(oxerr.KindUsage, "negative offset %d", *q.Offset)
	}

	switch q.Op {
	case OpInsert:
		if len(q.Values) == 0 {
			return oxerr.New(oxerr.KindUsage, "insert requires at least one row")
		}
		for i, row := range q.Values {
			if len(row) == 0 {
				return oxerr.New(oxerr.KindUsage, "insert row %d is empty", i)
			}
			if len(row) != len(q.Values[0]) {
				return oxerr.New(oxerr.KindUsage, "insert row %d has %d values, row 0 has %d", i, len(row), len(q.Values[0]))
			}
		}
		if q.OnConflict != nil && q.OnConflict.Action == ConflictUpdate && len(q.OnConflict.UpdateValues) == 0 {
			return oxerr.New(oxerr.KindUsage, "on_conflict update requires update_values")
		}
	case OpUpdate:
		if len(q.SetValues) == 0 {
			return oxerr.New(oxerr.KindUsage, "update requires set_values")
		}
	}

	if q.Filter != nil {
		if err := q.Filter.Validate(); err != nil {
			return err
		}
	}
	if q.Having != nil {
		if err := q.Having.Validate(); err != nil {
			return err
		}
	}
	for i := range q.Unions {
		u := q.Unions[i]
		if u.Query == nil {
			return oxerr.New(oxerr.KindUsage, "union %d missing query", i)
		}
		if u.Query.Op != OpSelect {
			return oxerr.New(oxerr.KindUsage, "union %d is not a SELECT", i)
		}
		if err := u.Query.Validate(); err != nil {
			return err
		}
	}
	return nil
}
