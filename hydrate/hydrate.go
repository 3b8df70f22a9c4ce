// Package hydrate converts backend-native row values into the engine's value
// domain, applying dialect-specific normalisation: booleans unified across
// dialects, timestamps forced to UTC, JSON parsed, UUIDs decoded, NUMERIC
// carried as string-encoded decimals.
package hydrate

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
	"github.com/mr-fatalyst/oxyde/query/sqlgen"
)

// Rows drains rows into the value domain. Columns come back in the backend's
// result order, which for engine-compiled SELECTs equals the IR projection
// order.
func Rows(rows *sql.Rows, dialect sqlgen.Dialect) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, oxerr.Wrap(oxerr.KindHydration, err, "reading result columns")
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, oxerr.Wrap(oxerr.KindHydration, err, "reading column types")
	}

	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = strings.ToUpper(t.DatabaseTypeName())
	}

	var out [][]any
	rowIndex := 0
	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, oxerr.Wrap(oxerr.KindHydration, err, "scanning row %d", rowIndex)
		}

		decoded := make([]any, len(columns))
		for i, v := range raw {
			cell, err := Cell(v, typeNames[i], dialect)
			if err != nil {
				return nil, nil, oxerr.Wrap(oxerr.KindHydration, err,
					"column %q row %d", columns[i], rowIndex).WithColumn(columns[i])
			}
			decoded[i] = cell
		}
		out = append(out, decoded)
		rowIndex++
	}
	if err := rows.Err(); err != nil {
		return nil, nil, oxerr.Wrap(oxerr.KindConnection, err, "row stream failed")
	}
	return columns, out, nil
}

// Cell normalises one raw cell value for the column's declared type.
func Cell(v any, typeName string, dialect sqlgen.Dialect) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch {
	case isBoolType(typeName):
		return toBool(v)
	case strings.Contains(typeName, "INT") && !strings.Contains(typeName, "INTERVAL"):
		return toInt64(v)
	case isFloatType(typeName):
		return toFloat64(v)
	case strings.Contains(typeName, "NUMERIC") || strings.Contains(typeName, "DECIMAL"):
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		return ir.Decimal(s), nil
	case typeName == "JSON" || typeName == "JSONB":
		return toJSON(v)
	case typeName == "UUID":
		return toUUID(v)
	case typeName == "DATE":
		return toDate(v)
	case strings.Contains(typeName, "TIMESTAMP") || typeName == "DATETIME":
		return toTime(v)
	case typeName == "BLOB" || typeName == "BYTEA" || strings.Contains(typeName, "BINARY"):
		return toBytes(v), nil
	}

	// Untyped or text-ish column: pass scalars through the value domain.
	switch t := v.(type) {
	case []byte:
		return string(t), nil
	case time.Time:
		return t.UTC(), nil
	default:
		return ir.Normalize(v)
	}
}

func isBoolType(name string) bool {
	return name == "BOOL" || name == "BOOLEAN" || name == "TINYINT(1)"
}

func isFloatType(name string) bool {
	return strings.Contains(name, "REAL") || strings.Contains(name, "FLOAT") ||
		strings.Contains(name, "DOUBLE")
}

func toBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case []byte:
		return string(t) == "1" || strings.EqualFold(string(t), "true"), nil
	case string:
		return t == "1" || strings.EqualFold(t, "true"), nil
	default:
		return nil, oxerr.New(oxerr.KindHydration, "cannot decode %T as bool", v)
	}
}

func toInt64(v any) (any, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case []byte:
		return parseInt(string(t))
	case string:
		return parseInt(t)
	default:
		return nil, oxerr.New(oxerr.KindHydration, "cannot decode %T as integer", v)
	}
}

func parseInt(s string) (any, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, oxerr.New(oxerr.KindHydration, "malformed integer %q", s)
	}
	return n, nil
}

func toFloat64(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return nil, oxerr.New(oxerr.KindHydration, "malformed float %q", string(t))
		}
		return f, nil
	default:
		return nil, oxerr.New(oxerr.KindHydration, "cannot decode %T as float", v)
	}
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case int64:
		return itoa(t), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		return "", oxerr.New(oxerr.KindHydration, "cannot decode %T as text", v)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func toJSON(v any) (any, error) {
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return nil, oxerr.New(oxerr.KindHydration, "cannot decode %T as json", v)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, oxerr.New(oxerr.KindHydration, "malformed json document")
	}
	return ir.JSON{Doc: doc}, nil
}

func toUUID(v any) (any, error) {
	switch t := v.(type) {
	case string:
		u, err := uuid.Parse(t)
		if err != nil {
			return nil, oxerr.New(oxerr.KindHydration, "malformed uuid %q", t)
		}
		return u, nil
	case []byte:
		if len(t) == 16 {
			u, err := uuid.FromBytes(t)
			if err != nil {
				return nil, oxerr.New(oxerr.KindHydration, "malformed uuid bytes")
			}
			return u, nil
		}
		u, err := uuid.Parse(string(t))
		if err != nil {
			return nil, oxerr.New(oxerr.KindHydration, "malformed uuid %q", string(t))
		}
		return u, nil
	default:
		return nil, oxerr.New(oxerr.KindHydration, "cannot decode %T as uuid", v)
	}
}

func toDate(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return ir.Date(t.UTC().Format("2006-01-02")), nil
	case string:
		return ir.Date(t), nil
	case []byte:
		return ir.Date(t), nil
	default:
		return nil, oxerr.New(oxerr.KindHydration, "cannot decode %T as date", v)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func toTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return nil, oxerr.New(oxerr.KindHydration, "cannot decode %T as timestamp", v)
	}
}

func parseTime(s string) (any, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return nil, oxerr.New(oxerr.KindHydration, "malformed timestamp %q", s)
}

func toBytes(v any) []byte {
	switch t := v.(type) {
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	case string:
		return []byte(t)
	default:
		return nil
	}
}
