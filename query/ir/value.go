package ir

import (
	"time"

	"github.com/google/uuid"

	"github.com/mr-fatalyst/oxyde/oxerr"
)

// Decimal is a string-encoded arbitrary-precision decimal. NUMERIC columns
// hydrate to this type so precision survives the trip through the engine.
type Decimal string

// Date is a calendar date without a time component, ISO-8601 encoded.
type Date string

// JSON wraps a nested document (maps, slices, scalars) carried through a
// json-typed column.
type JSON struct {
	Doc any `msgpack:"doc" json:"doc"`
}

// Normalize coerces v into the canonical value domain: nil, bool, int64,
// float64, Decimal, string, []byte, time.Time (UTC), Date, uuid.UUID, JSON.
// Narrower numeric widths widen; unsupported types are USAGE errors.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, int64, float64, Decimal, string, []byte, Date, uuid.UUID, JSON:
		return v, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > 1<<63-1 {
			return nil, oxerr.New(oxerr.KindUsage, "uint64 value %d overflows i64", t)
		}
		return int64(t), nil
	case float32:
		return float64(t), nil
	case time.Time:
		return t.UTC(), nil
	case map[string]any, []any:
		return JSON{Doc: t}, nil
	default:
		return nil, oxerr.New(oxerr.KindUsage, "unsupported value type %T", v)
	}
}

// NormalizeSlice applies Normalize to every element.
func NormalizeSlice(vals []any) ([]any, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		n, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// AsSlice unwraps an IN/BETWEEN value into its element slice. Accepts []any
// (the form the codec decodes sequences into), []int64 and []string.
func AsSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []int64:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, true
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}
