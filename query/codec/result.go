package codec

import (
	"errors"

	"github.com/mr-fatalyst/oxyde/oxerr"
)

// ResultKind tags the result envelope variant.
type ResultKind string

const (
	ResultRows     ResultKind = "rows"
	ResultMutation ResultKind = "mutation"
	ResultPlan     ResultKind = "plan"
)

// Result is the engine's reply envelope. Rows carry Columns in IR projection
// order and each row's values in that same order.
type Result struct {
	Kind             ResultKind `msgpack:"kind"`
	Columns          []string   `msgpack:"columns,omitempty"`
	Rows             [][]any    `msgpack:"rows,omitempty"`
	Affected         int64      `msgpack:"affected,omitempty"`
	InsertedIDs      []any      `msgpack:"inserted_ids,omitempty"`
	Approximate      bool       `msgpack:"approximate,omitempty"`
	ReturningColumns []string   `msgpack:"returning_columns,omitempty"`
	Returning        [][]any    `msgpack:"returning,omitempty"`
	Plan             any        `msgpack:"plan,omitempty"`
	// Prefetched maps a prefetch name to its child row set.
	Prefetched map[string]*Result `msgpack:"prefetched,omitempty"`
}

// EncodeResult frames a result envelope for the wire.
func EncodeResult(r *Result) ([]byte, error) {
	return marshal(r)
}

// DecodeResult parses a framed result envelope.
func DecodeResult(data []byte) (*Result, error) {
	var r Result
	if err := unmarshal(data, &r); err != nil {
		return nil, err
	}
	for _, row := range r.Rows {
		for i, v := range row {
			row[i] = normalizeDecoded(v)
		}
	}
	return &r, nil
}

// ErrorPayload is the wire form of the error envelope.
type ErrorPayload struct {
	Kind        string `msgpack:"kind"`
	Message     string `msgpack:"message"`
	BackendCode string `msgpack:"backend_code,omitempty"`
	Constraint  string `msgpack:"constraint,omitempty"`
	Column      string `msgpack:"column,omitempty"`
}

// EncodeError frames err as an error envelope. Errors that are not engine
// errors are reported as BACKEND.
func EncodeError(err error) []byte {
	payload := ErrorPayload{Kind: string(oxerr.KindBackend), Message: err.Error()}
	var e *oxerr.Error
	if errors.As(err, &e) {
		payload = ErrorPayload{
			Kind:        string(e.Kind),
			Message:     e.Message,
			BackendCode: e.BackendCode,
			Constraint:  e.Constraint,
			Column:      e.Column,
		}
	}
	out, mErr := marshal(payload)
	if mErr != nil {
		// A flat struct of strings cannot fail to encode; keep the frame
		// header contract even if it somehow does.
		return []byte{Version}
	}
	return out
}

// DecodeError parses a framed error envelope back into an engine error.
func DecodeError(data []byte) (*oxerr.Error, error) {
	var payload ErrorPayload
	if err := unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &oxerr.Error{
		Kind:        oxerr.Kind(payload.Kind),
		Message:     payload.Message,
		BackendCode: payload.BackendCode,
		Constraint:  payload.Constraint,
		Column:      payload.Column,
	}, nil
}
