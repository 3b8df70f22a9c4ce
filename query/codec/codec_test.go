package codec

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
)

func sampleIR() *ir.QueryIR {
	limit := int64(10)
	return &ir.QueryIR{
		Proto:   ir.ProtoVersion,
		Op:      ir.OpSelect,
		Table:   "users",
		Columns: []string{"id", "name"},
		Filter: ir.And(
			ir.Cond("age", ir.LookupGte, int64(18)),
			ir.Or(
				ir.Cond("status", ir.LookupEq, "active"),
				ir.Cond("role", ir.LookupEq, "admin"),
			),
		),
		OrderBy: []ir.OrderBy{{Column: "created_at", Direction: ir.SortDesc}},
		Limit:   &limit,
	}
}

func TestIRRoundTrip(t *testing.T) {
	frame, err := EncodeIR(sampleIR())
	require.NoError(t, err)
	assert.Equal(t, Version, frame[0])

	decoded, err := DecodeIR(frame)
	require.NoError(t, err)
	assert.Equal(t, sampleIR(), decoded)
}

func TestCanonicalRoundTrip(t *testing.T) {
	frame, err := EncodeIR(sampleIR())
	require.NoError(t, err)

	decoded, err := DecodeIR(frame)
	require.NoError(t, err)
	again, err := EncodeIR(decoded)
	require.NoError(t, err)
	assert.Equal(t, frame, again, "encode(decode(b)) must reproduce canonical frames")
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	_, err := DecodeIR(nil)
	assert.True(t, oxerr.IsKind(err, oxerr.KindProtocol))

	_, err = DecodeIR([]byte{Version})
	assert.True(t, oxerr.IsKind(err, oxerr.KindProtocol))

	frame, err := EncodeIR(sampleIR())
	require.NoError(t, err)
	frame[0] = 0x02
	_, err = DecodeIR(frame)
	assert.True(t, oxerr.IsKind(err, oxerr.KindProtocol))

	_, err = DecodeIR([]byte{Version, 0xc1, 0xc1, 0xc1})
	assert.True(t, oxerr.IsKind(err, oxerr.KindProtocol))
}

func TestValueDomainExtensions(t *testing.T) {
	u := uuid.New()
	q := &ir.QueryIR{
		Proto: ir.ProtoVersion,
		Op:    ir.OpInsert,
		Table: "t",
		Values: [][]ir.ColumnValue{{
			{Column: "id", Value: u},
			{Column: "price", Value: ir.Decimal("19.99")},
			{Column: "day", Value: ir.Date("2024-06-15")},
			{Column: "meta", Value: ir.JSON{Doc: map[string]any{"k": "v"}}},
		}},
	}

	frame, err := EncodeIR(q)
	require.NoError(t, err)
	decoded, err := DecodeIR(frame)
	require.NoError(t, err)

	row := decoded.Values[0]
	assert.Equal(t, u, row[0].Value)
	assert.Equal(t, ir.Decimal("19.99"), row[1].Value)
	assert.Equal(t, ir.Date("2024-06-15"), row[2].Value)
	assert.Equal(t, ir.JSON{Doc: map[string]any{"k": "v"}}, row[3].Value)
}

func TestResultRoundTrip(t *testing.T) {
	res := &Result{
		Kind:    ResultRows,
		Columns: []string{"id", "name"},
		Rows: [][]any{
			{int64(1), "A"},
			{int64(2), "B"},
		},
	}
	frame, err := EncodeResult(res)
	require.NoError(t, err)

	decoded, err := DecodeResult(frame)
	require.NoError(t, err)
	assert.Equal(t, res, decoded)
}

func TestErrorEnvelope(t *testing.T) {
	cause := oxerr.New(oxerr.KindIntegrity, "duplicate key").
		WithBackendCode("23505").
		WithConstraint("users_email_key").
		WithColumn("email")

	frame := EncodeError(cause)
	decoded, err := DecodeError(frame)
	require.NoError(t, err)
	assert.Equal(t, oxerr.KindIntegrity, decoded.Kind)
	assert.Equal(t, "23505", decoded.BackendCode)
	assert.Equal(t, "users_email_key", decoded.Constraint)
	assert.Equal(t, "email", decoded.Column)
}
