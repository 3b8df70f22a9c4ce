package ir

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-fatalyst/oxyde/oxerr"
)

func TestValidateOperations(t *testing.T) {
	tests := []struct {
		name    string
		q       *QueryIR
		wantErr bool
	}{
		{
			name: "valid select",
			q:    &QueryIR{Op: OpSelect, Table: "users", Columns: []string{"id"}},
		},
		{
			name:    "unknown op",
			q:       &QueryIR{Op: Operation("UPSERT"), Table: "users"},
			wantErr: true,
		},
		{
			name:    "missing table",
			q:       &QueryIR{Op: OpSelect},
			wantErr: true,
		},
		{
			name:    "raw without sql",
			q:       &QueryIR{Op: OpRaw},
			wantErr: true,
		},
		{
			name: "raw with sql needs no table",
			q:    &QueryIR{Op: OpRaw, Raw: &Raw{SQL: "SELECT 1"}},
		},
		{
			name:    "insert without rows",
			q:       &QueryIR{Op: OpInsert, Table: "users"},
			wantErr: true,
		},
		{
			name: "insert ragged rows",
			q: &QueryIR{Op: OpInsert, Table: "users", Values: [][]ColumnValue{
				{{Column: "a", Value: 1}},
				{{Column: "a", Value: 1}, {Column: "b", Value: 2}},
			}},
			wantErr: true,
		},
		{
			name:    "update without set",
			q:       &QueryIR{Op: OpUpdate, Table: "users"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, oxerr.IsKind(err, oxerr.KindUsage))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilterValidate(t *testing.T) {
	require.Error(t, Cond("", LookupEq, 1).Validate())
	require.Error(t, Cond("a", Lookup("regex"), 1).Validate())
	require.Error(t, And().Validate())
	require.Error(t, (&FilterNode{Kind: FilterNot}).Validate())
	require.NoError(t, And(Cond("a", LookupEq, 1), Not(Cond("b", LookupIsNull, true))).Validate())
}

func TestExpressionValidate(t *testing.T) {
	require.Error(t, (&Expression{Kind: ExprBinOp, Op: BinAdd, Left: Col("a")}).Validate())
	require.Error(t, (&Expression{Kind: ExprAggregate, Agg: AggregateKind("median"), Column: "a"}).Validate())
	require.Error(t, ScalarFn(FnConcat).Validate())
	require.NoError(t, BinOp(BinDiv, Col("a"), Lit(2)).Validate())
	require.NoError(t, Aggregate(AggCount, "*", false).Validate())
}

func TestNormalize(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	ts := time.Date(2024, 6, 15, 12, 0, 0, 0, loc)

	got, err := Normalize(ts)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.(time.Time).Location())

	got, err = Normalize(int32(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	got, err = Normalize(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.IsType(t, JSON{}, got)

	u := uuid.New()
	got, err = Normalize(u)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = Normalize(struct{}{})
	require.Error(t, err)
	assert.True(t, oxerr.IsKind(err, oxerr.KindUsage))
}
