package ir

import "github.com/mr-fatalyst/oxyde/oxerr"

// ExprKind discriminates Expression variants.
type ExprKind string

const (
	ExprColumn    ExprKind = "column"
	ExprLiteral   ExprKind = "literal"
	ExprBinOp     ExprKind = "binop"
	ExprAggregate ExprKind = "aggregate"
	ExprScalarFn  ExprKind = "scalar_fn"
	ExprRaw       ExprKind = "raw"
)

// BinOperator is an arithmetic operator of a BinOp expression.
type BinOperator string

const (
	BinAdd BinOperator = "add"
	BinSub BinOperator = "sub"
	BinMul BinOperator = "mul"
	BinDiv BinOperator = "div"
)

// AggregateKind names an aggregate function.
type AggregateKind string

const (
	AggCount AggregateKind = "count"
	AggSum   AggregateKind = "sum"
	AggAvg   AggregateKind = "avg"
	AggMax   AggregateKind = "max"
	AggMin   AggregateKind = "min"
)

// ScalarFnKind names a scalar function with dialect-specific rendering.
type ScalarFnKind string

const (
	FnConcat   ScalarFnKind = "concat"
	FnCoalesce ScalarFnKind = "coalesce"
)

// Expression is one node of the arithmetic/aggregate expression tree used by
// annotations, UPDATE set values and expression-valued conditions. RawText of
// an ExprRaw node is a trusted fragment and bypasses parameterisation; it must
// never carry user input.
type Expression struct {
	Kind     ExprKind      `msgpack:"kind" json:"kind"`
	Name     string        `msgpack:"name,omitempty" json:"name,omitempty"`     // column name
	Value    any           `msgpack:"value,omitempty" json:"value,omitempty"`    // literal
	Op       BinOperator   `msgpack:"op,omitempty" json:"op,omitempty"`       // binop
	Left     *Expression   `msgpack:"left,omitempty" json:"left,omitempty"`     // binop
	Right    *Expression   `msgpack:"right,omitempty" json:"right,omitempty"`    // binop
	Agg      AggregateKind `msgpack:"agg,omitempty" json:"agg,omitempty"`      // aggregate
	Column   string        `msgpack:"column,omitempty" json:"column,omitempty"`   // aggregate target, "*" for COUNT(*)
	Distinct bool          `msgpack:"distinct,omitempty" json:"distinct,omitempty"` // aggregate
	Fn       ScalarFnKind  `msgpack:"fn,omitempty" json:"fn,omitempty"`       // scalar fn
	Args     []*Expression `msgpack:"args,omitempty" json:"args,omitempty"`     // scalar fn
	RawText  string        `msgpack:"raw_text,omitempty" json:"raw_text,omitempty"` // raw fragment
}

// Col builds a column reference.
func Col(name string) *Expression {
	return &Expression{Kind: ExprColumn, Name: name}
}

// Lit builds a literal that travels as a bound parameter.
func Lit(value any) *Expression {
	return &Expression{Kind: ExprLiteral, Value: value}
}

// BinOp builds an infix arithmetic expression.
func BinOp(op BinOperator, left, right *Expression) *Expression {
	return &Expression{Kind: ExprBinOp, Op: op, Left: left, Right: right}
}

// Aggregate builds an aggregate call. Pass "*" as column for COUNT(*).
func Aggregate(kind AggregateKind, column string, distinct bool) *Expression {
	return &Expression{Kind: ExprAggregate, Agg: kind, Column: column, Distinct: distinct}
}

// ScalarFn builds a CONCAT or COALESCE call.
func ScalarFn(fn ScalarFnKind, args ...*Expression) *Expression {
	return &Expression{Kind: ExprScalarFn, Fn: fn, Args: args}
}

// RawFragment builds a trusted inline SQL fragment.
func RawFragment(text string) *Expression {
	return &Expression{Kind: ExprRaw, RawText: text}
}

// Validate checks the expression recursively.
func (e *Expression) Validate() error {
	switch e.Kind {
	case ExprColumn:
		if e.Name == "" {
			return oxerr.New(oxerr.KindUsage, "column expression missing name")
		}
	case ExprLiteral:
	case ExprBinOp:
		switch e.Op {
		case BinAdd, BinSub, BinMul, BinDiv:
		default:
			return oxerr.New(oxerr.KindUsage, "unknown arithmetic operator %q", string(e.Op))
		}
		if e.Left == nil || e.Right == nil {
			return oxerr.New(oxerr.KindUsage, "binop requires both operands")
		}
		if err := e.Left.Validate(); err != nil {
			return err
		}
		return e.Right.Validate()
	case ExprAggregate:
		switch e.Agg {
		case AggCount, AggSum, AggAvg, AggMax, AggMin:
		default:
			return oxerr.New(oxerr.KindUsage, "unknown aggregate %q", string(e.Agg))
		}
		if e.Column == "" {
			return oxerr.New(oxerr.KindUsage, "aggregate missing column")
		}
	case ExprScalarFn:
		switch e.Fn {
		case FnConcat, FnCoalesce:
		default:
			return oxerr.New(oxerr.KindUsage, "unknown scalar function %q", string(e.Fn))
		}
		if len(e.Args) == 0 {
			return oxerr.New(oxerr.KindUsage, "%s requires arguments", string(e.Fn))
		}
		for _, a := range e.Args {
			if err := a.Validate(); err != nil {
				return err
			}
		}
	case ExprRaw:
		if e.RawText == "" {
			return oxerr.New(oxerr.KindUsage, "raw fragment is empty")
		}
	default:
		return oxerr.New(oxerr.KindUsage, "unknown expression kind %q", string(e.Kind))
	}
	return nil
}
