package sqlgen

import (
	"strings"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
)

// buildExpr renders an Expression tree. Nested arithmetic operands are
// parenthesised so the tree shape is preserved; the root stays bare.
func (b *builder) buildExpr(q *ir.QueryIR, e *ir.Expression) (string, error) {
	switch e.Kind {
	case ir.ExprColumn:
		return b.fieldSQL(q, e.Name), nil

	case ir.ExprLiteral:
		return b.bind(e.Value)

	case ir.ExprBinOp:
		left, err := b.buildOperand(q, e.Left)
		if err != nil {
			return "", err
		}
		right, err := b.buildOperand(q, e.Right)
		if err != nil {
			return "", err
		}
		sym, err := binSymbol(e.Op)
		if err != nil {
			return "", err
		}
		return left + " " + sym + " " + right, nil

	case ir.ExprAggregate:
		return b.buildAggregate(q, e)

	case ir.ExprScalarFn:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			arg, err := b.buildExpr(q, a)
			if err != nil {
				return "", err
			}
			args[i] = arg
		}
		switch e.Fn {
		case ir.FnConcat:
			if b.dialect == SQLite {
				return strings.Join(args, " || "), nil
			}
			return "CONCAT(" + strings.Join(args, ", ") + ")", nil
		case ir.FnCoalesce:
			return "COALESCE(" + strings.Join(args, ", ") + ")", nil
		default:
			return "", oxerr.New(oxerr.KindBuild, "unknown scalar function %q", string(e.Fn))
		}

	case ir.ExprRaw:
		// Trusted fragment, inlined verbatim.
		return e.RawText, nil

	default:
		return "", oxerr.New(oxerr.KindBuild, "unknown expression kind %q", string(e.Kind))
	}
}

func (b *builder) buildOperand(q *ir.QueryIR, e *ir.Expression) (string, error) {
	out, err := b.buildExpr(q, e)
	if err != nil {
		return "", err
	}
	if e.Kind == ir.ExprBinOp {
		out = "(" + out + ")"
	}
	return out, nil
}

func binSymbol(op ir.BinOperator) (string, error) {
	switch op {
	case ir.BinAdd:
		return "+", nil
	case ir.BinSub:
		return "-", nil
	case ir.BinMul:
		return "*", nil
	case ir.BinDiv:
		return "/", nil
	default:
		return "", oxerr.New(oxerr.KindBuild, "unknown arithmetic operator %q", string(op))
	}
}

func (b *builder) buildAggregate(q *ir.QueryIR, e *ir.Expression) (string, error) {
	fn := map[ir.AggregateKind]string{
		ir.AggCount: "COUNT",
		ir.AggSum:   "SUM",
		ir.AggAvg:   "AVG",
		ir.AggMax:   "MAX",
		ir.AggMin:   "MIN",
	}[e.Agg]
	if fn == "" {
		return "", oxerr.New(oxerr.KindBuild, "unknown aggregate %q", string(e.Agg))
	}
	target := "*"
	if e.Column != "*" {
		target = b.fieldSQL(q, e.Column)
	}
	if e.Distinct {
		if e.Column == "*" {
			return "", oxerr.New(oxerr.KindBuild, "%s(DISTINCT *) is not valid", fn)
		}
		return fn + "(DISTINCT " + target + ")", nil
	}
	return fn + "(" + target + ")", nil
}
