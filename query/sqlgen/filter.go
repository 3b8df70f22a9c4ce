package sqlgen

import (
	"strings"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
)

// buildFilter lowers a FilterNode tree to SQL. nested marks a composite node
// sitting inside another composite; those are parenthesised so the tree shape
// survives, while the top level stays bare.
func (b *builder) buildFilter(q *ir.QueryIR, n *ir.FilterNode, nested bool) (string, error) {
	switch n.Kind {
	case ir.FilterCond:
		return b.buildCond(q, n)
	case ir.FilterAnd, ir.FilterOr:
		sep := " AND "
		if n.Kind == ir.FilterOr {
			sep = " OR "
		}
		parts := make([]string, 0, len(n.Children))
		for _, c := range n.Children {
			part, err := b.buildFilter(q, c, true)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		out := strings.Join(parts, sep)
		if nested && len(parts) > 1 {
			out = "(" + out + ")"
		}
		return out, nil
	case ir.FilterNot:
		inner, err := b.buildFilter(q, n.Child, true)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", oxerr.New(oxerr.KindBuild, "unknown filter kind %q", string(n.Kind))
	}
}

func (b *builder) buildCond(q *ir.QueryIR, n *ir.FilterNode) (string, error) {
	field := b.fieldSQL(q, n.Field)

	// Expression-valued right-hand side: only plain comparisons apply.
	if n.Expr != nil {
		sym, ok := comparisonSymbol(n.Op)
		if !ok {
			return "", oxerr.New(oxerr.KindBuild, "lookup %q does not accept an expression value", string(n.Op))
		}
		rhs, err := b.buildExpr(q, n.Expr)
		if err != nil {
			return "", err
		}
		return field + " " + sym + " " + rhs, nil
	}

	switch n.Op {
	case ir.LookupEq:
		if n.Value == nil {
			return field + " IS NULL", nil
		}
		return b.comparison(field, "=", n.Value)
	case ir.LookupNe:
		if n.Value == nil {
			return field + " IS NOT NULL", nil
		}
		return b.comparison(field, "<>", n.Value)
	case ir.LookupGt:
		return b.comparison(field, ">", n.Value)
	case ir.LookupGte:
		return b.comparison(field, ">=", n.Value)
	case ir.LookupLt:
		return b.comparison(field, "<", n.Value)
	case ir.LookupLte:
		return b.comparison(field, "<=", n.Value)

	case ir.LookupIn:
		vals, ok := ir.AsSlice(n.Value)
		if !ok {
			return "", oxerr.New(oxerr.KindBuild, "in lookup on %q requires a sequence", n.Field)
		}
		if len(vals) == 0 {
			// Constant-false predicate keeps the surrounding query valid.
			return "1 = 0", nil
		}
		phs := make([]string, len(vals))
		for i, v := range vals {
			ph, err := b.bind(v)
			if err != nil {
				return "", err
			}
			phs[i] = ph
		}
		return field + " IN (" + strings.Join(phs, ", ") + ")", nil

	case ir.LookupBetween:
		vals, ok := ir.AsSlice(n.Value)
		if !ok || len(vals) != 2 {
			return "", oxerr.New(oxerr.KindBuild, "between lookup on %q requires exactly two values", n.Field)
		}
		lo, err := b.bind(vals[0])
		if err != nil {
			return "", err
		}
		hi, err := b.bind(vals[1])
		if err != nil {
			return "", err
		}
		return field + " BETWEEN " + lo + " AND " + hi, nil

	case ir.LookupIsNull:
		truthy, ok := n.Value.(bool)
		if !ok {
			return "", oxerr.New(oxerr.KindBuild, "isnull lookup on %q requires a bool", n.Field)
		}
		if truthy {
			return field + " IS NULL", nil
		}
		return field + " IS NOT NULL", nil

	case ir.LookupContains:
		return b.pattern(field, n, "%", "%", false)
	case ir.LookupIContains:
		return b.pattern(field, n, "%", "%", true)
	case ir.LookupStartsWith:
		return b.pattern(field, n, "", "%", false)
	case ir.LookupIStartsWith:
		return b.pattern(field, n, "", "%", true)
	case ir.LookupEndsWith:
		return b.pattern(field, n, "%", "", false)
	case ir.LookupIEndsWith:
		return b.pattern(field, n, "%", "", true)

	case ir.LookupIExact:
		ph, err := b.bind(n.Value)
		if err != nil {
			return "", err
		}
		return "LOWER(" + field + ") = LOWER(" + ph + ")", nil

	case ir.LookupYear:
		return b.dateEquality(n, []string{"YEAR"}, field)
	case ir.LookupMonth:
		return b.dateEquality(n, []string{"MONTH", "DAY"}, field)
	case ir.LookupDay:
		return b.dateEquality(n, []string{"DAY"}, field)

	default:
		return "", oxerr.New(oxerr.KindBuild, "unsupported lookup %q", string(n.Op))
	}
}

func comparisonSymbol(op ir.Lookup) (string, bool) {
	switch op {
	case ir.LookupEq:
		return "=", true
	case ir.LookupNe:
		return "<>", true
	case ir.LookupGt:
		return ">", true
	case ir.LookupGte:
		return ">=", true
	case ir.LookupLt:
		return "<", true
	case ir.LookupLte:
		return "<=", true
	default:
		return "", false
	}
}

func (b *builder) comparison(field, sym string, value any) (string, error) {
	ph, err := b.bind(value)
	if err != nil {
		return "", err
	}
	return field + " " + sym + " " + ph, nil
}

// pattern renders the LIKE-family lookups. The wildcard wrapping happens on
// the parameter, never in the SQL text. Case-insensitive variants use ILIKE
// on Postgres and LOWER(...) LIKE LOWER(...) elsewhere.
func (b *builder) pattern(field string, n *ir.FilterNode, prefix, suffix string, insensitive bool) (string, error) {
	s, ok := n.Value.(string)
	if !ok {
		return "", oxerr.New(oxerr.KindBuild, "%s lookup on %q requires a string", string(n.Op), n.Field)
	}
	ph, err := b.bind(prefix + s + suffix)
	if err != nil {
		return "", err
	}
	if !insensitive {
		return field + " LIKE " + ph, nil
	}
	if b.dialect == Postgres {
		return field + " ILIKE " + ph, nil
	}
	return "LOWER(" + field + ") LIKE LOWER(" + ph + ")", nil
}

// dateEquality compiles year/month/day lookups. A sequence value spans the
// listed parts in order (month accepts [month, day]); a scalar binds to the
// first part only.
func (b *builder) dateEquality(n *ir.FilterNode, parts []string, field string) (string, error) {
	values := []any{n.Value}
	if seq, ok := ir.AsSlice(n.Value); ok {
		values = seq
	}
	if len(values) == 0 || len(values) > len(parts) {
		return "", oxerr.New(oxerr.KindBuild, "%s lookup on %q accepts at most %d value(s)", string(n.Op), n.Field, len(parts))
	}
	rendered := make([]string, len(values))
	for i, v := range values {
		ph, err := b.bind(v)
		if err != nil {
			return "", err
		}
		rendered[i] = b.datePart(parts[i], field) + " = " + ph
	}
	if len(rendered) == 1 {
		return rendered[0], nil
	}
	return "(" + strings.Join(rendered, " AND ") + ")", nil
}

func (b *builder) datePart(part, field string) string {
	switch b.dialect {
	case Postgres:
		return "EXTRACT(" + part + " FROM " + field + ")"
	case SQLite:
		fmtCode := map[string]string{"YEAR": "%Y", "MONTH": "%m", "DAY": "%d"}[part]
		return "CAST(STRFTIME('" + fmtCode + "', " + field + ") AS INTEGER)"
	default:
		return part + "(" + field + ")"
	}
}
