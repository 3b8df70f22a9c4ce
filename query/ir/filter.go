package ir

import "github.com/mr-fatalyst/oxyde/oxerr"

// FilterKind discriminates FilterNode variants.
type FilterKind string

const (
	FilterCond FilterKind = "cond"
	FilterAnd  FilterKind = "and"
	FilterOr   FilterKind = "or"
	FilterNot  FilterKind = "not"
)

// Lookup is a condition operator.
type Lookup string

const (
	LookupEq          Lookup = "eq"
	LookupNe          Lookup = "ne"
	LookupGt          Lookup = "gt"
	LookupGte         Lookup = "gte"
	LookupLt          Lookup = "lt"
	LookupLte         Lookup = "lte"
	LookupIn          Lookup = "in"
	LookupBetween     Lookup = "between"
	LookupIsNull      Lookup = "isnull"
	LookupContains    Lookup = "contains"
	LookupIContains   Lookup = "icontains"
	LookupStartsWith  Lookup = "startswith"
	LookupIStartsWith Lookup = "istartswith"
	LookupEndsWith    Lookup = "endswith"
	LookupIEndsWith   Lookup = "iendswith"
	LookupIExact      Lookup = "iexact"
	LookupYear        Lookup = "year"
	LookupMonth       Lookup = "month"
	LookupDay         Lookup = "day"
)

var validLookups = map[Lookup]bool{
	LookupEq: true, LookupNe: true, LookupGt: true, LookupGte: true,
	LookupLt: true, LookupLte: true, LookupIn: true, LookupBetween: true,
	LookupIsNull: true, LookupContains: true, LookupIContains: true,
	LookupStartsWith: true, LookupIStartsWith: true, LookupEndsWith: true,
	LookupIEndsWith: true, LookupIExact: true, LookupYear: true,
	LookupMonth: true, LookupDay: true,
}

// FilterNode is one node of the recursive filter tree. Kind selects which
// fields are meaningful: a condition uses Field/Op/Value (or Expr for a
// right-hand expression), and/or use Children, not uses Child.
type FilterNode struct {
	Kind     FilterKind    `msgpack:"kind" json:"kind"`
	Field    string        `msgpack:"field,omitempty" json:"field,omitempty"`
	Op       Lookup        `msgpack:"op,omitempty" json:"op,omitempty"`
	Value    any           `msgpack:"value,omitempty" json:"value,omitempty"`
	Expr     *Expression   `msgpack:"expr,omitempty" json:"expr,omitempty"`
	Children []*FilterNode `msgpack:"children,omitempty" json:"children,omitempty"`
	Child    *FilterNode   `msgpack:"child,omitempty" json:"child,omitempty"`
}

// Cond builds a condition node.
func Cond(field string, op Lookup, value any) *FilterNode {
	return &FilterNode{Kind: FilterCond, Field: field, Op: op, Value: value}
}

// CondExpr builds a condition whose right-hand side is an expression.
func CondExpr(field string, op Lookup, expr *Expression) *FilterNode {
	return &FilterNode{Kind: FilterCond, Field: field, Op: op, Expr: expr}
}

// And builds a conjunction node.
func And(children ...*FilterNode) *FilterNode {
	return &FilterNode{Kind: FilterAnd, Children: children}
}

// Or builds a disjunction node.
func Or(children ...*FilterNode) *FilterNode {
	return &FilterNode{Kind: FilterOr, Children: children}
}

// Not builds a negation node.
func Not(child *FilterNode) *FilterNode {
	return &FilterNode{Kind: FilterNot, Child: child}
}

// Validate checks the node recursively. Unknown kinds and operators are
// rejected here, before SQL generation starts, rather than by the builder;
// the constructors above do not validate.
func (n *FilterNode) Validate() error {
	switch n.Kind {
	case FilterCond:
		if n.Field == "" {
			return oxerr.New(oxerr.KindUsage, "condition missing field")
		}
		if !validLookups[n.Op] {
			return oxerr.New(oxerr.KindUsage, "unknown lookup %q on field %q", string(n.Op), n.Field)
		}
		if n.Expr != nil {
			return n.Expr.Validate()
		}
	case FilterAnd, FilterOr:
		if len(n.Children) == 0 {
			return oxerr.New(oxerr.KindUsage, "%s node has no children", string(n.Kind))
		}
		for _, c := range n.Children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
	case FilterNot:
		if n.Child == nil {
			return oxerr.New(oxerr.KindUsage, "not node has no child")
		}
		return n.Child.Validate()
	default:
		return oxerr.New(oxerr.KindUsage, "unknown filter kind %q", string(n.Kind))
	}
	return nil
}
