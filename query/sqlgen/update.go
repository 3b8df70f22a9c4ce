package sqlgen

import (
	"strings"

	"github.com/mr-fatalyst/oxyde/query/ir"
)

func (b *builder) buildUpdate(q *ir.QueryIR) (string, error) {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.quote(q.Table))
	sb.WriteString(" SET ")

	names := sortedKeys(q.SetValues)
	assigns := make([]string, 0, len(names))
	for _, name := range names {
		expr, err := b.buildExpr(q, q.SetValues[name])
		if err != nil {
			return "", err
		}
		col := name
		if m, ok := q.ColumnMappings[name]; ok && m != "" {
			col = m
		}
		assigns = append(assigns, b.quotePart(col)+" = "+expr)
	}
	sb.WriteString(strings.Join(assigns, ", "))

	if q.Filter != nil {
		where, err := b.buildFilter(q, q.Filter, false)
		if err != nil {
			return "", err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	if len(q.Returning) > 0 && b.caps.Returning {
		sb.WriteString(b.returningClause(q.Returning))
	}

	return sb.String(), nil
}

func (b *builder) buildDelete(q *ir.QueryIR) (string, error) {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.quote(q.Table))

	if q.Filter != nil {
		where, err := b.buildFilter(q, q.Filter, false)
		if err != nil {
			return "", err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	if len(q.Returning) > 0 && b.caps.Returning {
		sb.WriteString(b.returningClause(q.Returning))
	}

	return sb.String(), nil
}
