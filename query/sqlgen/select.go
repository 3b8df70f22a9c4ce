package sqlgen

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
)

func (b *builder) buildSelect(q *ir.QueryIR) (string, error) {
	if q.Exists {
		inner := *q
		inner.Exists = false
		inner.Count = false
		innerSQL, err := b.buildSelectProjected(&inner, "1")
		if err != nil {
			return "", err
		}
		return "SELECT EXISTS(" + innerSQL + ")", nil
	}
	if q.Count {
		return b.buildSelectProjected(q, "COUNT(*)")
	}
	return b.buildSelectProjected(q, "")
}

// buildSelectProjected renders the SELECT; projection overrides the computed
// column list when non-empty (EXISTS and COUNT shortcuts).
func (b *builder) buildSelectProjected(q *ir.QueryIR, projection string) (string, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if q.Distinct {
		sb.WriteString("DISTINCT ")
	}

	if projection == "" {
		var err error
		projection, err = b.projection(q)
		if err != nil {
			return "", err
		}
	}
	sb.WriteString(projection)
	sb.WriteString(" FROM ")
	sb.WriteString(b.quote(q.Table))

	for _, j := range q.Joins {
		sb.WriteString(" LEFT JOIN ")
		sb.WriteString(b.quote(j.Table))
		sb.WriteString(" AS ")
		sb.WriteString(b.quotePart(j.Alias))
		sb.WriteString(" ON ")
		sb.WriteString(b.quote(q.Table) + "." + b.quotePart(j.SourceColumn))
		sb.WriteString(" = ")
		sb.WriteString(b.quotePart(j.Alias) + "." + b.quotePart(j.TargetColumn))
	}

	if q.Filter != nil {
		where, err := b.buildFilter(q, q.Filter, false)
		if err != nil {
			return "", err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	if len(q.GroupBy) > 0 {
		cols := make([]string, len(q.GroupBy))
		for i, c := range q.GroupBy {
			cols[i] = b.fieldSQL(q, c)
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(cols, ", "))
	}

	if q.Having != nil {
		having, err := b.buildFilter(q, q.Having, false)
		if err != nil {
			return "", err
		}
		sb.WriteString(" HAVING ")
		sb.WriteString(having)
	}

	if len(q.OrderBy) > 0 {
		terms := make([]string, 0, len(q.OrderBy))
		for _, ob := range q.OrderBy {
			terms = append(terms, b.orderTerm(q, ob)...)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(terms, ", "))
	}

	if q.Limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.FormatInt(*q.Limit, 10))
	} else if q.Offset != nil && b.dialect == MySQL {
		// MySQL requires LIMIT when OFFSET is present.
		sb.WriteString(" LIMIT 18446744073709551615")
	}
	if q.Offset != nil {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.FormatInt(*q.Offset, 10))
	}

	switch q.Locking {
	case ir.LockForUpdate:
		if b.dialect != SQLite {
			sb.WriteString(" FOR UPDATE")
		}
	case ir.LockForShare:
		if b.dialect != SQLite {
			sb.WriteString(" FOR SHARE")
		}
	}

	for _, u := range q.Unions {
		part, err := b.buildSelect(u.Query)
		if err != nil {
			return "", err
		}
		if u.All {
			sb.WriteString(" UNION ALL ")
		} else {
			sb.WriteString(" UNION ")
		}
		sb.WriteString(part)
	}

	return sb.String(), nil
}

// projection renders the column list: projected columns, joined relation
// columns, then annotations sorted by output name for determinism.
func (b *builder) projection(q *ir.QueryIR) (string, error) {
	star := len(q.Columns) == 0 || (len(q.Columns) == 1 && q.Columns[0] == "*")

	var parts []string
	if star {
		parts = append(parts, "*")
	} else {
		for _, col := range q.Columns {
			parts = append(parts, b.projectedColumn(q, col))
		}
	}

	for _, j := range q.Joins {
		for _, jc := range j.Columns {
			parts = append(parts,
				b.quotePart(j.Alias)+"."+b.quotePart(jc.Column)+" AS "+b.quotePart(j.ResultPrefix+"__"+jc.Field))
		}
	}

	if len(q.Annotations) > 0 {
		names := make([]string, 0, len(q.Annotations))
		for name := range q.Annotations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			expr, err := b.buildExpr(q, q.Annotations[name])
			if err != nil {
				return "", err
			}
			parts = append(parts, expr+" AS "+b.quotePart(name))
		}
	}

	if len(parts) == 0 {
		return "", oxerr.New(oxerr.KindBuild, "empty projection")
	}
	return strings.Join(parts, ", "), nil
}

// projectedColumn renders one projected field, applying column mappings as
// "column" AS "field" when the names differ.
func (b *builder) projectedColumn(q *ir.QueryIR, field string) string {
	col := field
	if m, ok := q.ColumnMappings[field]; ok && m != "" {
		col = m
	}
	rendered := b.quotePart(col)
	if len(q.Joins) > 0 {
		rendered = b.quote(q.Table) + "." + rendered
	}
	if col != field {
		return rendered + " AS " + b.quotePart(field)
	}
	return rendered
}

// fieldSQL renders a field reference for WHERE/GROUP BY/ORDER BY, applying
// column mappings and base-table qualification when joins are present.
func (b *builder) fieldSQL(q *ir.QueryIR, field string) string {
	col := field
	if m, ok := q.ColumnMappings[field]; ok && m != "" {
		col = m
	}
	if strings.Contains(field, ".") {
		// Already qualified (join alias reference).
		return b.quote(field)
	}
	if len(q.Joins) > 0 {
		return b.quote(q.Table) + "." + b.quotePart(col)
	}
	return b.quotePart(col)
}

// orderTerm renders one ORDER BY entry. MySQL has no NULLS FIRST/LAST; the
// placement is emulated with an IS NULL prefix term.
func (b *builder) orderTerm(q *ir.QueryIR, ob ir.OrderBy) []string {
	col := b.fieldSQL(q, ob.Column)
	dir := "ASC"
	if ob.Direction == ir.SortDesc {
		dir = "DESC"
	}
	term := col + " " + dir

	switch ob.Nulls {
	case ir.NullsFirst:
		if b.dialect == MySQL {
			return []string{col + " IS NULL DESC", term}
		}
		return []string{term + " NULLS FIRST"}
	case ir.NullsLast:
		if b.dialect == MySQL {
			return []string{col + " IS NULL ASC", term}
		}
		return []string{term + " NULLS LAST"}
	default:
		return []string{term}
	}
}
