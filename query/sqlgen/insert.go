package sqlgen

import (
	"sort"
	"strings"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
)

func (b *builder) buildInsert(q *ir.QueryIR) (string, error) {
	if len(q.Values) > MaxInsertRows {
		return "", oxerr.New(oxerr.KindBuild, "insert of %d rows exceeds batch bound %d", len(q.Values), MaxInsertRows)
	}

	first := q.Values[0]
	cols := make([]string, len(first))
	for i, cv := range first {
		cols[i] = b.quotePart(cv.Column)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.quote(q.Table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ","))
	sb.WriteString(") VALUES ")

	tuples := make([]string, len(q.Values))
	for ri, row := range q.Values {
		phs := make([]string, len(row))
		for i, cv := range row {
			if cv.Column != first[i].Column {
				return "", oxerr.New(oxerr.KindBuild, "insert row %d column order differs from row 0", ri)
			}
			ph, err := b.bind(cv.Value)
			if err != nil {
				return "", err
			}
			phs[i] = ph
		}
		tuples[ri] = "(" + strings.Join(phs, ",") + ")"
	}
	sb.WriteString(strings.Join(tuples, ","))

	if q.OnConflict != nil {
		clause, err := b.buildOnConflict(q, q.OnConflict)
		if err != nil {
			return "", err
		}
		sb.WriteString(clause)
	}

	if len(q.Returning) > 0 && b.caps.Returning {
		sb.WriteString(b.returningClause(q.Returning))
	}

	return sb.String(), nil
}

func (b *builder) returningClause(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = b.quotePart(c)
	}
	return " RETURNING " + strings.Join(quoted, ",")
}

// buildOnConflict renders the upsert tail. Postgres and SQLite share the
// ON CONFLICT grammar; MySQL uses ON DUPLICATE KEY UPDATE, with a self
// assignment of the first conflict column standing in for DO NOTHING.
func (b *builder) buildOnConflict(q *ir.QueryIR, oc *ir.OnConflict) (string, error) {
	if len(oc.Columns) == 0 {
		return "", oxerr.New(oxerr.KindBuild, "on_conflict requires target columns")
	}

	if b.dialect == MySQL {
		var assigns []string
		switch oc.Action {
		case ir.ConflictNothing:
			c := b.quotePart(oc.Columns[0])
			assigns = []string{c + " = " + c}
		case ir.ConflictUpdate:
			names := sortedKeys(oc.UpdateValues)
			for _, name := range names {
				expr, err := b.buildExpr(q, oc.UpdateValues[name])
				if err != nil {
					return "", err
				}
				assigns = append(assigns, b.quotePart(name)+" = "+expr)
			}
		default:
			return "", oxerr.New(oxerr.KindBuild, "unknown conflict action %q", string(oc.Action))
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(assigns, ", "), nil
	}

	target := make([]string, len(oc.Columns))
	for i, c := range oc.Columns {
		target[i] = b.quotePart(c)
	}
	head := " ON CONFLICT (" + strings.Join(target, ",") + ")"

	switch oc.Action {
	case ir.ConflictNothing:
		return head + " DO NOTHING", nil
	case ir.ConflictUpdate:
		names := sortedKeys(oc.UpdateValues)
		assigns := make([]string, 0, len(names))
		for _, name := range names {
			expr, err := b.buildExpr(q, oc.UpdateValues[name])
			if err != nil {
				return "", err
			}
			assigns = append(assigns, b.quotePart(name)+" = "+expr)
		}
		return head + " DO UPDATE SET " + strings.Join(assigns, ", "), nil
	default:
		return "", oxerr.New(oxerr.KindBuild, "unknown conflict action %q", string(oc.Action))
	}
}

func sortedKeys(m map[string]*ir.Expression) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
