package sqlgen

import (
	"regexp"
	"strings"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
)

var pgPlaceholder = regexp.MustCompile(`\$\d+`)

// buildRaw forwards the statement verbatim. The only check on the SQL text is
// that the placeholder style matches the dialect; parameters are normalised
// into the value domain, and everything else is the caller's responsibility.
func (b *builder) buildRaw(q *ir.QueryIR) (string, error) {
	sql := q.Raw.SQL
	hasDollar := pgPlaceholder.MatchString(sql)
	hasQuestion := strings.Contains(sql, "?")

	if hasDollar && hasQuestion {
		return "", oxerr.New(oxerr.KindBuild, "raw sql mixes $n and ? placeholders")
	}
	if b.dialect == Postgres && hasQuestion {
		return "", oxerr.New(oxerr.KindBuild, "raw sql uses ? placeholders on postgres")
	}
	if b.dialect != Postgres && hasDollar {
		return "", oxerr.New(oxerr.KindBuild, "raw sql uses $n placeholders on %s", string(b.dialect))
	}

	normalized, err := ir.NormalizeSlice(q.Raw.Params)
	if err != nil {
		return "", err
	}
	b.args = append(b.args, normalized...)
	return sql, nil
}

// buildExplain prefixes the compiled statement with the dialect's EXPLAIN
// form. The inner statement is the RAW payload when present, the SELECT
// rendering of the IR otherwise.
func (b *builder) buildExplain(q *ir.QueryIR) (string, error) {
	opts := q.Explain
	if opts == nil {
		opts = &ir.ExplainOptions{}
	}

	inner := *q
	if q.Raw != nil {
		inner.Op = ir.OpRaw
	} else {
		inner.Op = ir.OpSelect
	}
	inner.Explain = nil

	var innerSQL string
	var err error
	if inner.Op == ir.OpRaw {
		innerSQL, err = b.buildRaw(&inner)
	} else {
		innerSQL, err = b.buildSelect(&inner)
	}
	if err != nil {
		return "", err
	}

	jsonFormat := strings.EqualFold(opts.Format, "json")

	switch b.dialect {
	case Postgres:
		var flags []string
		if opts.Analyze {
			flags = append(flags, "ANALYZE")
		}
		if jsonFormat {
			flags = append(flags, "FORMAT JSON")
		}
		if len(flags) == 0 {
			return "EXPLAIN " + innerSQL, nil
		}
		return "EXPLAIN (" + strings.Join(flags, ", ") + ") " + innerSQL, nil
	case SQLite:
		return "EXPLAIN QUERY PLAN " + innerSQL, nil
	default:
		if opts.Analyze {
			return "EXPLAIN ANALYZE " + innerSQL, nil
		}
		if jsonFormat {
			return "EXPLAIN FORMAT=JSON " + innerSQL, nil
		}
		return "EXPLAIN " + innerSQL, nil
	}
}
