package plan

import (
	"fmt"
	"strings"

	"github.com/metricsgate/metricsgate/internal/schema"
)

// Render turns a validated candidate into a parameterized query. It is total
// over everything Validate accepts and deterministic: the same candidate
// always yields the same text and argument order. Every literal becomes a
// positional parameter; nothing from the candidate is interpolated into the
// query text except whitelisted identifiers.
func Render(v Validated) Rendered {
	if v.sql != "" {
		return Rendered{Text: v.sql}
	}
	if v.plan == nil {
		// Validate never produces this; an empty Validated renders to an
		// empty query which the executor refuses.
		return Rendered{}
	}
	return renderPlan(v.plan)
}

func renderPlan(p *checkedPlan) Rendered {
	if p.agg == schema.AggSumDeltaFirstHours {
		text := fmt.Sprintf(
			"SELECT COALESCE(SUM(s.%s), 0)::bigint AS value FROM video_snapshots s "+
				"JOIN videos v ON v.id = s.video_id "+
				"WHERE s.created_at >= v.video_created_at "+
				"AND s.created_at <= v.video_created_at + ($1::int * INTERVAL '1 hour')",
			p.field,
		)
		return Rendered{Text: text, Args: []any{p.hours}}
	}

	var selectExpr string
	switch p.agg {
	case schema.AggCountRows:
		selectExpr = "COUNT(*)::bigint"
	case schema.AggCountDistinct:
		selectExpr = fmt.Sprintf("COUNT(DISTINCT %s)::bigint", p.field)
	case schema.AggSum:
		selectExpr = fmt.Sprintf("COALESCE(SUM(%s), 0)::bigint", p.field)
	case schema.AggAvg:
		selectExpr = fmt.Sprintf("COALESCE(AVG(%s), 0)::bigint", p.field)
	case schema.AggMin:
		selectExpr = fmt.Sprintf("COALESCE(MIN(%s), 0)::bigint", p.field)
	case schema.AggMax:
		selectExpr = fmt.Sprintf("COALESCE(MAX(%s), 0)::bigint", p.field)
	}

	var (
		conditions []string
		args       []any
	)
	for _, filter := range p.filters {
		condition, filterArgs := renderFilter(filter, len(args))
		conditions = append(conditions, condition)
		args = append(args, filterArgs...)
	}

	text := fmt.Sprintf("SELECT %s AS value FROM %s", selectExpr, p.source)
	if len(conditions) > 0 {
		text += " WHERE " + strings.Join(conditions, " AND ")
	}
	return Rendered{Text: text, Args: args}
}

var comparisonSQL = map[schema.Operator]string{
	schema.OpEq:  "=",
	schema.OpGt:  ">",
	schema.OpGte: ">=",
	schema.OpLt:  "<",
	schema.OpLte: "<=",
}

func renderFilter(f checkedFilter, argOffset int) (string, []any) {
	column := f.column.Name
	switch f.op {
	case schema.OpDateOn, schema.OpDateBetween:
		// Half-open range over whole calendar days: the upper bound includes
		// the full final day without comparing fractional timestamps.
		lower := argOffset + 1
		upper := argOffset + 2
		condition := fmt.Sprintf("%s >= $%d::date AND %s < $%d::date + INTERVAL '1 day'", column, lower, column, upper)
		return condition, f.args
	default:
		placeholder := fmt.Sprintf("$%d", argOffset+1)
		if f.column.Temporal() {
			placeholder += "::date"
		}
		return fmt.Sprintf("%s %s %s", column, comparisonSQL[f.op], placeholder), f.args
	}
}
