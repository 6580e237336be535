package plan

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/metricsgate/metricsgate/internal/schema"
)

const isoDateLayout = "2006-01-02"

// Validate checks a candidate against the schema whitelist. Rejection is
// wholesale: the first violated rule discards the candidate and nothing is
// repaired. Validation is pure; it touches neither network nor database.
func Validate(candidate Candidate) (Validated, error) {
	switch c := candidate.(type) {
	case PlanCandidate:
		checked, err := validatePlan(c.Plan)
		if err != nil {
			return Validated{}, err
		}
		return Validated{plan: checked}, nil
	case SQLCandidate:
		cleaned, err := validateSQL(c.SQL)
		if err != nil {
			return Validated{}, err
		}
		return Validated{sql: cleaned}, nil
	default:
		return Validated{}, rejectf("candidate", fmt.Sprintf("unsupported candidate type %T", candidate))
	}
}

func validatePlan(p Plan) (*checkedPlan, error) {
	desc := schema.Describe()

	source := strings.TrimSpace(p.Source)
	table, ok := desc.Table(source)
	if !ok {
		return nil, rejectf("source", fmt.Sprintf("unknown table %q", source))
	}

	agg := schema.Aggregation(strings.TrimSpace(string(p.Aggregation)))
	if !schema.ValidAggregation(agg) {
		return nil, rejectf("aggregation", fmt.Sprintf("unsupported aggregation %q", agg))
	}

	field := strings.TrimSpace(p.Field)
	if field == "" {
		field = "*"
	}

	checked := &checkedPlan{source: source, agg: agg, field: field}

	switch agg {
	case schema.AggCountRows:
		if field != "*" {
			return nil, rejectf("field", "count_rows requires field \"*\"")
		}
	case schema.AggCountDistinct:
		if field == "*" {
			return nil, rejectf("field", "count_distinct requires a named column")
		}
		if _, ok := table.Column(field); !ok {
			return nil, rejectf("field", fmt.Sprintf("column %q does not exist on %s", field, source))
		}
	case schema.AggSumDeltaFirstHours:
		if source != schema.TableSnapshots {
			return nil, rejectf("source", "sum_delta_first_hours_after_publication requires source video_snapshots")
		}
		column, ok := table.Column(field)
		if !ok || !column.DeltaField() {
			return nil, rejectf("field", fmt.Sprintf("field %q must be a delta_* metric", field))
		}
		hours, err := normalizeNumber(p.Hours)
		if err != nil || hours <= 0 {
			return nil, rejectf("hours", "hours must be a positive integer")
		}
		if len(p.Filters) > 0 {
			return nil, rejectf("filters", "sum_delta_first_hours_after_publication does not accept filters")
		}
		checked.hours = hours
		return checked, nil
	default: // sum, avg, min, max
		column, ok := table.Column(field)
		if !ok {
			return nil, rejectf("field", fmt.Sprintf("column %q does not exist on %s", field, source))
		}
		if !column.Numeric() {
			return nil, rejectf("field", fmt.Sprintf("%s requires a numeric column, got %q", agg, field))
		}
	}

	for _, filter := range p.Filters {
		cf, err := validateFilter(table, filter)
		if err != nil {
			return nil, err
		}
		checked.filters = append(checked.filters, cf)
	}
	return checked, nil
}

func validateFilter(table schema.Table, f Filter) (checkedFilter, error) {
	name := strings.TrimSpace(f.Field)
	column, ok := table.Column(name)
	if !ok {
		return checkedFilter{}, rejectf("filter_field", fmt.Sprintf("column %q does not exist on %s", name, table.Name))
	}
	op := schema.Operator(strings.TrimSpace(string(f.Op)))
	if !schema.ValidOperator(op) {
		return checkedFilter{}, rejectf("operator", fmt.Sprintf("unsupported operator %q", op))
	}

	switch op {
	case schema.OpEq, schema.OpGt, schema.OpGte, schema.OpLt, schema.OpLte:
		switch {
		case column.Numeric():
			value, err := normalizeNumber(f.Value)
			if err != nil {
				return checkedFilter{}, rejectf("value", fmt.Sprintf("column %q: %v", name, err))
			}
			return checkedFilter{column: column, op: op, args: []any{value}}, nil
		case column.Temporal():
			day, err := normalizeDate(f.Value)
			if err != nil {
				return checkedFilter{}, rejectf("value", fmt.Sprintf("column %q requires an ISO date: %v", name, err))
			}
			if op == schema.OpEq {
				// Equality on a timestamptz means the whole calendar day.
				return checkedFilter{column: column, op: schema.OpDateOn, args: []any{day, day}}, nil
			}
			return checkedFilter{column: column, op: op, args: []any{day}}, nil
		default:
			text, ok := f.Value.(string)
			if !ok || strings.TrimSpace(text) == "" {
				return checkedFilter{}, rejectf("value", fmt.Sprintf("column %q requires a non-empty text literal", name))
			}
			if op != schema.OpEq {
				return checkedFilter{}, rejectf("operator", fmt.Sprintf("operator %q is not allowed on text column %q", op, name))
			}
			return checkedFilter{column: column, op: op, args: []any{text}}, nil
		}
	case schema.OpDateOn:
		if !column.Temporal() {
			return checkedFilter{}, rejectf("operator", fmt.Sprintf("date_on is only allowed on date columns, got %q", name))
		}
		day, err := normalizeDate(f.Value)
		if err != nil {
			return checkedFilter{}, rejectf("value", fmt.Sprintf("date_on on %q: %v", name, err))
		}
		return checkedFilter{column: column, op: op, args: []any{day, day}}, nil
	case schema.OpDateBetween:
		if !column.Temporal() {
			return checkedFilter{}, rejectf("operator", fmt.Sprintf("date_between is only allowed on date columns, got %q", name))
		}
		from, err := normalizeDate(f.From)
		if err != nil {
			return checkedFilter{}, rejectf("date_range", fmt.Sprintf("date_between from: %v", err))
		}
		to, err := normalizeDate(f.To)
		if err != nil {
			return checkedFilter{}, rejectf("date_range", fmt.Sprintf("date_between to: %v", err))
		}
		if to < from {
			return checkedFilter{}, rejectf("date_range", fmt.Sprintf("date_between requires from <= to, got %s..%s", from, to))
		}
		return checkedFilter{column: column, op: op, args: []any{from, to}}, nil
	}
	return checkedFilter{}, rejectf("operator", fmt.Sprintf("unsupported operator %q", op))
}

func normalizeNumber(value any) (int64, error) {
	switch v := value.(type) {
	case bool:
		return 0, fmt.Errorf("boolean is not a valid number")
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if math.Trunc(v) != v {
			return 0, fmt.Errorf("fractional value %v is not a valid number", v)
		}
		return int64(v), nil
	case string:
		cleaned := strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(v), " ", ""), "+")
		parsed, err := strconv.ParseInt(cleaned, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numeric value %q", v)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("invalid numeric value %v", value)
	}
}

func normalizeDate(value any) (string, error) {
	raw, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("invalid date value %v", value)
	}
	raw = strings.TrimSpace(raw)
	parsed, err := time.Parse(isoDateLayout, raw)
	if err != nil {
		return "", fmt.Errorf("invalid date value %q", raw)
	}
	return parsed.Format(isoDateLayout), nil
}

var (
	sqlSelectPattern    = regexp.MustCompile(`(?i)^select\b`)
	sqlForbiddenPattern = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|truncate|create|grant|revoke|copy|call|do|vacuum|analyze|comment|set|execute)\b`)
	sqlTablePattern     = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	sqlValueAlias       = regexp.MustCompile(`(?i)\bas\s+value\b`)
)

func validateSQL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	candidate = strings.TrimSuffix(candidate, ";")
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", rejectf("sql", "empty statement")
	}
	if !sqlSelectPattern.MatchString(candidate) {
		return "", rejectf("sql", "only SELECT is allowed")
	}
	if strings.Contains(candidate, ";") {
		return "", rejectf("sql", "multiple statements are not allowed")
	}
	if strings.Contains(candidate, "--") || strings.Contains(candidate, "/*") || strings.Contains(candidate, "*/") {
		return "", rejectf("sql", "comments are not allowed")
	}
	if match := sqlForbiddenPattern.FindString(candidate); match != "" {
		return "", rejectf("sql", fmt.Sprintf("forbidden keyword %q", strings.ToLower(match)))
	}

	desc := schema.Describe()
	refs := sqlTablePattern.FindAllStringSubmatch(candidate, -1)
	if len(refs) == 0 {
		return "", rejectf("sql", "statement references no whitelisted table")
	}
	for _, ref := range refs {
		if _, ok := desc.Table(strings.ToLower(ref[1])); !ok {
			return "", rejectf("sql", fmt.Sprintf("table %q is not whitelisted", ref[1]))
		}
	}

	if !sqlValueAlias.MatchString(candidate) {
		return "", rejectf("sql", "projection must be aliased AS value")
	}
	if err := checkSingleProjection(candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

// checkSingleProjection rejects statements whose top-level select list holds
// more than one column, and statements with a top-level comma after FROM. The
// latter closes comma joins (FROM videos, pg_user), which would otherwise
// reference relations the table scan never sees. Commas inside parentheses
// (function calls, IN lists) are fine either way.
func checkSingleProjection(statement string) error {
	lower := strings.Join(strings.Fields(strings.ToLower(statement)), " ")
	fromIdx := topLevelIndex(lower, " from ")
	if fromIdx < 0 {
		return rejectf("sql", "statement has no FROM clause")
	}
	selectList := lower[len("select"):fromIdx]
	depth := 0
	for _, r := range selectList {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				return rejectf("sql", "statement must project exactly one column")
			}
		}
	}
	depth = 0
	for _, r := range lower[fromIdx:] {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				return rejectf("sql", "comma-separated table lists are not allowed")
			}
		}
	}
	return nil
}

func topLevelIndex(lower, needle string) int {
	depth := 0
	for i := 0; i+len(needle) <= len(lower); i++ {
		switch lower[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(lower[i:], needle) {
			return i
		}
	}
	return -1
}
