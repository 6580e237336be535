// Package plan models the intermediate query representation produced by the
// language model, validates candidates against the schema whitelist and
// renders accepted candidates into parameterized SQL.
package plan

import (
	"encoding/json"

	"github.com/metricsgate/metricsgate/internal/schema"
)

// Plan is the structured query candidate: one source table, one aggregation,
// one target field and a conjunctive filter list.
type Plan struct {
	Source      string             `json:"source"`
	Aggregation schema.Aggregation `json:"aggregation"`
	Field       string             `json:"field"`
	Hours       int                `json:"hours,omitempty"`
	Filters     []Filter           `json:"filters"`
}

// Filter is a single conjunctive condition. Value carries the literal for
// eq/gt/gte/lt/lte/date_on; From and To carry the bounds for date_between.
type Filter struct {
	Field string          `json:"field"`
	Op    schema.Operator `json:"op"`
	Value any             `json:"value,omitempty"`
	From  string          `json:"from,omitempty"`
	To    string          `json:"to,omitempty"`
}

// Candidate is a query candidate in either deployment mode. Both variants
// pass through Validate before anything downstream sees them.
type Candidate interface {
	// Describe returns a loggable representation of the candidate.
	Describe() string
}

type PlanCandidate struct {
	Plan Plan
}

func (c PlanCandidate) Describe() string {
	raw, err := json.Marshal(c.Plan)
	if err != nil {
		return "plan:<unserializable>"
	}
	return "plan:" + string(raw)
}

type SQLCandidate struct {
	SQL string
}

func (c SQLCandidate) Describe() string {
	return "sql:" + c.SQL
}

// Validated is a candidate that passed every whitelist rule. It is only
// constructed by Validate and is the sole input accepted by Render.
type Validated struct {
	plan *checkedPlan
	sql  string
}

type checkedPlan struct {
	source  string
	agg     schema.Aggregation
	field   string
	hours   int64
	filters []checkedFilter
}

type checkedFilter struct {
	column schema.Column
	op     schema.Operator
	args   []any
}

// Rendered is a parameterized query: positional placeholders in Text, one
// argument per placeholder in Args. Literals never appear in Text.
type Rendered struct {
	Text string
	Args []any
}

// ValidationError names the whitelist rule a candidate violated. The message
// is safe to log but is never shown to end users verbatim.
type ValidationError struct {
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	return "plan validation: " + e.Rule + ": " + e.Detail
}

func rejectf(rule, detail string) *ValidationError {
	return &ValidationError{Rule: rule, Detail: detail}
}
