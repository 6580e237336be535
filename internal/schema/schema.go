// Package schema holds the static description of the two queryable tables.
// It is the single source of truth for every whitelist decision downstream:
// the validator, the renderer and the prompt builder all consult it and
// nothing else.
package schema

type ColumnType string

const (
	TypeText        ColumnType = "text"
	TypeBigint      ColumnType = "bigint"
	TypeTimestamptz ColumnType = "timestamptz"
)

type Column struct {
	Name string
	Type ColumnType
}

type Table struct {
	Name    string
	Columns []Column
}

type Schema struct {
	Tables []Table
}

type Aggregation string

const (
	AggCountRows          Aggregation = "count_rows"
	AggCountDistinct      Aggregation = "count_distinct"
	AggSum                Aggregation = "sum"
	AggAvg                Aggregation = "avg"
	AggMin                Aggregation = "min"
	AggMax                Aggregation = "max"
	AggSumDeltaFirstHours Aggregation = "sum_delta_first_hours_after_publication"
)

type Operator string

const (
	OpEq          Operator = "eq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpDateOn      Operator = "date_on"
	OpDateBetween Operator = "date_between"
)

const (
	TableVideos    = "videos"
	TableSnapshots = "video_snapshots"
)

var descriptor = Schema{
	Tables: []Table{
		{
			Name: TableVideos,
			Columns: []Column{
				{Name: "id", Type: TypeText},
				{Name: "creator_id", Type: TypeText},
				{Name: "video_created_at", Type: TypeTimestamptz},
				{Name: "views_count", Type: TypeBigint},
				{Name: "likes_count", Type: TypeBigint},
				{Name: "comments_count", Type: TypeBigint},
				{Name: "reports_count", Type: TypeBigint},
				{Name: "created_at", Type: TypeTimestamptz},
				{Name: "updated_at", Type: TypeTimestamptz},
			},
		},
		{
			Name: TableSnapshots,
			Columns: []Column{
				{Name: "id", Type: TypeText},
				{Name: "video_id", Type: TypeText},
				{Name: "views_count", Type: TypeBigint},
				{Name: "likes_count", Type: TypeBigint},
				{Name: "comments_count", Type: TypeBigint},
				{Name: "reports_count", Type: TypeBigint},
				{Name: "delta_views_count", Type: TypeBigint},
				{Name: "delta_likes_count", Type: TypeBigint},
				{Name: "delta_comments_count", Type: TypeBigint},
				{Name: "delta_reports_count", Type: TypeBigint},
				{Name: "created_at", Type: TypeTimestamptz},
				{Name: "updated_at", Type: TypeTimestamptz},
			},
		},
	},
}

// Describe returns the process-wide schema descriptor. The returned value is
// shared; callers must not mutate it.
func Describe() Schema {
	return descriptor
}

// Aggregations lists every aggregation the validator accepts.
func Aggregations() []Aggregation {
	return []Aggregation{
		AggCountRows,
		AggCountDistinct,
		AggSum,
		AggAvg,
		AggMin,
		AggMax,
		AggSumDeltaFirstHours,
	}
}

// Operators lists every filter operator the validator accepts.
func Operators() []Operator {
	return []Operator{OpEq, OpGt, OpGte, OpLt, OpLte, OpDateOn, OpDateBetween}
}

func (s Schema) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

func (t Table) Column(name string) (Column, bool) {
	for _, column := range t.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

func (c Column) Numeric() bool {
	return c.Type == TypeBigint
}

func (c Column) Temporal() bool {
	return c.Type == TypeTimestamptz
}

// DeltaField reports whether the column is one of the per-snapshot delta
// metrics on video_snapshots.
func (c Column) DeltaField() bool {
	switch c.Name {
	case "delta_views_count", "delta_likes_count", "delta_comments_count", "delta_reports_count":
		return c.Type == TypeBigint
	default:
		return false
	}
}

func ValidAggregation(a Aggregation) bool {
	for _, known := range Aggregations() {
		if a == known {
			return true
		}
	}
	return false
}

func ValidOperator(op Operator) bool {
	for _, known := range Operators() {
		if op == known {
			return true
		}
	}
	return false
}
