// Package intent holds the structured form of a natural-language request.
// It is produced by the parser and consumed by the SQL builder.
package intent

import "github.com/ledgerlens/ledgerlens/internal/lexicon"

type Action string

const (
	ActionSelect Action = "SELECT"
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

func (a Action) Mutates() bool {
	return a == ActionInsert || a == ActionUpdate || a == ActionDelete
}

type AggregateFunc string

const (
	AggCount AggregateFunc = "COUNT"
	AggSum   AggregateFunc = "SUM"
	AggAvg   AggregateFunc = "AVG"
	AggMax   AggregateFunc = "MAX"
	AggMin   AggregateFunc = "MIN"
)

// Aggregation targets a resolved column, every row (Star) or the builder's
// choice of numeric column (Auto).
type Aggregation struct {
	Func   AggregateFunc
	Column lexicon.ColumnRef
	Star   bool
	Auto   bool
}

type FilterKind string

const (
	FilterEquals      FilterKind = "EQUALS"
	FilterGreaterThan FilterKind = "GREATER_THAN"
	FilterLessThan    FilterKind = "LESS_THAN"
	FilterBetween     FilterKind = "BETWEEN"
	FilterLike        FilterKind = "LIKE"
	FilterIn          FilterKind = "IN"
	FilterDate        FilterKind = "DATE"
	FilterRaw         FilterKind = "RAW"
)

type Filter struct {
	Kind   FilterKind
	Column lexicon.ColumnRef
	Values []any
	Date   *DateCondition
	// Raw holds a fixed predicate suffix such as "IS NULL" for FilterRaw.
	Raw string
}

type DateType string

const (
	DateRelative  DateType = "relative"
	DateSince     DateType = "since"
	DateBefore    DateType = "before"
	DateOn        DateType = "on"
	DateRange     DateType = "range"
	DateMonthYear DateType = "month_year"
	DateToday     DateType = "today"
	DateThisMonth DateType = "this_month"
	DateLastMonth DateType = "last_month"
	DateThisYear  DateType = "this_year"
	DateLastYear  DateType = "last_year"
)

type DateUnit string

const (
	UnitDay   DateUnit = "day"
	UnitMonth DateUnit = "month"
	UnitYear  DateUnit = "year"
)

// DateCondition is rendered by the dialect. Literal holds "YYYY-MM" for
// month-year conditions; Values holds bound ISO dates for since/before/on
// and range.
type DateCondition struct {
	Type    DateType
	Amount  int
	Unit    DateUnit
	Literal string
	Values  []string
}

type JoinKind string

const JoinInner JoinKind = "INNER"

type Join struct {
	Kind      JoinKind
	Left      string
	Right     string
	Condition string
}

type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

type Order struct {
	Column    lexicon.ColumnRef
	Direction Direction
}

type Assignment struct {
	Column lexicon.ColumnRef
	Value  any
}

// Tenant identifies whose rows a statement may touch.
type Tenant struct {
	UserID      string
	CompanyName string
}

type Query struct {
	Action       Action
	Tables       []string
	Columns      []lexicon.ColumnRef
	AllColumns   bool
	Filters      []Filter
	Joins        []Join
	GroupBy      []lexicon.ColumnRef
	OrderBy      []Order
	Limit        int
	Aggregations []Aggregation
	Assignments  []Assignment
	Tenant       *Tenant
	Confidence   float64
	Assumptions  []string
	Original     string
}

// PrimaryTable is the first resolved table, used for FROM and tenant scoping.
func (q Query) PrimaryTable() string {
	if len(q.Tables) == 0 {
		return ""
	}
	return q.Tables[0]
}

// Kind names the statement shape for logging and metrics: the aggregate
// function when one is present, otherwise the action.
func (q Query) Kind() string {
	if q.Action == ActionSelect && len(q.Aggregations) > 0 {
		return string(q.Aggregations[0].Func)
	}
	return string(q.Action)
}
