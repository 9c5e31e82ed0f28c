package nlparse

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ledgerlens/ledgerlens/internal/catalog"
	"github.com/ledgerlens/ledgerlens/internal/intent"
	"github.com/ledgerlens/ledgerlens/internal/lexicon"
)

func newTestParser(opts Options) *Parser {
	return New(lexicon.NewResolver(), opts)
}

func col(table, column string) lexicon.ColumnRef {
	return lexicon.ColumnRef{Table: table, Column: column}
}

func TestParseSelectAllEmployees(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Show all employees with salary", nil)
	if q.Action != intent.ActionSelect {
		t.Fatalf("Action = %s", q.Action)
	}
	if diff := cmp.Diff([]string{"employee"}, q.Tables); diff != "" {
		t.Fatalf("Tables mismatch (-want +got):\n%s", diff)
	}
	if !q.AllColumns {
		t.Fatal("AllColumns = false, want true")
	}
	if len(q.Filters) != 0 {
		t.Fatalf("Filters = %+v, want none", q.Filters)
	}
	if q.Confidence < baseConfidence+tableBonus+columnBonus {
		t.Fatalf("Confidence = %v", q.Confidence)
	}
}

func TestParseMonthlySalesTotal(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Total sales amount for January 2024", nil)
	if diff := cmp.Diff([]string{"sales"}, q.Tables); diff != "" {
		t.Fatalf("Tables mismatch (-want +got):\n%s", diff)
	}
	want := []intent.Aggregation{{Func: intent.AggSum, Auto: true}}
	if diff := cmp.Diff(want, q.Aggregations); diff != "" {
		t.Fatalf("Aggregations mismatch (-want +got):\n%s", diff)
	}
	if len(q.Filters) != 1 || q.Filters[0].Kind != intent.FilterDate {
		t.Fatalf("Filters = %+v", q.Filters)
	}
	f := q.Filters[0]
	if f.Column != col("sales", "date") {
		t.Fatalf("date column = %s", f.Column)
	}
	if f.Date.Type != intent.DateMonthYear || f.Date.Literal != "2024-01" {
		t.Fatalf("date condition = %+v", f.Date)
	}
}

func TestParseNumericComparisonBindsNumber(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Customers with balance greater than 1000", nil)
	if diff := cmp.Diff([]string{"ledger"}, q.Tables); diff != "" {
		t.Fatalf("Tables mismatch (-want +got):\n%s", diff)
	}
	want := []intent.Filter{{Kind: intent.FilterGreaterThan, Column: col("ledger", "closing_balance"), Values: []any{int64(1000)}}}
	if diff := cmp.Diff(want, q.Filters); diff != "" {
		t.Fatalf("Filters mismatch (-want +got):\n%s", diff)
	}
}

func TestParseQuotedValueStaysString(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Show ledgers where ledger_name is '1000'", nil)
	want := []intent.Filter{{Kind: intent.FilterEquals, Column: col("ledger", "ledger_name"), Values: []any{"1000"}}}
	if diff := cmp.Diff(want, q.Filters); diff != "" {
		t.Fatalf("Filters mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCountWithEquality(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "How many employees where department is 'Finance'", nil)
	if q.Kind() != "COUNT" {
		t.Fatalf("Kind() = %s", q.Kind())
	}
	if diff := cmp.Diff([]intent.Aggregation{{Func: intent.AggCount, Star: true}}, q.Aggregations); diff != "" {
		t.Fatalf("Aggregations mismatch (-want +got):\n%s", diff)
	}
	want := []intent.Filter{{Kind: intent.FilterEquals, Column: col("employee", "department"), Values: []any{"Finance"}}}
	if diff := cmp.Diff(want, q.Filters); diff != "" {
		t.Fatalf("Filters mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFilterKinds(t *testing.T) {
	tests := []struct {
		name string
		text string
		want intent.Filter
	}{
		{
			name: "less than",
			text: "List employees with salary below 20000",
			want: intent.Filter{Kind: intent.FilterLessThan, Column: col("employee", "salary"), Values: []any{int64(20000)}},
		},
		{
			name: "between",
			text: "List employees with salary between 10000 and 20000.5",
			want: intent.Filter{Kind: intent.FilterBetween, Column: col("employee", "salary"), Values: []any{int64(10000), 20000.5}},
		},
		{
			name: "like",
			text: "Show ledgers where ledger_name contains 'Traders'",
			want: intent.Filter{Kind: intent.FilterLike, Column: col("ledger", "ledger_name"), Values: []any{"Traders"}},
		},
		{
			name: "in list",
			text: "Show employees where department in ('HR', 'Finance')",
			want: intent.Filter{Kind: intent.FilterIn, Column: col("employee", "department"), Values: []any{"HR", "Finance"}},
		},
		{
			name: "is null",
			text: "Show ledgers where email is missing",
			want: intent.Filter{Kind: intent.FilterRaw, Column: col("ledger", "email"), Raw: "IS NULL"},
		},
		{
			name: "named",
			text: "Show employee named 'Asha Rao'",
			want: intent.Filter{Kind: intent.FilterEquals, Column: col("employee", "name"), Values: []any{"Asha Rao"}},
		},
		{
			name: "named with doubled quote",
			text: "Show employee named 'O''Brien'",
			want: intent.Filter{Kind: intent.FilterEquals, Column: col("employee", "name"), Values: []any{"O'Brien"}},
		},
		{
			name: "named with bare apostrophe",
			text: "Show employee named O'Brien",
			want: intent.Filter{Kind: intent.FilterEquals, Column: col("employee", "name"), Values: []any{"O'Brien"}},
		},
	}
	p := newTestParser(Options{})
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := p.Parse(catalog.ERP(), tc.text, nil)
			if diff := cmp.Diff([]intent.Filter{tc.want}, q.Filters); diff != "" {
				t.Fatalf("Filters mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseUnresolvedFilterIsDropped(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Show employees where zodiac is 'Leo'", nil)
	if len(q.Filters) != 0 {
		t.Fatalf("Filters = %+v, want none", q.Filters)
	}
	if !contains(q.Assumptions, "Filter keywords detected but conditions not clearly identified") {
		t.Fatalf("Assumptions = %v", q.Assumptions)
	}
}

func TestParseDateConditions(t *testing.T) {
	tests := []struct {
		text string
		want intent.DateCondition
	}{
		{text: "Show vouchers from the last 30 days", want: intent.DateCondition{Type: intent.DateRelative, Amount: 30, Unit: intent.UnitDay}},
		{text: "Show vouchers in the past 2 weeks", want: intent.DateCondition{Type: intent.DateRelative, Amount: 14, Unit: intent.UnitDay}},
		{text: "Show vouchers between 2024-01-01 and 2024-03-31", want: intent.DateCondition{Type: intent.DateRange, Values: []string{"2024-01-01", "2024-03-31"}}},
		{text: "Show vouchers since 2024-04-01", want: intent.DateCondition{Type: intent.DateSince, Values: []string{"2024-04-01"}}},
		{text: "Show vouchers this month", want: intent.DateCondition{Type: intent.DateThisMonth}},
		{text: "Show vouchers last year", want: intent.DateCondition{Type: intent.DateLastYear}},
	}
	p := newTestParser(Options{})
	for _, tc := range tests {
		q := p.Parse(catalog.ERP(), tc.text, nil)
		if len(q.Filters) != 1 {
			t.Fatalf("Parse(%q) Filters = %+v", tc.text, q.Filters)
		}
		if q.Filters[0].Column != col("voucher", "date") {
			t.Fatalf("Parse(%q) date column = %s", tc.text, q.Filters[0].Column)
		}
		if diff := cmp.Diff(tc.want, *q.Filters[0].Date); diff != "" {
			t.Fatalf("Parse(%q) date mismatch (-want +got):\n%s", tc.text, diff)
		}
	}
}

func TestParseInvalidDateIsIgnored(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Show vouchers since 2024-13-45", nil)
	for _, f := range q.Filters {
		if f.Kind == intent.FilterDate {
			t.Fatalf("unexpected date filter %+v", f)
		}
	}
}

func TestParseTopNOrdersDescending(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Show top 5 ledgers by closing balance", nil)
	if q.Limit != 5 {
		t.Fatalf("Limit = %d", q.Limit)
	}
	want := []intent.Order{{Column: col("ledger", "closing_balance"), Direction: intent.Desc}}
	if diff := cmp.Diff(want, q.OrderBy); diff != "" {
		t.Fatalf("OrderBy mismatch (-want +got):\n%s", diff)
	}
	if len(q.Aggregations) != 0 {
		t.Fatalf("Aggregations = %+v", q.Aggregations)
	}
}

func TestParseSortDirectionWord(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "List employees sorted by salary descending", nil)
	want := []intent.Order{{Column: col("employee", "salary"), Direction: intent.Desc}}
	if diff := cmp.Diff(want, q.OrderBy); diff != "" {
		t.Fatalf("OrderBy mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLimitIsCapped(t *testing.T) {
	q := newTestParser(Options{MaxLimit: 100}).Parse(catalog.ERP(), "Show first 5000 ledgers", nil)
	if q.Limit != 100 {
		t.Fatalf("Limit = %d, want 100", q.Limit)
	}
	if !contains(q.Assumptions, "Limit capped at 100 rows") {
		t.Fatalf("Assumptions = %v", q.Assumptions)
	}
}

func TestParseGroupedAggregate(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Total sales amount by status", nil)
	if diff := cmp.Diff([]lexicon.ColumnRef{col("sales", "status")}, q.GroupBy); diff != "" {
		t.Fatalf("GroupBy mismatch (-want +got):\n%s", diff)
	}
}

func TestParseExplicitAggregateCall(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Show avg(salary) of employees", nil)
	want := []intent.Aggregation{{Func: intent.AggAvg, Column: col("employee", "salary")}}
	if diff := cmp.Diff(want, q.Aggregations); diff != "" {
		t.Fatalf("Aggregations mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUpdate(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Update employee set salary to 50000 where name is 'Asha'", nil)
	if q.Action != intent.ActionUpdate {
		t.Fatalf("Action = %s", q.Action)
	}
	wantAssign := []intent.Assignment{{Column: col("employee", "salary"), Value: int64(50000)}}
	if diff := cmp.Diff(wantAssign, q.Assignments); diff != "" {
		t.Fatalf("Assignments mismatch (-want +got):\n%s", diff)
	}
	wantFilters := []intent.Filter{{Kind: intent.FilterEquals, Column: col("employee", "name"), Values: []any{"Asha"}}}
	if diff := cmp.Diff(wantFilters, q.Filters); diff != "" {
		t.Fatalf("Filters mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDelete(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Delete vouchers where amount < 0", nil)
	if q.Action != intent.ActionDelete {
		t.Fatalf("Action = %s", q.Action)
	}
	want := []intent.Filter{{Kind: intent.FilterLessThan, Column: col("voucher", "amount"), Values: []any{int64(0)}}}
	if diff := cmp.Diff(want, q.Filters); diff != "" {
		t.Fatalf("Filters mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInsertTurnsEqualitiesIntoValues(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Add ledger where ledger_name is 'Acme Traders' and group_name is 'Sundry Debtors'", nil)
	if q.Action != intent.ActionInsert {
		t.Fatalf("Action = %s", q.Action)
	}
	want := []intent.Assignment{
		{Column: col("ledger", "ledger_name"), Value: "Acme Traders"},
		{Column: col("ledger", "group_name"), Value: "Sundry Debtors"},
	}
	if diff := cmp.Diff(want, q.Assignments); diff != "" {
		t.Fatalf("Assignments mismatch (-want +got):\n%s", diff)
	}
	if len(q.Filters) != 0 {
		t.Fatalf("Filters = %+v", q.Filters)
	}
}

func TestParseAddUpIsNotInsert(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "add up the sales amount", nil)
	if q.Action != intent.ActionSelect || q.Kind() != "SUM" {
		t.Fatalf("Action = %s Kind = %s", q.Action, q.Kind())
	}
}

func TestParseJoinsRelatedTables(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Show payroll with employee names", nil)
	if diff := cmp.Diff([]string{"payroll", "employee"}, q.Tables); diff != "" {
		t.Fatalf("Tables mismatch (-want +got):\n%s", diff)
	}
	want := []intent.Join{{Kind: intent.JoinInner, Left: "payroll", Right: "employee", Condition: "payroll.employee_id = employee.employee_id"}}
	if diff := cmp.Diff(want, q.Joins); diff != "" {
		t.Fatalf("Joins mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnrelatedTablesRecordAssumption(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "Show stock items and employees", nil)
	if len(q.Joins) != 0 {
		t.Fatalf("Joins = %+v", q.Joins)
	}
	if !contains(q.Assumptions, "Multiple tables detected but no explicit join conditions found") {
		t.Fatalf("Assumptions = %v", q.Assumptions)
	}
}

func TestParseDefaultsToFirstTable(t *testing.T) {
	q := newTestParser(Options{}).Parse(catalog.ERP(), "show me something", nil)
	if diff := cmp.Diff([]string{"ledger"}, q.Tables); diff != "" {
		t.Fatalf("Tables mismatch (-want +got):\n%s", diff)
	}
	if !contains(q.Assumptions, "No specific tables identified - using default table") {
		t.Fatalf("Assumptions = %v", q.Assumptions)
	}
	if q.Confidence >= baseConfidence+tableBonus {
		t.Fatalf("Confidence = %v, want below resolved-table score", q.Confidence)
	}
}

func TestParseNilCatalog(t *testing.T) {
	q := newTestParser(Options{}).Parse(nil, "show ledgers", nil)
	if q.Action != intent.ActionSelect || len(q.Tables) != 0 {
		t.Fatalf("q = %+v", q)
	}
	if len(q.Assumptions) == 0 {
		t.Fatal("expected an assumption for the missing catalog")
	}
}

func TestParseCopiesTenant(t *testing.T) {
	tenant := &intent.Tenant{UserID: "u1", CompanyName: "Acme"}
	q := newTestParser(Options{}).Parse(catalog.ERP(), "show ledgers", tenant)
	tenant.UserID = "changed"
	if q.Tenant == nil || q.Tenant.UserID != "u1" {
		t.Fatalf("Tenant = %+v", q.Tenant)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	p := newTestParser(Options{})
	inputs := []string{
		"Total sales amount for January 2024",
		"Show top 5 ledgers by closing balance",
		"Update employee set salary to 50000 where name is 'Asha'",
	}
	for _, in := range inputs {
		first := p.Parse(catalog.ERP(), in, nil)
		second := p.Parse(catalog.ERP(), in, nil)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("Parse(%q) not deterministic (-first +second):\n%s", in, diff)
		}
	}
}

func TestParseConfidenceStaysInRange(t *testing.T) {
	p := newTestParser(Options{History: fakeHistory{adjustment: 1.8}})
	inputs := []string{
		"",
		"!!!",
		"DROP TABLE ledger",
		"show all ledgers with balance greater than 10 and group_name is 'Sundry Debtors' sorted by ledger_name",
		strings.Repeat("sales ", 200),
	}
	for _, in := range inputs {
		q := p.Parse(catalog.ERP(), in, nil)
		if q.Confidence < 0 || q.Confidence > 1 {
			t.Fatalf("Parse(%q) Confidence = %v", in, q.Confidence)
		}
	}
}

type fakeHistory struct {
	adjustment float64
	corrected  []string
}

func (f fakeHistory) ConfidenceAdjustment(string) float64 { return f.adjustment }

func (f fakeHistory) CorrectedSQL(string) []string { return f.corrected }

func TestParseAppliesHistory(t *testing.T) {
	plain := newTestParser(Options{}).Parse(catalog.ERP(), "Show all employees", nil)
	history := fakeHistory{adjustment: 0.5, corrected: []string{"SELECT name FROM employee"}}
	q := newTestParser(Options{History: history}).Parse(catalog.ERP(), "Show all employees", nil)
	if q.Confidence >= plain.Confidence {
		t.Fatalf("Confidence = %v, want below %v", q.Confidence, plain.Confidence)
	}
	if !contains(q.Assumptions, "A similar request was previously corrected to: SELECT name FROM employee") {
		t.Fatalf("Assumptions = %v", q.Assumptions)
	}
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
