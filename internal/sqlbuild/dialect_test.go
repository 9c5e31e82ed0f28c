package sqlbuild

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ledgerlens/ledgerlens/internal/intent"
)

func TestDialectDateConditions(t *testing.T) {
	relative := intent.DateCondition{Type: intent.DateRelative, Amount: 30, Unit: intent.UnitDay}
	month := intent.DateCondition{Type: intent.DateMonthYear, Literal: "2024-01"}
	since := intent.DateCondition{Type: intent.DateSince, Values: []string{"2024-04-01"}}
	between := intent.DateCondition{Type: intent.DateRange, Values: []string{"2024-01-01", "2024-03-31"}}

	tests := []struct {
		dialect Dialect
		cond    intent.DateCondition
		sql     string
		params  []any
	}{
		{dialect: SQLite, cond: relative, sql: "sales.date >= date('now', '-30 days')"},
		{dialect: SQLite, cond: month, sql: "strftime('%Y-%m', sales.date) = '2024-01'"},
		{dialect: SQLite, cond: intent.DateCondition{Type: intent.DateLastMonth}, sql: "strftime('%Y-%m', sales.date) = strftime('%Y-%m', 'now', '-1 month')"},
		{dialect: SQLite, cond: since, sql: "sales.date >= ?", params: []any{"2024-04-01"}},
		{dialect: SQLite, cond: between, sql: "sales.date BETWEEN ? AND ?", params: []any{"2024-01-01", "2024-03-31"}},
		{dialect: DuckDB, cond: relative, sql: "sales.date >= current_date - INTERVAL 30 DAY"},
		{dialect: DuckDB, cond: month, sql: "strftime(sales.date, '%Y-%m') = '2024-01'"},
		{dialect: DuckDB, cond: intent.DateCondition{Type: intent.DateThisYear}, sql: "year(sales.date) = year(current_date)"},
		{dialect: DuckDB, cond: since, sql: "sales.date >= CAST(? AS DATE)", params: []any{"2024-04-01"}},
		{dialect: MySQL, cond: relative, sql: "sales.date >= DATE_SUB(CURDATE(), INTERVAL 30 DAY)"},
		{dialect: MySQL, cond: month, sql: "DATE_FORMAT(sales.date, '%Y-%m') = '2024-01'"},
		{dialect: MySQL, cond: intent.DateCondition{Type: intent.DateToday}, sql: "DATE(sales.date) = CURDATE()"},
		{dialect: MySQL, cond: between, sql: "sales.date BETWEEN ? AND ?", params: []any{"2024-01-01", "2024-03-31"}},
	}
	for _, tc := range tests {
		sql, params, err := tc.dialect.DateCondition("sales.date", tc.cond)
		if err != nil {
			t.Fatalf("%s DateCondition(%+v) error = %v", tc.dialect.Name(), tc.cond, err)
		}
		if sql != tc.sql {
			t.Fatalf("%s DateCondition(%+v) = %q, want %q", tc.dialect.Name(), tc.cond, sql, tc.sql)
		}
		if diff := cmp.Diff(tc.params, params); diff != "" {
			t.Fatalf("%s params mismatch (-want +got):\n%s", tc.dialect.Name(), diff)
		}
	}
}

func TestDialectRejectsMalformedConditions(t *testing.T) {
	bad := []intent.DateCondition{
		{Type: intent.DateRelative, Amount: 0, Unit: intent.UnitDay},
		{Type: intent.DateMonthYear, Literal: "2024-01' OR '1'='1"},
		{Type: intent.DateSince, Values: []string{"yesterday"}},
		{Type: intent.DateRange, Values: []string{"2024-01-01"}},
		{Type: "fortnight"},
	}
	for _, cond := range bad {
		if _, _, err := SQLite.DateCondition("sales.date", cond); err == nil {
			t.Fatalf("DateCondition(%+v) expected error", cond)
		}
	}
}

func TestDialectByName(t *testing.T) {
	for name, want := range map[string]string{"": "sqlite", "SQLite": "sqlite", "duckdb": "duckdb", "mysql": "mysql"} {
		d, err := DialectByName(name)
		if err != nil {
			t.Fatalf("DialectByName(%q) error = %v", name, err)
		}
		if d.Name() != want {
			t.Fatalf("DialectByName(%q) = %s, want %s", name, d.Name(), want)
		}
	}
	if _, err := DialectByName("oracle"); err == nil {
		t.Fatal("DialectByName(oracle) expected error")
	}
}
