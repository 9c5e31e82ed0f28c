package sqlbuild

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ledgerlens/ledgerlens/internal/intent"
)

// Dialect renders date conditions for one SQL engine. All dialects bind
// values with "?" placeholders.
type Dialect struct {
	name string
	// relative formats take the column and the amount.
	relative map[intent.DateUnit]string
	// fixed formats take the column and, for month-year, the literal.
	fixed map[intent.DateType]string
	// bound formats take the column; placeholders bind DateCondition.Values.
	bound map[intent.DateType]string
}

var (
	SQLite = Dialect{
		name: "sqlite",
		relative: map[intent.DateUnit]string{
			intent.UnitDay:   "%[1]s >= date('now', '-%[2]d days')",
			intent.UnitMonth: "%[1]s >= date('now', '-%[2]d months')",
			intent.UnitYear:  "%[1]s >= date('now', '-%[2]d years')",
		},
		fixed: map[intent.DateType]string{
			intent.DateMonthYear: "strftime('%%Y-%%m', %[1]s) = '%[2]s'",
			intent.DateToday:     "date(%[1]s) = date('now')",
			intent.DateThisMonth: "strftime('%%Y-%%m', %[1]s) = strftime('%%Y-%%m', 'now')",
			intent.DateLastMonth: "strftime('%%Y-%%m', %[1]s) = strftime('%%Y-%%m', 'now', '-1 month')",
			intent.DateThisYear:  "strftime('%%Y', %[1]s) = strftime('%%Y', 'now')",
			intent.DateLastYear:  "strftime('%%Y', %[1]s) = strftime('%%Y', 'now', '-1 year')",
		},
		bound: map[intent.DateType]string{
			intent.DateSince:  "%s >= ?",
			intent.DateBefore: "%s < ?",
			intent.DateOn:     "date(%s) = ?",
			intent.DateRange:  "%s BETWEEN ? AND ?",
		},
	}

	DuckDB = Dialect{
		name: "duckdb",
		relative: map[intent.DateUnit]string{
			intent.UnitDay:   "%[1]s >= current_date - INTERVAL %[2]d DAY",
			intent.UnitMonth: "%[1]s >= current_date - INTERVAL %[2]d MONTH",
			intent.UnitYear:  "%[1]s >= current_date - INTERVAL %[2]d YEAR",
		},
		fixed: map[intent.DateType]string{
			intent.DateMonthYear: "strftime(%[1]s, '%%Y-%%m') = '%[2]s'",
			intent.DateToday:     "CAST(%[1]s AS DATE) = current_date",
			intent.DateThisMonth: "date_trunc('month', %[1]s) = date_trunc('month', current_date)",
			intent.DateLastMonth: "date_trunc('month', %[1]s) = date_trunc('month', current_date - INTERVAL 1 MONTH)",
			intent.DateThisYear:  "year(%[1]s) = year(current_date)",
			intent.DateLastYear:  "year(%[1]s) = year(current_date) - 1",
		},
		bound: map[intent.DateType]string{
			intent.DateSince:  "%s >= CAST(? AS DATE)",
			intent.DateBefore: "%s < CAST(? AS DATE)",
			intent.DateOn:     "CAST(%s AS DATE) = CAST(? AS DATE)",
			intent.DateRange:  "%s BETWEEN CAST(? AS DATE) AND CAST(? AS DATE)",
		},
	}

	MySQL = Dialect{
		name: "mysql",
		relative: map[intent.DateUnit]string{
			intent.UnitDay:   "%[1]s >= DATE_SUB(CURDATE(), INTERVAL %[2]d DAY)",
			intent.UnitMonth: "%[1]s >= DATE_SUB(CURDATE(), INTERVAL %[2]d MONTH)",
			intent.UnitYear:  "%[1]s >= DATE_SUB(CURDATE(), INTERVAL %[2]d YEAR)",
		},
		fixed: map[intent.DateType]string{
			intent.DateMonthYear: "DATE_FORMAT(%[1]s, '%%Y-%%m') = '%[2]s'",
			intent.DateToday:     "DATE(%[1]s) = CURDATE()",
			intent.DateThisMonth: "DATE_FORMAT(%[1]s, '%%Y-%%m') = DATE_FORMAT(CURDATE(), '%%Y-%%m')",
			intent.DateLastMonth: "DATE_FORMAT(%[1]s, '%%Y-%%m') = DATE_FORMAT(DATE_SUB(CURDATE(), INTERVAL 1 MONTH), '%%Y-%%m')",
			intent.DateThisYear:  "YEAR(%[1]s) = YEAR(CURDATE())",
			intent.DateLastYear:  "YEAR(%[1]s) = YEAR(CURDATE()) - 1",
		},
		bound: map[intent.DateType]string{
			intent.DateSince:  "%s >= ?",
			intent.DateBefore: "%s < ?",
			intent.DateOn:     "DATE(%s) = ?",
			intent.DateRange:  "%s BETWEEN ? AND ?",
		},
	}
)

// DialectByName maps a configured dialect name; empty selects SQLite.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "duckdb":
		return DuckDB, nil
	case "mysql":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

func (d Dialect) Name() string {
	return d.name
}

var monthLiteral = regexp.MustCompile(`^\d{4}-(?:0[1-9]|1[0-2])$`)

// DateCondition renders cond against column. Month-year literals are
// inlined only after they match YYYY-MM; absolute dates are always bound.
func (d Dialect) DateCondition(column string, cond intent.DateCondition) (string, []any, error) {
	switch cond.Type {
	case intent.DateRelative:
		format, ok := d.relative[cond.Unit]
		if !ok || cond.Amount <= 0 {
			return "", nil, fmt.Errorf("invalid relative date condition %d %q", cond.Amount, cond.Unit)
		}
		return fmt.Sprintf(format, column, cond.Amount), nil, nil
	case intent.DateMonthYear:
		if !monthLiteral.MatchString(cond.Literal) {
			return "", nil, fmt.Errorf("invalid month literal %q", cond.Literal)
		}
		return fmt.Sprintf(d.fixed[cond.Type], column, cond.Literal), nil, nil
	case intent.DateToday, intent.DateThisMonth, intent.DateLastMonth, intent.DateThisYear, intent.DateLastYear:
		return fmt.Sprintf(d.fixed[cond.Type], column), nil, nil
	case intent.DateSince, intent.DateBefore, intent.DateOn, intent.DateRange:
		format := d.bound[cond.Type]
		want := strings.Count(format, "?")
		if len(cond.Values) != want {
			return "", nil, fmt.Errorf("%s date condition needs %d value(s), got %d", cond.Type, want, len(cond.Values))
		}
		params := make([]any, 0, want)
		for _, v := range cond.Values {
			if _, err := time.Parse(time.DateOnly, v); err != nil {
				return "", nil, fmt.Errorf("invalid date %q: %w", v, err)
			}
			params = append(params, v)
		}
		return fmt.Sprintf(format, column), params, nil
	default:
		return "", nil, fmt.Errorf("unsupported date condition %q", cond.Type)
	}
}
