package sqlbuild

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/catalog"
	"github.com/ledgerlens/ledgerlens/internal/intent"
)

// reportTemplate is a fixed aggregate statement over one table. Measures are
// summed under their own names; groupBy is also the ordering.
type reportTemplate struct {
	name     string
	title    string
	pattern  *regexp.Regexp
	table    string
	groupBy  []string
	distinct []string
	measures []string
}

var reportTemplates = []reportTemplate{
	{
		name:     "trial_balance",
		title:    "Trial balance",
		pattern:  regexp.MustCompile(`(?i)\btrial\s+balance\b`),
		table:    "ledger",
		groupBy:  []string{"group_name"},
		measures: []string{"opening_balance", "closing_balance"},
	},
	{
		name:     "stock_summary",
		title:    "Stock summary",
		pattern:  regexp.MustCompile(`(?i)\b(?:stock|inventory)\s+(?:summary|report|valuation)\b`),
		table:    "stock_item",
		groupBy:  []string{"category", "item_name"},
		measures: []string{"quantity", "value"},
	},
	{
		name:     "payroll_summary",
		title:    "Payroll summary",
		pattern:  regexp.MustCompile(`(?i)\b(?:payroll|salary)\s+(?:summary|report|register)\b`),
		table:    "payroll",
		groupBy:  []string{"pay_period"},
		distinct: []string{"employee_id"},
		measures: []string{"basic", "net_pay"},
	},
	{
		name:     "tax_summary",
		title:    "Tax summary",
		pattern:  regexp.MustCompile(`(?i)\b(?:tax|gst|vat)\s+(?:summary|report)\b`),
		table:    "tax_entry",
		groupBy:  []string{"tax_type"},
		measures: []string{"taxable_amount", "tax_amount"},
	},
}

// Reports lists the names of the built-in report templates.
func Reports() []string {
	names := make([]string, 0, len(reportTemplates))
	for _, r := range reportTemplates {
		names = append(names, r.name)
	}
	return names
}

// BuildReport renders the first report template text asks for. ok is false
// when no template matches or the catalog lacks the template's table or
// columns, in which case the caller falls back to the general builder.
func (b *Builder) BuildReport(cat *catalog.Catalog, text string, tenant *intent.Tenant) (Artifact, bool) {
	if cat == nil {
		return Artifact{}, false
	}
	for _, tmpl := range reportTemplates {
		if !tmpl.pattern.MatchString(text) || !tmpl.available(cat) {
			continue
		}
		art, err := b.renderReport(cat, tmpl, tenant)
		if err != nil {
			failed := b.fail(intent.Query{Action: intent.ActionSelect, Tables: []string{tmpl.table}}, Artifact{Report: tmpl.name}, err)
			return failed, true
		}
		b.logger.Debug("report built", "report", tmpl.name, "params", len(art.Params))
		return art, true
	}
	return Artifact{}, false
}

func (r reportTemplate) available(cat *catalog.Catalog) bool {
	if !cat.HasTable(r.table) {
		return false
	}
	for _, group := range [][]string{r.groupBy, r.distinct, r.measures} {
		for _, column := range group {
			if !cat.HasColumn(r.table, column) {
				return false
			}
		}
	}
	return true
}

func (b *Builder) renderReport(cat *catalog.Catalog, tmpl reportTemplate, tenant *intent.Tenant) (Artifact, error) {
	items := make([]string, 0, len(tmpl.groupBy)+len(tmpl.distinct)+len(tmpl.measures))
	items = append(items, tmpl.groupBy...)
	for _, column := range tmpl.distinct {
		items = append(items, fmt.Sprintf("COUNT(DISTINCT %s) AS %s_count", column, strings.TrimSuffix(column, "_id")))
	}
	for _, column := range tmpl.measures {
		items = append(items, fmt.Sprintf("SUM(%s) AS total_%s", column, column))
	}

	var stmt statement
	stmt.add(clause{text: "SELECT " + strings.Join(items, ", ")})
	stmt.add(clause{text: "FROM " + tmpl.table})
	if b.tenantApplies(cat, tmpl.table) {
		if tenant == nil {
			return Artifact{}, errors.New("tenant identity required for tenant-scoped tables")
		}
		stmt.add(clause{
			text:   fmt.Sprintf("WHERE %[1]s.%[2]s = ? AND %[1]s.%[3]s = ?", tmpl.table, b.tenant.UserColumn, b.tenant.CompanyColumn),
			params: []any{tenant.UserID, tenant.CompanyName},
		})
	}
	stmt.add(clause{text: "GROUP BY " + strings.Join(tmpl.groupBy, ", ")})
	stmt.add(clause{text: "ORDER BY " + strings.Join(tmpl.groupBy, ", ")})

	params := stmt.params
	if params == nil {
		params = []any{}
	}
	return Artifact{
		SQL:         stmt.sql(),
		Params:      params,
		Confidence:  reportConfidence,
		Assumptions: []string{},
		Warnings:    []string{},
		Explanation: fmt.Sprintf("%s report from the %s table.", tmpl.title, tmpl.table),
		Report:      tmpl.name,
	}, nil
}
