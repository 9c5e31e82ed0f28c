// Package sqlbuild renders a structured intent.Query into parameterized SQL.
// Every clause builder returns its text together with the values bound by its
// placeholders, so the parameter list always follows placeholder order.
package sqlbuild

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/catalog"
	"github.com/ledgerlens/ledgerlens/internal/intent"
	"github.com/ledgerlens/ledgerlens/internal/lexicon"
	"github.com/ledgerlens/ledgerlens/internal/observability"
)

const (
	sqlBonus             = 0.1
	paramBonus           = 0.05
	assumptionPenalty    = 0.02
	lowConfidenceWarning = 0.6
	reportConfidence     = 0.95

	warnCartesian        = "Multiple tables detected but no explicit joins - may produce Cartesian product"
	warnUnbounded        = "No filters or limits - query may return large result set"
	warnLowConfidence    = "Low confidence in query interpretation - please review assumptions"
	warnUnfilteredMutate = "%s without filter conditions affects every row in scope"
)

var errNoCatalog = errors.New("no schema catalog loaded")

// preferredMeasures are tried in order when an aggregate has no explicit
// column.
var preferredMeasures = []string{"amount", "price", "cost", "salary", "total", "value", "quantity", "balance"}

// Artifact is the rendered statement. A failed build carries Error, an empty
// SQL and zero confidence.
type Artifact struct {
	SQL         string   `json:"sql"`
	Params      []any    `json:"params"`
	Confidence  float64  `json:"confidence"`
	Assumptions []string `json:"assumptions"`
	Warnings    []string `json:"warnings"`
	Explanation string   `json:"explanation,omitempty"`
	Report      string   `json:"report,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func (a Artifact) OK() bool {
	return a.Error == "" && a.SQL != ""
}

// TenantColumns names the isolation columns. When Enabled, every statement
// against a tenant-scoped table is restricted to the caller's identity.
type TenantColumns struct {
	Enabled       bool
	UserColumn    string
	CompanyColumn string
}

type Options struct {
	Dialect Dialect
	Tenant  TenantColumns
	Logger  *slog.Logger
}

type Builder struct {
	dialect Dialect
	tenant  TenantColumns
	logger  *slog.Logger
}

func New(opts Options) *Builder {
	if opts.Dialect.name == "" {
		opts.Dialect = SQLite
	}
	if opts.Tenant.UserColumn == "" {
		opts.Tenant.UserColumn = "user_id"
	}
	if opts.Tenant.CompanyColumn == "" {
		opts.Tenant.CompanyColumn = "company_name"
	}
	return &Builder{
		dialect: opts.Dialect,
		tenant:  opts.Tenant,
		logger:  observability.Component(opts.Logger, "sqlbuild"),
	}
}

func (b *Builder) Dialect() Dialect {
	return b.dialect
}

// clause is a fragment of SQL and the values for its placeholders.
type clause struct {
	text   string
	params []any
}

func (c clause) empty() bool {
	return c.text == ""
}

// statement accumulates clauses in emission order.
type statement struct {
	parts  []string
	params []any
}

func (s *statement) add(c clause) {
	if c.empty() {
		return
	}
	s.parts = append(s.parts, c.text)
	s.params = append(s.params, c.params...)
}

func (s *statement) sql() string {
	return strings.Join(s.parts, " ")
}

// Build validates q against cat and renders it. It never panics; validation
// failures are returned as a failed Artifact.
func (b *Builder) Build(cat *catalog.Catalog, q intent.Query) Artifact {
	art := Artifact{Assumptions: slices.Clone(q.Assumptions)}
	if err := b.validate(cat, q); err != nil {
		return b.fail(q, art, err)
	}

	var (
		stmt statement
		err  error
	)
	switch q.Action {
	case intent.ActionSelect:
		stmt, err = b.buildSelect(cat, q, &art)
	case intent.ActionInsert:
		stmt, err = b.buildInsert(cat, q)
	case intent.ActionUpdate:
		stmt, err = b.buildUpdate(cat, q, &art)
	case intent.ActionDelete:
		stmt, err = b.buildDelete(cat, q, &art)
	default:
		err = fmt.Errorf("unsupported action %q", q.Action)
	}
	if err != nil {
		return b.fail(q, art, err)
	}

	art.SQL = stmt.sql()
	art.Params = stmt.params
	if art.Params == nil {
		art.Params = []any{}
	}
	art.Confidence = adjustConfidence(q.Confidence, art)
	if q.Action == intent.ActionSelect && countUserFilters(q) == 0 && q.Limit == 0 && len(q.Aggregations) == 0 {
		art.Warnings = appendUnique(art.Warnings, warnUnbounded)
	}
	if art.Confidence < lowConfidenceWarning {
		art.Warnings = appendUnique(art.Warnings, warnLowConfidence)
	}
	art.Explanation = explain(q)
	if art.Warnings == nil {
		art.Warnings = []string{}
	}
	b.logger.Debug("sql built", "kind", q.Kind(), "params", len(art.Params), "confidence", art.Confidence)
	return art
}

func (b *Builder) fail(q intent.Query, art Artifact, err error) Artifact {
	b.logger.Debug("sql build failed", "kind", q.Kind(), "error", err)
	art.SQL = ""
	art.Params = []any{}
	art.Confidence = 0
	art.Error = err.Error()
	if art.Warnings == nil {
		art.Warnings = []string{}
	}
	return art
}

func adjustConfidence(base float64, art Artifact) float64 {
	c := base
	if art.SQL != "" {
		c += sqlBonus
		if len(art.Params) > 0 {
			c += paramBonus
		}
	}
	c -= assumptionPenalty * float64(len(art.Assumptions))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func (b *Builder) validate(cat *catalog.Catalog, q intent.Query) error {
	if cat == nil {
		return errNoCatalog
	}
	if len(q.Tables) == 0 {
		return errors.New("no table resolved for the query")
	}
	for _, table := range q.Tables {
		if !cat.HasTable(table) {
			return fmt.Errorf("%w: %s", catalog.ErrUnknownTable, table)
		}
	}
	scope := q.Tables
	if q.Action.Mutates() {
		scope = q.Tables[:1]
	}
	check := func(ref lexicon.ColumnRef) error {
		if !cat.HasColumn(ref.Table, ref.Column) {
			return fmt.Errorf("%w: %s", catalog.ErrUnknownColumn, ref)
		}
		if !slices.Contains(scope, ref.Table) {
			return fmt.Errorf("column %s references a table outside the statement", ref)
		}
		return nil
	}

	var refs []lexicon.ColumnRef
	if q.Action == intent.ActionSelect {
		refs = append(refs, q.Columns...)
		refs = append(refs, q.GroupBy...)
		for _, o := range q.OrderBy {
			refs = append(refs, o.Column)
		}
		for _, a := range q.Aggregations {
			if !a.Star && !a.Auto {
				refs = append(refs, a.Column)
			}
		}
	}
	for _, f := range q.Filters {
		refs = append(refs, f.Column)
	}
	for _, a := range q.Assignments {
		refs = append(refs, a.Column)
		if b.tenant.Enabled && (a.Column.Column == b.tenant.UserColumn || a.Column.Column == b.tenant.CompanyColumn) {
			return fmt.Errorf("tenant column %s cannot be assigned", a.Column)
		}
	}
	for _, ref := range refs {
		if err := check(ref); err != nil {
			return err
		}
	}
	for _, j := range q.Joins {
		if !slices.Contains(q.Tables, j.Left) || !slices.Contains(q.Tables, j.Right) {
			return fmt.Errorf("join %s references a table outside the statement", j.Condition)
		}
		rel, ok := cat.RelationshipBetween(j.Left, j.Right)
		if !ok || rel.String() != j.Condition {
			return fmt.Errorf("join between %s and %s is not a declared relationship", j.Left, j.Right)
		}
	}

	tenanted := b.tenantTables(cat, q)
	if len(tenanted) > 0 && q.Tenant == nil {
		return errors.New("tenant identity required for tenant-scoped tables")
	}
	for _, table := range tenanted {
		for _, column := range []string{b.tenant.UserColumn, b.tenant.CompanyColumn} {
			if !cat.HasColumn(table, column) {
				return fmt.Errorf("%w: tenant column %s.%s", catalog.ErrUnknownColumn, table, column)
			}
		}
	}
	return nil
}

func (b *Builder) tenantApplies(cat *catalog.Catalog, table string) bool {
	if !b.tenant.Enabled {
		return false
	}
	t, ok := cat.Table(table)
	return ok && t.TenantScoped
}

// tenantTables lists the tenant-scoped tables a statement touches, primary
// first. Mutations only ever touch their target table.
func (b *Builder) tenantTables(cat *catalog.Catalog, q intent.Query) []string {
	scope := uniqueTables(q.Tables)
	if q.Action.Mutates() && len(scope) > 1 {
		scope = scope[:1]
	}
	var out []string
	for _, table := range scope {
		if b.tenantApplies(cat, table) {
			out = append(out, table)
		}
	}
	return out
}

// tenantPredicates are always the first predicates and parameters of a WHERE.
// Joined and cross-joined tables are restricted as well as the primary one.
func (b *Builder) tenantPredicates(cat *catalog.Catalog, q intent.Query) ([]string, []any) {
	if q.Tenant == nil {
		return nil, nil
	}
	var (
		preds  []string
		params []any
	)
	for _, table := range b.tenantTables(cat, q) {
		preds = append(preds,
			table+"."+b.tenant.UserColumn+" = ?",
			table+"."+b.tenant.CompanyColumn+" = ?",
		)
		params = append(params, q.Tenant.UserID, q.Tenant.CompanyName)
	}
	return preds, params
}

func (b *Builder) buildSelect(cat *catalog.Catalog, q intent.Query, art *Artifact) (statement, error) {
	var stmt statement

	selectList, err := b.selectClause(cat, q, art)
	if err != nil {
		return stmt, err
	}
	stmt.add(selectList)

	from, cartesian := fromClause(q)
	stmt.add(from)
	if cartesian {
		art.Warnings = appendUnique(art.Warnings, warnCartesian)
	}

	where, err := b.whereClause(cat, q)
	if err != nil {
		return stmt, err
	}
	stmt.add(where)
	stmt.add(groupByClause(q.GroupBy))

	orders, limit := q.OrderBy, q.Limit
	if len(q.Aggregations) > 0 {
		orders, limit = b.aggregateOrdering(q, art)
	}
	stmt.add(orderByClause(orders))
	stmt.add(limitClause(limit))
	return stmt, nil
}

// aggregateOrdering keeps ordering on grouped columns only. Ungrouped
// aggregates return a single row, so their ordering and limit are dropped.
func (b *Builder) aggregateOrdering(q intent.Query, art *Artifact) ([]intent.Order, int) {
	if len(q.GroupBy) == 0 {
		if len(q.OrderBy) > 0 || q.Limit > 0 {
			if q.Kind() == string(intent.AggCount) {
				art.Assumptions = appendUnique(art.Assumptions, "Converted to COUNT query")
			} else {
				art.Assumptions = appendUnique(art.Assumptions, "Ordering and limit ignored for a single-row aggregate")
			}
		}
		return nil, 0
	}
	var kept []intent.Order
	for _, o := range q.OrderBy {
		if slices.Contains(q.GroupBy, o.Column) {
			kept = append(kept, o)
		}
	}
	return kept, q.Limit
}

func (b *Builder) selectClause(cat *catalog.Catalog, q intent.Query, art *Artifact) (clause, error) {
	if len(q.Aggregations) == 0 {
		if q.AllColumns || len(q.Columns) == 0 {
			return clause{text: "SELECT *"}, nil
		}
		cols := make([]string, 0, len(q.Columns))
		for _, ref := range q.Columns {
			cols = append(cols, ref.String())
		}
		return clause{text: "SELECT " + strings.Join(cols, ", ")}, nil
	}

	var items []string
	for _, agg := range q.Aggregations {
		switch {
		case agg.Star:
			items = append(items, string(agg.Func)+"(*)")
		case agg.Auto:
			ref, ok := autoMeasure(cat, q)
			if !ok {
				return clause{}, errors.New("No suitable column found for aggregation")
			}
			art.Assumptions = appendUnique(art.Assumptions, fmt.Sprintf("Using %s for %s aggregation", ref.Column, agg.Func))
			items = append(items, fmt.Sprintf("%s(%s)", agg.Func, ref))
		default:
			items = append(items, fmt.Sprintf("%s(%s)", agg.Func, agg.Column))
		}
	}
	for _, ref := range q.GroupBy {
		if !slices.Contains(items, ref.String()) {
			items = append(items, ref.String())
		}
	}
	return clause{text: "SELECT " + strings.Join(items, ", ")}, nil
}

func measureCandidate(col catalog.Column) bool {
	return col.IsNumeric() && !col.PrimaryKey && col.ForeignKey == ""
}

// autoMeasure picks the aggregate column: a mentioned numeric column, then
// the preferred measure names on the primary table, then any numeric column.
func autoMeasure(cat *catalog.Catalog, q intent.Query) (lexicon.ColumnRef, bool) {
	for _, ref := range q.Columns {
		if col, ok := cat.Column(ref.Table, ref.Column); ok && measureCandidate(col) {
			return ref, true
		}
	}
	primary, ok := cat.Table(q.PrimaryTable())
	if !ok {
		return lexicon.ColumnRef{}, false
	}
	for _, exact := range []bool{true, false} {
		for _, want := range preferredMeasures {
			for _, col := range primary.Columns {
				if !measureCandidate(col) {
					continue
				}
				if col.Name == want || !exact && strings.Contains(col.Name, want) {
					return lexicon.ColumnRef{Table: primary.Name, Column: col.Name}, true
				}
			}
		}
	}
	for _, table := range q.Tables {
		t, ok := cat.Table(table)
		if !ok {
			continue
		}
		for _, col := range t.Columns {
			if measureCandidate(col) {
				return lexicon.ColumnRef{Table: table, Column: col.Name}, true
			}
		}
	}
	return lexicon.ColumnRef{}, false
}

type joinEntry struct {
	table      string
	conditions []string
}

// fromClause places the primary table first and introduces joined tables as
// their relationship reaches them. Tables no join reaches are cross joined,
// which the caller reports as a Cartesian product.
func fromClause(q intent.Query) (clause, bool) {
	primary := q.PrimaryTable()
	inScope := map[string]int{primary: -1}
	fromTables := []string{primary}
	var entries []joinEntry
	pending := slices.Clone(q.Joins)
	cartesian := false

	for len(pending) > 0 || len(inScope) < len(uniqueTables(q.Tables)) {
		progressed := false
		rest := pending[:0]
		for _, j := range pending {
			leftIdx, leftIn := inScope[j.Left]
			rightIdx, rightIn := inScope[j.Right]
			switch {
			case leftIn && rightIn:
				// Fold into whichever side was introduced last.
				target := max(leftIdx, rightIdx)
				if target < 0 {
					continue
				}
				entries[target].conditions = append(entries[target].conditions, j.Condition)
				progressed = true
			case leftIn || rightIn:
				next := j.Right
				if rightIn {
					next = j.Left
				}
				entries = append(entries, joinEntry{table: next, conditions: []string{j.Condition}})
				inScope[next] = len(entries) - 1
				progressed = true
			default:
				rest = append(rest, j)
			}
		}
		pending = rest
		if progressed {
			continue
		}
		next, ok := firstUnreached(q.Tables, inScope)
		if !ok {
			break
		}
		fromTables = append(fromTables, next)
		inScope[next] = -1
		cartesian = true
	}

	var b strings.Builder
	b.WriteString("FROM ")
	b.WriteString(strings.Join(fromTables, ", "))
	for _, e := range entries {
		b.WriteString(" INNER JOIN ")
		b.WriteString(e.table)
		b.WriteString(" ON ")
		b.WriteString(strings.Join(e.conditions, " AND "))
	}
	return clause{text: b.String()}, cartesian
}

func uniqueTables(tables []string) []string {
	var out []string
	for _, t := range tables {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func firstUnreached(tables []string, inScope map[string]int) (string, bool) {
	for _, t := range tables {
		if _, ok := inScope[t]; !ok {
			return t, true
		}
	}
	return "", false
}

func (b *Builder) whereClause(cat *catalog.Catalog, q intent.Query) (clause, error) {
	preds, params := b.tenantPredicates(cat, q)
	for _, f := range q.Filters {
		c, err := b.predicate(f)
		if err != nil {
			return clause{}, err
		}
		preds = append(preds, c.text)
		params = append(params, c.params...)
	}
	if len(preds) == 0 {
		return clause{}, nil
	}
	return clause{text: "WHERE " + strings.Join(preds, " AND "), params: params}, nil
}

func (b *Builder) predicate(f intent.Filter) (clause, error) {
	column := f.Column.String()
	need := func(n int) error {
		if len(f.Values) != n {
			return fmt.Errorf("%s filter on %s needs %d value(s), got %d", f.Kind, column, n, len(f.Values))
		}
		return nil
	}
	switch f.Kind {
	case intent.FilterEquals, intent.FilterGreaterThan, intent.FilterLessThan:
		if err := need(1); err != nil {
			return clause{}, err
		}
		op := map[intent.FilterKind]string{intent.FilterEquals: "=", intent.FilterGreaterThan: ">", intent.FilterLessThan: "<"}[f.Kind]
		return clause{text: fmt.Sprintf("%s %s ?", column, op), params: []any{f.Values[0]}}, nil
	case intent.FilterBetween:
		if err := need(2); err != nil {
			return clause{}, err
		}
		return clause{text: column + " BETWEEN ? AND ?", params: []any{f.Values[0], f.Values[1]}}, nil
	case intent.FilterLike:
		if err := need(1); err != nil {
			return clause{}, err
		}
		return clause{text: column + " LIKE ?", params: []any{"%" + fmt.Sprint(f.Values[0]) + "%"}}, nil
	case intent.FilterIn:
		if len(f.Values) == 0 {
			return clause{}, fmt.Errorf("IN filter on %s has no values", column)
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(f.Values)), ", ")
		return clause{text: fmt.Sprintf("%s IN (%s)", column, marks), params: slices.Clone(f.Values)}, nil
	case intent.FilterRaw:
		switch f.Raw {
		case "IS NULL", "IS NOT NULL":
			return clause{text: column + " " + f.Raw}, nil
		default:
			return clause{}, fmt.Errorf("unsupported raw predicate %q", f.Raw)
		}
	case intent.FilterDate:
		if f.Date == nil {
			return clause{}, fmt.Errorf("date filter on %s has no condition", column)
		}
		text, params, err := b.dialect.DateCondition(column, *f.Date)
		if err != nil {
			return clause{}, err
		}
		return clause{text: text, params: params}, nil
	default:
		return clause{}, fmt.Errorf("unsupported filter kind %q", f.Kind)
	}
}

func groupByClause(refs []lexicon.ColumnRef) clause {
	if len(refs) == 0 {
		return clause{}
	}
	cols := make([]string, 0, len(refs))
	for _, ref := range refs {
		cols = append(cols, ref.String())
	}
	return clause{text: "GROUP BY " + strings.Join(cols, ", ")}
}

func orderByClause(orders []intent.Order) clause {
	if len(orders) == 0 {
		return clause{}
	}
	items := make([]string, 0, len(orders))
	for _, o := range orders {
		dir := o.Direction
		if dir != intent.Desc {
			dir = intent.Asc
		}
		items = append(items, o.Column.String()+" "+string(dir))
	}
	return clause{text: "ORDER BY " + strings.Join(items, ", ")}
}

func limitClause(limit int) clause {
	if limit <= 0 {
		return clause{}
	}
	return clause{text: fmt.Sprintf("LIMIT %d", limit)}
}

func (b *Builder) buildInsert(cat *catalog.Catalog, q intent.Query) (statement, error) {
	var stmt statement
	if len(q.Assignments) == 0 {
		return stmt, errors.New("No column values found for INSERT")
	}
	table := q.PrimaryTable()
	var cols []string
	var params []any
	if b.tenantApplies(cat, table) && q.Tenant != nil {
		cols = append(cols, b.tenant.UserColumn, b.tenant.CompanyColumn)
		params = append(params, q.Tenant.UserID, q.Tenant.CompanyName)
	}
	for _, a := range q.Assignments {
		cols = append(cols, a.Column.Column)
		params = append(params, a.Value)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt.add(clause{text: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), marks), params: params})
	return stmt, nil
}

func (b *Builder) buildUpdate(cat *catalog.Catalog, q intent.Query, art *Artifact) (statement, error) {
	var stmt statement
	if len(q.Assignments) == 0 {
		return stmt, errors.New("No column assignments found for UPDATE")
	}
	sets := make([]string, 0, len(q.Assignments))
	params := make([]any, 0, len(q.Assignments))
	for _, a := range q.Assignments {
		sets = append(sets, a.Column.Column+" = ?")
		params = append(params, a.Value)
	}
	stmt.add(clause{text: "UPDATE " + q.PrimaryTable() + " SET " + strings.Join(sets, ", "), params: params})
	where, err := b.whereClause(cat, q)
	if err != nil {
		return stmt, err
	}
	stmt.add(where)
	if countUserFilters(q) == 0 {
		art.Warnings = appendUnique(art.Warnings, fmt.Sprintf(warnUnfilteredMutate, intent.ActionUpdate))
	}
	return stmt, nil
}

func (b *Builder) buildDelete(cat *catalog.Catalog, q intent.Query, art *Artifact) (statement, error) {
	var stmt statement
	stmt.add(clause{text: "DELETE FROM " + q.PrimaryTable()})
	where, err := b.whereClause(cat, q)
	if err != nil {
		return stmt, err
	}
	stmt.add(where)
	if countUserFilters(q) == 0 {
		art.Warnings = appendUnique(art.Warnings, fmt.Sprintf(warnUnfilteredMutate, intent.ActionDelete))
	}
	return stmt, nil
}

func countUserFilters(q intent.Query) int {
	return len(q.Filters)
}

func appendUnique(items []string, item string) []string {
	if slices.Contains(items, item) {
		return items
	}
	return append(items, item)
}

var explainVerbs = map[string]string{
	string(intent.ActionSelect): "Retrieving data",
	string(intent.AggCount):     "Counting records",
	string(intent.AggSum):       "Calculating sum",
	string(intent.AggAvg):       "Calculating average",
	string(intent.AggMax):       "Finding maximum value",
	string(intent.AggMin):       "Finding minimum value",
	string(intent.ActionInsert): "Inserting a record",
	string(intent.ActionUpdate): "Updating records",
	string(intent.ActionDelete): "Deleting records",
}

// explain summarizes the statement, e.g. "Calculating sum from the sales
// table with 1 filter condition."
func explain(q intent.Query) string {
	var b strings.Builder
	b.WriteString(explainVerbs[q.Kind()])
	preposition := " from"
	switch q.Action {
	case intent.ActionInsert:
		preposition = " into"
	case intent.ActionUpdate:
		preposition = " in"
	}
	b.WriteString(preposition)
	tables := uniqueTables(q.Tables)
	if len(tables) == 1 {
		fmt.Fprintf(&b, " the %s table", tables[0])
	} else {
		fmt.Fprintf(&b, " the %s and %s tables", strings.Join(tables[:len(tables)-1], ", "), tables[len(tables)-1])
	}
	if n := len(q.Filters); n > 0 {
		noun := "conditions"
		if n == 1 {
			noun = "condition"
		}
		fmt.Fprintf(&b, " with %d filter %s", n, noun)
	}
	if len(q.GroupBy) > 0 {
		cols := make([]string, 0, len(q.GroupBy))
		for _, ref := range q.GroupBy {
			cols = append(cols, ref.Column)
		}
		fmt.Fprintf(&b, ", grouped by %s", strings.Join(cols, ", "))
	}
	if q.Action == intent.ActionSelect && len(q.Aggregations) == 0 {
		if len(q.OrderBy) > 0 {
			fmt.Fprintf(&b, ", sorted by %s", q.OrderBy[0].Column.Column)
		}
		if q.Limit > 0 {
			fmt.Fprintf(&b, ", limited to %d rows", q.Limit)
		}
	}
	b.WriteString(".")
	return b.String()
}
