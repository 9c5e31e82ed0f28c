// Package nlparse turns a natural-language request into a structured
// intent.Query against a schema catalog. Parsing is rule driven and never
// fails: anything the rules cannot place is dropped or recorded as an
// assumption, and the confidence score reflects how much was guessed.
package nlparse

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/catalog"
	"github.com/ledgerlens/ledgerlens/internal/intent"
	"github.com/ledgerlens/ledgerlens/internal/lexicon"
	"github.com/ledgerlens/ledgerlens/internal/observability"
)

const (
	DefaultMaxLimit = 1000

	baseConfidence = 0.3
	tableBonus     = 0.2
	columnBonus    = 0.2
	actionCueBonus = 0.1
	filterBonus    = 0.1
	joinBonus      = 0.1
	maxConfidence  = 1.0
	minConfidence  = 0.0
	neutralHistory = 1.0
)

// History supplies feedback-derived signals for a request. Implementations
// must be safe for concurrent use.
type History interface {
	// ConfidenceAdjustment returns a multiplier; 1 means no history.
	ConfidenceAdjustment(query string) float64
	// CorrectedSQL returns user corrections recorded for similar requests.
	CorrectedSQL(query string) []string
}

type Options struct {
	MaxLimit int
	History  History
	Logger   *slog.Logger
}

type Parser struct {
	resolver *lexicon.Resolver
	maxLimit int
	history  History
	logger   *slog.Logger
}

func New(resolver *lexicon.Resolver, opts Options) *Parser {
	if resolver == nil {
		resolver = lexicon.NewResolver()
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	return &Parser{
		resolver: resolver,
		maxLimit: opts.MaxLimit,
		history:  opts.History,
		logger:   observability.Component(opts.Logger, "nlparse"),
	}
}

type span struct {
	start, end int
}

// match is one regexp hit with group participation tracked separately from
// group text, so an empty quoted value is distinguishable from a missing one.
type match struct {
	span
	groups  []string
	present []bool
}

func findAll(re *regexp.Regexp, text string) []match {
	locs := re.FindAllStringSubmatchIndex(text, -1)
	out := make([]match, 0, len(locs))
	for _, loc := range locs {
		n := len(loc) / 2
		m := match{span: span{start: loc[0], end: loc[1]}, groups: make([]string, n), present: make([]bool, n)}
		for i := 0; i < n; i++ {
			if loc[2*i] >= 0 {
				m.groups[i] = text[loc[2*i]:loc[2*i+1]]
				m.present[i] = true
			}
		}
		out = append(out, m)
	}
	return out
}

type claims []span

func (c claims) overlaps(s span) bool {
	for _, o := range c {
		if s.start < o.end && o.start < s.end {
			return true
		}
	}
	return false
}

// parseState carries the partially built query and the scoring signals
// gathered along the way.
type parseState struct {
	cat     *catalog.Catalog
	text    string
	lower   string
	query   intent.Query
	kind    actionKind
	cued    bool
	tables  bool
	columns bool
	claimed claims
}

func (s *parseState) assume(format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if !slices.Contains(s.query.Assumptions, msg) {
		s.query.Assumptions = append(s.query.Assumptions, msg)
	}
}

// Parse never fails. A nil catalog yields a bare SELECT with an assumption.
func (p *Parser) Parse(cat *catalog.Catalog, text string, tenant *intent.Tenant) intent.Query {
	trimmed := strings.TrimSpace(text)
	s := &parseState{
		cat:   cat,
		text:  trimmed,
		lower: strings.ToLower(trimmed),
		query: intent.Query{Action: intent.ActionSelect, Original: text},
	}
	if tenant != nil {
		t := *tenant
		s.query.Tenant = &t
	}
	if cat == nil || len(cat.TableNames()) == 0 {
		s.assume("No schema catalog loaded - nothing could be resolved")
		s.query.Confidence = baseConfidence
		return s.query
	}

	s.kind, s.cued = detectAction(s.lower)
	s.query.Action = actionFor(s.kind)

	p.extractTables(s)
	p.extractAggregations(s)
	p.extractColumns(s)
	if s.query.Action == intent.ActionUpdate {
		p.extractAssignments(s)
	}
	p.extractDates(s)
	p.extractFilters(s)
	if s.query.Action == intent.ActionInsert {
		convertInsertFilters(s)
	}
	p.inferJoins(s)
	p.extractGroupBy(s)
	p.extractOrderBy(s)
	p.extractLimit(s)
	p.score(s)

	p.logger.Debug("request parsed",
		"action", s.query.Kind(),
		"tables", s.query.Tables,
		"filters", len(s.query.Filters),
		"confidence", s.query.Confidence,
	)
	return s.query
}

func detectAction(lower string) (actionKind, bool) {
	for _, rule := range actionRules {
		if !rule.pattern.MatchString(lower) {
			continue
		}
		if rule.unless != nil && rule.unless.MatchString(lower) {
			continue
		}
		return rule.kind, true
	}
	return kindSelect, false
}

func actionFor(kind actionKind) intent.Action {
	switch kind {
	case kindInsert:
		return intent.ActionInsert
	case kindUpdate:
		return intent.ActionUpdate
	case kindDelete:
		return intent.ActionDelete
	default:
		return intent.ActionSelect
	}
}

func (p *Parser) extractTables(s *parseState) {
	if tables := p.resolver.TablesMentioned(s.cat, s.text); len(tables) > 0 {
		s.query.Tables = tables
		s.tables = true
		return
	}
	if tables := p.resolver.InferTables(s.cat, s.text); len(tables) > 0 {
		s.query.Tables = tables
		s.tables = true
		s.assume("Tables inferred from context: %s", strings.Join(tables, ", "))
		return
	}
	s.query.Tables = []string{s.cat.TableNames()[0]}
	s.assume("No specific tables identified - using default table")
}

var aggregateFuncs = map[string]intent.AggregateFunc{
	"count": intent.AggCount, "sum": intent.AggSum, "avg": intent.AggAvg, "average": intent.AggAvg,
	"max": intent.AggMax, "min": intent.AggMin,
}

func (p *Parser) extractAggregations(s *parseState) {
	if s.query.Action != intent.ActionSelect {
		return
	}
	var aggs []intent.Aggregation
	switch s.kind {
	case kindCount:
		aggs = append(aggs, intent.Aggregation{Func: intent.AggCount, Star: true})
	case kindSum:
		aggs = append(aggs, intent.Aggregation{Func: intent.AggSum, Auto: true})
	case kindAvg:
		aggs = append(aggs, intent.Aggregation{Func: intent.AggAvg, Auto: true})
	case kindMax:
		aggs = append(aggs, intent.Aggregation{Func: intent.AggMax, Auto: true})
	case kindMin:
		aggs = append(aggs, intent.Aggregation{Func: intent.AggMin, Auto: true})
	}

	for _, m := range findAll(aggregateCallRule, s.text) {
		fn := aggregateFuncs[strings.ToLower(m.groups[1])]
		var agg intent.Aggregation
		if m.groups[2] == "*" {
			if fn != intent.AggCount {
				continue
			}
			agg = intent.Aggregation{Func: fn, Star: true}
		} else {
			ref, ok := p.resolver.ResolveColumn(s.cat, s.query.Tables, m.groups[2])
			if !ok {
				continue
			}
			agg = intent.Aggregation{Func: fn, Column: ref}
		}
		// An explicit call replaces the synthesized aggregate of the same function.
		aggs = slices.DeleteFunc(aggs, func(a intent.Aggregation) bool {
			return a.Func == agg.Func && (a.Auto || (a.Star && agg.Star))
		})
		if !slices.Contains(aggs, agg) {
			aggs = append(aggs, agg)
		}
		s.cued = true
	}
	s.query.Aggregations = aggs
}

func (p *Parser) extractColumns(s *parseState) {
	if allColumnsCue.MatchString(s.text) {
		s.query.AllColumns = true
		s.columns = true
		return
	}
	if refs := p.resolver.ColumnsMentioned(s.cat, s.query.Tables, s.text); len(refs) > 0 {
		s.query.Columns = refs
		s.columns = true
		return
	}
	if s.query.Action == intent.ActionSelect && len(s.query.Aggregations) == 0 {
		s.query.AllColumns = true
		s.assume("No specific columns mentioned - selecting all columns")
	}
}

// resolveFilterField drops hints that only name a table, so "employees
// with ..." does not become a predicate on a column called employees.
func (p *Parser) resolveFilterField(s *parseState, field string) (lexicon.ColumnRef, bool) {
	if ref, ok := p.resolver.ExactColumn(s.cat, s.query.Tables, strings.ToLower(field)); ok {
		return ref, true
	}
	if p.resolver.NamesTable(s.cat, field) {
		return lexicon.ColumnRef{}, false
	}
	return p.resolver.ResolveColumn(s.cat, s.query.Tables, field)
}

func (p *Parser) extractAssignments(s *parseState) {
	for _, rule := range assignmentRules {
		for _, m := range findAll(rule.pattern, s.text) {
			if s.claimed.overlaps(m.span) {
				continue
			}
			ref, ok := p.resolveFilterField(s, m.groups[1])
			if !ok {
				continue
			}
			raw, quoted, ok := capturedValue(m, 2, 2)
			if !ok {
				continue
			}
			if slices.ContainsFunc(s.query.Assignments, func(a intent.Assignment) bool { return a.Column == ref }) {
				continue
			}
			var value any = raw
			if !quoted {
				value = coerceValue(raw)
			}
			s.query.Assignments = append(s.query.Assignments, intent.Assignment{Column: ref, Value: value})
			s.claimed = append(s.claimed, m.span)
		}
	}
}

func (p *Parser) extractDates(s *parseState) {
	var conditions []intent.DateCondition
	for _, rule := range dateRules {
		for _, m := range findAll(rule.pattern, s.text) {
			if s.claimed.overlaps(m.span) {
				continue
			}
			cond, ok := rule.build(m.groups)
			if !ok {
				continue
			}
			s.claimed = append(s.claimed, m.span)
			conditions = append(conditions, cond)
		}
	}
	if len(conditions) == 0 {
		return
	}
	column, ok := p.dateColumn(s)
	if !ok {
		s.assume("Date condition ignored - no date column on %s", strings.Join(s.query.Tables, ", "))
		return
	}
	for _, cond := range conditions {
		c := cond
		s.query.Filters = append(s.query.Filters, intent.Filter{Kind: intent.FilterDate, Column: column, Date: &c})
	}
}

// dateColumn prefers a mentioned temporal column, then the first temporal
// column across the resolved tables.
func (p *Parser) dateColumn(s *parseState) (lexicon.ColumnRef, bool) {
	for _, ref := range s.query.Columns {
		if col, ok := s.cat.Column(ref.Table, ref.Column); ok && col.IsTemporal() {
			return ref, true
		}
	}
	for _, table := range s.query.Tables {
		t, ok := s.cat.Table(table)
		if !ok {
			continue
		}
		for _, col := range t.Columns {
			if col.IsTemporal() {
				return lexicon.ColumnRef{Table: table, Column: col.Name}, true
			}
		}
	}
	return lexicon.ColumnRef{}, false
}

func (p *Parser) extractFilters(s *parseState) {
	before := len(s.query.Filters)
	for _, rule := range filterRules {
		for _, m := range findAll(rule.pattern, s.text) {
			if s.claimed.overlaps(m.span) {
				continue
			}
			filter, ok := p.buildFilter(s, rule, m)
			if !ok {
				continue
			}
			s.claimed = append(s.claimed, m.span)
			if slices.ContainsFunc(s.query.Filters, func(f intent.Filter) bool { return sameFilter(f, filter) }) {
				continue
			}
			s.query.Filters = append(s.query.Filters, filter)
		}
	}
	if len(s.query.Filters) == before && before == 0 && filterKeywords.MatchString(s.lower) && s.query.Action != intent.ActionInsert {
		s.assume("Filter keywords detected but conditions not clearly identified")
	}
}

func (p *Parser) buildFilter(s *parseState, rule filterRule, m match) (intent.Filter, bool) {
	field := rule.field
	valueFrom := 1
	if field == "" {
		field = m.groups[1]
		valueFrom = 2
	}
	ref, ok := p.resolveFilterField(s, field)
	if !ok {
		return intent.Filter{}, false
	}
	filter := intent.Filter{Kind: rule.kind, Column: ref}
	switch rule.kind {
	case intent.FilterRaw:
		filter.Raw = rule.raw
	case intent.FilterEquals:
		raw, quoted, ok := capturedValue(m, valueFrom, 2)
		if !ok {
			return intent.Filter{}, false
		}
		if !quoted {
			if _, stop := equalsStopValues[strings.ToLower(raw)]; stop {
				return intent.Filter{}, false
			}
			filter.Values = []any{coerceValue(raw)}
		} else {
			filter.Values = []any{raw}
		}
	case intent.FilterGreaterThan, intent.FilterLessThan:
		filter.Values = []any{coerceValue(m.groups[valueFrom])}
	case intent.FilterBetween:
		filter.Values = []any{coerceValue(m.groups[valueFrom]), coerceValue(m.groups[valueFrom+1])}
	case intent.FilterLike:
		raw, _, ok := capturedValue(m, valueFrom, 2)
		if !ok || raw == "" {
			return intent.Filter{}, false
		}
		filter.Values = []any{raw}
	case intent.FilterIn:
		items := splitList(m.groups[valueFrom])
		if len(items) == 0 {
			return intent.Filter{}, false
		}
		for _, item := range items {
			filter.Values = append(filter.Values, coerceValue(item))
		}
	}
	return filter, true
}

func sameFilter(a, b intent.Filter) bool {
	if a.Kind != b.Kind || a.Column != b.Column || a.Raw != b.Raw || len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			return false
		}
	}
	return true
}

// convertInsertFilters turns equality conditions into column values for
// INSERT; other conditions have no meaning there.
func convertInsertFilters(s *parseState) {
	var dropped bool
	for _, f := range s.query.Filters {
		if f.Kind != intent.FilterEquals {
			dropped = true
			continue
		}
		if slices.ContainsFunc(s.query.Assignments, func(a intent.Assignment) bool { return a.Column == f.Column }) {
			continue
		}
		s.query.Assignments = append(s.query.Assignments, intent.Assignment{Column: f.Column, Value: f.Values[0]})
	}
	s.query.Filters = nil
	if dropped {
		s.assume("Non-equality conditions ignored for INSERT")
	}
}

func (p *Parser) inferJoins(s *parseState) {
	tables := s.query.Tables
	if len(tables) < 2 {
		return
	}
	for i := 0; i < len(tables); i++ {
		for j := i + 1; j < len(tables); j++ {
			rel, ok := s.cat.RelationshipBetween(tables[i], tables[j])
			if !ok {
				continue
			}
			s.query.Joins = append(s.query.Joins, intent.Join{
				Kind:      intent.JoinInner,
				Left:      tables[i],
				Right:     tables[j],
				Condition: rel.String(),
			})
		}
	}
	if len(s.query.Joins) == 0 {
		s.assume("Multiple tables detected but no explicit join conditions found")
	}
	if joinDirectionWords.MatchString(s.lower) {
		s.assume("Outer join requested but joins are built as INNER")
	}
}

// resolveField resolves up to three words following a keyword. Two words
// joined by an underscore win when they name a column exactly; the next
// word is returned as a possible direction.
func (p *Parser) resolveField(s *parseState, words []string) (lexicon.ColumnRef, string, bool) {
	var w []string
	for _, word := range words {
		if word != "" {
			w = append(w, strings.ToLower(word))
		}
	}
	if len(w) == 0 {
		return lexicon.ColumnRef{}, "", false
	}
	if len(w) >= 2 {
		if ref, ok := p.resolver.ExactColumn(s.cat, s.query.Tables, w[0]+"_"+w[1]); ok {
			next := ""
			if len(w) >= 3 {
				next = w[2]
			}
			return ref, next, true
		}
	}
	ref, ok := p.resolver.ResolveColumn(s.cat, s.query.Tables, w[0])
	next := ""
	if len(w) >= 2 {
		next = w[1]
	}
	return ref, next, ok
}

func (p *Parser) extractGroupBy(s *parseState) {
	if s.query.Action != intent.ActionSelect {
		return
	}
	for _, rule := range groupRules {
		if rule.needsAggregate && len(s.query.Aggregations) == 0 {
			continue
		}
		for _, m := range findAll(rule.pattern, s.text) {
			if rule.fieldGroup == 2 {
				if _, verb := byVerbs[strings.ToLower(m.groups[1])]; verb {
					continue
				}
			}
			ref, _, ok := p.resolveField(s, m.groups[rule.fieldGroup:rule.fieldGroup+3])
			if !ok || slices.Contains(s.query.GroupBy, ref) {
				continue
			}
			s.query.GroupBy = append(s.query.GroupBy, ref)
		}
	}
}

func (p *Parser) extractOrderBy(s *parseState) {
	if s.query.Action != intent.ActionSelect {
		return
	}
	for _, rule := range orderRules {
		if rule.plainSelect && len(s.query.Aggregations) > 0 {
			continue
		}
		for _, m := range findAll(rule.pattern, s.text) {
			ref, next, ok := p.resolveField(s, m.groups[1:])
			if !ok {
				continue
			}
			if slices.ContainsFunc(s.query.OrderBy, func(o intent.Order) bool { return o.Column == ref }) {
				continue
			}
			direction := rule.direction
			if d, ok := directionWords[next]; ok {
				direction = d
			}
			s.query.OrderBy = append(s.query.OrderBy, intent.Order{Column: ref, Direction: direction})
		}
	}
}

func (p *Parser) extractLimit(s *parseState) {
	if s.query.Action != intent.ActionSelect {
		return
	}
	for _, rule := range limitRules {
		m := rule.FindStringSubmatch(s.text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		if n > p.maxLimit {
			s.assume("Limit capped at %d rows", p.maxLimit)
			n = p.maxLimit
		}
		s.query.Limit = n
		return
	}
}

func (p *Parser) score(s *parseState) {
	q := &s.query
	if q.Action == intent.ActionSelect && len(q.Aggregations) == 0 && countHint.MatchString(s.lower) {
		s.assume("Interpreted as SELECT but COUNT might be intended")
	}

	confidence := baseConfidence
	if s.tables {
		confidence += tableBonus
	}
	if s.columns {
		confidence += columnBonus
	}
	if s.cued {
		confidence += actionCueBonus
	}
	if len(q.Filters) > 0 {
		confidence += filterBonus
	}
	if len(q.Tables) > 1 && len(q.Joins) > 0 {
		confidence += joinBonus
	}

	if p.history != nil {
		adjustment := p.history.ConfidenceAdjustment(q.Original)
		if adjustment > 0 && adjustment != neutralHistory {
			confidence *= adjustment
			if adjustment < neutralHistory {
				s.assume("Similar requests received poor feedback - confidence reduced")
			}
		}
		for _, corrected := range p.history.CorrectedSQL(q.Original) {
			s.assume("A similar request was previously corrected to: %s", corrected)
		}
	}
	q.Confidence = clamp(confidence, minConfidence, maxConfidence)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
