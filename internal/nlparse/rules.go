package nlparse

import (
	"regexp"

	"github.com/ledgerlens/ledgerlens/internal/intent"
)

// actionKind is the intent cue detected in the text. Aggregate kinds
// collapse into SELECT with an aggregation entry.
type actionKind string

const (
	kindSelect actionKind = "SELECT"
	kindCount  actionKind = "COUNT"
	kindSum    actionKind = "SUM"
	kindAvg    actionKind = "AVG"
	kindMax    actionKind = "MAX"
	kindMin    actionKind = "MIN"
	kindInsert actionKind = "INSERT"
	kindUpdate actionKind = "UPDATE"
	kindDelete actionKind = "DELETE"
)

type actionRule struct {
	kind    actionKind
	pattern *regexp.Regexp
	unless  *regexp.Regexp
}

// actionRules are evaluated top to bottom against the lowercased text; the
// first match wins. Specific aggregate phrasings precede the generic
// "total" count and the listing verbs.
var actionRules = []actionRule{
	{kind: kindDelete, pattern: regexp.MustCompile(`^\s*(?:delete|remove)\b`)},
	{kind: kindUpdate, pattern: regexp.MustCompile(`^\s*(?:update|change|modify|set)\b`)},
	{kind: kindInsert, pattern: regexp.MustCompile(`^\s*(?:insert|add|create)\b`), unless: regexp.MustCompile(`^\s*add\s+up\b`)},
	{kind: kindCount, pattern: regexp.MustCompile(`\b(?:count|number of|how many)\b`)},
	{kind: kindSum, pattern: regexp.MustCompile(`\b(?:sum|total|add up)\b.*\b(?:amounts?|prices?|costs?|values?|revenue|sales|salary|salaries|balances?|tax|taxes|pay|turnover)\b`)},
	{kind: kindSum, pattern: regexp.MustCompile(`\bsum\s+of\b`)},
	{kind: kindAvg, pattern: regexp.MustCompile(`\b(?:average|avg|mean)\b`)},
	{kind: kindMax, pattern: regexp.MustCompile(`\b(?:maximum|max|highest|largest|biggest)\b`)},
	{kind: kindMin, pattern: regexp.MustCompile(`\b(?:minimum|min|lowest|smallest)\b|\bthe\s+least\b`)},
	{kind: kindCount, pattern: regexp.MustCompile(`\btotal\b`)},
	{kind: kindSelect, pattern: regexp.MustCompile(`\b(?:show|display|list|get|find|retrieve|see|view|fetch)\b`)},
	{kind: kindSelect, pattern: regexp.MustCompile(`\b(?:give me|tell me)\b`)},
	{kind: kindSelect, pattern: regexp.MustCompile(`\b(?:what|which|who)\b.*\b(?:are|is)\b`)},
}

const (
	// A doubled quote inside a quoted value stands for the quote itself, and
	// a bare word may carry an inner apostrophe (O'Brien).
	quotedValue = `(?:'((?:[^']|'')*)'|"((?:[^"]|"")*)")`
	anyValue    = `(?:'((?:[^']|'')*)'|"((?:[^"]|"")*)"|([\w.@/-]+(?:'[\w.@/-]+)*))`
	numberValue = `(-?\d+(?:\.\d+)?)`
)

// filterRule captures the field hint in group 1 unless field is fixed. The
// remaining groups hold values; for single-valued kinds the first non-empty
// group wins.
type filterRule struct {
	kind    intent.FilterKind
	pattern *regexp.Regexp
	field   string
	raw     string
}

var filterRules = []filterRule{
	{kind: intent.FilterRaw, raw: "IS NOT NULL", pattern: regexp.MustCompile(`(?i)\b(\w+)\s+is\s+not\s+(?:null|empty|missing|blank)\b`)},
	{kind: intent.FilterRaw, raw: "IS NULL", pattern: regexp.MustCompile(`(?i)\b(\w+)\s+is\s+(?:null|empty|missing|blank)\b`)},
	{kind: intent.FilterEquals, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+(?:is|equals?|==?)\s+` + anyValue)},
	{kind: intent.FilterEquals, pattern: regexp.MustCompile(`(?i)\b(\w+)\s*==?\s*` + anyValue)},
	{kind: intent.FilterEquals, field: "name", pattern: regexp.MustCompile(`(?i)\b(?:named|called)\s+` + anyValue)},
	{kind: intent.FilterGreaterThan, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+(?:is\s+)?(?:greater than|more than|higher than|above|over|exceeding|exceeds|>)\s+` + numberValue)},
	{kind: intent.FilterGreaterThan, pattern: regexp.MustCompile(`(?i)\b(\w+)\s*>\s*` + numberValue)},
	{kind: intent.FilterLessThan, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+(?:is\s+)?(?:less than|fewer than|lower than|below|under|<)\s+` + numberValue)},
	{kind: intent.FilterLessThan, pattern: regexp.MustCompile(`(?i)\b(\w+)\s*<\s*` + numberValue)},
	{kind: intent.FilterBetween, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+(?:is\s+)?between\s+` + numberValue + `\s+and\s+` + numberValue + `\b`)},
	{kind: intent.FilterBetween, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+from\s+` + numberValue + `\s+to\s+` + numberValue + `\b`)},
	{kind: intent.FilterLike, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+(?:contains?|containing|includes?|including|like)\s+` + anyValue)},
	{kind: intent.FilterLike, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+(?:starting|beginning|ending)\s+with\s+` + quotedValue)},
	{kind: intent.FilterLike, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+with\s+` + quotedValue)},
	{kind: intent.FilterIn, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+(?:in|among)\s+\(([^)]+)\)`)},
	{kind: intent.FilterIn, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+(?:is\s+)?one\s+of\s+([^.;]+)`)},
}

// equalsStopValues are bare words that follow "is" without being values.
var equalsStopValues = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "not": {}, "null": {}, "empty": {}, "missing": {}, "blank": {},
	"greater": {}, "less": {}, "more": {}, "fewer": {}, "higher": {}, "lower": {}, "above": {},
	"below": {}, "over": {}, "under": {}, "between": {}, "in": {}, "one": {}, "like": {},
	"among": {}, "there": {}, "it": {}, "my": {}, "our": {}, "their": {}, "of": {},
}

var filterKeywords = regexp.MustCompile(`\b(?:where|with|having|whose|greater|less|between|contains?|equals?)\b`)

var inValueSeparator = regexp.MustCompile(`\s*(?:,|\bor\b|\band\b)\s*`)

type assignmentRule struct {
	pattern *regexp.Regexp
}

var assignmentRules = []assignmentRule{
	{pattern: regexp.MustCompile(`(?i)\b(?:set|change|update|modify)\s+(?:the\s+)?(\w+)\s+(?:to|=)\s+` + anyValue)},
	{pattern: regexp.MustCompile(`(?i)(?:,|\band)\s+(\w+)\s+(?:to|=)\s+` + anyValue)},
}

// orderRule captures a column hint in group 1 with up to two following words
// in groups 2 and 3 for multi-word names and direction words.
type orderRule struct {
	pattern     *regexp.Regexp
	direction   intent.Direction
	plainSelect bool
}

const fieldTail = `(\w+)(?:\s+(\w+))?(?:\s+(\w+))?`

var orderRules = []orderRule{
	{direction: intent.Asc, pattern: regexp.MustCompile(`(?i)\b(?:order(?:ed)?|sort(?:ed)?|arranged?|rank(?:ed)?)\s+by\s+` + fieldTail)},
	{direction: intent.Desc, pattern: regexp.MustCompile(`(?i)\btop\b.*?\bby\s+` + fieldTail)},
	{direction: intent.Asc, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+in\s+(ascending)\s+order\b`)},
	{direction: intent.Desc, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+in\s+(descending)\s+order\b`)},
	{direction: intent.Desc, plainSelect: true, pattern: regexp.MustCompile(`(?i)\b(?:highest|largest|most)\s+` + fieldTail)},
	{direction: intent.Asc, plainSelect: true, pattern: regexp.MustCompile(`(?i)\b(?:lowest|smallest|fewest)\s+` + fieldTail)},
}

type groupRule struct {
	pattern        *regexp.Regexp
	fieldGroup     int
	needsAggregate bool
}

var groupRules = []groupRule{
	{fieldGroup: 1, pattern: regexp.MustCompile(`(?i)\bgroup(?:ed)?\s+by\s+` + fieldTail)},
	{fieldGroup: 1, pattern: regexp.MustCompile(`(?i)\bfor\s+each\s+` + fieldTail)},
	{fieldGroup: 1, pattern: regexp.MustCompile(`(?i)\bper\s+` + fieldTail)},
	{fieldGroup: 2, needsAggregate: true, pattern: regexp.MustCompile(`(?i)\b(\w+)\s+by\s+` + fieldTail)},
}

// byVerbs precede "by" in ordering phrases and never start a grouping.
var byVerbs = map[string]struct{}{
	"order": {}, "ordered": {}, "sort": {}, "sorted": {}, "arrange": {}, "arranged": {},
	"rank": {}, "ranked": {}, "group": {}, "grouped": {},
}

var limitRules = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:top|first|limit(?:\s+to)?|only)\s+(\d+)\b`),
	regexp.MustCompile(`(?i)\b(\d+)\s+(?:records?|rows?|results?|entries)\b`),
}

var aggregateCallRule = regexp.MustCompile(`(?i)\b(count|sum|avg|average|max|min)\s*\(\s*(\*|[\w.]+)\s*\)`)

var allColumnsCue = regexp.MustCompile(`(?i)\b(?:all|every|everything)\b|(?:^|\s)\*(?:\s|$)`)

var countHint = regexp.MustCompile(`\b(?:count|total|number)\b`)

var joinDirectionWords = regexp.MustCompile(`\b(?:left|right|full|outer)\s+(?:outer\s+)?join\b`)

var directionWords = map[string]intent.Direction{
	"asc": intent.Asc, "ascending": intent.Asc,
	"desc": intent.Desc, "descending": intent.Desc,
}
