// Package safety is the static gate every statement passes before it reaches
// a database connection. The checks are conservative heuristics: a rejected
// legitimate statement is acceptable, an executed unsafe one is not.
package safety

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/observability"
)

const (
	RuleEmpty              = "empty"
	RuleDenylistedKeyword  = "denylisted_keyword"
	RuleMultipleStatements = "multiple_statements"
	RuleComment            = "comment"
	RuleUnbalancedQuotes   = "unbalanced_quotes"
	RuleSuspiciousPattern  = "suspicious_pattern"
)

// Verdict names the first rule a statement violated. Rule is empty when Safe.
type Verdict struct {
	Safe   bool   `json:"safe"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason"`
}

// rule inspects the raw statement and a copy with string literals removed.
type rule struct {
	name  string
	check func(raw, stripped string) (string, bool)
}

type Validator struct {
	rules  []rule
	logger *slog.Logger
}

var (
	denylist         = regexp.MustCompile(`(?i)\b(DROP|TRUNCATE|EXECUTE|EXEC|SCRIPT|SHUTDOWN|GRANT|REVOKE)\b`)
	stringLiteral    = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"`)
	trailingTerminal = regexp.MustCompile(`;\s*$`)
	unionSelect      = regexp.MustCompile(`(?i)\bunion\s+(?:all\s+)?select\b`)
	stackedMutation  = regexp.MustCompile(`(?i);\s*(?:drop|delete|update|insert)\b`)
	numericTautology = regexp.MustCompile(`\b(\d+)\s*=\s*(\d+)\b`)
	quotedTautology  = regexp.MustCompile(`'([^']*)'\s*=\s*'([^']*)'`)
	quoteBreakout    = regexp.MustCompile(`(?i)'\s*or\s+['"\d]`)
)

func New(logger *slog.Logger) *Validator {
	return &Validator{
		rules: []rule{
			{name: RuleEmpty, check: checkEmpty},
			{name: RuleDenylistedKeyword, check: checkDenylist},
			{name: RuleMultipleStatements, check: checkMultipleStatements},
			{name: RuleComment, check: checkComments},
			{name: RuleUnbalancedQuotes, check: checkQuotes},
			{name: RuleSuspiciousPattern, check: checkSuspicious},
		},
		logger: observability.Component(logger, "safety"),
	}
}

// Validate runs the rules in order and stops at the first violation.
func (v *Validator) Validate(sql string) Verdict {
	stripped := stringLiteral.ReplaceAllString(sql, "''")
	for _, r := range v.rules {
		reason, ok := r.check(sql, stripped)
		if ok {
			continue
		}
		observability.IncrementSafetyRejection(r.name)
		v.logger.Warn("statement rejected", "rule", r.name, "reason", reason)
		return Verdict{Safe: false, Rule: r.name, Reason: reason}
	}
	return Verdict{Safe: true, Reason: "statement passed all safety checks"}
}

func checkEmpty(raw, _ string) (string, bool) {
	if strings.TrimSpace(trailingTerminal.ReplaceAllString(raw, "")) == "" {
		return "empty statement", false
	}
	return "", true
}

func checkDenylist(raw, _ string) (string, bool) {
	if m := denylist.FindString(raw); m != "" {
		return fmt.Sprintf("denylisted keyword %s", strings.ToUpper(m)), false
	}
	return "", true
}

func checkMultipleStatements(_, stripped string) (string, bool) {
	body := trailingTerminal.ReplaceAllString(stripped, "")
	if strings.Contains(body, ";") {
		return "multiple statements are not allowed", false
	}
	return "", true
}

func checkComments(raw, _ string) (string, bool) {
	if strings.Contains(raw, "--") || strings.Contains(raw, "/*") {
		return "SQL comments are not allowed", false
	}
	return "", true
}

func checkQuotes(raw, _ string) (string, bool) {
	for _, quote := range []string{"'", `"`} {
		unescaped := strings.ReplaceAll(raw, `\`+quote, "")
		unescaped = strings.ReplaceAll(unescaped, quote+quote, "")
		if strings.Count(unescaped, quote)%2 != 0 {
			return fmt.Sprintf("unbalanced %s quotes", quoteName(quote)), false
		}
	}
	return "", true
}

func quoteName(quote string) string {
	if quote == "'" {
		return "single"
	}
	return "double"
}

func checkSuspicious(raw, _ string) (string, bool) {
	switch {
	case unionSelect.MatchString(raw):
		return "suspicious pattern UNION SELECT", false
	case stackedMutation.MatchString(raw):
		return "suspicious stacked statement", false
	}
	for _, m := range numericTautology.FindAllStringSubmatch(raw, -1) {
		if m[1] == m[2] {
			return fmt.Sprintf("suspicious tautology %s", m[0]), false
		}
	}
	for _, m := range quotedTautology.FindAllStringSubmatch(raw, -1) {
		if m[1] == m[2] {
			return fmt.Sprintf("suspicious tautology %s", m[0]), false
		}
	}
	if quoteBreakout.MatchString(raw) {
		return "suspicious quote breakout", false
	}
	return "", true
}
