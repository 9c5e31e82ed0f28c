package nlparse

import (
	"regexp"
	"strconv"
	"strings"
)

var numericLiteral = regexp.MustCompile(`^-?\d+(?:\.\d+)?$`)

// coerceValue converts a bare literal: integers, then decimals, then the
// boolean words, else the trimmed string.
func coerceValue(raw string) any {
	value := strings.TrimSpace(raw)
	if numericLiteral.MatchString(value) {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	switch strings.ToLower(value) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	return value
}

// capturedValue returns the first participating value group at or after
// from and whether it was one of the quoted alternatives. Quoted text is kept
// verbatim, including the empty string, apart from collapsing doubled quotes.
func capturedValue(m match, from, quotedGroups int) (string, bool, bool) {
	for i := from; i < len(m.groups); i++ {
		if !m.present[i] {
			continue
		}
		switch {
		case quotedGroups > 0 && i == from:
			return strings.ReplaceAll(m.groups[i], "''", "'"), true, true
		case quotedGroups > 1 && i == from+1:
			return strings.ReplaceAll(m.groups[i], `""`, `"`), true, true
		}
		return m.groups[i], i < from+quotedGroups, true
	}
	return "", false, false
}

func splitList(raw string) []string {
	parts := inValueSeparator.Split(strings.TrimSpace(raw), -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
