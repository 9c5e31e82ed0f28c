package nlparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerlens/ledgerlens/internal/intent"
)

const isoDate = `(\d{4}-\d{2}-\d{2})`

type dateRule struct {
	pattern *regexp.Regexp
	build   func(groups []string) (intent.DateCondition, bool)
}

var monthNumbers = map[string]int{
	"jan": 1, "january": 1, "feb": 2, "february": 2, "mar": 3, "march": 3,
	"apr": 4, "april": 4, "may": 5, "jun": 6, "june": 6, "jul": 7, "july": 7,
	"aug": 8, "august": 8, "sep": 9, "sept": 9, "september": 9, "oct": 10, "october": 10,
	"nov": 11, "november": 11, "dec": 12, "december": 12,
}

// dateRules run before the generic filters. Ranges come first so their
// endpoints are not re-read as since/before conditions.
var dateRules = []dateRule{
	{
		pattern: regexp.MustCompile(`(?i)\b(?:between|from)\s+` + isoDate + `\s+(?:and|to|until)\s+` + isoDate + `\b`),
		build: func(g []string) (intent.DateCondition, bool) {
			if !validDate(g[1]) || !validDate(g[2]) {
				return intent.DateCondition{}, false
			}
			return intent.DateCondition{Type: intent.DateRange, Values: []string{g[1], g[2]}}, true
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(?:in\s+the\s+)?(?:last|past|previous)\s+(\d+)\s+(days?|weeks?|months?|years?)\b`),
		build: func(g []string) (intent.DateCondition, bool) {
			n, err := strconv.Atoi(g[1])
			if err != nil || n <= 0 {
				return intent.DateCondition{}, false
			}
			unit := strings.TrimSuffix(strings.ToLower(g[2]), "s")
			switch unit {
			case "week":
				return intent.DateCondition{Type: intent.DateRelative, Amount: n * 7, Unit: intent.UnitDay}, true
			case "day":
				return intent.DateCondition{Type: intent.DateRelative, Amount: n, Unit: intent.UnitDay}, true
			case "month":
				return intent.DateCondition{Type: intent.DateRelative, Amount: n, Unit: intent.UnitMonth}, true
			default:
				return intent.DateCondition{Type: intent.DateRelative, Amount: n, Unit: intent.UnitYear}, true
			}
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(?:since|after|from)\s+` + isoDate + `\b`),
		build:   absolute(intent.DateSince),
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(?:before|until|till)\s+` + isoDate + `\b`),
		build:   absolute(intent.DateBefore),
	},
	{
		pattern: regexp.MustCompile(`(?i)\bon\s+` + isoDate + `\b`),
		build:   absolute(intent.DateOn),
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\s+(\d{4})\b`),
		build: func(g []string) (intent.DateCondition, bool) {
			month, ok := monthNumbers[strings.ToLower(g[1])]
			if !ok {
				return intent.DateCondition{}, false
			}
			return intent.DateCondition{Type: intent.DateMonthYear, Literal: fmt.Sprintf("%s-%02d", g[2], month)}, true
		},
	},
	{pattern: regexp.MustCompile(`(?i)\btoday\b`), build: fixed(intent.DateToday)},
	{pattern: regexp.MustCompile(`(?i)\b(?:this|current)\s+month\b`), build: fixed(intent.DateThisMonth)},
	{pattern: regexp.MustCompile(`(?i)\b(?:last|previous|past)\s+month\b`), build: fixed(intent.DateLastMonth)},
	{pattern: regexp.MustCompile(`(?i)\b(?:this|current)\s+year\b`), build: fixed(intent.DateThisYear)},
	{pattern: regexp.MustCompile(`(?i)\b(?:last|previous|past)\s+year\b`), build: fixed(intent.DateLastYear)},
}

func absolute(kind intent.DateType) func([]string) (intent.DateCondition, bool) {
	return func(g []string) (intent.DateCondition, bool) {
		if !validDate(g[1]) {
			return intent.DateCondition{}, false
		}
		return intent.DateCondition{Type: kind, Values: []string{g[1]}}, true
	}
}

func fixed(kind intent.DateType) func([]string) (intent.DateCondition, bool) {
	return func([]string) (intent.DateCondition, bool) {
		return intent.DateCondition{Type: kind}, true
	}
}

func validDate(raw string) bool {
	_, err := time.Parse(time.DateOnly, raw)
	return err == nil
}
