package feedback

import (
	"regexp"
	"strings"
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
}

// KeyPhrases returns the non-stop words of query followed by their adjacent
// bigrams, lowercased.
func KeyPhrases(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	words := make([]string, 0, len(fields))
	for _, w := range fields {
		if _, stop := stopWords[w]; !stop {
			words = append(words, w)
		}
	}
	phrases := make([]string, 0, 2*len(words))
	phrases = append(phrases, words...)
	for i := 0; i+1 < len(words); i++ {
		phrases = append(phrases, words[i]+" "+words[i+1])
	}
	return phrases
}

// normalizeQuery keys exact-match corrections.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

var (
	singleQuoted = regexp.MustCompile(`'[^']*'`)
	doubleQuoted = regexp.MustCompile(`"[^"]*"`)
	numberToken  = regexp.MustCompile(`\b\d+\b`)
)

// GeneralizeSQL replaces literals with markers so statements that differ only
// in values share a pattern.
func GeneralizeSQL(sqlText string) string {
	pattern := singleQuoted.ReplaceAllString(sqlText, "'<STRING>'")
	pattern = doubleQuoted.ReplaceAllString(pattern, `"<STRING>"`)
	pattern = numberToken.ReplaceAllString(pattern, "<NUMBER>")
	return strings.ToLower(pattern)
}

func phraseSet(query string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, p := range KeyPhrases(query) {
		set[p] = struct{}{}
	}
	return set
}

// jaccard is zero when either set is empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for p := range a {
		if _, ok := b[p]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
