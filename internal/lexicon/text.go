package lexicon

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it into word tokens. Underscores stay
// inside tokens so identifiers like closing_balance survive intact.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

// findPhrase locates phrase in tokens as whole words. Identifiers match either
// as one token or spelled out ("closing balance"). It returns every start
// index and the number of tokens each match spans.
func findPhrase(tokens []string, phrase string) ([]int, int) {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return nil, 0
	}
	if strings.Contains(phrase, "_") {
		if positions := sequencePositions(tokens, []string{phrase}); len(positions) > 0 {
			return positions, 1
		}
	}
	words := strings.Fields(strings.ReplaceAll(phrase, "_", " "))
	return sequencePositions(tokens, words), len(words)
}

func sequencePositions(tokens, words []string) []int {
	if len(words) == 0 || len(words) > len(tokens) {
		return nil
	}
	var out []int
	for i := 0; i+len(words) <= len(tokens); i++ {
		match := true
		for j, word := range words {
			if tokens[i+j] != word {
				match = false
				break
			}
		}
		if match {
			out = append(out, i)
		}
	}
	return out
}

// ContainsPhrase reports whether phrase occurs as whole words in tokens.
func ContainsPhrase(tokens []string, phrase string) bool {
	positions, _ := findPhrase(tokens, phrase)
	return len(positions) > 0
}
