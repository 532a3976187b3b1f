package util

import (
	"strings"
	"unicode"
)

const maxTokens = 50

// Tokenize derives the search tokens for a bookmark's text: lowercase,
// every rune that is not a letter, digit, '#' or '@' becomes a space,
// tokens of length <= 2 are dropped, and the result is capped at 50
// tokens. Deterministic for a given input.
func Tokenize(s string) []string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#' || r == '@' {
			return r
		}
		return ' '
	}, s)
	out := make([]string, 0, maxTokens)
	for _, tok := range strings.Fields(s) {
		if len(tok) <= 2 {
			continue
		}
		out = append(out, tok)
		if len(out) == maxTokens {
			break
		}
	}
	return out
}

// Dedupe returns the input strings with duplicates and empties removed,
// first occurrence order preserved.
func Dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
