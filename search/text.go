package search

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Stop words to filter out of keyword and descriptive-token counts
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "what": true, "which": true, "who": true,
	"does": true, "how": true, "its": true, "or": true, "can": true,
	"的": true, "是": true, "什么": true, "怎么": true, "如何": true, "多少": true,
	"在": true, "有": true, "和": true, "与": true, "了": true, "吗": true,
}

// cleanToken lowercases a token and trims surrounding punctuation.
func cleanToken(word string) string {
	return strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	}))
}

// contentTokens cleans tokens and drops stop words and empty strings.
func contentTokens(words []string) []string {
	filtered := make([]string, 0, len(words))
	for _, word := range words {
		cleaned := cleanToken(word)
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}
	return filtered
}

// keywords returns up to n distinct content tokens of at least two runes,
// longest first.
func keywords(tokens []string, n int) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if seen[tok] || utf8.RuneCountInString(tok) < 2 {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return utf8.RuneCountInString(b) - utf8.RuneCountInString(a)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// containsAny reports whether text contains any of the cues.
func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
