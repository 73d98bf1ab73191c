package openai

import (
	"strings"
	"unicode"
)

// maxInputRunes caps the text sent in a single prompt.
const maxInputRunes = 12000

// prepareText strips control characters and trims whitespace.
// Punctuation is kept because decimal points and units carry meaning.
func prepareText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > maxInputRunes {
		s = string(runes[:maxInputRunes])
	}
	return s
}

// stripCodeFences removes markdown code fences the model may wrap around JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// isLetter returns true if the rune is an ASCII letter.
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
