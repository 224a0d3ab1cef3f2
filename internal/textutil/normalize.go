package textutil

import (
	"strings"
	"unicode/utf8"
)

// Normalize collapses every whitespace run to a single space, trims the
// result, and truncates it to maxChars runes. maxChars <= 0 disables
// truncation.
func Normalize(text string, maxChars int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if maxChars <= 0 || utf8.RuneCountInString(collapsed) <= maxChars {
		return collapsed
	}
	runes := []rune(collapsed)
	return strings.TrimSpace(string(runes[:maxChars]))
}

// Snippet returns at most limit runes of text with an ellipsis when cut.
func Snippet(text string, limit int) string {
	clean := Normalize(text, 0)
	if limit <= 0 || utf8.RuneCountInString(clean) <= limit {
		return clean
	}
	runes := []rune(clean)
	return string(runes[:limit]) + "..."
}
