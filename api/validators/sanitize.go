package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CleanText trims surrounding whitespace, drops control characters other
// than newlines and tabs, and caps the result at maxRunes runes. A maxRunes of
// zero disables the cap.
func CleanText(input string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, strings.TrimSpace(input))
	if maxRunes <= 0 || utf8.RuneCountInString(cleaned) <= maxRunes {
		return cleaned
	}
	return strings.TrimSpace(string([]rune(cleaned)[:maxRunes]))
}
