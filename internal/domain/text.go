package domain

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// whitespaceRegex matches one or more whitespace characters (spaces, tabs, newlines).
var whitespaceRegex = regexp.MustCompile(`\s+`)

// IsBlank reports whether s is empty or whitespace-only.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// NormalizeKey returns the lookup key for a name: NFKC-folded, lowercase,
// trimmed, with runs of whitespace collapsed to a single space. It is the
// embedding cache key. NFKC folds Arabic presentation forms and full-width
// Latin into their canonical runes.
func NormalizeKey(s string) string {
	s = strings.TrimSpace(norm.NFKC.String(s))
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// CleanText lowercases s and removes every rune that is not a letter, digit,
// underscore or whitespace, then trims the result. Names coming out of the
// translation step and answers typed at the prompt are cleaned this way.
func CleanText(s string) string {
	s = strings.ToLower(s)
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' || unicode.Is(unicode.Mn, r) {
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
