// Package textproc holds the text normalization shared by the classifier and
// search: both must agree on what a token is, including for Vietnamese text.
package textproc

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize composes the text to NFC, lower-cases it, replaces every rune that
// is not a letter or digit with a space, and collapses runs of whitespace.
// Combining marks are kept so decomposed Vietnamese input that NFC cannot
// fully compose still keeps its diacritics.
func Normalize(text string) string {
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))

	pendingSpace := false
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSpace = true
	}

	return b.String()
}

// Tokenize returns the normalized words of text.
func Tokenize(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// Snippet returns a single-line preview of at most maxRunes runes.
func Snippet(text string, maxRunes int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if maxRunes <= 0 {
		return ""
	}

	runes := []rune(collapsed)
	if len(runes) <= maxRunes {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:maxRunes]))
}
