// Package textnorm folds text into a comparable form for matching and
// similarity scoring.
package textnorm

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold strips diacritics, case-folds, replaces punctuation with spaces and
// collapses whitespace. "Zürich-based  AI" becomes "zurich based ai".
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	// Casers carry state, so one is built per call.
	stripped = cases.Fold().String(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	space := true
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens returns the folded words of s.
func Tokens(s string) []string {
	return strings.Fields(Fold(s))
}

// SortedTokens returns the folded words of s in sorted order, joined by a
// single space. Word order no longer matters after this.
func SortedTokens(s string) string {
	toks := Tokens(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// Prefix returns the first n runes of the folded text.
func Prefix(s string, n int) string {
	f := []rune(Fold(s))
	if n <= 0 || len(f) <= n {
		return string(f)
	}
	return string(f[:n])
}

// ContainsPhrase reports whether folded text contains phrase as a whole-word
// sequence. Both arguments must already be folded.
func ContainsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}
