// Package names normalizes person and company names for matching and for
// building email local parts.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics ("José Núñez" -> "jose nunez").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Tokens folds s and splits it into letter/digit words.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ASCII folds s and drops everything that is not a-z or 0-9.
func ASCII(s string) string {
	var b strings.Builder
	for _, r := range Fold(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	honorifics = map[string]bool{"dr": true, "mr": true, "mrs": true, "ms": true, "miss": true, "prof": true, "sir": true}
	suffixes   = map[string]bool{
		"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
		"phd": true, "mba": true, "cpa": true, "md": true, "pe": true, "esq": true, "cfa": true, "pmp": true,
	}
)

// Split returns the first and last name from a display name, dropping
// honorifics, credentials, nicknames in parentheses and generational
// suffixes. last is empty for single-word names; both are empty when no
// word survives.
func Split(full string) (first, last string) {
	s := full
	if i := strings.Index(s, ","); i >= 0 {
		s = s[:i]
	}
	s = stripParens(s)

	var words []string
	for _, f := range strings.Fields(s) {
		w := strings.Trim(f, `."'`)
		key := ASCII(w)
		if key == "" {
			continue
		}
		if !hasLetter(w) {
			continue
		}
		words = append(words, w)
	}
	for len(words) > 0 && honorifics[ASCII(words[0])] {
		words = words[1:]
	}
	for len(words) > 1 && suffixes[ASCII(words[len(words)-1])] {
		words = words[:len(words)-1]
	}

	switch len(words) {
	case 0:
		return "", ""
	case 1:
		return words[0], ""
	default:
		return words[0], words[len(words)-1]
	}
}

func stripParens(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(' || r == '[':
			depth++
		case (r == ')' || r == ']') && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
