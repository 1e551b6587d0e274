// Package normalize cleans artist names for lookup. The same function must be
// used when building the name lookup and when querying it.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Clean folds compatibility forms, strips combining marks, lowercases and
// collapses whitespace
func Clean(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
