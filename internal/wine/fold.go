package wine

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FoldKey returns the matching key for a name or producer: NFC-normalized,
// Unicode case-folded, inner whitespace collapsed. "CHÂTEAU  Latour" and
// "Château Latour" share a key; accents are kept.
func FoldKey(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(s)
}
