package normalize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/legrimoire/grimoire-data/internal/wine"
)

// MinVintage is the oldest vintage accepted.
const MinVintage = 1700

var nonVintage = map[string]bool{
	"nv":             true,
	"n.v.":           true,
	"n/v":            true,
	"non vintage":    true,
	"non-vintage":    true,
	"non millésimé":  true,
	"non millesime":  true,
	"non-millésimé":  true,
	"sans millésime": true,
	"sans millesime": true,
}

// Vintage parses a vintage year. Non-vintage markers return nil without an
// error; unparsable or out-of-range years return nil and a ValidationError.
func Vintage(s string, now time.Time) (*int, *ValidationError) {
	key := wine.FoldKey(s)
	if key == "" || nonVintage[key] {
		return nil, nil
	}
	year, err := parseWhole(key)
	if err != nil {
		return nil, &ValidationError{Field: string(wine.FieldVintage), Value: s, Reason: "not a year"}
	}
	if latest := now.Year() + 1; year < MinVintage || year > latest {
		return nil, &ValidationError{
			Field:  string(wine.FieldVintage),
			Value:  s,
			Reason: fmt.Sprintf("outside %d..%d", MinVintage, latest),
		}
	}
	return &year, nil
}

// parseWhole accepts "2015" and spreadsheet renderings such as "2015.0".
func parseWhole(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

var (
	grapeParenRe  = regexp.MustCompile(`^(.*?)\s*\(\s*([0-9]+(?:[.,][0-9]+)?)\s*%?\s*\)$`)
	grapeSuffixRe = regexp.MustCompile(`^(.*?)\s+([0-9]+(?:[.,][0-9]+)?)\s*%$`)
)

// maxGrapeTotal allows for rounding in published blends.
const maxGrapeTotal = 101.0

// Grapes parses "Name (NN%)" entries. When the percentages add up to more
// than 101 every percentage is dropped, names are kept, and a
// ValidationError is returned.
func Grapes(items []string) ([]wine.GrapeVariety, *ValidationError) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]wine.GrapeVariety, 0, len(items))
	var total float64
	for _, item := range items {
		item = strings.TrimSpace(item)
		name, pct := item, ""
		if m := grapeParenRe.FindStringSubmatch(item); m != nil {
			name, pct = m[1], m[2]
		} else if m := grapeSuffixRe.FindStringSubmatch(item); m != nil {
			name, pct = m[1], m[2]
		}
		name = strings.Join(strings.Fields(name), " ")
		if name == "" {
			continue
		}
		g := wine.GrapeVariety{Name: name}
		if pct != "" {
			if v, err := strconv.ParseFloat(strings.Replace(pct, ",", ".", 1), 64); err == nil {
				g.Percentage = &v
				total += v
			}
		}
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil, nil
	}
	if total > maxGrapeTotal {
		for i := range out {
			out[i].Percentage = nil
		}
		return out, &ValidationError{
			Field:  string(wine.FieldGrapes),
			Value:  strings.Join(items, "; "),
			Reason: fmt.Sprintf("percentages sum to %s%%", strconv.FormatFloat(total, 'f', -1, 64)),
		}
	}
	return out, nil
}

// Decimal parses a number written with a decimal point or a decimal comma,
// with optional thousands separators and currency symbols. The currency
// implied by a symbol is returned alongside.
func Decimal(s string) (float64, string, error) {
	s = strings.TrimSpace(s)
	var currency string
	for sym, code := range currencySymbols {
		if strings.Contains(s, sym) {
			currency = code
			s = strings.ReplaceAll(s, sym, "")
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, s)
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		// 1,234.50 or 1.234,50: the last separator is the decimal one.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, currency, errNotNumber
	}
	return f, currency, nil
}

var errNotNumber = errors.New("not a number")

var currencySymbols = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"£":   "GBP",
	"CHF": "CHF",
}

var (
	trueWords  = map[string]bool{"true": true, "yes": true, "y": true, "oui": true, "1": true, "in stock": true, "en stock": true, "available": true, "disponible": true}
	falseWords = map[string]bool{"false": true, "no": true, "n": true, "non": true, "0": true, "out of stock": true, "rupture": true, "épuisé": true, "unavailable": true, "indisponible": true}
)

// Bool parses yes/no style flags in English and French.
func Bool(s string) (bool, bool) {
	key := wine.FoldKey(s)
	switch {
	case trueWords[key]:
		return true, true
	case falseWords[key]:
		return false, true
	}
	return false, false
}
