// Package source turns heterogeneous input rows (LWIN exports, Vivino
// scrape results, admin spreadsheets) into typed RawRecords. Column names
// are resolved through a static alias table; values stay strings until the
// normalizer converts them.
package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/legrimoire/grimoire-data/internal/wine"
)

// RawRecord is a row after column aliasing, still untyped.
type RawRecord struct {
	Line   int
	Source wine.Source

	LWIN7          string
	LWIN11         string
	LWIN18         string
	Name           string
	Producer       string
	Vintage        string
	WineType       string
	Colour         string
	Country        string
	Region         string
	SubRegion      string
	Appellation    string
	Classification string
	Grapes         []string
	Aliases        []string

	Rating       string
	RatingCount  string
	Price        string
	PriceMin     string
	PriceMax     string
	Currency     string
	InStock      string
	ImageURL     string
	ImageQuality string
	ImageNote    string
	TastingNote  string

	// Raw keeps the original cells for error reports.
	Raw map[string]string
}

// Identity returns a short identity for logs, preferring LWIN codes.
func (r *RawRecord) Identity() string {
	c := wine.Canonical{LWIN7: r.LWIN7, LWIN11: r.LWIN11, LWIN18: r.LWIN18, Name: r.Name, Producer: r.Producer}
	return c.Identity()
}

// MalformedRecordError reports a row that cannot become a wine record.
type MalformedRecordError struct {
	Line   int
	Reason string
	Fields []string
	Raw    map[string]string
}

func (e *MalformedRecordError) Error() string {
	msg := fmt.Sprintf("line %d: malformed record: %s", e.Line, e.Reason)
	if len(e.Fields) > 0 {
		msg += " (" + strings.Join(e.Fields, ", ") + ")"
	}
	return msg
}

// ReasonInsufficientIdentity is the reason for rows lacking both an LWIN
// code and a name/producer pair.
const ReasonInsufficientIdentity = "insufficient identity"

// Parse maps a row onto a RawRecord. fallback is used when the row has no
// source column of its own; line is the 1-based record position.
func Parse(row Row, fallback wine.Source, line int) (RawRecord, error) {
	rec := RawRecord{Line: line, Source: fallback, Raw: make(map[string]string, len(row))}

	// Exact canonical headers win over aliases; remaining ties are broken by
	// header order so JSON maps parse deterministically.
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ei, ej := isExactHeader(keys[i]), isExactHeader(keys[j])
		if ei != ej {
			return ei
		}
		return keys[i] < keys[j]
	})

	var rowSource string
	for _, k := range keys {
		val := cellString(row[k])
		rec.Raw[k] = val
		if IsPlaceholder(val) {
			continue
		}
		key := CanonicalKey(k)
		if key == "" {
			continue
		}
		if key == KeySource {
			if rowSource == "" {
				rowSource = val
			}
			continue
		}
		rec.set(key, val)
	}

	if rowSource != "" {
		src, err := wine.ParseSource(rowSource)
		if err != nil {
			return rec, &MalformedRecordError{Line: line, Reason: "invalid source", Fields: []string{KeySource}, Raw: rec.Raw}
		}
		rec.Source = src
	}

	if missing := missingIdentity(&rec); missing != nil {
		return rec, &MalformedRecordError{Line: line, Reason: ReasonInsufficientIdentity, Fields: missing, Raw: rec.Raw}
	}
	return rec, nil
}

// set assigns a canonical key unless it already holds a value.
func (r *RawRecord) set(key, val string) {
	setOnce := func(dst *string) {
		if *dst == "" {
			*dst = val
		}
	}
	switch key {
	case KeyLWIN:
		// Generic LWIN column: route by code length. Anything else lands in
		// lwin7 so the normalizer reports it.
		switch len(digitsOnly(val)) {
		case 11:
			setOnce(&r.LWIN11)
		case 18:
			setOnce(&r.LWIN18)
		default:
			setOnce(&r.LWIN7)
		}
	case KeyLWIN7:
		setOnce(&r.LWIN7)
	case KeyLWIN11:
		setOnce(&r.LWIN11)
	case KeyLWIN18:
		setOnce(&r.LWIN18)
	case KeyName:
		setOnce(&r.Name)
	case KeyProducer:
		setOnce(&r.Producer)
	case KeyVintage:
		setOnce(&r.Vintage)
	case KeyWineType:
		setOnce(&r.WineType)
	case KeyColour:
		setOnce(&r.Colour)
	case KeyCountry:
		setOnce(&r.Country)
	case KeyRegion:
		setOnce(&r.Region)
	case KeySubRegion:
		setOnce(&r.SubRegion)
	case KeyAppellation:
		setOnce(&r.Appellation)
	case KeyClassification:
		setOnce(&r.Classification)
	case KeyGrapes:
		if r.Grapes == nil {
			r.Grapes = SplitList(val)
		}
	case KeyAliases:
		if r.Aliases == nil {
			r.Aliases = SplitList(val)
		}
	case KeyRating:
		setOnce(&r.Rating)
	case KeyRatingCount:
		setOnce(&r.RatingCount)
	case KeyPrice:
		setOnce(&r.Price)
	case KeyPriceMin:
		setOnce(&r.PriceMin)
	case KeyPriceMax:
		setOnce(&r.PriceMax)
	case KeyCurrency:
		setOnce(&r.Currency)
	case KeyInStock:
		setOnce(&r.InStock)
	case KeyImageURL:
		setOnce(&r.ImageURL)
	case KeyImageQuality:
		setOnce(&r.ImageQuality)
	case KeyImageNote:
		setOnce(&r.ImageNote)
	case KeyTastingNote:
		setOnce(&r.TastingNote)
	}
}

func missingIdentity(r *RawRecord) []string {
	if r.LWIN7 != "" || r.LWIN11 != "" || r.LWIN18 != "" {
		return nil
	}
	if r.Name != "" && r.Producer != "" {
		return nil
	}
	missing := []string{KeyLWIN7 + "|" + KeyLWIN11}
	if r.Name == "" {
		missing = append(missing, KeyName)
	}
	if r.Producer == "" {
		missing = append(missing, KeyProducer)
	}
	return missing
}

func isExactHeader(h string) bool {
	key := CanonicalKey(h)
	return key != "" && headerKey(h) == strings.ReplaceAll(key, "_", "")
}

// --------------------------------------------------------------------------
// Value helpers
// --------------------------------------------------------------------------

var placeholders = map[string]bool{
	"-": true, "--": true, "—": true, "–": true, "?": true,
	"n/a": true, "na": true, "none": true, "null": true, "nil": true, "nan": true,
}

// IsPlaceholder reports whether a cell means "no value".
func IsPlaceholder(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || placeholders[strings.ToLower(s)]
}

// SplitList splits a multi-valued cell on ';' or ',' outside parentheses,
// so "Merlot (62,5%), Cabernet Franc" yields two entries. Placeholder
// tokens are dropped.
func SplitList(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	flush := func(end int) {
		tok := strings.TrimSpace(s[start:end])
		if !IsPlaceholder(tok) {
			out = append(out, tok)
		}
	}
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ';', ',':
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(s))
	return out
}

// cellString renders a decoded cell as trimmed text. JSON arrays are joined
// with "; " so list columns survive; grape objects become "Name (NN%)".
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := listItemString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return ""
	}
}

func listItemString(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return cellString(item)
	}
	name := cellString(m["name"])
	if name == "" {
		return ""
	}
	if pct := cellString(m["percentage"]); pct != "" {
		return fmt.Sprintf("%s (%s%%)", name, pct)
	}
	return name
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
