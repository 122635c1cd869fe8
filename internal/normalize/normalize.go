// Package normalize converts RawRecords into typed wine candidates. Bad
// field values are dropped and reported as ValidationErrors; the record
// itself is kept as long as it still has an identity.
package normalize

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/legrimoire/grimoire-data/internal/source"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

// lwinNonVintage is the vintage slot LWIN uses for non-vintage wines.
const lwinNonVintage = "1000"

// Normalizer is safe for concurrent use.
type Normalizer struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Normalizer that checks vintages against the wall clock.
func New(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger, now: time.Now}
}

// Normalize converts raw into a Candidate. Field problems come back as
// warnings. The error is a *source.MalformedRecordError when nothing usable
// is left to identify the wine.
func (n *Normalizer) Normalize(raw source.RawRecord) (wine.Candidate, []*ValidationError, error) {
	var warnings []*ValidationError
	warn := func(ve *ValidationError) {
		if ve != nil {
			warnings = append(warnings, ve)
		}
	}

	src := raw.Source
	if src == "" {
		src = wine.SourceDefault
	}
	c := wine.Candidate{Source: src, Line: raw.Line}

	// LWIN codes
	codes := lwinCodes{
		LWIN7:  strings.TrimSpace(raw.LWIN7),
		LWIN11: strings.TrimSpace(raw.LWIN11),
		LWIN18: strings.TrimSpace(raw.LWIN18),
	}
	for _, ve := range validateStruct(&codes) {
		warn(ve)
		switch wine.Field(ve.Field) {
		case wine.FieldLWIN7:
			codes.LWIN7 = ""
		case wine.FieldLWIN11:
			codes.LWIN11 = ""
		case wine.FieldLWIN18:
			codes.LWIN18 = ""
		}
	}
	if codes.LWIN11 == "" && codes.LWIN18 != "" {
		codes.LWIN11 = codes.LWIN18[:11]
	}
	if codes.LWIN7 == "" && codes.LWIN11 != "" {
		codes.LWIN7 = codes.LWIN11[:7]
	}
	c.LWIN7, c.LWIN11, c.LWIN18 = codes.LWIN7, codes.LWIN11, codes.LWIN18

	c.Name = collapse(raw.Name)
	c.Producer = collapse(raw.Producer)

	if !c.HasIdentity() {
		fields := []string{string(wine.FieldLWIN7), string(wine.FieldLWIN11)}
		return c, warnings, &source.MalformedRecordError{
			Line:   raw.Line,
			Reason: source.ReasonInsufficientIdentity,
			Fields: fields,
			Raw:    raw.Raw,
		}
	}

	// Vintage, falling back to the year embedded in LWIN11.
	now := n.now()
	vintage, ve := Vintage(raw.Vintage, now)
	warn(ve)
	if vintage == nil && ve == nil && c.LWIN11 != "" {
		if slot := c.LWIN11[7:]; slot != lwinNonVintage {
			vintage, _ = Vintage(slot, now)
		}
	}
	c.Vintage = vintage

	if raw.WineType != "" || raw.Colour != "" {
		t, known := WineType(raw.WineType, raw.Colour)
		if !known {
			n.logger.Warn("unmapped wine type",
				"line", raw.Line, "identity", c.Identity(),
				"type", raw.WineType, "colour", raw.Colour)
		}
		c.WineType = t
	}

	c.Country = Country(raw.Country)
	c.Region = collapse(raw.Region)
	c.SubRegion = collapse(raw.SubRegion)
	c.Appellation = collapse(raw.Appellation)
	c.Classification = collapse(raw.Classification)

	grapes, ve := Grapes(raw.Grapes)
	warn(ve)
	c.Grapes = grapes

	for _, ve := range n.enrichment(&c, raw) {
		warn(ve)
	}
	return c, warnings, nil
}

// enrichment fills the per-source values: rating, price, image and
// tasting note.
func (n *Normalizer) enrichment(c *wine.Candidate, raw source.RawRecord) []*ValidationError {
	var warnings []*ValidationError
	number := func(field, s string) *float64 {
		if s == "" {
			return nil
		}
		v, _, err := Decimal(s)
		if err != nil {
			warnings = append(warnings, &ValidationError{Field: field, Value: s, Reason: err.Error()})
			return nil
		}
		return &v
	}

	check := enrichmentFields{
		Rating:   number(source.KeyRating, raw.Rating),
		Currency: strings.ToUpper(strings.TrimSpace(raw.Currency)),
		ImageURL: strings.TrimSpace(raw.ImageURL),
	}
	var implied string
	price := number(source.KeyPrice, raw.Price)
	if price != nil {
		_, implied, _ = Decimal(raw.Price)
	}
	if check.Currency == "" {
		check.Currency = implied
	}
	for _, ve := range validateStruct(&check) {
		warnings = append(warnings, ve)
		switch ve.Field {
		case source.KeyRating:
			check.Rating = nil
		case source.KeyCurrency:
			check.Currency = ""
		case source.KeyImageURL:
			check.ImageURL = ""
		}
	}

	if check.Rating != nil {
		r := &wine.Rating{Score: *check.Rating}
		if raw.RatingCount != "" {
			if cnt, err := strconv.Atoi(strings.TrimSpace(raw.RatingCount)); err == nil && cnt >= 0 {
				r.Count = &cnt
			} else {
				warnings = append(warnings, &ValidationError{Field: source.KeyRatingCount, Value: raw.RatingCount, Reason: "not a count"})
			}
		}
		c.Rating = r
	}

	p := wine.Price{
		Value:    price,
		Min:      number(source.KeyPriceMin, raw.PriceMin),
		Max:      number(source.KeyPriceMax, raw.PriceMax),
		Currency: check.Currency,
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		p.Min, p.Max = p.Max, p.Min
	}
	if raw.InStock != "" {
		if b, ok := Bool(raw.InStock); ok {
			p.InStock = &b
		} else {
			warnings = append(warnings, &ValidationError{Field: source.KeyInStock, Value: raw.InStock, Reason: "not a yes/no value"})
		}
	}
	if p.Value != nil || p.Min != nil || p.Max != nil {
		c.Price = &p
	}

	if check.ImageURL != "" {
		c.Image = &wine.Image{
			URL:     check.ImageURL,
			Quality: strings.TrimSpace(raw.ImageQuality),
			Note:    strings.TrimSpace(raw.ImageNote),
		}
	}
	c.TastingNote = strings.TrimSpace(raw.TastingNote)
	return warnings
}

// FieldValue normalizes a single admin-entered value for field f and
// returns its JSON encoding, ready for a manual override.
func (n *Normalizer) FieldValue(f wine.Field, s string) (json.RawMessage, error) {
	var c wine.Canonical
	switch f {
	case wine.FieldLWIN7, wine.FieldLWIN11, wine.FieldLWIN18:
		codes := lwinCodes{}
		s = strings.TrimSpace(s)
		switch f {
		case wine.FieldLWIN7:
			codes.LWIN7, c.LWIN7 = s, s
		case wine.FieldLWIN11:
			codes.LWIN11, c.LWIN11 = s, s
		default:
			codes.LWIN18, c.LWIN18 = s, s
		}
		if ves := validateStruct(&codes); len(ves) > 0 {
			return nil, ves[0]
		}
	case wine.FieldVintage:
		v, ve := Vintage(s, n.now())
		if ve != nil {
			return nil, ve
		}
		c.Vintage = v
	case wine.FieldWineType:
		t, known := WineType(s, "")
		if !known {
			return nil, &ValidationError{Field: string(f), Value: s, Reason: "unknown wine type"}
		}
		c.WineType = t
	case wine.FieldCountry:
		c.Country = Country(s)
	case wine.FieldGrapes:
		g, ve := Grapes(source.SplitList(s))
		if ve != nil {
			return nil, ve
		}
		c.Grapes = g
	default:
		if err := c.SetRaw(f, mustString(collapse(s))); err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
	}
	if c.IsEmpty(f) {
		return json.RawMessage("null"), nil
	}
	return c.Raw(f)
}

func mustString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
