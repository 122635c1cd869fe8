// Package wine defines the canonical wine document that every source is
// normalized into. Readers produce Candidates and the merge engine folds
// them into Records, which stores persist as JSON documents.
package wine

import (
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// WineType is the canonical wine category.
type WineType string

const (
	TypeRed       WineType = "red"
	TypeWhite     WineType = "white"
	TypeRose      WineType = "rosé"
	TypeSparkling WineType = "sparkling"
	TypeDessert   WineType = "dessert"
	TypeFortified WineType = "fortified"
	TypeOther     WineType = "other"
)

// GrapeVariety is one entry of a wine's composition, in label order.
type GrapeVariety struct {
	Name       string   `json:"name"`
	Percentage *float64 `json:"percentage,omitempty"`
}

// Image is a label or bottle picture supplied by a source.
type Image struct {
	URL     string `json:"url"`
	Quality string `json:"quality,omitempty"`
	Note    string `json:"note,omitempty"`
}

// Price is either a single value or a min/max range.
type Price struct {
	Value    *float64 `json:"value,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Currency string   `json:"currency,omitempty"`
	InStock  *bool    `json:"in_stock,omitempty"`
}

// Rating is a community or critic score.
type Rating struct {
	Score float64 `json:"score"`
	Count *int    `json:"count,omitempty"`
}

// Canonical holds the single-valued fields that follow the
// override-by-priority rule.
type Canonical struct {
	LWIN7          string         `json:"lwin7,omitempty"`
	LWIN11         string         `json:"lwin11,omitempty"`
	LWIN18         string         `json:"lwin18,omitempty"`
	Name           string         `json:"name,omitempty"`
	Producer       string         `json:"producer,omitempty"`
	Vintage        *int           `json:"vintage,omitempty"`
	WineType       WineType       `json:"wine_type,omitempty"`
	Country        string         `json:"country,omitempty"`
	Region         string         `json:"region,omitempty"`
	SubRegion      string         `json:"sub_region,omitempty"`
	Appellation    string         `json:"appellation,omitempty"`
	Classification string         `json:"classification,omitempty"`
	Grapes         []GrapeVariety `json:"grape_varieties,omitempty"`
}

// Record is one wine document.
type Record struct {
	ID string `json:"id"`
	Canonical

	ImageSources map[Source]Image  `json:"image_sources,omitempty"`
	PriceData    map[Source]Price  `json:"price_data,omitempty"`
	Ratings      map[Source]Rating `json:"ratings,omitempty"`
	TastingNotes map[Source]string `json:"tasting_notes_sources,omitempty"`

	DataSource      Source                               `json:"data_source"`
	EnrichedBy      []Source                             `json:"enriched_by,omitempty"`
	LastSynced      map[Source]time.Time                 `json:"last_synced,omitempty"`
	ManualOverrides map[Field]json.RawMessage            `json:"manual_overrides,omitempty"`
	FieldSources    map[Field]Source                     `json:"field_sources,omitempty"`
	SourceData      map[Source]map[Field]json.RawMessage `json:"source_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Candidate is a normalized incoming record, not yet merged.
type Candidate struct {
	Source Source
	Line   int
	Canonical

	Rating      *Rating
	Price       *Price
	Image       *Image
	TastingNote string
}

// HasLWIN reports whether any LWIN code is set.
func (c *Canonical) HasLWIN() bool {
	return c.LWIN7 != "" || c.LWIN11 != "" || c.LWIN18 != ""
}

// HasIdentity reports whether the fields are enough to match or create a
// record: an LWIN code, or both name and producer.
func (c *Canonical) HasIdentity() bool {
	return c.HasLWIN() || (c.Name != "" && c.Producer != "")
}

// Identity returns a short human-readable identity for logs and reports.
func (c *Canonical) Identity() string {
	switch {
	case c.LWIN11 != "":
		return "lwin11:" + c.LWIN11
	case c.LWIN7 != "":
		return "lwin7:" + c.LWIN7
	case c.LWIN18 != "":
		return "lwin18:" + c.LWIN18
	case c.Name != "" || c.Producer != "":
		return c.Name + " / " + c.Producer
	default:
		return "(no identity)"
	}
}

// HasEnrichment reports whether the candidate carries any per-source data.
func (c *Candidate) HasEnrichment() bool {
	return c.Rating != nil || c.Price != nil || c.Image != nil || c.TastingNote != ""
}

// AddEnrichedBy adds s to the enriched_by set unless s is the primary
// source. Reports whether the set changed.
func (r *Record) AddEnrichedBy(s Source) bool {
	if s == r.DataSource {
		return false
	}
	i := sort.Search(len(r.EnrichedBy), func(i int) bool { return r.EnrichedBy[i] >= s })
	if i < len(r.EnrichedBy) && r.EnrichedBy[i] == s {
		return false
	}
	r.EnrichedBy = append(r.EnrichedBy, "")
	copy(r.EnrichedBy[i+1:], r.EnrichedBy[i:])
	r.EnrichedBy[i] = s
	return true
}

// IsEnrichedBy reports whether s is in the enriched_by set.
func (r *Record) IsEnrichedBy(s Source) bool {
	for _, e := range r.EnrichedBy {
		if e == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := *r
	out.Canonical = r.Canonical.clone()
	out.ImageSources = cloneMap(r.ImageSources)
	out.Ratings = make(map[Source]Rating, len(r.Ratings))
	for k, v := range r.Ratings {
		v.Count = clonePtr(v.Count)
		out.Ratings[k] = v
	}
	out.PriceData = make(map[Source]Price, len(r.PriceData))
	for k, v := range r.PriceData {
		v.Value, v.Min, v.Max, v.InStock = clonePtr(v.Value), clonePtr(v.Min), clonePtr(v.Max), clonePtr(v.InStock)
		out.PriceData[k] = v
	}
	out.TastingNotes = cloneMap(r.TastingNotes)
	out.EnrichedBy = append([]Source(nil), r.EnrichedBy...)
	out.LastSynced = cloneMap(r.LastSynced)
	out.ManualOverrides = cloneMap(r.ManualOverrides)
	out.FieldSources = cloneMap(r.FieldSources)
	out.SourceData = make(map[Source]map[Field]json.RawMessage, len(r.SourceData))
	for k, v := range r.SourceData {
		out.SourceData[k] = cloneMap(v)
	}
	return &out
}

// Effective returns a copy of the record with manual overrides applied to
// the canonical fields. This is the view served to API consumers.
func (r *Record) Effective() *Record {
	out := r.Clone()
	for f, raw := range r.ManualOverrides {
		// An undecodable override leaves the canonical value in place.
		_ = out.Canonical.SetRaw(f, raw)
	}
	return out
}

func (c Canonical) clone() Canonical {
	c.Vintage = clonePtr(c.Vintage)
	c.Grapes = cloneGrapes(c.Grapes)
	return c
}

func cloneGrapes(in []GrapeVariety) []GrapeVariety {
	if in == nil {
		return nil
	}
	out := make([]GrapeVariety, len(in))
	for i, g := range in {
		out[i] = GrapeVariety{Name: g.Name, Percentage: clonePtr(g.Percentage)}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
