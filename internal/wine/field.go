package wine

import (
	"fmt"
	"reflect"

	"github.com/goccy/go-json"
)

// Field names a canonical field. The names match the document's JSON keys.
type Field string

const (
	FieldLWIN7          Field = "lwin7"
	FieldLWIN11         Field = "lwin11"
	FieldLWIN18         Field = "lwin18"
	FieldName           Field = "name"
	FieldProducer       Field = "producer"
	FieldVintage        Field = "vintage"
	FieldWineType       Field = "wine_type"
	FieldCountry        Field = "country"
	FieldRegion         Field = "region"
	FieldSubRegion      Field = "sub_region"
	FieldAppellation    Field = "appellation"
	FieldClassification Field = "classification"
	FieldGrapes         Field = "grape_varieties"
)

// CanonicalFields lists every field subject to the update policy, in
// document order.
var CanonicalFields = []Field{
	FieldLWIN7, FieldLWIN11, FieldLWIN18,
	FieldName, FieldProducer, FieldVintage,
	FieldWineType, FieldCountry, FieldRegion, FieldSubRegion,
	FieldAppellation, FieldClassification, FieldGrapes,
}

// ParseField resolves a field name.
func ParseField(name string) (Field, error) {
	for _, f := range CanonicalFields {
		if string(f) == name {
			return f, nil
		}
	}
	if name == "grapes" {
		return FieldGrapes, nil
	}
	return "", fmt.Errorf("unknown field %q", name)
}

// stringField returns a pointer to the string-typed field f, or nil.
func (c *Canonical) stringField(f Field) *string {
	switch f {
	case FieldLWIN7:
		return &c.LWIN7
	case FieldLWIN11:
		return &c.LWIN11
	case FieldLWIN18:
		return &c.LWIN18
	case FieldName:
		return &c.Name
	case FieldProducer:
		return &c.Producer
	case FieldCountry:
		return &c.Country
	case FieldRegion:
		return &c.Region
	case FieldSubRegion:
		return &c.SubRegion
	case FieldAppellation:
		return &c.Appellation
	case FieldClassification:
		return &c.Classification
	}
	return nil
}

// IsEmpty reports whether field f has no value.
func (c *Canonical) IsEmpty(f Field) bool {
	if p := c.stringField(f); p != nil {
		return *p == ""
	}
	switch f {
	case FieldVintage:
		return c.Vintage == nil
	case FieldWineType:
		return c.WineType == ""
	case FieldGrapes:
		return len(c.Grapes) == 0
	}
	return true
}

// Value returns the value of field f: a string, an int, a WineType or a
// []GrapeVariety. Empty fields return nil.
func (c *Canonical) Value(f Field) any {
	if c.IsEmpty(f) {
		return nil
	}
	if p := c.stringField(f); p != nil {
		return *p
	}
	switch f {
	case FieldVintage:
		return *c.Vintage
	case FieldWineType:
		return c.WineType
	case FieldGrapes:
		return cloneGrapes(c.Grapes)
	}
	return nil
}

// CopyField copies field f from src. Reports whether the value changed.
func (c *Canonical) CopyField(f Field, src *Canonical) bool {
	if c.Equal(f, src) {
		return false
	}
	if p := c.stringField(f); p != nil {
		*p = *src.stringField(f)
		return true
	}
	switch f {
	case FieldVintage:
		c.Vintage = clonePtr(src.Vintage)
	case FieldWineType:
		c.WineType = src.WineType
	case FieldGrapes:
		c.Grapes = cloneGrapes(src.Grapes)
	}
	return true
}

// Equal reports whether field f holds the same value in both.
func (c *Canonical) Equal(f Field, other *Canonical) bool {
	return reflect.DeepEqual(c.Value(f), other.Value(f))
}

// Raw encodes field f as JSON for override and source_data maps.
func (c *Canonical) Raw(f Field) (json.RawMessage, error) {
	b, err := json.Marshal(c.Value(f))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f, err)
	}
	return b, nil
}

// SetRaw decodes a JSON value into field f.
func (c *Canonical) SetRaw(f Field, raw json.RawMessage) error {
	if p := c.stringField(f); p != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode %s: %w", f, err)
		}
		*p = s
		return nil
	}
	switch f {
	case FieldVintage:
		var v *int
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode %s: %w", f, err)
		}
		c.Vintage = v
	case FieldWineType:
		var t WineType
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("decode %s: %w", f, err)
		}
		c.WineType = t
	case FieldGrapes:
		var g []GrapeVariety
		if err := json.Unmarshal(raw, &g); err != nil {
			return fmt.Errorf("decode %s: %w", f, err)
		}
		c.Grapes = g
	default:
		return fmt.Errorf("unknown field %q", f)
	}
	return nil
}
