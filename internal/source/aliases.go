package source

import "strings"

// Canonical column keys produced by the alias table.
const (
	KeyLWIN           = "lwin"
	KeyLWIN7          = "lwin7"
	KeyLWIN11         = "lwin11"
	KeyLWIN18         = "lwin18"
	KeyName           = "name"
	KeyProducer       = "producer"
	KeyVintage        = "vintage"
	KeyWineType       = "wine_type"
	KeyColour         = "colour"
	KeyCountry        = "country"
	KeyRegion         = "region"
	KeySubRegion      = "sub_region"
	KeyAppellation    = "appellation"
	KeyClassification = "classification"
	KeyGrapes         = "grapes"
	KeyAliases        = "aliases"
	KeyRating         = "rating"
	KeyRatingCount    = "rating_count"
	KeyPrice          = "price"
	KeyPriceMin       = "price_min"
	KeyPriceMax       = "price_max"
	KeyCurrency       = "currency"
	KeyInStock        = "in_stock"
	KeyImageURL       = "image_url"
	KeyImageQuality   = "image_quality"
	KeyImageNote      = "image_note"
	KeyTastingNote    = "tasting_note"
	KeySource         = "source"
)

// columnAliases maps header spellings to canonical keys. Lookups go through
// headerKey, so "LWIN_7", "lwin-7" and "Lwin 7" all hit the "lwin7" entry.
// LWIN database export headers and the French admin export headers are
// listed alongside the obvious English names.
var columnAliases = map[string]string{
	// identity
	"lwin":          KeyLWIN,
	"lwincode":      KeyLWIN,
	"lwin7":         KeyLWIN7,
	"lwin11":        KeyLWIN11,
	"lwin18":        KeyLWIN18,
	"name":          KeyName,
	"winename":      KeyName,
	"wine":          KeyName,
	"displayname":   KeyName,
	"nom":           KeyName,
	"nomduvin":      KeyName,
	"producer":      KeyProducer,
	"producername":  KeyProducer,
	"winery":        KeyProducer,
	"domaine":       KeyProducer,
	"producteur":    KeyProducer,
	"vintage":       KeyVintage,
	"year":          KeyVintage,
	"millesime":     KeyVintage,
	"millésime":     KeyVintage,
	"annee":         KeyVintage,
	"année":         KeyVintage,
	"vintageconfig": "",

	// classification
	"winetype":       KeyWineType,
	"type":           KeyWineType,
	"typedevin":      KeyWineType,
	"category":       KeyWineType,
	"colour":         KeyColour,
	"color":          KeyColour,
	"couleur":        KeyColour,
	"country":        KeyCountry,
	"pays":           KeyCountry,
	"region":         KeyRegion,
	"région":         KeyRegion,
	"subregion":      KeySubRegion,
	"sousregion":     KeySubRegion,
	"sousrégion":     KeySubRegion,
	"appellation":    KeyAppellation,
	"designation":    KeyAppellation,
	"aoc":            KeyAppellation,
	"classification": KeyClassification,
	"cru":            KeyClassification,

	// composition
	"grapes":         KeyGrapes,
	"grape":          KeyGrapes,
	"grapevarieties": KeyGrapes,
	"varietals":      KeyGrapes,
	"cepages":        KeyGrapes,
	"cépages":        KeyGrapes,
	"cepage":         KeyGrapes,
	"cépage":         KeyGrapes,
	"aliases":        KeyAliases,
	"alias":          KeyAliases,
	"alternatenames": KeyAliases,

	// enrichment
	"rating":         KeyRating,
	"score":          KeyRating,
	"averagerating":  KeyRating,
	"ratingsaverage": KeyRating,
	"note":           KeyRating,
	"ratingcount":    KeyRatingCount,
	"ratingscount":   KeyRatingCount,
	"reviews":        KeyRatingCount,
	"price":          KeyPrice,
	"prix":           KeyPrice,
	"averageprice":   KeyPrice,
	"pricemin":       KeyPriceMin,
	"minprice":       KeyPriceMin,
	"pricemax":       KeyPriceMax,
	"maxprice":       KeyPriceMax,
	"currency":       KeyCurrency,
	"devise":         KeyCurrency,
	"instock":        KeyInStock,
	"available":      KeyInStock,
	"imageurl":       KeyImageURL,
	"image":          KeyImageURL,
	"labelimage":     KeyImageURL,
	"imagequality":   KeyImageQuality,
	"imagenote":      KeyImageNote,
	"tastingnote":    KeyTastingNote,
	"tastingnotes":   KeyTastingNote,

	// French tasting-note headers
	"notedegustation":   KeyTastingNote,
	"notededegustation": KeyTastingNote,

	// provenance
	"source":     KeySource,
	"datasource": KeySource,
}

// headerKey squashes a header for alias lookup: lowercase, without spaces,
// underscores, hyphens or dots.
func headerKey(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(h)
}

// CanonicalKey returns the canonical key for a header, or "" for columns
// the pipeline ignores.
func CanonicalKey(header string) string {
	return columnAliases[headerKey(header)]
}
