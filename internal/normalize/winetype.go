package normalize

import (
	"strings"

	"github.com/legrimoire/grimoire-data/internal/wine"
)

// wineTypeSynonyms is keyed by wine.FoldKey of the input. French, English,
// Italian and Spanish spellings are listed, with and without accents.
var wineTypeSynonyms = map[string]wine.WineType{
	"red":        wine.TypeRed,
	"red wine":   wine.TypeRed,
	"rouge":      wine.TypeRed,
	"vin rouge":  wine.TypeRed,
	"rosso":      wine.TypeRed,
	"vino rosso": wine.TypeRed,
	"tinto":      wine.TypeRed,
	"vino tinto": wine.TypeRed,

	"white":       wine.TypeWhite,
	"white wine":  wine.TypeWhite,
	"blanc":       wine.TypeWhite,
	"vin blanc":   wine.TypeWhite,
	"bianco":      wine.TypeWhite,
	"vino bianco": wine.TypeWhite,
	"blanco":      wine.TypeWhite,
	"vino blanco": wine.TypeWhite,

	"rose":      wine.TypeRose,
	"rosé":      wine.TypeRose,
	"rose wine": wine.TypeRose,
	"rosé wine": wine.TypeRose,
	"vin rosé":  wine.TypeRose,
	"vin rose":  wine.TypeRose,
	"rosato":    wine.TypeRose,
	"rosado":    wine.TypeRose,
	"clairet":   wine.TypeRose,

	"sparkling":        wine.TypeSparkling,
	"sparkling wine":   wine.TypeSparkling,
	"champagne":        wine.TypeSparkling,
	"crémant":          wine.TypeSparkling,
	"cremant":          wine.TypeSparkling,
	"mousseux":         wine.TypeSparkling,
	"vin mousseux":     wine.TypeSparkling,
	"effervescent":     wine.TypeSparkling,
	"vin effervescent": wine.TypeSparkling,
	"pétillant":        wine.TypeSparkling,
	"petillant":        wine.TypeSparkling,
	"spumante":         wine.TypeSparkling,
	"prosecco":         wine.TypeSparkling,
	"cava":             wine.TypeSparkling,
	"espumoso":         wine.TypeSparkling,
	"vino espumoso":    wine.TypeSparkling,

	"dessert":            wine.TypeDessert,
	"dessert wine":       wine.TypeDessert,
	"sweet":              wine.TypeDessert,
	"sweet wine":         wine.TypeDessert,
	"liquoreux":          wine.TypeDessert,
	"moelleux":           wine.TypeDessert,
	"vin liquoreux":      wine.TypeDessert,
	"vin de dessert":     wine.TypeDessert,
	"vendanges tardives": wine.TypeDessert,
	"passito":            wine.TypeDessert,
	"dolce":              wine.TypeDessert,
	"dulce":              wine.TypeDessert,
	"vino dulce":         wine.TypeDessert,

	"fortified":        wine.TypeFortified,
	"fortified wine":   wine.TypeFortified,
	"vin muté":         wine.TypeFortified,
	"vin mute":         wine.TypeFortified,
	"vin doux naturel": wine.TypeFortified,
	"port":             wine.TypeFortified,
	"porto":            wine.TypeFortified,
	"sherry":           wine.TypeFortified,
	"jerez":            wine.TypeFortified,
	"xérès":            wine.TypeFortified,
	"madeira":          wine.TypeFortified,
	"madère":           wine.TypeFortified,
	"marsala":          wine.TypeFortified,
	"liquoroso":        wine.TypeFortified,
	"vino generoso":    wine.TypeFortified,
	"generoso":         wine.TypeFortified,

	"other": wine.TypeOther,
	"autre": wine.TypeOther,
}

// stillWords are TYPE values that say nothing about colour. The colour
// column decides for them.
var stillWords = map[string]bool{
	"still":          true,
	"still wine":     true,
	"wine":           true,
	"tranquille":     true,
	"vin":            true,
	"vin tranquille": true,
	"fermo":          true,
	"tranquilo":      true,
}

// WineType maps a free-form type, and optionally a colour, onto the
// canonical enum. known is false when a non-empty value had no synonym; the
// result is then TypeOther. An empty result means no value at all.
func WineType(typ, colour string) (t wine.WineType, known bool) {
	key := wine.FoldKey(typ)
	if key == "" || stillWords[key] {
		ckey := wine.FoldKey(colour)
		if ckey == "" {
			return "", true
		}
		if t, ok := wineTypeSynonyms[ckey]; ok {
			return t, true
		}
		return wine.TypeOther, false
	}
	if t, ok := wineTypeSynonyms[key]; ok {
		return t, true
	}
	// "Red Bordeaux blend" style values: take the first word that maps.
	for _, word := range strings.Fields(key) {
		if t, ok := wineTypeSynonyms[word]; ok && t != wine.TypeOther {
			return t, true
		}
	}
	return wine.TypeOther, false
}
