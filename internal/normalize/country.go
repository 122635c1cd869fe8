package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/legrimoire/grimoire-data/internal/wine"
)

// countrySynonyms maps folded French, English, native and ISO 3166 names to
// the canonical English name.
var countrySynonyms = map[string]string{
	"france": "France",
	"fr":     "France",
	"fra":    "France",

	"italy":  "Italy",
	"italie": "Italy",
	"italia": "Italy",
	"it":     "Italy",
	"ita":    "Italy",

	"spain":   "Spain",
	"espagne": "Spain",
	"españa":  "Spain",
	"espana":  "Spain",
	"es":      "Spain",
	"esp":     "Spain",

	"portugal": "Portugal",
	"pt":       "Portugal",
	"prt":      "Portugal",

	"germany":     "Germany",
	"allemagne":   "Germany",
	"deutschland": "Germany",
	"de":          "Germany",
	"deu":         "Germany",

	"austria":    "Austria",
	"autriche":   "Austria",
	"österreich": "Austria",
	"at":         "Austria",

	"switzerland": "Switzerland",
	"suisse":      "Switzerland",
	"schweiz":     "Switzerland",
	"ch":          "Switzerland",

	"united states":            "United States",
	"united states of america": "United States",
	"usa":                      "United States",
	"us":                       "United States",
	"états-unis":               "United States",
	"etats-unis":               "United States",
	"etats unis":               "United States",

	"united kingdom": "United Kingdom",
	"uk":             "United Kingdom",
	"gb":             "United Kingdom",
	"royaume-uni":    "United Kingdom",
	"england":        "United Kingdom",
	"angleterre":     "United Kingdom",

	"australia": "Australia",
	"australie": "Australia",
	"au":        "Australia",

	"new zealand":      "New Zealand",
	"nouvelle-zélande": "New Zealand",
	"nouvelle-zelande": "New Zealand",
	"nouvelle zélande": "New Zealand",
	"nz":               "New Zealand",

	"south africa":   "South Africa",
	"afrique du sud": "South Africa",
	"za":             "South Africa",

	"argentina": "Argentina",
	"argentine": "Argentina",
	"ar":        "Argentina",

	"chile": "Chile",
	"chili": "Chile",
	"cl":    "Chile",

	"greece": "Greece",
	"grèce":  "Greece",
	"grece":  "Greece",
	"gr":     "Greece",

	"hungary": "Hungary",
	"hongrie": "Hungary",
	"hu":      "Hungary",

	"lebanon": "Lebanon",
	"liban":   "Lebanon",
	"lb":      "Lebanon",

	"israel": "Israel",
	"israël": "Israel",
	"il":     "Israel",

	"georgia": "Georgia",
	"géorgie": "Georgia",
	"georgie": "Georgia",
	"ge":      "Georgia",

	"canada": "Canada",
	"ca":     "Canada",

	"slovenia":   "Slovenia",
	"slovénie":   "Slovenia",
	"si":         "Slovenia",
	"croatia":    "Croatia",
	"croatie":    "Croatia",
	"hr":         "Croatia",
	"romania":    "Romania",
	"roumanie":   "Romania",
	"ro":         "Romania",
	"luxembourg": "Luxembourg",
	"lu":         "Luxembourg",
	"china":      "China",
	"chine":      "China",
	"cn":         "China",
	"japan":      "Japan",
	"japon":      "Japan",
	"jp":         "Japan",
	"uruguay":    "Uruguay",
	"uy":         "Uruguay",
	"mexico":     "Mexico",
	"mexique":    "Mexico",
	"mx":         "Mexico",
	"brazil":     "Brazil",
	"brésil":     "Brazil",
	"bresil":     "Brazil",
	"br":         "Brazil",
}

// Country returns the canonical English name of a country. Unknown names
// are title-cased and kept.
func Country(s string) string {
	key := wine.FoldKey(s)
	if key == "" {
		return ""
	}
	if c, ok := countrySynonyms[key]; ok {
		return c
	}
	return cases.Title(language.English).String(strings.Join(strings.Fields(s), " "))
}
