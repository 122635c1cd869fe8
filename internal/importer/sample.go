package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/goccy/go-json"

	"github.com/legrimoire/grimoire-data/internal/source"
)

var sampleColumns = []string{
	source.KeyLWIN7, source.KeyLWIN11, source.KeyName, source.KeyProducer,
	source.KeyVintage, source.KeyWineType, source.KeyCountry, source.KeyRegion,
	source.KeyGrapes, source.KeyRating, source.KeyPrice, source.KeyCurrency,
}

// fixed sample rows, always written first.
var sampleWines = [][]string{
	{"1012361", "10123612015", "Château Léoville Barton", "Léoville Barton", "2015", "Rouge", "France", "Bordeaux", "Cabernet Sauvignon (86%); Merlot (14%)", "", "", ""},
	{"1014033", "10140332010", "Château Margaux", "Château Margaux", "2010", "Red", "France", "Bordeaux", "Cabernet Sauvignon; Merlot; Petit Verdot", "", "", ""},
	{"1110562", "", "Barolo Monfortino Riserva", "Giacomo Conterno", "2013", "Rosso", "Italia", "Piemonte", "Nebbiolo", "", "", ""},
	{"1098412", "10984121000", "Krug Grande Cuvée", "Krug", "NV", "Champagne", "France", "Champagne", "", "", "", ""},
	{"1226347", "", "Cloudy Bay Sauvignon Blanc", "Cloudy Bay", "2022", "White", "Nouvelle-Zélande", "Marlborough", "Sauvignon Blanc", "", "", ""},
}

var (
	sampleTypes     = []string{"Rouge", "Blanc", "Rosé", "Sparkling", "Red", "White", "Dessert"}
	sampleCountries = []string{"France", "Italy", "Spain", "Portugal", "Germany", "Australia", "Chile"}
	sampleGrapes    = []string{"Merlot", "Syrah", "Grenache", "Chardonnay", "Riesling", "Tempranillo", "Pinot Noir"}
)

// SampleRows returns the fixed rows followed by extra generated ones.
// Generated LWIN7 codes start at 9000000 so they never clash with the
// fixed rows; seed makes the output reproducible.
func SampleRows(extra int, seed int64) [][]string {
	rows := make([][]string, 0, len(sampleWines)+extra)
	for _, r := range sampleWines {
		rows = append(rows, append([]string(nil), r...))
	}
	f := gofakeit.New(seed)
	for i := 0; i < extra; i++ {
		producer := f.LastName() + " " + f.RandomString([]string{"Estate", "Vineyards", "Frères", "& Fils", "Cellars"})
		row := []string{
			strconv.Itoa(9000000 + i),
			"",
			f.RandomString([]string{"Cuvée", "Clos", "Réserve", "Vieilles Vignes"}) + " " + f.City(),
			producer,
			strconv.Itoa(f.Number(1990, 2022)),
			f.RandomString(sampleTypes),
			f.RandomString(sampleCountries),
			f.City(),
			f.RandomString(sampleGrapes),
			"",
			"",
			"",
		}
		if f.Bool() {
			row[9] = strconv.FormatFloat(float64(f.Number(30, 50))/10, 'f', 1, 64)
		}
		if f.Bool() {
			row[10] = strconv.Itoa(f.Number(8, 400)) + ".00"
			row[11] = f.RandomString([]string{"EUR", "GBP", "USD"})
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteSample writes SampleRows in the given format.
func WriteSample(w io.Writer, format source.Format, extra int, seed int64) error {
	rows := SampleRows(extra, seed)
	switch format {
	case source.FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(sampleColumns); err != nil {
			return err
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		return nil
	case source.FormatJSON:
		out := make([]map[string]string, 0, len(rows))
		for _, r := range rows {
			m := make(map[string]string, len(sampleColumns))
			for i, col := range sampleColumns {
				if r[i] != "" {
					m[col] = r[i]
				}
			}
			out = append(out, m)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return fmt.Errorf("sample format %q not supported (csv, json)", format)
}
