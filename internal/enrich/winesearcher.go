package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/legrimoire/grimoire-data/internal/wine"
)

// WineSearcherClient fetches market prices and critic scores.
type WineSearcherClient struct {
	*client
	currency string
}

// NewWineSearcherClient creates a Wine-Searcher provider quoting prices in
// EUR.
func NewWineSearcherClient(cfg ClientConfig, logger *slog.Logger) *WineSearcherClient {
	return &WineSearcherClient{
		client:   newClient(string(wine.SourceWineSearcher), cfg, logger),
		currency: "EUR",
	}
}

func (w *WineSearcherClient) Source() wine.Source { return wine.SourceWineSearcher }

type wineSearcherResponse struct {
	Status string `json:"status"`
	Wine   *struct {
		Name         string `json:"name"`
		PriceAverage any    `json:"price_average"`
		PriceMin     any    `json:"price_min"`
		PriceMax     any    `json:"price_max"`
		Currency     string `json:"currency"`
		Score        any    `json:"score"`
		ScoreCount   any    `json:"score_count"`
		OffersCount  any    `json:"offers_count"`
	} `json:"wine"`
}

func (w *WineSearcherClient) Lookup(ctx context.Context, rec *wine.Record) (*wine.Candidate, error) {
	params := url.Values{}
	params.Set("api_key", w.apiKey)
	params.Set("format", "json")
	params.Set("currencycode", w.currency)
	if rec.LWIN11 != "" {
		params.Set("lwin", rec.LWIN11)
	} else if rec.LWIN7 != "" {
		params.Set("lwin", rec.LWIN7)
	}
	if name := strings.TrimSpace(rec.Producer + " " + rec.Name); name != "" {
		params.Set("winename", name)
	}
	if v := vintageParam(rec); v != "" {
		params.Set("vintage", v)
	}

	body, err := w.get(ctx, "/x", params, nil)
	if err != nil {
		return nil, err
	}

	var resp wineSearcherResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode wine-searcher response: %w", err)
	}
	if resp.Wine == nil || strings.EqualFold(resp.Status, "no_match") {
		return nil, ErrNoMatch
	}
	ws := resp.Wine

	c := &wine.Candidate{Source: wine.SourceWineSearcher}
	p := wine.Price{Currency: strings.ToUpper(ws.Currency)}
	if p.Currency == "" {
		p.Currency = w.currency
	}
	if v, ok := extractNumber(ws.PriceAverage); ok {
		p.Value = &v
	}
	if v, ok := extractNumber(ws.PriceMin); ok {
		p.Min = &v
	}
	if v, ok := extractNumber(ws.PriceMax); ok {
		p.Max = &v
	}
	if n, ok := extractCount(ws.OffersCount); ok {
		inStock := n > 0
		p.InStock = &inStock
	}
	if p.Value != nil || p.Min != nil || p.Max != nil {
		c.Price = &p
	}
	if score, ok := extractNumber(ws.Score); ok && score >= 0 && score <= 100 {
		r := &wine.Rating{Score: score}
		if n, ok := extractCount(ws.ScoreCount); ok {
			r.Count = &n
		}
		c.Rating = r
	}
	return c, nil
}
