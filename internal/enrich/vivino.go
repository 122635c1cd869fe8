package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/legrimoire/grimoire-data/internal/wine"
)

// VivinoClient fetches community ratings, label images, tasting notes and
// grapes from the Vivino match endpoint.
type VivinoClient struct {
	*client
}

// NewVivinoClient creates a Vivino provider.
func NewVivinoClient(cfg ClientConfig, logger *slog.Logger) *VivinoClient {
	return &VivinoClient{client: newClient(string(wine.SourceVivino), cfg, logger)}
}

func (v *VivinoClient) Source() wine.Source { return wine.SourceVivino }

type vivinoResponse struct {
	Wine *struct {
		Name         string   `json:"name"`
		Winery       string   `json:"winery"`
		Rating       any      `json:"rating"`
		RatingsCount any      `json:"ratings_count"`
		Grapes       []string `json:"grapes"`
		TastingNote  string   `json:"tasting_note"`
		Image        *struct {
			URL     string `json:"url"`
			Quality string `json:"quality"`
		} `json:"image"`
		Price *struct {
			Amount   any    `json:"amount"`
			Currency string `json:"currency"`
		} `json:"price"`
	} `json:"wine"`
}

func (v *VivinoClient) Lookup(ctx context.Context, rec *wine.Record) (*wine.Candidate, error) {
	params := url.Values{}
	for k, val := range map[string]string{
		"lwin7":    rec.LWIN7,
		"lwin11":   rec.LWIN11,
		"name":     rec.Name,
		"producer": rec.Producer,
		"vintage":  vintageParam(rec),
	} {
		if val != "" {
			params.Set(k, val)
		}
	}

	body, err := v.get(ctx, "/v1/wines/match", params, func(req *http.Request) {
		if v.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+v.apiKey)
		}
	})
	if err != nil {
		return nil, err
	}

	var resp vivinoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode vivino response: %w", err)
	}
	w := resp.Wine
	if w == nil {
		return nil, ErrNoMatch
	}

	c := &wine.Candidate{Source: wine.SourceVivino}
	if score, ok := extractNumber(w.Rating); ok {
		r := &wine.Rating{Score: score}
		count := w.RatingsCount
		if m, ok := w.Rating.(map[string]any); ok && count == nil {
			count = m["count"]
		}
		if n, ok := extractCount(count); ok {
			r.Count = &n
		}
		c.Rating = r
	}
	for _, g := range w.Grapes {
		if g = strings.TrimSpace(g); g != "" {
			c.Grapes = append(c.Grapes, wine.GrapeVariety{Name: g})
		}
	}
	if w.Image != nil && strings.HasPrefix(w.Image.URL, "http") {
		c.Image = &wine.Image{URL: w.Image.URL, Quality: w.Image.Quality}
	}
	c.TastingNote = strings.TrimSpace(w.TastingNote)
	if w.Price != nil {
		if amount, ok := extractNumber(w.Price.Amount); ok {
			c.Price = &wine.Price{Value: &amount, Currency: strings.ToUpper(w.Price.Currency)}
		}
	}
	return c, nil
}
