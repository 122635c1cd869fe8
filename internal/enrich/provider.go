package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

// ErrNoMatch means the provider does not know the wine.
var ErrNoMatch = errors.New("no match at provider")

// Provider looks one wine up at an external source.
type Provider interface {
	Source() wine.Source
	// Lookup returns the provider's data for rec as a candidate. Identity
	// fields are filled in by the caller.
	Lookup(ctx context.Context, rec *wine.Record) (*wine.Candidate, error)
}

// NewProvider builds the named provider from configuration.
func NewProvider(name string, cfg *config.Config, logger *slog.Logger) (Provider, error) {
	src, err := wine.ParseSource(name)
	if err != nil {
		return nil, err
	}
	cc := ClientConfig{Timeout: cfg.EnrichTimeout, RatePerMinute: cfg.EnrichRatePerMin}
	switch src {
	case wine.SourceVivino:
		cc.BaseURL, cc.APIKey = cfg.VivinoAPIURL, cfg.VivinoAPIKey
		if cc.BaseURL == "" {
			return nil, errors.New("VIVINO_API_URL is not set")
		}
		return NewVivinoClient(cc, logger), nil
	case wine.SourceWineSearcher:
		cc.BaseURL, cc.APIKey = cfg.WineSearcherAPIURL, cfg.WineSearcherAPIKey
		if cc.APIKey == "" {
			return nil, errors.New("WINE_SEARCHER_API_KEY is not set")
		}
		return NewWineSearcherClient(cc, logger), nil
	}
	return nil, fmt.Errorf("no enrichment provider for source %q", src)
}

// identity returns the fields that make the merge engine find rec again:
// lwin11 when present, then lwin7 with the vintage, then lwin18, then
// name and producer.
func identity(rec *wine.Record) wine.Canonical {
	var c wine.Canonical
	switch {
	case rec.LWIN11 != "":
		c.LWIN11 = rec.LWIN11
	case rec.LWIN7 != "":
		c.LWIN7 = rec.LWIN7
		c.Vintage = rec.Vintage
	case rec.LWIN18 != "":
		c.LWIN18 = rec.LWIN18
	default:
		c.Name, c.Producer, c.Vintage = rec.Name, rec.Producer, rec.Vintage
	}
	return c
}

// withIdentity overlays rec's identity onto c, keeping the provider's other
// fields.
func withIdentity(c *wine.Candidate, rec *wine.Record) {
	id := identity(rec)
	c.LWIN7, c.LWIN11, c.LWIN18 = id.LWIN7, id.LWIN11, id.LWIN18
	c.Vintage = id.Vintage
	c.Name, c.Producer = id.Name, id.Producer
}

func vintageParam(rec *wine.Record) string {
	if rec.Vintage == nil {
		return ""
	}
	return strconv.Itoa(*rec.Vintage)
}
