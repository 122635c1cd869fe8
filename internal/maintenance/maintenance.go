// Package maintenance runs periodic background tasks as Go tickers inside
// the API process: enrichment sweeps over stale wines and cache eviction.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/legrimoire/grimoire-data/internal/cache"
	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/enrich"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	SweepInterval time.Duration // enrichment sweep over stale records
	StaleAfter    time.Duration // a provider sync older than this is stale
	SweepLimit    int           // records per provider per sweep
	EvictInterval time.Duration // expired cache entries
}

// DefaultSweepLimit bounds one sweep so a large backlog drains over several
// ticks instead of holding the provider quota.
const DefaultSweepLimit = 200

// ConfigFrom derives task intervals from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		SweepInterval: cfg.EnrichSweepEvery,
		StaleAfter:    cfg.EnrichStaleAfter,
		SweepLimit:    DefaultSweepLimit,
		EvictInterval: 5 * time.Minute,
	}
}

// Deps are the components the tasks act on. Runner may be nil when no
// provider is configured.
type Deps struct {
	Runner    *enrich.Runner
	Providers []enrich.Provider
	Cache     *cache.Cache
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, deps Deps, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"sweep", cfg.SweepInterval,
		"providers", len(deps.Providers),
		"evict", cfg.EvictInterval)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.SweepInterval > 0 && deps.Runner != nil && len(deps.Providers) > 0 {
		t := time.NewTicker(cfg.SweepInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "sweep", func() { Sweep(ctx, deps, cfg, logger) })
	}

	if cfg.EvictInterval > 0 && deps.Cache != nil && deps.Cache.Enabled() {
		t := time.NewTicker(cfg.EvictInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, "evict", func() { evict(deps.Cache, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, name string, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// Sweep runs one enrichment pass per provider over records whose last sync
// from that provider is older than cfg.StaleAfter. A failing provider is
// logged and the next one still runs.
func Sweep(ctx context.Context, deps Deps, cfg Config, logger *slog.Logger) {
	limit := cfg.SweepLimit
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	for _, p := range deps.Providers {
		if ctx.Err() != nil {
			return
		}
		stats, err := deps.Runner.Sweep(ctx, p, cfg.StaleAfter, limit)
		if err != nil {
			logger.Warn("Sweep: enrichment failed", "provider", p.Source(), "error", err)
			continue
		}
		if stats.Looked > 0 {
			logger.Info("Sweep: enrichment pass", "provider", p.Source(), "stats", stats.String())
		}
	}
}

func evict(c *cache.Cache, logger *slog.Logger) {
	if n := c.EvictExpired(); n > 0 {
		logger.Debug("Evict: dropped expired cache entries", "count", n)
	}
}
