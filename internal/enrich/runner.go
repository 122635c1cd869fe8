package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/legrimoire/grimoire-data/internal/merge"
	"github.com/legrimoire/grimoire-data/internal/metrics"
	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

// MaxWorkers caps the lookup pool.
const MaxWorkers = 8

// Lookup results, also used as metric labels.
const (
	resultEnriched  = "enriched"
	resultUnchanged = "unchanged"
	resultNoMatch   = "no_match"
	resultSkipped   = "skipped"
	resultError     = "error"
)

// RunStats counts the outcome of an enrichment run.
type RunStats struct {
	Provider  wine.Source `json:"provider"`
	Looked    int         `json:"looked"`
	Enriched  int         `json:"enriched"`
	Unchanged int         `json:"unchanged"`
	NoMatch   int         `json:"no_match"`
	// Skipped lookups failed or timed out at the provider.
	Skipped int `json:"skipped"`
	// Errors are merge failures for a single record.
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

func (s *RunStats) String() string {
	return fmt.Sprintf("provider=%s looked=%d enriched=%d unchanged=%d no_match=%d skipped=%d errors=%d duration=%s",
		s.Provider, s.Looked, s.Enriched, s.Unchanged, s.NoMatch, s.Skipped, s.Errors, s.Duration.Round(time.Millisecond))
}

// Runner fans lookups out to a bounded pool and merges the results.
type Runner struct {
	engine  *merge.Engine
	store   store.Store
	workers int
	logger  *slog.Logger
}

// NewRunner creates a Runner with workers clamped to 1..MaxWorkers.
func NewRunner(engine *merge.Engine, st store.Store, workers int, logger *slog.Logger) *Runner {
	return &Runner{engine: engine, store: st, workers: clampWorkers(workers), logger: logger}
}

func clampWorkers(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxWorkers:
		return MaxWorkers
	}
	return n
}

// Run looks up every record at p. Provider failures are counted and
// skipped; only a storage failure stops the run.
func (r *Runner) Run(ctx context.Context, p Provider, recs []wine.Record) (*RunStats, error) {
	stats := &RunStats{Provider: p.Source()}
	start := time.Now()
	var mu sync.Mutex
	count := func(result string) {
		mu.Lock()
		defer mu.Unlock()
		stats.Looked++
		switch result {
		case resultEnriched:
			stats.Enriched++
		case resultUnchanged:
			stats.Unchanged++
		case resultNoMatch:
			stats.NoMatch++
		case resultSkipped:
			stats.Skipped++
		case resultError:
			stats.Errors++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range recs {
		rec := &recs[i]
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			result, err := r.enrichOne(gctx, p, rec)
			if err != nil {
				return err
			}
			count(result)
			return nil
		})
	}
	err := g.Wait()
	stats.Duration = time.Since(start)
	if err == nil {
		err = ctx.Err()
	}
	r.logger.Info("enrichment run finished", "stats", stats.String())
	return stats, err
}

// Sweep enriches up to limit records whose last sync with p is older than
// staleAfter, oldest first.
func (r *Runner) Sweep(ctx context.Context, p Provider, staleAfter time.Duration, limit int) (*RunStats, error) {
	recs, err := r.store.ListStale(ctx, p.Source(), time.Now().UTC().Add(-staleAfter), limit)
	if err != nil {
		return nil, err
	}
	r.logger.Info("enrichment sweep", "provider", p.Source(), "stale", len(recs), "stale_after", staleAfter)
	return r.Run(ctx, p, recs)
}

func (r *Runner) enrichOne(ctx context.Context, p Provider, rec *wine.Record) (string, error) {
	src := p.Source()
	start := time.Now()
	cand, err := p.Lookup(ctx, rec)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, ErrNoMatch):
		metrics.RecordEnrichLookup(string(src), resultNoMatch, elapsed)
		// Record the attempt so sweeps move on to other wines.
		cand = &wine.Candidate{Source: src}
		withIdentity(cand, rec)
		if _, err := r.engine.Apply(ctx, *cand); err != nil {
			return r.mergeFailed(rec, err)
		}
		return resultNoMatch, nil
	case err != nil:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		metrics.RecordEnrichLookup(string(src), resultSkipped, elapsed)
		r.logger.Warn("enrichment skipped", "provider", src, "id", rec.ID, "identity", rec.Identity(), "error", err)
		return resultSkipped, nil
	}

	cand.Source = src
	withIdentity(cand, rec)
	out, err := r.engine.Apply(ctx, *cand)
	if err != nil {
		return r.mergeFailed(rec, err)
	}
	result := resultUnchanged
	if out.Action != merge.ActionUnchanged {
		result = resultEnriched
	}
	metrics.RecordEnrichLookup(string(src), result, elapsed)
	r.logger.Debug("enriched", "provider", src, "id", out.ID, "action", out.Action)
	return result, nil
}

func (r *Runner) mergeFailed(rec *wine.Record, err error) (string, error) {
	var se *store.StorageError
	if errors.As(err, &se) {
		return "", err
	}
	r.logger.Warn("enrichment merge failed", "id", rec.ID, "identity", rec.Identity(), "error", err)
	return resultError, nil
}
