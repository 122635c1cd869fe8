package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/legrimoire/grimoire-data/internal/store"
)

// AfterImport refreshes planner statistics once a bulk import has changed
// the table. Backends without statistics are skipped.
func AfterImport(ctx context.Context, st store.Store, logger *slog.Logger) error {
	a, ok := st.(store.Analyzer)
	if !ok {
		return nil
	}
	start := time.Now()
	err := a.Analyze(ctx)
	dur := time.Since(start).Round(time.Millisecond)
	if err != nil {
		logger.Warn("Failed to analyze wine tables", "duration", dur, "error", err)
		return err
	}
	logger.Info("Analyzed wine tables", "duration", dur)
	return nil
}
