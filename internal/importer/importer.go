// Package importer drives an import run: rows are read, parsed, normalized
// and merged one at a time, in batches, with a checkpoint after each batch.
// Problems with a single record are reported and skipped; only storage or
// reader failures stop the run.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/legrimoire/grimoire-data/internal/merge"
	"github.com/legrimoire/grimoire-data/internal/metrics"
	"github.com/legrimoire/grimoire-data/internal/normalize"
	"github.com/legrimoire/grimoire-data/internal/source"
	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 100

// Options configures an Importer.
type Options struct {
	BatchSize int
	// Progress receives a checkpoint after every batch. Nil disables
	// checkpoints.
	Progress ProgressTracker
	// Resume skips the rows recorded in the saved checkpoint.
	Resume bool
}

// Importer runs imports. It is not safe for concurrent Runs.
type Importer struct {
	engine     *merge.Engine
	normalizer *normalize.Normalizer
	logger     *slog.Logger
	opts       Options
	now        func() time.Time
}

// New creates an Importer merging through engine.
func New(engine *merge.Engine, normalizer *normalize.Normalizer, logger *slog.Logger, opts Options) *Importer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Importer{
		engine:     engine,
		normalizer: normalizer,
		logger:     logger,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run imports every row of rows. src is the source of rows that carry no
// source column of their own. The returned stats are valid even when err is
// non-nil.
func (im *Importer) Run(ctx context.Context, rows source.RowReader, src wine.Source) (*ImportStats, error) {
	if src == "" {
		src = wine.SourceDefault
	}
	stats := &ImportStats{Source: src, StartTime: im.now()}

	skip, err := im.resumeOffset(ctx, src)
	if err != nil {
		return stats, err
	}
	if skip > 0 {
		im.logger.Info("resuming import", "source", src, "skip_rows", skip)
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			stats.EndTime = im.now()
			im.logger.Warn("import interrupted", "source", src, "offset", stats.LastOffset)
			return stats, err
		}

		started := time.Now()
		n, done, err := im.batch(ctx, rows, stats, &offset, skip)
		if err != nil {
			stats.EndTime = im.now()
			return stats, err
		}
		if n > 0 {
			stats.LastOffset = offset
			metrics.ImportBatchDuration.Observe(time.Since(started).Seconds())
			if err := im.checkpoint(ctx, stats); err != nil {
				stats.EndTime = im.now()
				return stats, err
			}
			im.logger.Info("import progress",
				"source", src,
				"offset", offset,
				"inserted", stats.Inserted,
				"updated", stats.Updated,
				"unchanged", stats.Unchanged,
				"skipped", stats.Skipped)
		}
		if done {
			break
		}
	}

	stats.EndTime = im.now()
	if im.opts.Progress != nil {
		if err := im.opts.Progress.Clear(ctx); err != nil {
			im.logger.Warn("failed to clear checkpoint", "error", err)
		}
	}
	im.logger.Info("import complete", "summary", stats.Summary())
	return stats, nil
}

func (im *Importer) resumeOffset(ctx context.Context, src wine.Source) (int, error) {
	if !im.opts.Resume || im.opts.Progress == nil {
		return 0, nil
	}
	saved, err := im.opts.Progress.Load(ctx)
	if err != nil {
		return 0, err
	}
	if saved == nil {
		return 0, nil
	}
	if saved.Source != src {
		im.logger.Warn("checkpoint belongs to another source, starting over",
			"checkpoint_source", saved.Source, "source", src)
		return 0, nil
	}
	return saved.LastOffset, nil
}

func (im *Importer) checkpoint(ctx context.Context, stats *ImportStats) error {
	if im.opts.Progress == nil {
		return nil
	}
	if err := im.opts.Progress.Save(ctx, stats); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// batch consumes up to BatchSize rows. It reports how many rows were read
// and whether the input is exhausted.
func (im *Importer) batch(ctx context.Context, rows source.RowReader, stats *ImportStats, offset *int, skip int) (int, bool, error) {
	for n := 0; n < im.opts.BatchSize; n++ {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return n, true, nil
		}
		if err != nil {
			return n, false, fmt.Errorf("read row %d: %w", *offset+1, err)
		}
		*offset++
		if *offset <= skip {
			stats.Resumed++
			continue
		}
		if err := im.record(ctx, row, *offset, stats); err != nil {
			return n + 1, false, err
		}
	}
	return im.opts.BatchSize, false, nil
}

// record imports one row. Only fatal errors are returned.
func (im *Importer) record(ctx context.Context, row source.Row, line int, stats *ImportStats) error {
	stats.Processed++

	raw, err := source.Parse(row, stats.Source, line)
	if err != nil {
		return im.skip(stats, line, raw.Identity(), raw.Raw, err)
	}

	cand, warnings, err := im.normalizer.Normalize(raw)
	for _, w := range warnings {
		stats.Warnings = append(stats.Warnings, RecordError{
			Line:     line,
			Kind:     KindField,
			Identity: raw.Identity(),
			Field:    w.Field,
			Message:  w.Error(),
		})
		metrics.ImportWarnings.WithLabelValues(w.Field).Inc()
		im.logger.Debug("field dropped", "line", line, "field", w.Field, "value", w.Value, "reason", w.Reason)
	}
	if err != nil {
		return im.skip(stats, line, raw.Identity(), raw.Raw, err)
	}

	out, err := im.engine.Apply(ctx, cand)
	if err != nil {
		var se *store.StorageError
		if errors.As(err, &se) {
			im.logger.Error("storage failure, aborting import", "line", line, "identity", cand.Identity(), "error", err)
			return fmt.Errorf("line %d: %w", line, err)
		}
		return im.skip(stats, line, cand.Identity(), raw.Raw, err)
	}

	switch out.Action {
	case merge.ActionInserted:
		stats.Inserted++
	case merge.ActionUpdated:
		stats.Updated++
	default:
		stats.Unchanged++
	}
	for _, c := range out.Conflicts {
		stats.Conflicts++
		metrics.MergeConflicts.WithLabelValues(string(c.Field)).Inc()
	}
	metrics.RecordImport(string(cand.Source), string(out.Action))
	return nil
}

// skip records a per-record failure and lets the run continue.
func (im *Importer) skip(stats *ImportStats, line int, identity string, raw map[string]string, err error) error {
	kind := KindRecord
	var (
		malformed *source.MalformedRecordError
		ambiguous *merge.MergeAmbiguityError
	)
	switch {
	case errors.As(err, &malformed):
		kind = KindMalformed
	case errors.As(err, &ambiguous):
		kind = KindAmbiguous
	case errors.Is(err, store.ErrConflict):
		kind = KindConflict
	}

	stats.Skipped++
	stats.Errors = append(stats.Errors, RecordError{
		Line:     line,
		Kind:     kind,
		Identity: identity,
		Message:  err.Error(),
		Raw:      raw,
	})
	metrics.RecordImport(string(stats.Source), "skipped")
	im.logger.Warn("record skipped", "line", line, "kind", kind, "identity", identity, "error", err, "raw", raw)
	return nil
}
