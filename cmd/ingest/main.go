// Command ingest is the Le Grimoire wine import and enrichment CLI.
//
// Usage:
//
//	grimoire-ingest import --file lwin_database.csv --source lwin
//	grimoire-ingest import --url https://example.com/export.json --source vivino
//	grimoire-ingest import --file wines.xlsx --drop
//	grimoire-ingest import --create-sample --file sample_wines.csv
//	grimoire-ingest enrich --provider vivino --limit 500 --stale-days 30
//	grimoire-ingest override --id 6f1c... --field region --value "Pauillac"
//	grimoire-ingest override --id 6f1c... --field region --clear
//	grimoire-ingest migrate
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/db"
	"github.com/legrimoire/grimoire-data/internal/enrich"
	"github.com/legrimoire/grimoire-data/internal/importer"
	"github.com/legrimoire/grimoire-data/internal/maintenance"
	"github.com/legrimoire/grimoire-data/internal/merge"
	"github.com/legrimoire/grimoire-data/internal/normalize"
	"github.com/legrimoire/grimoire-data/internal/source"
	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	if debug, _ := strconv.ParseBool(os.Getenv("DEBUG")); debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	root := &cobra.Command{
		Use:          "grimoire-ingest",
		Short:        "Le Grimoire wine import and enrichment CLI",
		SilenceUsage: true,
	}

	root.AddCommand(importCmd())
	root.AddCommand(enrichCmd())
	root.AddCommand(overrideCmd())
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// import command
// --------------------------------------------------------------------------

func importCmd() *cobra.Command {
	var (
		file         string
		url          string
		format       string
		sourceName   string
		drop         bool
		resume       bool
		createSample bool
		sampleSize   int
		sampleSeed   int64
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import wines from a CSV, JSON or XLSX file or URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if createSample {
				return writeSample(file, format, sampleSize, sampleSeed)
			}
			if (file == "") == (url == "") {
				return errors.New("exactly one of --file or --url is required")
			}
			src, err := wine.ParseSource(sourceName)
			if err != nil {
				return err
			}
			var fmtHint source.Format
			if format != "" {
				if fmtHint, err = source.ParseFormat(format); err != nil {
					return err
				}
			}

			return runWithStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				input := file
				var rows source.RowReader
				if url != "" {
					input = url
					rows, err = source.OpenURL(ctx, nil, url, fmtHint)
				} else {
					rows, err = source.Open(file, fmtHint)
				}
				if err != nil {
					return err
				}
				defer rows.Close()

				if drop {
					logger.Warn("Dropping all wines before import")
					if err := st.Drop(ctx); err != nil {
						return err
					}
				}

				progress, closeProgress, err := openProgress(cfg, input, resume)
				if err != nil {
					return err
				}
				defer closeProgress()

				im := importer.New(merge.New(st, logger), normalize.New(logger), logger, importer.Options{
					BatchSize: cfg.ImportBatchSize,
					Progress:  progress,
					Resume:    resume,
				})

				logger.Info("Import starting", "input", input, "source", src, "batch_size", cfg.ImportBatchSize)
				stats, runErr := im.Run(ctx, rows, src)
				if stats != nil {
					if err := stats.WriteReport(os.Stdout); err != nil {
						logger.Warn("failed to write report", "error", err)
					}
				}
				if runErr != nil {
					return fmt.Errorf("import stopped at row %d: %w", stats.LastOffset, runErr)
				}
				_ = maintenance.AfterImport(ctx, st, logger)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Input file (or output path with --create-sample)")
	cmd.Flags().StringVar(&url, "url", "", "Input URL")
	cmd.Flags().StringVar(&format, "format", "", "Input format: csv, json or xlsx (default: detect)")
	cmd.Flags().StringVar(&sourceName, "source", "", "Source of rows without a source column (default: default)")
	cmd.Flags().BoolVar(&drop, "drop", false, "Delete every wine before importing")
	cmd.Flags().BoolVar(&resume, "resume", false, "Skip rows handled by an interrupted run of the same input")
	cmd.Flags().BoolVar(&createSample, "create-sample", false, "Write a sample input file and exit")
	cmd.Flags().IntVar(&sampleSize, "sample-size", 20, "Generated rows added to the fixed sample wines")
	cmd.Flags().Int64Var(&sampleSeed, "seed", 42, "Seed for generated sample rows")
	return cmd
}

func writeSample(path, format string, extra int, seed int64) error {
	if path == "" {
		path = "sample_wines.csv"
	}
	f := source.FormatCSV
	var err error
	switch {
	case format != "":
		f, err = source.ParseFormat(format)
	case filepath.Ext(path) != "":
		f, err = source.DetectFormat(path)
	}
	if err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := importer.WriteSample(out, f, extra, seed); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	logger.Info("Sample written", "path", path, "format", f, "rows", len(importer.SampleRows(extra, seed)))
	return nil
}

// openProgress returns a badger-backed tracker when CHECKPOINT_DIR is set,
// otherwise an in-memory one that only lives for this run.
func openProgress(cfg *config.Config, input string, resume bool) (importer.ProgressTracker, func(), error) {
	if cfg.CheckpointDir == "" {
		if resume {
			logger.Warn("--resume has no effect without CHECKPOINT_DIR")
		}
		return importer.NewInMemoryProgress(), func() {}, nil
	}
	bdb, err := importer.OpenBadger(cfg.CheckpointDir)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := bdb.Close(); err != nil {
			logger.Warn("failed to close checkpoint db", "error", err)
		}
	}
	return importer.NewBadgerProgress(bdb, importer.ProgressKey(input)), closeFn, nil
}

// --------------------------------------------------------------------------
// enrich command
// --------------------------------------------------------------------------

func enrichCmd() *cobra.Command {
	var (
		provider  string
		limit     int
		staleDays int
		workers   int
	)
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich stale wines from an external provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				return errors.New("--provider is required (vivino, wine_searcher)")
			}
			return runWithStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				p, err := enrich.NewProvider(provider, cfg, logger)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("workers") {
					workers = cfg.EnrichWorkers
				}
				staleAfter := cfg.EnrichStaleAfter
				if cmd.Flags().Changed("stale-days") {
					staleAfter = time.Duration(staleDays) * 24 * time.Hour
				}

				runner := enrich.NewRunner(merge.New(st, logger), st, workers, logger)
				stats, err := runner.Sweep(ctx, p, staleAfter, limit)
				if stats != nil {
					fmt.Fprintln(os.Stdout, stats.String())
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider: vivino or wine_searcher")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum wines to look up")
	cmd.Flags().IntVar(&staleDays, "stale-days", 30, "Re-enrich wines last synced more than this many days ago (default: ENRICH_STALE_DAYS)")
	cmd.Flags().IntVar(&workers, "workers", 4, "Concurrent lookups, 1-8 (default: ENRICH_WORKERS)")
	return cmd
}

// --------------------------------------------------------------------------
// override command
// --------------------------------------------------------------------------

func overrideCmd() *cobra.Command {
	var (
		id      string
		field   string
		value   string
		clearIt bool
	)
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Set or clear an admin override on one wine field",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || field == "" {
				return errors.New("--id and --field are required")
			}
			if clearIt == cmd.Flags().Changed("value") {
				return errors.New("exactly one of --value or --clear is required")
			}
			f, err := wine.ParseField(field)
			if err != nil {
				return err
			}
			return runWithStore(func(ctx context.Context, cfg *config.Config, st store.Store) error {
				engine := merge.New(st, logger)
				var rec *wine.Record
				if clearIt {
					rec, err = engine.ClearOverride(ctx, id, f)
				} else {
					raw, verr := normalize.New(logger).FieldValue(f, value)
					if verr != nil {
						return verr
					}
					rec, err = engine.Override(ctx, id, f, raw)
				}
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(rec.Effective(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(out))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Wine id")
	cmd.Flags().StringVar(&field, "field", "", "Canonical field, e.g. region or grape_varieties")
	cmd.Flags().StringVar(&value, "value", "", "New value, normalized like imported data")
	cmd.Flags().BoolVar(&clearIt, "clear", false, "Remove the override")
	return cmd
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if path, ok := config.SQLitePath(cfg.DatabaseURL); ok {
				// The SQLite backend applies its schema on open.
				st, err := store.NewSQLite(ctx, path)
				if err != nil {
					return err
				}
				logger.Info("Schema applied", "backend", "sqlite", "path", path)
				return st.Close()
			}
			if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Schema applied", "backend", "postgres")
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// runWithStore handles config loading, store connection, and context
// cancellation.
func runWithStore(fn func(ctx context.Context, cfg *config.Config, st store.Store) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	return fn(ctx, cfg, st)
}
