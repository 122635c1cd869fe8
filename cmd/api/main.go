// Command api is the Le Grimoire wine lookup API server.
//
// Usage:
//
//	grimoire-api
//	API_PORT=8080 grimoire-api

// @title Le Grimoire Wine API
// @version 1.0.0
// @description Read-only lookup over the merged LWIN wine catalogue. Responses are the effective view of each wine: canonical fields with manual overrides applied, plus per-source ratings, prices, images and tasting notes.
// @host localhost:8000
// @BasePath /
// @schemes http https
// @contact.name Le Grimoire
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/legrimoire/grimoire-data/internal/api"
	"github.com/legrimoire/grimoire-data/internal/cache"
	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/enrich"
	"github.com/legrimoire/grimoire-data/internal/listener"
	"github.com/legrimoire/grimoire-data/internal/maintenance"
	"github.com/legrimoire/grimoire-data/internal/merge"
	"github.com/legrimoire/grimoire-data/internal/store"
	"github.com/legrimoire/grimoire-data/internal/wine"

	_ "github.com/legrimoire/grimoire-data/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to the store
	logger.Info("Connecting to database...")
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// LISTEN/NOTIFY consumer keeps the cache coherent with writes from
	// other processes. SQLite has no notifications; short TTLs apply.
	if cfg.IsSQLite() {
		logger.Info("Change listener disabled (sqlite backend)")
	} else {
		go listener.Start(ctx, cfg.DatabaseURL, appCache, logger)
	}

	// Maintenance tickers (enrichment sweep, cache eviction)
	deps := maintenance.Deps{Cache: appCache, Providers: configuredProviders(cfg, logger)}
	if len(deps.Providers) > 0 {
		deps.Runner = enrich.NewRunner(merge.New(st, logger), st, cfg.EnrichWorkers, logger)
	}
	go maintenance.Start(ctx, deps, maintenance.ConfigFrom(cfg), logger)

	// Create router
	router := api.NewRouter(st, appCache, cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Le Grimoire API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}

// configuredProviders returns the providers whose credentials are set.
// The sweep ticker is off unless ENRICH_SWEEP_INTERVAL_MINUTES is set.
func configuredProviders(cfg *config.Config, logger *slog.Logger) []enrich.Provider {
	if cfg.EnrichSweepEvery <= 0 {
		return nil
	}
	var out []enrich.Provider
	for _, src := range []wine.Source{wine.SourceVivino, wine.SourceWineSearcher} {
		p, err := enrich.NewProvider(string(src), cfg, logger)
		if err != nil {
			logger.Info("Enrichment sweep skips provider", "provider", src, "reason", err)
			continue
		}
		out = append(out, p)
	}
	return out
}
