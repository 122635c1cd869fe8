// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/ingest.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Table names, matching schema.sql
// --------------------------------------------------------------------------

const (
	WinesTable     = "wines"
	WineSyncsTable = "wine_syncs"

	// ChangesChannel is the NOTIFY channel fired by the wines trigger.
	ChangesChannel = "wine_changes"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database: postgres://... or sqlite:path (sqlite::memory: for throwaway runs)
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Cache
	CacheEnabled bool
	CacheTTL     time.Duration

	// Import
	ImportBatchSize int
	CheckpointDir   string

	// Enrichment providers
	VivinoAPIURL       string
	VivinoAPIKey       string
	WineSearcherAPIURL string
	WineSearcherAPIKey string
	EnrichWorkers      int
	EnrichTimeout      time.Duration
	EnrichRatePerMin   int
	EnrichSweepEvery   time.Duration
	EnrichStaleAfter   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set (postgres://... or sqlite:path)")
	}

	cfg := &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		CacheEnabled: envBool("CACHE_ENABLED", true),
		CacheTTL:     envDuration("CACHE_TTL_SECONDS", 300*time.Second, time.Second),

		ImportBatchSize: envInt("IMPORT_BATCH_SIZE", 100),
		CheckpointDir:   envOr("CHECKPOINT_DIR", ""),

		VivinoAPIURL:       envOr("VIVINO_API_URL", ""),
		VivinoAPIKey:       envOr("VIVINO_API_KEY", ""),
		WineSearcherAPIURL: envOr("WINE_SEARCHER_API_URL", "https://api.wine-searcher.com"),
		WineSearcherAPIKey: envOr("WINE_SEARCHER_API_KEY", ""),
		EnrichWorkers:      envInt("ENRICH_WORKERS", 4),
		EnrichTimeout:      envDuration("ENRICH_TIMEOUT_SECONDS", 5*time.Second, time.Second),
		EnrichRatePerMin:   envInt("ENRICH_RATE_PER_MINUTE", 60),
		EnrichSweepEvery:   envDuration("ENRICH_SWEEP_INTERVAL_MINUTES", 0, time.Minute),
		EnrichStaleAfter:   envDuration("ENRICH_STALE_DAYS", 30*24*time.Hour, 24*time.Hour),
	}
	if cfg.ImportBatchSize <= 0 {
		cfg.ImportBatchSize = 100
	}
	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsSQLite reports whether DatabaseURL points at a SQLite database.
func (c *Config) IsSQLite() bool {
	_, ok := SQLitePath(c.DatabaseURL)
	return ok
}

// SQLitePath extracts the file path from sqlite:path, sqlite://path or
// file:path URLs.
func SQLitePath(url string) (string, bool) {
	for _, prefix := range []string{"sqlite://", "sqlite3://", "sqlite:", "file:"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix), true
		}
	}
	return "", false
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration reads an integer count of unit.
func envDuration(key string, fallback, unit time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * unit
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
