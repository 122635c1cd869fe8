// Package db provides a pgxpool-based connection pool with prepared statement
// registration, schema migration and health checking.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legrimoire/grimoire-data/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the PostgreSQL schema applied by Migrate.
func Schema() string { return schemaSQL }

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool. The schema must exist:
// statements are prepared against it on every new connection.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Migrate applies the embedded schema over a dedicated connection. The
// schema is idempotent.
func Migrate(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, StmtHealthCheck).Scan(&n)
}

// Statement names used by the store.
const (
	StmtWineByID      = "wine_by_id"
	StmtWinesByLWIN7  = "wines_by_lwin7"
	StmtWinesByLWIN11 = "wines_by_lwin11"
	StmtWinesByLWIN18 = "wines_by_lwin18"
	StmtWinesByName   = "wines_by_name_producer"
	StmtUpsertWine    = "upsert_wine"
	StmtDeleteSyncs   = "delete_wine_syncs"
	StmtInsertSync    = "insert_wine_sync"
	StmtStaleWines    = "stale_wines"
	StmtCountWines    = "count_wines"
	StmtHealthCheck   = "health_check"
)

// registerPreparedStatements registers all statements the store uses.
// Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		StmtHealthCheck: "SELECT 1",

		// Lookups
		StmtWineByID:      "SELECT doc FROM " + config.WinesTable + " WHERE id = $1",
		StmtWinesByLWIN7:  "SELECT doc FROM " + config.WinesTable + " WHERE lwin7 = $1 ORDER BY vintage NULLS FIRST, id",
		StmtWinesByLWIN11: "SELECT doc FROM " + config.WinesTable + " WHERE lwin11 = $1 ORDER BY id",
		StmtWinesByLWIN18: "SELECT doc FROM " + config.WinesTable + " WHERE lwin18 = $1 ORDER BY id",
		StmtWinesByName:   "SELECT doc FROM " + config.WinesTable + " WHERE name_key = $1 AND producer_key = $2 ORDER BY vintage NULLS FIRST, id",
		StmtCountWines:    "SELECT count(*) FROM " + config.WinesTable,

		// Writes
		StmtUpsertWine: `
			INSERT INTO ` + config.WinesTable + ` (
				id, lwin7, lwin11, lwin18, name_key, producer_key, search_name,
				vintage, wine_type, country, region, doc, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (id) DO UPDATE SET
				lwin7 = EXCLUDED.lwin7,
				lwin11 = EXCLUDED.lwin11,
				lwin18 = EXCLUDED.lwin18,
				name_key = EXCLUDED.name_key,
				producer_key = EXCLUDED.producer_key,
				search_name = EXCLUDED.search_name,
				vintage = EXCLUDED.vintage,
				wine_type = EXCLUDED.wine_type,
				country = EXCLUDED.country,
				region = EXCLUDED.region,
				doc = EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
		StmtDeleteSyncs: "DELETE FROM " + config.WineSyncsTable + " WHERE wine_id = $1",
		StmtInsertSync:  "INSERT INTO " + config.WineSyncsTable + " (wine_id, source, synced_at) VALUES ($1, $2, $3)",

		// Enrichment sweep
		StmtStaleWines: `
			SELECT w.doc FROM ` + config.WinesTable + ` w
			LEFT JOIN ` + config.WineSyncsTable + ` s ON s.wine_id = w.id AND s.source = $1
			WHERE s.synced_at IS NULL OR s.synced_at < $2
			ORDER BY s.synced_at NULLS FIRST, w.id
			LIMIT $3`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
