package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/db"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Postgres stores documents in a JSONB column, using the statements
// prepared by the db package.
type Postgres struct {
	pool *db.Pool
}

// NewPostgres wraps a connected pool. The schema must already be applied.
func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Pool exposes the pool for the change listener and health checks.
func (p *Postgres) Pool() *db.Pool { return p.pool }

func (p *Postgres) FindByLWIN(ctx context.Context, code string) ([]wine.Record, error) {
	col, err := lwinColumn(code)
	if err != nil {
		return nil, err
	}
	stmt := map[string]string{
		"lwin7":  db.StmtWinesByLWIN7,
		"lwin11": db.StmtWinesByLWIN11,
		"lwin18": db.StmtWinesByLWIN18,
	}[col]
	return p.query(ctx, "find by "+col, stmt, code)
}

func (p *Postgres) FindByNameProducer(ctx context.Context, name, producer string) ([]wine.Record, error) {
	return p.query(ctx, "find by name", db.StmtWinesByName, wine.FoldKey(name), wine.FoldKey(producer))
}

func (p *Postgres) Get(ctx context.Context, id string) (*wine.Record, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, db.StmtWineByID, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	rec, err := decode(doc)
	if err != nil {
		return nil, storageErr("get", err)
	}
	return &rec, nil
}

func (p *Postgres) Upsert(ctx context.Context, rec *wine.Record) (string, error) {
	r, err := prepare(rec, uuid.NewString)
	if err != nil {
		return "", storageErr("upsert", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", storageErr("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, db.StmtUpsertWine,
		r.ID, r.LWIN7, r.LWIN11, r.LWIN18, r.NameKey, r.ProducerKey, r.SearchName,
		r.Vintage, r.WineType, r.Country, r.Region, r.Doc, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return "", storageErr("upsert", mapPgError(err))
	}
	if _, err := tx.Exec(ctx, db.StmtDeleteSyncs, r.ID); err != nil {
		return "", storageErr("upsert syncs", err)
	}
	for src, at := range rec.LastSynced {
		if _, err := tx.Exec(ctx, db.StmtInsertSync, r.ID, string(src), at); err != nil {
			return "", storageErr("upsert syncs", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return "", storageErr("commit", mapPgError(err))
	}
	return r.ID, nil
}

func (p *Postgres) Search(ctx context.Context, f Filter) ([]wine.Record, error) {
	q, args := searchQuery(f, func(n int) string { return "$" + strconv.Itoa(n) })
	return p.query(ctx, "search", q, args...)
}

func (p *Postgres) ListStale(ctx context.Context, src wine.Source, before time.Time, limit int) ([]wine.Record, error) {
	limit, _ = clampPage(limit, 0)
	return p.query(ctx, "list stale", db.StmtStaleWines, string(src), before, limit)
}

func (p *Postgres) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, db.StmtCountWines).Scan(&n); err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

func (p *Postgres) Drop(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, "TRUNCATE "+config.WineSyncsTable+", "+config.WinesTable)
	return storageErr("drop", err)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return storageErr("ping", p.pool.HealthCheck(ctx))
}

// Analyze refreshes planner statistics for the wine tables.
func (p *Postgres) Analyze(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, "ANALYZE "+config.WinesTable+", "+config.WineSyncsTable)
	return storageErr("analyze", err)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) query(ctx context.Context, op, sql string, args ...any) ([]wine.Record, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, storageErr(op, err)
	}
	out := make([]wine.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := decode(doc)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
	}
	return err
}
