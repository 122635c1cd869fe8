package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

// sqliteSchema mirrors db/schema.sql. Timestamps are unix nanoseconds and
// the document is stored as JSON text.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS wines (
	id           TEXT PRIMARY KEY,
	lwin7        TEXT,
	lwin11       TEXT,
	lwin18       TEXT,
	name_key     TEXT NOT NULL DEFAULT '',
	producer_key TEXT NOT NULL DEFAULT '',
	search_name  TEXT NOT NULL DEFAULT '',
	vintage      INTEGER,
	wine_type    TEXT,
	country      TEXT,
	region       TEXT,
	doc          TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS wines_lwin11_key ON wines (lwin11) WHERE lwin11 IS NOT NULL;
CREATE INDEX IF NOT EXISTS wines_lwin7_idx ON wines (lwin7);
CREATE INDEX IF NOT EXISTS wines_lwin18_idx ON wines (lwin18);
CREATE INDEX IF NOT EXISTS wines_name_producer_idx ON wines (name_key, producer_key);
CREATE INDEX IF NOT EXISTS wines_country_region_idx ON wines (country, region);

CREATE TABLE IF NOT EXISTS wine_syncs (
	wine_id   TEXT NOT NULL REFERENCES wines (id) ON DELETE CASCADE,
	source    TEXT NOT NULL,
	synced_at INTEGER NOT NULL,
	PRIMARY KEY (wine_id, source)
);
CREATE INDEX IF NOT EXISTS wine_syncs_source_idx ON wine_syncs (source, synced_at);
`

// SQLite is a single-file store backed by modernc.org/sqlite (no cgo).
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens path (":memory:" for a throwaway database) and applies the
// schema.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open sqlite", Err: err}
	}
	// One writer at a time; an in-memory database only exists on its own
	// connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, &StorageError{Op: "open sqlite", Err: err}
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, &StorageError{Op: "apply sqlite schema", Err: err}
	}
	return &SQLite{db: conn}, nil
}

func (s *SQLite) FindByLWIN(ctx context.Context, code string) ([]wine.Record, error) {
	col, err := lwinColumn(code)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, "find by "+col,
		"SELECT doc FROM "+config.WinesTable+" WHERE "+col+" = ? ORDER BY vintage, id", code)
}

func (s *SQLite) FindByNameProducer(ctx context.Context, name, producer string) ([]wine.Record, error) {
	return s.query(ctx, "find by name",
		"SELECT doc FROM "+config.WinesTable+" WHERE name_key = ? AND producer_key = ? ORDER BY vintage, id",
		wine.FoldKey(name), wine.FoldKey(producer))
}

func (s *SQLite) Get(ctx context.Context, id string) (*wine.Record, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM "+config.WinesTable+" WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLite) Upsert(ctx context.Context, rec *wine.Record) (string, error) {
	r, err := prepare(rec, uuid.NewString)
	if err != nil {
		return "", storageErr("upsert", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+config.WinesTable+` (
			id, lwin7, lwin11, lwin18, name_key, producer_key, search_name,
			vintage, wine_type, country, region, doc, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			lwin7 = excluded.lwin7,
			lwin11 = excluded.lwin11,
			lwin18 = excluded.lwin18,
			name_key = excluded.name_key,
			producer_key = excluded.producer_key,
			search_name = excluded.search_name,
			vintage = excluded.vintage,
			wine_type = excluded.wine_type,
			country = excluded.country,
			region = excluded.region,
			doc = excluded.doc,
			updated_at = excluded.updated_at`,
		r.ID, r.LWIN7, r.LWIN11, r.LWIN18, r.NameKey, r.ProducerKey, r.SearchName,
		r.Vintage, r.WineType, r.Country, r.Region, string(r.Doc),
		r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return "", storageErr("upsert", mapSQLiteError(err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+config.WineSyncsTable+" WHERE wine_id = ?", r.ID); err != nil {
		return "", storageErr("upsert syncs", err)
	}
	for src, at := range rec.LastSynced {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO "+config.WineSyncsTable+" (wine_id, source, synced_at) VALUES (?, ?, ?)",
			r.ID, string(src), at.UnixNano())
		if err != nil {
			return "", storageErr("upsert syncs", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", storageErr("commit", mapSQLiteError(err))
	}
	return r.ID, nil
}

func (s *SQLite) Search(ctx context.Context, f Filter) ([]wine.Record, error) {
	q, args := searchQuery(f, func(int) string { return "?" })
	return s.query(ctx, "search", q, args...)
}

func (s *SQLite) ListStale(ctx context.Context, src wine.Source, before time.Time, limit int) ([]wine.Record, error) {
	limit, _ = clampPage(limit, 0)
	return s.query(ctx, "list stale", `
		SELECT w.doc FROM `+config.WinesTable+` w
		LEFT JOIN `+config.WineSyncsTable+` s ON s.wine_id = w.id AND s.source = ?
		WHERE s.synced_at IS NULL OR s.synced_at < ?
		ORDER BY s.synced_at, w.id
		LIMIT ?`,
		string(src), before.UnixNano(), limit)
}

func (s *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+config.WinesTable).Scan(&n); err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

func (s *SQLite) Drop(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+config.WineSyncsTable+"; DELETE FROM "+config.WinesTable)
	return storageErr("drop", err)
}

func (s *SQLite) Ping(ctx context.Context) error {
	return storageErr("ping", s.db.PingContext(ctx))
}

// Analyze refreshes the query planner statistics.
func (s *SQLite) Analyze(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "ANALYZE")
	return storageErr("analyze", err)
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) query(ctx context.Context, op, q string, args ...any) ([]wine.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []wine.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, storageErr(op, err)
		}
		rec, err := decode(doc)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

func mapSQLiteError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %s", ErrConflict, se.Error())
		}
	}
	return err
}
