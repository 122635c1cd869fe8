// Package store persists wine documents. Two backends implement Store:
// PostgreSQL (JSONB documents, prepared statements) for production and
// SQLite for local runs and tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/db"
	"github.com/legrimoire/grimoire-data/internal/wine"
)

// Store is the persistence boundary for wine records. Implementations are
// safe for concurrent use.
type Store interface {
	// FindByLWIN dispatches on code length: 7, 11 or 18 digits.
	FindByLWIN(ctx context.Context, code string) ([]wine.Record, error)
	// FindByNameProducer matches case-folded name and producer exactly.
	FindByNameProducer(ctx context.Context, name, producer string) ([]wine.Record, error)
	Get(ctx context.Context, id string) (*wine.Record, error)
	// Upsert writes the whole document, assigning an id when it is empty.
	Upsert(ctx context.Context, rec *wine.Record) (string, error)
	Search(ctx context.Context, f Filter) ([]wine.Record, error)
	// ListStale returns records never synced from src, or synced before
	// the cutoff, oldest first.
	ListStale(ctx context.Context, src wine.Source, before time.Time, limit int) ([]wine.Record, error)
	Count(ctx context.Context) (int64, error)
	Drop(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Analyzer is implemented by backends that keep planner statistics.
type Analyzer interface {
	Analyze(ctx context.Context) error
}

// Filter selects records for Search. Empty fields match everything.
type Filter struct {
	Name     string // substring of the effective name
	Region   string
	Country  string
	WineType wine.WineType
	Limit    int
	Offset   int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var (
	ErrNotFound    = errors.New("wine not found")
	ErrConflict    = errors.New("wine conflicts with an existing record")
	ErrInvalidLWIN = errors.New("LWIN code must be 7, 11 or 18 digits")
)

// StorageError wraps a backend failure. Import runs stop on it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Open connects to the backend named by cfg.DatabaseURL and applies the
// schema.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if path, ok := config.SQLitePath(cfg.DatabaseURL); ok {
		logger.Info("opening sqlite store", "path", path)
		return NewSQLite(ctx, path)
	}
	if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, &StorageError{Op: "migrate", Err: err}
	}
	pool, err := db.New(ctx, cfg)
	if err != nil {
		return nil, &StorageError{Op: "connect", Err: err}
	}
	logger.Info("connected to postgres store",
		"max_conns", cfg.DBPoolMaxConns, "min_conns", cfg.DBPoolMinConns)
	return NewPostgres(pool), nil
}

// --------------------------------------------------------------------------
// Shared row mapping
// --------------------------------------------------------------------------

// row holds the indexed columns derived from a record. Identity columns come
// from the stored canonical values; search columns from the effective view
// so admin corrections are searchable.
type row struct {
	ID          string
	LWIN7       *string
	LWIN11      *string
	LWIN18      *string
	NameKey     string
	ProducerKey string
	SearchName  string
	Vintage     *int
	WineType    *string
	Country     *string
	Region      *string
	Doc         []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func prepare(rec *wine.Record, newID func() string) (row, error) {
	if rec.ID == "" {
		rec.ID = newID()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return row{}, fmt.Errorf("encode wine %s: %w", rec.ID, err)
	}
	eff := rec.Effective()
	return row{
		ID:          rec.ID,
		LWIN7:       nilEmpty(rec.LWIN7),
		LWIN11:      nilEmpty(rec.LWIN11),
		LWIN18:      nilEmpty(rec.LWIN18),
		NameKey:     wine.FoldKey(rec.Name),
		ProducerKey: wine.FoldKey(rec.Producer),
		SearchName:  wine.FoldKey(eff.Name),
		Vintage:     rec.Vintage,
		WineType:    nilEmpty(string(eff.WineType)),
		Country:     nilEmpty(wine.FoldKey(eff.Country)),
		Region:      nilEmpty(wine.FoldKey(eff.Region)),
		Doc:         doc,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func decode(doc []byte) (wine.Record, error) {
	var rec wine.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return rec, fmt.Errorf("decode wine document: %w", err)
	}
	return rec, nil
}

// lwinColumn picks the column for a code, rejecting anything that is not
// 7, 11 or 18 digits.
func lwinColumn(code string) (string, error) {
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", ErrInvalidLWIN
		}
	}
	switch len(code) {
	case 7:
		return "lwin7", nil
	case 11:
		return "lwin11", nil
	case 18:
		return "lwin18", nil
	}
	return "", ErrInvalidLWIN
}

// searchQuery builds the Search statement. ph renders the n-th placeholder.
func searchQuery(f Filter, ph func(int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, strings.ReplaceAll(cond, "?", ph(len(args))))
	}
	if f.Name != "" {
		add(`search_name LIKE ? ESCAPE '\'`, "%"+escapeLike(wine.FoldKey(f.Name))+"%")
	}
	if f.Region != "" {
		add("region = ?", wine.FoldKey(f.Region))
	}
	if f.Country != "" {
		add("country = ?", wine.FoldKey(f.Country))
	}
	if f.WineType != "" {
		add("wine_type = ?", string(f.WineType))
	}

	q := "SELECT doc FROM " + config.WinesTable
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit, offset := clampPage(f.Limit, f.Offset)
	args = append(args, limit, offset)
	q += fmt.Sprintf(" ORDER BY search_name, vintage, id LIMIT %s OFFSET %s", ph(len(args)-1), ph(len(args)))
	return q, args
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nilEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
