package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ProgressTracker persists the checkpoint of an import so an interrupted
// run can resume.
type ProgressTracker interface {
	Save(ctx context.Context, stats *ImportStats) error
	// Load returns nil, nil when nothing was saved.
	Load(ctx context.Context) (*ImportStats, error)
	Clear(ctx context.Context) error
}

// ProgressKey returns the checkpoint key for one input.
func ProgressKey(input string) string {
	return "import:progress:" + input
}

// BadgerProgress stores checkpoints in a BadgerDB directory.
type BadgerProgress struct {
	db  *badger.DB
	key []byte
}

// OpenBadger opens (or creates) the checkpoint database in dir.
func OpenBadger(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db %s: %w", dir, err)
	}
	return db, nil
}

// NewBadgerProgress tracks the checkpoint stored under key.
func NewBadgerProgress(db *badger.DB, key string) *BadgerProgress {
	return &BadgerProgress{db: db, key: []byte(key)}
}

func (p *BadgerProgress) Save(_ context.Context, stats *ImportStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(p.key, data)
	})
}

func (p *BadgerProgress) Load(_ context.Context) (*ImportStats, error) {
	var stats *ImportStats
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(p.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			stats = &ImportStats{}
			return json.Unmarshal(val, stats)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return stats, nil
}

func (p *BadgerProgress) Clear(_ context.Context) error {
	return p.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(p.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// InMemoryProgress keeps the checkpoint in memory. Used in tests and when
// no checkpoint directory is configured.
type InMemoryProgress struct {
	mu    sync.Mutex
	stats *ImportStats
}

func NewInMemoryProgress() *InMemoryProgress {
	return &InMemoryProgress{}
}

func (p *InMemoryProgress) Save(_ context.Context, stats *ImportStats) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = stats.clone()
	return nil
}

func (p *InMemoryProgress) Load(_ context.Context) (*ImportStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stats == nil {
		return nil, nil
	}
	return p.stats.clone(), nil
}

func (p *InMemoryProgress) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = nil
	return nil
}
