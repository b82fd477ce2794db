// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/beacon/internal/logging"
)

// BadgerConfig configures the BadgerDB backend.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory keeps all data in RAM. Used by tests and ephemeral runs.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites fsyncs every write. Slower, survives power loss.
	SyncWrites bool `koanf:"sync_writes"`

	// GCDiscardRatio is passed to RunValueLogGC. Default: 0.5
	GCDiscardRatio float64 `koanf:"gc_discard_ratio"`
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		Path:           "./data/beacon",
		SyncWrites:     true,
		GCDiscardRatio: 0.5,
	}
}

// BadgerBackend stores values in an embedded BadgerDB.
type BadgerBackend struct {
	db     *badger.DB
	cfg    BadgerConfig
	ownsDB bool
}

// OpenBadger opens (or creates) a BadgerDB at cfg.Path.
func OpenBadger(cfg BadgerConfig) (*BadgerBackend, error) {
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = 0.5
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	logging.Info().
		Str("component", "store").
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("badger store opened")

	return &BadgerBackend{db: db, cfg: cfg, ownsDB: true}, nil
}

// NewBadgerBackend wraps an already open database. Close leaves db open.
func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db, cfg: BadgerConfig{GCDiscardRatio: 0.5}}
}

// Get implements Backend.
func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %q: %w", key, err)
	}
	return out, nil
}

// Set implements Backend.
func (b *BadgerBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("badger set %q: %w", key, err)
	}
	return nil
}

// Delete implements Backend.
func (b *BadgerBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("badger delete %q: %w", key, err)
	}
	return nil
}

// Keys implements Backend.
func (b *BadgerBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("badger keys %q: %w", prefix, err)
	}
	return keys, nil
}

// RunGC reclaims value log space. It is a no-op for in-memory databases.
func (b *BadgerBackend) RunGC() error {
	if b.cfg.InMemory {
		return nil
	}
	err := b.db.RunValueLogGC(b.cfg.GCDiscardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close implements Backend.
func (b *BadgerBackend) Close() error {
	if !b.ownsDB {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
