// Package badger provides BadgerDB-backed storage for the state core:
// the durable entry backend and the audit sink.
package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

// Backend is a BadgerDB implementation of store.Backend. Each backend
// owns an isolated database instance under its own subdirectory to
// prevent namespace collision and cache pollution.
type Backend struct {
	db *badger.DB
}

// Open opens (or creates) a named BadgerDB instance under baseDir.
func Open(baseDir, name string) (*Backend, error) {
	dbPath := filepath.Join(baseDir, "badger", name)
	if err := os.MkdirAll(dbPath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(nil).                // Disable verbose logging
		WithValueLogFileSize(64 << 20). // 64MB value log
		WithNumVersionsToKeep(1).       // Keep only latest version
		WithCompactL0OnClose(true).     // Compact on close
		WithDetectConflicts(false).     // Versioning handled by the store
		WithNumCompactors(2).           // Background compaction workers
		WithBlockCacheSize(32 << 20).   // 32MB block cache
		WithIndexCacheSize(16 << 20)    // 16MB index cache

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db %s: %w", name, err)
	}

	return &Backend{db: db}, nil
}

// DB exposes the underlying database, e.g. for the audit sink sharing an
// instance.
func (b *Backend) DB() *badger.DB { return b.db }

// Get returns the stored bytes for a key.
func (b *Backend) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, WrapError(err)
	}
	return value, true, nil
}

// Set stores bytes under a key.
func (b *Backend) Set(key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return WrapError(err)
}

// Delete removes a key. Deleting a missing key is not an error.
func (b *Backend) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return WrapError(err)
}

// Keys lists stored keys with the given prefix.
func (b *Backend) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, WrapError(err)
	}
	return keys, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return WrapError(b.db.Close())
}

// RunGC runs value log garbage collection until no more space can be
// reclaimed. discardRatio 0.5 is a reasonable default.
func (b *Backend) RunGC(discardRatio float64) error {
	for {
		err := b.db.RunValueLogGC(discardRatio)
		if err == badger.ErrNoRewrite {
			return nil // No more GC needed
		}
		if err != nil {
			return fmt.Errorf("GC failed: %w", err)
		}
	}
}

// Size returns the LSM and value log sizes in bytes.
func (b *Backend) Size() (lsm, vlog int64) {
	return b.db.Size()
}
