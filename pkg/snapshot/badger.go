package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Single-byte key prefix; leaves room for other record types later.
const prefixSnapshot = byte(0x01)

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool
}

// BadgerStore persists snapshots in BadgerDB. Safe for concurrent use.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a snapshot store.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Put stores snap under kind.
func (s *BadgerStore) Put(ctx context.Context, kind string, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", kind, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(kind), raw)
	})
	if err != nil {
		return fmt.Errorf("snapshot: put %s: %w", kind, err)
	}
	return nil
}

// Load retrieves the snapshot stored under kind and verifies freshness
// against currentCatalogHash (skipped when empty).
func (s *BadgerStore) Load(ctx context.Context, kind string, currentCatalogHash string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(kind))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, kind)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: load %s: %w", kind, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: decode %s: %w", kind, err)
	}
	if currentCatalogHash != "" && snap.BuiltFromCatalogHash != currentCatalogHash {
		return Snapshot{}, fmt.Errorf("%w: %s stored=%s current=%s",
			ErrStale, kind, snap.BuiltFromCatalogHash, currentCatalogHash)
	}
	return snap, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func snapshotKey(kind string) []byte {
	key := make([]byte, 0, len(kind)+1)
	key = append(key, prefixSnapshot)
	return append(key, kind...)
}
