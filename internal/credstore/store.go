// SPDX-License-Identifier: MIT

// Package credstore persists session credentials across restarts. The
// protocol engine hands the bridge opaque credential deltas; losing one can
// force a full re-pairing, so writes are synchronous and durable.
package credstore

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Store is a Badger-backed key-value store for session credentials.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the credential store at the given directory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open credential store at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Put durably saves one credential. It returns only after the write has
// been synced; callers rely on this for event-ordering guarantees.
func (s *Store) Put(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("save credential %s: %w", key, err)
	}
	return nil
}

// Get returns the stored value for key, or (nil, nil) when absent.
func (s *Store) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load credential %s: %w", key, err)
	}
	return out, nil
}

// Snapshot returns a copy of all stored credentials, used for the connect
// handshake with the protocol engine.
func (s *Store) Snapshot() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[string(item.KeyCopy(nil))] = value
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("credential snapshot: %w", err)
	}
	return out, nil
}
