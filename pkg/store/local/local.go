// Package local implements the shared on-disk object cache backed by
// BadgerDB. One cache serves every mount in the process; mounts share cached
// content across repositories because objects are content-addressed.
package local

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/sourcefs/sourcefs/internal/logger"
	"github.com/sourcefs/sourcefs/pkg/store/backing"
)

// Store is the process-wide local object cache.
//
// Thread safety: BadgerDB transactions provide isolation; all methods are
// safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store at %q: %w", path, err)
	}

	logger.Debug("Local object cache opened at %s", path)
	return &Store{db: db}, nil
}

// Get returns the cached content for id. The second return value reports
// whether the object was present.
func (s *Store) Get(id backing.ObjectID) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("local store get %s: %w", id, err)
	}
	return data, true, nil
}

// Put stores content under id, overwriting any previous value.
func (s *Store) Put(id backing.ObjectID, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(id), data)
	})
	if err != nil {
		return fmt.Errorf("local store put %s: %w", id, err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
