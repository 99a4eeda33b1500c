// Package object provides the per-mount object-store facade: the shared
// local cache fronted onto one backing store, resolving content by identity.
package object

import (
	"context"

	"github.com/sourcefs/sourcefs/internal/logger"
	"github.com/sourcefs/sourcefs/pkg/store/backing"
	"github.com/sourcefs/sourcefs/pkg/store/local"
)

// Store resolves content by ID, consulting the local cache before the
// backing repository and writing fetched content through to the cache.
//
// One Store is created per mount, but the local cache and the backing store
// behind it are both shared process-wide.
type Store struct {
	local   *local.Store
	backing backing.Store
}

// New creates a facade over the shared cache and the mount's backing store.
func New(localStore *local.Store, backingStore backing.Store) *Store {
	return &Store{
		local:   localStore,
		backing: backingStore,
	}
}

// Backing returns the backing store behind this facade.
func (s *Store) Backing() backing.Store {
	return s.backing
}

// Get returns the content for id, fetching from the backing store on a
// cache miss. A failed cache write-through degrades performance only, so it
// is logged and swallowed.
func (s *Store) Get(ctx context.Context, id backing.ObjectID) ([]byte, error) {
	data, ok, err := s.local.Get(id)
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}

	data, err = s.backing.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.local.Put(id, data); err != nil {
		logger.Warn("Failed to cache object %s: %v", id, err)
	}
	return data, nil
}
