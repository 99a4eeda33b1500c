package backing

import (
	"context"
	"sync"

	"github.com/sourcefs/sourcefs/internal/logger"
)

// Key identifies a shared backing-store instance.
type Key struct {
	Type   string
	Source string
}

// Registry caches backing-store instances by (type, source) key.
//
// At most one instance exists per key for the lifetime of the process, and
// instances are never evicted: a backing store may hold expensive local state
// whose reuse across mounts of the same repository is the entire point of the
// cache. The registry itself counts as an owner, so an instance survives
// transient periods with no mounts referencing it.
//
// There is deliberately no eviction policy; for long-running processes
// touching many distinct repositories this trades memory for reuse.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	stores  map[Key]Store
}

// NewRegistry creates an empty registry using factory to construct instances.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		stores:  make(map[Key]Store),
	}
}

// GetOrCreate returns the shared instance for (typ, source), constructing it
// on first use. Construction and cache insertion happen under one critical
// section: two concurrent requests for the same key never construct duplicate
// instances; the second caller observes the first caller's result.
func (r *Registry) GetOrCreate(ctx context.Context, typ, source string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{Type: typ, Source: source}
	if store, ok := r.stores[key]; ok {
		return store, nil
	}

	store, err := r.factory(ctx, typ, source)
	if err != nil {
		return nil, err
	}

	logger.Debug("Created backing store: type=%s source=%s", typ, store.Source())
	r.stores[key] = store
	return store, nil
}

// Count returns the number of cached instances.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
