// Package registry tracks the set of active mounts.
//
// The registry is the single source of truth for which mount paths are live:
// a path is present if and only if its mount is active or mid-teardown. Paths
// are inserted only after the kernel-level mount has been established, and
// removed exactly once, by the mount-finished teardown path.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sourcefs/sourcefs/pkg/mount"
)

var (
	// ErrDuplicateMount is returned by Add when the path is already registered.
	ErrDuplicateMount = errors.New("mount point is already mounted")

	// ErrUnknownMount is returned when a path is not known to this instance.
	ErrUnknownMount = errors.New("mount point is not known to this instance")
)

// MountEntry pairs an active mount with its unmount completion signal.
//
// The Mount handle is shared between the registry and any in-flight
// asynchronous continuations; it stays alive until all of them complete.
// Unmounted is resolved exactly once, when the mount has fully shut down.
type MountEntry struct {
	Mount     *mount.Mount
	Unmounted *Signal
}

// SnapshotEntry is one (path, entry) pair from a point-in-time snapshot.
type SnapshotEntry struct {
	Path  string
	Entry *MountEntry
}

// MountRegistry maps mount paths to their entries.
//
// Concurrency discipline: a single RWMutex guards the map. No method calls
// into mount internals or blocks while holding the lock; callers that need to
// iterate concurrently with mutation use Snapshot and release the lock first.
type MountRegistry struct {
	mu     sync.RWMutex
	mounts map[string]*MountEntry
}

// NewMountRegistry creates an empty registry.
func NewMountRegistry() *MountRegistry {
	return &MountRegistry{
		mounts: make(map[string]*MountEntry),
	}
}

// Add inserts an entry for path. The existence check and the insert happen
// under one critical section, so two racing Add calls for the same path
// resolve to exactly one winner; the loser gets ErrDuplicateMount.
func (r *MountRegistry) Add(path string, entry *MountEntry) error {
	if entry == nil || entry.Mount == nil {
		panic("cannot register nil mount entry")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mounts[path]; exists {
		return fmt.Errorf("mount point %q: %w", path, ErrDuplicateMount)
	}

	r.mounts[path] = entry
	return nil
}

// Remove deletes and returns the entry for path.
//
// A missing path is a programming error: Remove is only ever called from the
// mount-finished path, which runs at most once per mount.
func (r *MountRegistry) Remove(path string) *MountEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.mounts[path]
	if !exists {
		panic(fmt.Sprintf("registry: remove of unregistered mount point %q", path))
	}

	delete(r.mounts, path)
	return entry
}

// Lookup returns the entry for path, or false if the path is not registered.
// Never blocks on mount-internal state.
func (r *MountRegistry) Lookup(path string) (*MountEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.mounts[path]
	return entry, exists
}

// Snapshot returns a point-in-time copy of all (path, entry) pairs.
// The returned slice is safe to iterate without holding the registry lock.
func (r *MountRegistry) Snapshot() []SnapshotEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]SnapshotEntry, 0, len(r.mounts))
	for path, entry := range r.mounts {
		entries = append(entries, SnapshotEntry{Path: path, Entry: entry})
	}
	return entries
}

// Paths returns the currently registered mount paths.
// The returned slice is a copy and safe to modify.
func (r *MountRegistry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.mounts))
	for path := range r.mounts {
		paths = append(paths, path)
	}
	return paths
}

// Count returns the number of registered mounts.
func (r *MountRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mounts)
}
