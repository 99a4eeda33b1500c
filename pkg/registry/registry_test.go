package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcefs/sourcefs/pkg/mount"
)

func testEntry() *MountEntry {
	// The registry never dereferences the mount, so a zero value is enough
	// to exercise registration semantics.
	return &MountEntry{
		Mount:     &mount.Mount{},
		Unmounted: NewSignal(),
	}
}

func TestAddAndLookup(t *testing.T) {
	r := NewMountRegistry()
	entry := testEntry()

	require.NoError(t, r.Add("/mnt/repo", entry))

	got, ok := r.Lookup("/mnt/repo")
	require.True(t, ok)
	assert.Same(t, entry, got)

	_, ok = r.Lookup("/mnt/other")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestAddDuplicate(t *testing.T) {
	r := NewMountRegistry()
	require.NoError(t, r.Add("/mnt/repo", testEntry()))

	err := r.Add("/mnt/repo", testEntry())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateMount)
}

// TestConcurrentAddOneWinner checks the core mount-race guarantee: many
// concurrent registrations for the same path produce exactly one winner and
// the rest observe the duplicate error.
func TestConcurrentAddOneWinner(t *testing.T) {
	r := NewMountRegistry()

	const racers = 32
	var wg sync.WaitGroup
	errs := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Add("/mnt/contended", testEntry())
		}()
	}
	wg.Wait()
	close(errs)

	winners := 0
	for err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateMount)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, r.Count())
}

func TestRemoveReturnsEntry(t *testing.T) {
	r := NewMountRegistry()
	entry := testEntry()
	require.NoError(t, r.Add("/mnt/repo", entry))

	removed := r.Remove("/mnt/repo")
	assert.Same(t, entry, removed)
	assert.Equal(t, 0, r.Count())

	// The path is free again after removal.
	require.NoError(t, r.Add("/mnt/repo", testEntry()))
}

func TestRemoveUnknownPanics(t *testing.T) {
	r := NewMountRegistry()
	assert.Panics(t, func() {
		r.Remove("/mnt/never-mounted")
	})
}

func TestSnapshotIsStable(t *testing.T) {
	r := NewMountRegistry()
	require.NoError(t, r.Add("/mnt/a", testEntry()))
	require.NoError(t, r.Add("/mnt/b", testEntry()))

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)

	// Mutating the registry after the snapshot does not affect it.
	r.Remove("/mnt/a")
	assert.Len(t, snapshot, 2)
	assert.Equal(t, 1, r.Count())

	paths := r.Paths()
	assert.Equal(t, []string{"/mnt/b"}, paths)
}
