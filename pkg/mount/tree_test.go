package mount

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildCreatesAndCounts(t *testing.T) {
	root := newRoot()
	assert.Equal(t, int64(1), root.counts.loaded.Load())

	src := root.Child("src")
	again := root.Child("src")
	assert.Same(t, src, again)
	assert.Equal(t, int64(2), root.counts.loaded.Load())

	src.Child("main.go")
	assert.Equal(t, int64(3), root.counts.loaded.Load())
}

func TestUnloadChildrenRespectsAge(t *testing.T) {
	root := newRoot()
	stale := root.Child("stale")
	root.Child("fresh")

	// Backdate one leaf past the cutoff.
	stale.mu.Lock()
	stale.lastAccess = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	count := root.UnloadChildren(time.Hour)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(1), root.counts.unloaded.Load())

	// The fresh leaf survived.
	node, ok := root.Lookup("fresh")
	require.True(t, ok)
	node.mu.Lock()
	loaded := node.loaded
	node.mu.Unlock()
	assert.True(t, loaded)
}

func TestUnloadChildrenSkipsMaterialized(t *testing.T) {
	root := newRoot()
	dirty := root.Child("dirty")

	dirty.mu.Lock()
	dirty.materialized = true
	dirty.lastAccess = time.Now().Add(-2 * time.Hour)
	dirty.mu.Unlock()

	assert.Equal(t, 0, root.UnloadChildren(time.Hour))
}

func TestUnloadChildrenNeverUnloadsRoot(t *testing.T) {
	root := newRoot()
	root.mu.Lock()
	root.lastAccess = time.Now().Add(-24 * time.Hour)
	root.mu.Unlock()

	assert.Equal(t, 0, root.UnloadChildren(time.Hour))
	root.mu.Lock()
	loaded := root.loaded
	root.mu.Unlock()
	assert.True(t, loaded)
}

func TestLoadMaterializedMarksPaths(t *testing.T) {
	overlay := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(overlay, "src", "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(overlay, "src", "pkg", "file.go"), []byte("x"), 0644))

	root := newRoot()
	require.NoError(t, root.loadMaterialized(context.Background(), overlay))

	src, ok := root.Lookup("src")
	require.True(t, ok)
	pkg, ok := src.Lookup("pkg")
	require.True(t, ok)
	file, ok := pkg.Lookup("file.go")
	require.True(t, ok)

	assert.True(t, src.Materialized())
	assert.True(t, pkg.Materialized())
	assert.True(t, file.Materialized())
}

func TestReleaseDropsSubtree(t *testing.T) {
	root := newRoot()
	root.Child("a").Child("b")
	root.Child("c")
	require.Equal(t, int64(4), root.counts.loaded.Load())

	root.release()
	assert.Equal(t, int64(0), root.counts.loaded.Load())
	_, ok := root.Lookup("a")
	assert.False(t, ok)
}
