package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcefs/sourcefs/pkg/lockfile"
)

// TestRunShutdownTearsDownEverything drives the daemon through its real
// lifecycle: Prepare, Run, active mounts, Stop. Run must return only after
// every mount is gone and the instance lock is free again.
func TestRunShutdownTearsDownEverything(t *testing.T) {
	dataDir := t.TempDir()

	srv, err := New(Options{
		ConfigPath: filepath.Join(dataDir, "config.yaml"),
		DataDir:    dataDir,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Prepare(context.Background()))

	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(context.Background()) }()

	mountA, clientA := newTestClient(t, "a")
	mountB, clientB := newTestClient(t, "b")
	require.NoError(t, srv.Mount(context.Background(), mountA, clientA))
	require.NoError(t, srv.Mount(context.Background(), mountB, clientB))
	require.Equal(t, 2, srv.mounts.Count())

	srv.Stop()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.Equal(t, 0, srv.mounts.Count())

	// The instance lock was released, so a new owner can take it.
	lock, err := lockfile.Acquire(dataDir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

// TestPrepareRefusesSecondInstance: the data directory is single-owner.
func TestPrepareRefusesSecondInstance(t *testing.T) {
	dataDir := t.TempDir()

	lock, err := lockfile.Acquire(dataDir)
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()

	srv, err := New(Options{
		ConfigPath: filepath.Join(dataDir, "config.yaml"),
		DataDir:    dataDir,
	})
	require.NoError(t, err)

	err = srv.Prepare(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrAlreadyLocked)
}
