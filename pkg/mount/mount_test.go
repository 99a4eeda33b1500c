package mount

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcefs/sourcefs/pkg/config"
	"github.com/sourcefs/sourcefs/pkg/executor"
	"github.com/sourcefs/sourcefs/pkg/stats"
)

func newTestMount(t *testing.T) *Mount {
	t.Helper()
	base := t.TempDir()
	cfg := &config.ClientConfig{
		MountPoint: filepath.Join(base, "mnt"),
		ClientDir:  filepath.Join(base, "client"),
		RepoType:   "null",
	}

	st := stats.New()
	m, err := Create(context.Background(), cfg, nil, st.NewShard())
	require.NoError(t, err)
	return m
}

func TestCreatePreparesDirectories(t *testing.T) {
	m := newTestMount(t)

	info, err := os.Stat(m.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(filepath.Join(m.ClientDir(), "local"))
	assert.NoError(t, err)
}

func TestStartThenCloseSessionResolvesCompletion(t *testing.T) {
	m := newTestMount(t)
	loop := executor.NewEventLoop()
	pool := executor.NewWorkerPool(2)
	defer pool.Close()

	require.NoError(t, m.Start(loop, pool, false))

	select {
	case <-m.CompletionFuture():
		t.Fatal("completion fired before session closed")
	case <-time.After(20 * time.Millisecond):
	}

	m.CloseSession()
	select {
	case err := <-m.CompletionFuture():
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("completion never fired")
	}
}

func TestStartTwiceFails(t *testing.T) {
	m := newTestMount(t)
	loop := executor.NewEventLoop()
	pool := executor.NewWorkerPool(2)
	defer pool.Close()

	require.NoError(t, m.Start(loop, pool, false))
	assert.Error(t, m.Start(loop, pool, false))
	m.CloseSession()
}

func TestStartAfterCloseSessionFails(t *testing.T) {
	m := newTestMount(t)
	loop := executor.NewEventLoop()
	pool := executor.NewWorkerPool(2)
	defer pool.Close()

	m.CloseSession()
	assert.Error(t, m.Start(loop, pool, false))
}

// A session closed before Start still resolves the completion future, so
// the teardown path works for mounts that never served.
func TestCloseSessionWithoutStartResolvesCompletion(t *testing.T) {
	m := newTestMount(t)
	m.CloseSession()
	m.CloseSession() // idempotent

	select {
	case err := <-m.CompletionFuture():
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("completion never fired")
	}
}

func TestCounterNames(t *testing.T) {
	m := newTestMount(t)
	base := filepath.Base(m.Path())

	assert.Equal(t, "inodes."+base+".loaded", m.CounterName(CounterLoaded))
	assert.Equal(t, "inodes."+base+".unloaded", m.CounterName(CounterUnloaded))
}

func TestPerformBindMountsCreatesTargets(t *testing.T) {
	base := t.TempDir()
	cfg := &config.ClientConfig{
		MountPoint: filepath.Join(base, "mnt"),
		ClientDir:  filepath.Join(base, "client"),
		RepoType:   "null",
		BindMounts: []config.BindMountConfig{
			{Source: "/data/shared", Target: "shared/cache"},
		},
	}

	st := stats.New()
	m, err := Create(context.Background(), cfg, nil, st.NewShard())
	require.NoError(t, err)

	require.NoError(t, m.PerformBindMounts())
	info, err := os.Stat(filepath.Join(m.Path(), "shared", "cache"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadMaterializedStateSurvivesEmptyOverlay(t *testing.T) {
	m := newTestMount(t)
	assert.NoError(t, m.LoadMaterializedState(context.Background()))
}

func TestShutdownReleasesTree(t *testing.T) {
	m := newTestMount(t)
	m.Root().Child("src")
	require.Equal(t, int64(2), m.LoadedCount())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, int64(0), m.LoadedCount())
}
