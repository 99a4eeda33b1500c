package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, runtime.NumCPU(), cfg.Control.Workers)
	assert.Equal(t, 5*time.Second, cfg.Control.QueueTimeout)
	assert.Equal(t, 12, cfg.Workers.Count)
	assert.Equal(t, int64(0), cfg.Unload.IntervalHours)
	assert.Equal(t, int64(10), cfg.Unload.StartDelayMinutes)
	assert.Equal(t, int64(60), cfg.Unload.AgeMinutes)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadMissingExplicitFileIsNotFatal(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
logging:
  level: debug
control:
  workers: 3
  max_connections: 10
  min_compress_bytes: 2048
unload:
  interval_hours: 8
  age_minutes: 120
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Control.Workers)
	assert.Equal(t, 10, cfg.Control.MaxConnections)
	assert.Equal(t, 2048, cfg.Control.MinCompressBytes)
	assert.Equal(t, int64(8), cfg.Unload.IntervalHours)
	assert.Equal(t, int64(120), cfg.Unload.AgeMinutes)
	// Unset sections still get defaults.
	assert.Equal(t, 12, cfg.Workers.Count)
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "logging: [not: valid")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadLevel(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
logging:
  level: verbose
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateQueueTimeoutRule(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Control.QueueTimeoutEnabled = true
	cfg.Control.QueueTimeout = -time.Second
	assert.Error(t, Validate(cfg))

	cfg.Control.QueueTimeout = time.Second
	assert.NoError(t, Validate(cfg))
}

func TestValidateRateLimitRule(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Control.RequestsPerSecond = 100
	cfg.Control.Burst = 0
	assert.Error(t, Validate(cfg))

	cfg.Control.Burst = 200
	assert.NoError(t, Validate(cfg))
}

func TestLoadClientConfig(t *testing.T) {
	clientDir := t.TempDir()
	writeFile(t, clientDir, "config.yaml", `
repository:
  type: hg
  source: /data/repos/main
bind_mounts:
  - source: /data/shared
    target: shared
`)

	cfg, err := LoadClientConfig("/mnt/main", clientDir, nil)
	require.NoError(t, err)

	assert.Equal(t, "/mnt/main", cfg.MountPoint)
	assert.Equal(t, clientDir, cfg.ClientDir)
	assert.Equal(t, "hg", cfg.RepoType)
	assert.Equal(t, "/data/repos/main", cfg.RepoSource)
	require.Len(t, cfg.BindMounts, 1)
	assert.Equal(t, "/data/shared", cfg.BindMounts[0].Source)
	assert.Equal(t, "shared", cfg.BindMounts[0].Target)
}

func TestLoadClientConfigRequiresRepository(t *testing.T) {
	clientDir := t.TempDir()
	writeFile(t, clientDir, "config.yaml", "bind_mounts: []\n")

	_, err := LoadClientConfig("/mnt/main", clientDir, nil)
	assert.Error(t, err)
}

func TestClientDirectoryMapRoundTrip(t *testing.T) {
	dataDir := t.TempDir()

	// Mount paths are case-sensitive; the persisted map must keep them
	// byte-exact.
	dirs := map[string]string{
		"/Users/Dev/FBSource": "fbsource",
		"/users/dev/fbsource": "fbsource-lower",
	}
	require.NoError(t, SaveClientDirectoryMap(dataDir, dirs))

	loaded, err := LoadClientDirectoryMap(dataDir)
	require.NoError(t, err)
	assert.Equal(t, dirs, loaded)
}

// Concurrent saves stage through distinct temp files; whichever rename wins,
// the published file is always one writer's complete snapshot.
func TestClientDirectoryMapConcurrentSaves(t *testing.T) {
	dataDir := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			dirs := map[string]string{
				"/mnt/a": fmt.Sprintf("client-a-%d", i),
				"/mnt/b": fmt.Sprintf("client-b-%d", i),
			}
			assert.NoError(t, SaveClientDirectoryMap(dataDir, dirs))
		}()
	}
	wg.Wait()

	loaded, err := LoadClientDirectoryMap(dataDir)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, strings.TrimPrefix(loaded["/mnt/a"], "client-a-"),
		strings.TrimPrefix(loaded["/mnt/b"], "client-b-"))
}

func TestClientDirectoryMapMissingFile(t *testing.T) {
	loaded, err := LoadClientDirectoryMap(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestClientDirPath(t *testing.T) {
	assert.Equal(t, "/data/clients/main", ClientDirPath("/data", "main"))
	assert.Equal(t, "/srv/clients/main", ClientDirPath("/data", "/srv/clients/main"))
}
