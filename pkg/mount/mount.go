// Package mount implements the runtime object for one active working-copy
// mount. The control plane drives its lifecycle; the kernel-facing serving
// machinery lives behind the session boundary.
package mount

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/sourcefs/sourcefs/internal/logger"
	"github.com/sourcefs/sourcefs/pkg/config"
	"github.com/sourcefs/sourcefs/pkg/executor"
	"github.com/sourcefs/sourcefs/pkg/stats"
	"github.com/sourcefs/sourcefs/pkg/store/object"
)

// CounterKind selects one of the per-mount observability counters.
type CounterKind int

const (
	CounterLoaded CounterKind = iota
	CounterUnloaded
)

// Mount is one active virtual-filesystem view rooted at a host path.
//
// Ownership is shared between the mount registry and any in-flight
// asynchronous continuations; the handle stays valid until all of them
// complete and Shutdown has run.
type Mount struct {
	config  *config.ClientConfig
	objects *object.Store
	stats   *stats.Shard
	root    *TreeNode

	// session represents the kernel-level serving channel. It is closed
	// when the kernel detaches the mount; the serving task observes the
	// closure and resolves the completion future.
	session     chan struct{}
	sessionOnce sync.Once

	completion chan error

	mu      sync.Mutex
	started bool
}

// Create constructs the runtime object for a mount. It prepares the client's
// overlay directory and the in-memory resource tree; it may suspend on local
// storage I/O and is expected to be called off the event loop.
func Create(ctx context.Context, cfg *config.ClientConfig, objects *object.Store, statShard *stats.Shard) (*Mount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.MountPoint, 0755); err != nil {
		return nil, fmt.Errorf("failed to prepare mount point %q: %w", cfg.MountPoint, err)
	}
	if err := os.MkdirAll(overlayDir(cfg.ClientDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to prepare overlay directory: %w", err)
	}

	m := &Mount{
		config:     cfg,
		objects:    objects,
		stats:      statShard,
		root:       newRoot(),
		session:    make(chan struct{}),
		completion: make(chan error, 1),
	}

	statShard.Bump("mounts.created", 1)
	return m, nil
}

// Path returns the mount path.
func (m *Mount) Path() string {
	return m.config.MountPoint
}

// ClientDir returns the client state directory backing this mount.
func (m *Mount) ClientDir() string {
	return m.config.ClientDir
}

// ObjectStore returns the object-store facade scoped to this mount.
func (m *Mount) ObjectStore() *object.Store {
	return m.objects
}

// Root returns the root node of the mount's resource tree.
func (m *Mount) Root() *TreeNode {
	return m.root
}

// LoadMaterializedState loads previously materialized (locally modified)
// file state from the overlay directory into the in-memory tree. The mount
// works without it, at the cost of lazier first accesses, which is why the
// caller treats a failure here as non-fatal.
func (m *Mount) LoadMaterializedState(ctx context.Context) error {
	return m.root.loadMaterialized(ctx, overlayDir(m.config.ClientDir))
}

// Start launches the filesystem serving workers for this mount on the shared
// worker pool. The completion future resolves once serving ends, whether by
// unmount or by teardown of the session.
func (m *Mount) Start(loop *executor.EventLoop, pool *executor.WorkerPool, debug bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("mount %q: workers already started", m.Path())
	}

	select {
	case <-m.session:
		return fmt.Errorf("mount %q: session closed before workers started", m.Path())
	default:
	}

	if debug {
		logger.Info("Mount %s serving in debug mode", m.Path())
	}

	// The session watcher gets its own goroutine rather than a pool slot:
	// it parks for the mount's whole lifetime, and a parked pool worker
	// per mount would starve the pool for actual work.
	m.started = true
	go func() {
		<-m.session
		m.stats.Bump("mounts.stopped", 1)
		m.completion <- nil
	}()
	return nil
}

// CompletionFuture returns a channel that yields exactly one value when
// filesystem serving for this mount has completed.
func (m *Mount) CompletionFuture() <-chan error {
	return m.completion
}

// CloseSession marks the kernel session as detached. Idempotent; called by
// the platform glue once the privileged unmount has taken effect.
func (m *Mount) CloseSession() {
	m.sessionOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		close(m.session)
		// If the serving workers never started there is no watcher to
		// observe the closure, so the completion future fires here.
		if !m.started {
			m.completion <- nil
		}
	})
}

// Shutdown releases the mount's remaining internal state. Called exactly
// once, from the mount-finished teardown path.
func (m *Mount) Shutdown(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.root.release()
	logger.Debug("Mount %s internal state released", m.Path())
	return nil
}

// LoadedCount returns the number of resource-tree nodes currently loaded.
func (m *Mount) LoadedCount() int64 {
	return m.root.counts.loaded.Load()
}

// UnloadedCount returns the number of nodes unloaded over the mount's life.
func (m *Mount) UnloadedCount() int64 {
	return m.root.counts.unloaded.Load()
}

// CounterName returns the observability counter key for this mount.
func (m *Mount) CounterName(kind CounterKind) string {
	base := filepath.Base(m.Path())
	switch kind {
	case CounterLoaded:
		return fmt.Sprintf("inodes.%s.loaded", base)
	case CounterUnloaded:
		return fmt.Sprintf("inodes.%s.unloaded", base)
	default:
		panic(fmt.Sprintf("unknown counter kind %d", kind))
	}
}

// PerformBindMounts prepares the auxiliary mounts configured for this
// client. Target directories are created here; the privileged attach itself
// is the helper's concern.
func (m *Mount) PerformBindMounts() error {
	for _, bind := range m.config.BindMounts {
		target := filepath.Join(m.Path(), bind.Target)
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("failed to prepare bind mount target %q: %w", target, err)
		}
		logger.Debug("Prepared bind mount %s -> %s", bind.Source, target)
	}
	return nil
}

// PerformPostSetup runs the client's post-setup hook, if one exists.
func (m *Mount) PerformPostSetup() error {
	hook := filepath.Join(m.config.ClientDir, "hooks", "post-setup")
	info, err := os.Stat(hook)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat post-setup hook: %w", err)
	}
	if info.Mode()&0111 == 0 {
		logger.Warn("Post-setup hook %s is not executable, skipping", hook)
		return nil
	}

	cmd := exec.Command(hook)
	cmd.Dir = m.Path()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("post-setup hook failed: %w (output: %s)", err, out)
	}
	return nil
}

func overlayDir(clientDir string) string {
	return filepath.Join(clientDir, "local")
}
