package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcefs/sourcefs/internal/logger"
	"github.com/sourcefs/sourcefs/pkg/config"
	"github.com/sourcefs/sourcefs/pkg/mount"
	"github.com/sourcefs/sourcefs/pkg/registry"
	"github.com/sourcefs/sourcefs/pkg/store/object"
)

// Mount attaches the working copy described by clientDir at mountPoint.
//
// The sequence is deliberately ordered so that every failure mode leaves the
// daemon consistent: nothing registers until construction has succeeded, and
// any failure after registration funnels through the same teardown path an
// unmount would take.
func (s *Server) Mount(ctx context.Context, mountPoint, clientDir string) error {
	if s.ShuttingDown() {
		return fmt.Errorf("cannot mount %q: server is shutting down", mountPoint)
	}

	// Service configuration is reloaded from disk for every attempt, so
	// config edits apply to new mounts without a daemon restart.
	cfg, err := config.Load(s.opts.ConfigPath)
	if err != nil {
		return &ConfigLoadError{Path: s.opts.ConfigPath, Err: err}
	}

	clientCfg, err := config.LoadClientConfig(mountPoint, clientDir, cfg)
	if err != nil {
		return &ConfigLoadError{Path: clientDir, Err: err}
	}

	// Backing stores are shared: two clients of the same repository get the
	// same instance, created at most once.
	backingStore, err := s.stores.GetOrCreate(ctx, clientCfg.RepoType, clientCfg.RepoSource)
	if err != nil {
		return fmt.Errorf("failed to get backing store for %q: %w", mountPoint, err)
	}

	objects := object.New(s.local, backingStore)

	// Construction can block on storage, so it runs on the worker pool, not
	// on the caller's goroutine and never on the event loop.
	type createResult struct {
		mount *mount.Mount
		err   error
	}
	created := make(chan createResult, 1)
	s.pool.Submit(func() {
		m, err := mount.Create(ctx, clientCfg, objects, s.statsShard)
		created <- createResult{mount: m, err: err}
	})

	var m *mount.Mount
	select {
	case res := <-created:
		if res.err != nil {
			return fmt.Errorf("failed to create mount %q: %w", mountPoint, res.err)
		}
		m = res.mount
	case <-ctx.Done():
		return ctx.Err()
	}

	// Materialized state is loaded before the mount becomes externally
	// visible. It is an optimization; a mount without it just refetches
	// lazily, so load failures are logged and swallowed.
	if err := m.LoadMaterializedState(ctx); err != nil {
		logger.Warn("Failed to load materialized state for %s: %v", mountPoint, err)
	}

	// Registration is the commit point for duplicate detection: the
	// existence check and the insert are one atomic step, so of two racing
	// attempts for the same path exactly one proceeds past here.
	entry := &registry.MountEntry{
		Mount:     m,
		Unmounted: registry.NewSignal(),
	}
	if err := s.mounts.Add(mountPoint, entry); err != nil {
		return err
	}

	if err := m.Start(s.loop, s.pool, cfg.Debug); err != nil {
		// The mount is registered but never served. Tear it down through
		// the normal path so the registry and counters stay consistent.
		m.CloseSession()
		s.watchCompletion(mountPoint, entry)
		return fmt.Errorf("failed to start mount %q: %w", mountPoint, err)
	}

	s.registerMountStats(m)
	s.watchCompletion(mountPoint, entry)

	// Post-start setup happens on the worker pool, off the caller's
	// goroutine; the mount call still completes only after it finishes.
	postSetup := make(chan struct{})
	s.pool.Submit(func() {
		defer close(postSetup)
		if err := m.PerformBindMounts(); err != nil {
			logger.Warn("Bind mount setup for %s failed: %v", mountPoint, err)
		}
		if err := m.PerformPostSetup(); err != nil {
			logger.Warn("Post-setup for %s failed: %v", mountPoint, err)
		}
	})
	select {
	case <-postSetup:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.persistMountTable()
	s.statsShard.Bump("mounts.attached", 1)
	logger.Info("Mounted %s (type %s, source %s)", mountPoint, clientCfg.RepoType, clientCfg.RepoSource)
	return nil
}

// persistMountTable rewrites the on-disk client directory map from the
// registry, so a daemon restart re-establishes the same mounts. Failures
// are logged; the in-memory state stays authoritative for this run.
func (s *Server) persistMountTable() {
	dirs := make(map[string]string)
	for _, se := range s.mounts.Snapshot() {
		dirs[se.Path] = se.Entry.Mount.ClientDir()
	}
	if err := config.SaveClientDirectoryMap(s.opts.DataDir, dirs); err != nil {
		logger.Error("Failed to persist mount table: %v", err)
	}
}

// Unmount detaches the working copy at mountPoint and waits for its
// teardown to complete.
//
// The privileged detach happens first; if it fails the mount remains
// registered and serving, and the caller gets an UnmountError. After a
// successful detach the serving session is closed and teardown proceeds
// through mountFinished.
func (s *Server) Unmount(ctx context.Context, mountPoint string) error {
	entry, ok := s.mounts.Lookup(mountPoint)
	if !ok {
		return fmt.Errorf("mount point %q: %w", mountPoint, registry.ErrUnknownMount)
	}

	if err := s.helper.Unmount(mountPoint); err != nil {
		return &UnmountError{Path: mountPoint, Err: err}
	}

	// The kernel has let go; closing the session makes the serving task
	// resolve the completion future, which drives mountFinished.
	entry.Mount.CloseSession()

	return entry.Unmounted.Wait(ctx)
}

// watchCompletion arranges for mountFinished to run when the mount's
// serving workers complete, however that happens.
func (s *Server) watchCompletion(mountPoint string, entry *registry.MountEntry) {
	go func() {
		serveErr := <-entry.Mount.CompletionFuture()
		if serveErr != nil {
			logger.Error("Mount %s serving failed: %v", mountPoint, serveErr)
		}
		s.mountFinished(mountPoint, entry, serveErr)
	}()
}

// mountFinished is the single teardown path for a mount. It runs exactly
// once per mount, after serving has completed: unregisters the per-mount
// counters, removes the registry entry, releases the mount's internal state
// on the worker pool, and finally resolves the unmount signal from the main
// loop.
//
// Resolving from the loop is what the shutdown drain relies on: it advances
// the loop by hand until every signal is ready, so the resolution must
// arrive as loop work.
func (s *Server) mountFinished(mountPoint string, entry *registry.MountEntry, serveErr error) {
	s.unregisterMountStats(entry.Mount)

	// Remove panics if the path is absent; reaching here twice for one
	// mount is a lifecycle bug, not a recoverable condition.
	removed := s.mounts.Remove(mountPoint)
	if removed != entry {
		panic(fmt.Sprintf("mount registry entry for %q changed during teardown", mountPoint))
	}

	// Explicit unmounts drop the path from the persisted table. Shutdown
	// teardown keeps it, so the next daemon run brings the mount back.
	if !s.ShuttingDown() {
		s.persistMountTable()
	}

	s.pool.Submit(func() {
		err := serveErr
		if shutdownErr := entry.Mount.Shutdown(context.Background()); shutdownErr != nil {
			logger.Error("Mount %s shutdown failed: %v", mountPoint, shutdownErr)
			if err == nil {
				err = shutdownErr
			}
		}

		s.statsShard.Bump("mounts.detached", 1)
		s.loop.Schedule(func() {
			if !entry.Unmounted.Resolve(err) {
				panic(fmt.Sprintf("unmount signal for %q resolved twice", mountPoint))
			}
			logger.Info("Unmounted %s", mountPoint)
		})
	})
}

// UnmountAll detaches every registered mount concurrently and returns a
// signal that resolves once all of them have settled. Individual failures
// do not stop the others; the signal carries the first error in mount-path
// order, decided only after every mount has either torn down or refused.
func (s *Server) UnmountAll() *registry.Signal {
	done := registry.NewSignal()
	snapshot := s.mounts.Snapshot()
	if len(snapshot) == 0 {
		done.Resolve(nil)
		return done
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Path < snapshot[j].Path
	})

	logger.Info("Unmounting %d mounts", len(snapshot))

	errs := make([]error, len(snapshot))
	var wg sync.WaitGroup
	for i, se := range snapshot {
		wg.Add(1)
		go func(i int, path string, entry *registry.MountEntry) {
			defer wg.Done()
			if err := s.helper.Unmount(path); err != nil {
				errs[i] = &UnmountError{Path: path, Err: err}
				return
			}
			entry.Mount.CloseSession()
			<-entry.Unmounted.Done()
			errs[i] = entry.Unmounted.Err()
		}(i, se.Path, se.Entry)
	}

	go func() {
		wg.Wait()
		var firstErr error
		for _, err := range errs {
			if err != nil {
				firstErr = err
				break
			}
		}
		done.Resolve(firstErr)
	}()
	return done
}

// registerMountStats exposes the mount's loaded/unloaded node counts as
// callback counters, sampled at scrape time.
func (s *Server) registerMountStats(m *mount.Mount) {
	s.counters.RegisterCallback(m.CounterName(mount.CounterLoaded), func() float64 {
		return float64(m.LoadedCount())
	})
	s.counters.RegisterCallback(m.CounterName(mount.CounterUnloaded), func() float64 {
		return float64(m.UnloadedCount())
	})
}

func (s *Server) unregisterMountStats(m *mount.Mount) {
	s.counters.UnregisterCallback(m.CounterName(mount.CounterLoaded))
	s.counters.UnregisterCallback(m.CounterName(mount.CounterUnloaded))
}

// waitForMount blocks until the path has no registry entry, bounded by ctx.
// Used by tests to observe teardown completion.
func (s *Server) waitForMount(ctx context.Context, mountPoint string) error {
	for {
		if _, ok := s.mounts.Lookup(mountPoint); !ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}
