// Package server implements the sourcefs daemon core: the orchestrator that
// owns the mount registry, the backing-store registry, the schedulers, and
// the shutdown sequence.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sourcefs/sourcefs/internal/logger"
	ctlserver "github.com/sourcefs/sourcefs/internal/server"
	"github.com/sourcefs/sourcefs/pkg/config"
	"github.com/sourcefs/sourcefs/pkg/executor"
	"github.com/sourcefs/sourcefs/pkg/lockfile"
	"github.com/sourcefs/sourcefs/pkg/metrics"
	"github.com/sourcefs/sourcefs/pkg/privhelper"
	"github.com/sourcefs/sourcefs/pkg/registry"
	"github.com/sourcefs/sourcefs/pkg/stats"
	"github.com/sourcefs/sourcefs/pkg/store/backing"
	"github.com/sourcefs/sourcefs/pkg/store/local"
)

// statsFlushInterval is how often shard-local statistics are folded into
// the aggregated view.
const statsFlushInterval = time.Second

// Options configures a Server.
type Options struct {
	// ConfigPath is the service configuration file. It is re-read for
	// every mount attempt, so edits apply without a restart.
	ConfigPath string

	// DataDir is the daemon state directory: instance lock, default
	// control socket, local object cache, and client directories.
	DataDir string

	// HelperPath is the privileged helper binary. Empty runs without a
	// helper process; unmounts then succeed without touching the kernel.
	HelperPath string
}

// Server is the sourcefs daemon.
//
// Lifecycle:
//  1. New() with options
//  2. Prepare() acquires the instance lock and brings up subsystems
//  3. Run() drives the main event loop until Stop() or a signal
//  4. Run() returns only after every mount is torn down and the
//     privileged helper has exited
//
// Thread safety: all exported methods are safe for concurrent use once
// Prepare has returned.
type Server struct {
	opts Options
	cfg  *config.Config

	lock   *lockfile.Lock
	loop   *executor.EventLoop
	pool   *executor.WorkerPool
	mounts *registry.MountRegistry
	stores *backing.Registry
	local  *local.Store

	stats      *stats.Stats
	statsShard *stats.Shard
	counters   *metrics.ServiceCounters
	helper     privhelper.Client

	control    *ctlserver.Server
	metricsSrv *metrics.Server

	startTime time.Time

	mu           sync.Mutex
	prepared     bool
	shuttingDown bool

	stopMetrics context.CancelFunc
	signalCh    chan os.Signal
}

// New creates a Server. Nothing is started until Prepare.
func New(opts Options) (*Server, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &ConfigLoadError{Path: opts.ConfigPath, Err: err}
	}

	return &Server{
		opts:   opts,
		cfg:    cfg,
		loop:   executor.NewEventLoop(),
		mounts: registry.NewMountRegistry(),
		stats:  stats.New(),
	}, nil
}

// Config returns the service configuration loaded at startup. Mount
// attempts reload from disk and do not update this snapshot.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// MountRegistry exposes the mount registry, for status commands and tests.
func (s *Server) MountRegistry() *registry.MountRegistry {
	return s.mounts
}

// BackingStoreRegistry exposes the backing-store registry.
func (s *Server) BackingStoreRegistry() *backing.Registry {
	return s.stores
}

// Prepare acquires the instance lock and brings up every subsystem: the
// worker pool, the local object cache, the privileged helper, the control
// server, metrics, and the recurring jobs. It finishes by replaying the
// persisted client directory map, remounting each previously known mount.
//
// Failure to acquire the lock means another daemon owns the data directory
// and is fatal.
func (s *Server) Prepare(ctx context.Context) error {
	s.mu.Lock()
	if s.prepared {
		s.mu.Unlock()
		return fmt.Errorf("server already prepared")
	}
	s.prepared = true
	s.mu.Unlock()

	if err := os.MkdirAll(s.opts.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %q: %w", s.opts.DataDir, err)
	}

	lock, err := lockfile.Acquire(s.opts.DataDir)
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	s.lock = lock
	logger.Debug("Instance lock acquired at %s", lock.Path())

	if s.cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}
	s.counters = metrics.NewServiceCounters()
	s.stats.SetSink(s.counters.AddStat)
	s.statsShard = s.stats.NewShard()

	s.pool = executor.NewWorkerPool(s.cfg.Workers.Count)
	s.stores = backing.NewRegistry(backing.NewFactory(backing.FactoryConfig{
		S3: s.cfg.Backing.S3,
	}))

	localPath := s.cfg.LocalStore.Path
	if localPath == "" {
		localPath = filepath.Join(s.opts.DataDir, "localstore")
	}
	s.local, err = local.Open(localPath)
	if err != nil {
		s.releaseLock()
		return fmt.Errorf("failed to open local object store: %w", err)
	}

	if s.opts.HelperPath != "" {
		helper, err := privhelper.Start(s.opts.HelperPath)
		if err != nil {
			s.closeLocal()
			s.releaseLock()
			return err
		}
		s.helper = helper
	} else {
		logger.Warn("No privileged helper configured; mounts will not touch the kernel")
		s.helper = privhelper.NewNullClient()
	}

	s.control = ctlserver.New(ctlserver.Options{
		Address:             s.cfg.Control.Address,
		DataDir:             s.opts.DataDir,
		Workers:             s.cfg.Control.Workers,
		MaxConnections:      s.cfg.Control.MaxConnections,
		MaxQueuedRequests:   s.cfg.Control.MaxQueuedRequests,
		QueueTimeoutEnabled: s.cfg.Control.QueueTimeoutEnabled,
		QueueTimeout:        s.cfg.Control.QueueTimeout,
		MinCompressBytes:    s.cfg.Control.MinCompressBytes,
		RequestsPerSecond:   s.cfg.Control.RequestsPerSecond,
		Burst:               s.cfg.Control.Burst,
	}, &controlHandler{server: s})

	if s.cfg.Metrics.Enabled {
		s.metricsSrv = metrics.NewServer(metrics.ServerConfig{Port: s.cfg.Metrics.Port})
	}

	s.startTime = time.Now()
	s.scheduleStatsFlush()
	s.scheduleUnloader()
	s.remountPersistedClients(ctx)

	return nil
}

// Run drives the daemon until Stop is called or a termination signal
// arrives. It returns after the full shutdown sequence: control server
// stopped, every mount torn down, helper exited, local store closed, and
// the instance lock released.
func (s *Server) Run(ctx context.Context) error {
	controlErr := make(chan error, 1)
	go func() {
		controlErr <- s.control.Serve(ctx)
	}()

	if s.metricsSrv != nil {
		var metricsCtx context.Context
		metricsCtx, s.stopMetrics = context.WithCancel(context.Background())
		go func() {
			if err := s.metricsSrv.Start(metricsCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Signal handling is attached only once the loop is about to run, so a
	// signal can never observe a half-initialized daemon. The registration
	// is dropped on first receipt: a second signal falls through to the
	// default disposition and kills a daemon stuck in shutdown.
	s.signalCh = make(chan os.Signal, 1)
	signal.Notify(s.signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalCh
		if !ok {
			return
		}
		signal.Reset(syscall.SIGINT, syscall.SIGTERM)
		logger.Info("Received %s, shutting down", sig)
		s.Stop()
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.loop.Run()

	s.shutdown()

	if err := <-controlErr; err != nil {
		logger.Error("Control server error: %v", err)
	}
	return nil
}

// Stop initiates shutdown. Safe to call from any goroutine, more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	s.mu.Unlock()

	s.loop.Stop()
}

// ShuttingDown reports whether shutdown has been initiated.
func (s *Server) ShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// shutdown runs the teardown sequence on the goroutine that drove the loop.
func (s *Server) shutdown() {
	logger.Info("Shutting down with %d active mounts", s.mounts.Count())

	if s.signalCh != nil {
		signal.Stop(s.signalCh)
		close(s.signalCh)
	}

	s.control.Stop()

	done := s.UnmountAll()

	// The loop has stopped running, but mount teardown still schedules
	// completion tasks onto it. Keep advancing it by hand until every
	// mount has settled.
	for !done.Ready() {
		s.loop.LoopOnce()
	}
	if err := done.Err(); err != nil {
		logger.Error("Unmount failures during shutdown: %v", err)
	}

	s.pool.Close()

	if s.stopMetrics != nil {
		s.stopMetrics()
	}

	status, err := s.helper.Stop()
	switch {
	case err != nil:
		logger.Error("Failed to stop privileged helper: %v", err)
	case !status.Clean():
		logger.Error("Privileged helper %s", status)
	default:
		logger.Debug("Privileged helper exited cleanly")
	}

	s.closeLocal()
	s.releaseLock()
	logger.Info("Shutdown complete")
}

func (s *Server) closeLocal() {
	if s.local == nil {
		return
	}
	if err := s.local.Close(); err != nil {
		logger.Error("Failed to close local object store: %v", err)
	}
}

func (s *Server) releaseLock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Release(); err != nil {
		logger.Error("Failed to release instance lock: %v", err)
	}
}

// scheduleStatsFlush folds shard-local statistics into the aggregated view
// once a second, from the main loop.
func (s *Server) scheduleStatsFlush() {
	var tick func()
	tick = func() {
		s.stats.Flush()
		if !s.ShuttingDown() {
			s.loop.ScheduleAfter(statsFlushInterval, tick)
		}
	}
	s.loop.ScheduleAfter(statsFlushInterval, tick)
}

// remountPersistedClients replays the client directory map, re-establishing
// every mount that was active when the daemon last ran. A mount that fails
// to come back is logged and skipped; one bad client must not block the
// daemon or its siblings.
func (s *Server) remountPersistedClients(ctx context.Context) {
	dirs, err := config.LoadClientDirectoryMap(s.opts.DataDir)
	if err != nil {
		logger.Error("Failed to load client directory map: %v", err)
		return
	}

	for mountPoint, name := range dirs {
		clientDir := config.ClientDirPath(s.opts.DataDir, name)
		if err := s.Mount(ctx, mountPoint, clientDir); err != nil {
			logger.Error("Failed to remount %s from %s: %v", mountPoint, clientDir, err)
		}
	}
}
