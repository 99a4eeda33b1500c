package server

import (
	"time"

	"github.com/sourcefs/sourcefs/internal/logger"
)

// unloadCounterName is the counter recording how many resources the last
// periodic unload pass reclaimed.
const unloadCounterName = "periodic_unload.last_count"

// scheduleUnloader arranges the periodic idle-resource reclamation job on
// the main loop.
//
// An interval of zero disables the job entirely: nothing is scheduled, not
// even a first run. With a positive interval the first run happens after
// the configured start delay, so reclamation never competes with mounts
// that are still warming up, and subsequent runs follow at the interval.
func (s *Server) scheduleUnloader() {
	interval := time.Duration(s.cfg.Unload.IntervalHours) * time.Hour
	if interval <= 0 {
		logger.Debug("Periodic unload disabled")
		return
	}

	startDelay := time.Duration(s.cfg.Unload.StartDelayMinutes) * time.Minute
	maxAge := time.Duration(s.cfg.Unload.AgeMinutes) * time.Minute

	var run func()
	run = func() {
		s.unloadIdleResources(maxAge)
		if !s.ShuttingDown() {
			s.loop.ScheduleAfter(interval, run)
		}
	}

	logger.Info("Periodic unload every %s (first run in %s, age threshold %s)",
		interval, startDelay, maxAge)
	s.loop.ScheduleAfter(startDelay, run)
}

// unloadIdleResources walks every active mount and unloads tree nodes idle
// longer than maxAge. Runs on the main loop; the per-mount walks take only
// tree-level locks and never block on I/O.
func (s *Server) unloadIdleResources(maxAge time.Duration) {
	total := 0
	for _, se := range s.mounts.Snapshot() {
		count := se.Entry.Mount.Root().UnloadChildren(maxAge)
		if count > 0 {
			logger.Debug("Unloaded %d idle resources from %s", count, se.Path)
		}
		total += count
	}

	s.counters.SetCounter(unloadCounterName, float64(total))
	s.statsShard.Bump("unload.runs", 1)
	s.statsShard.Bump("unload.resources", uint64(total))
	logger.Info("Periodic unload reclaimed %d idle resources", total)
}
