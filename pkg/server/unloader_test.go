package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourcefs/sourcefs/pkg/config"
	"github.com/sourcefs/sourcefs/pkg/executor"
)

// An interval of zero must not schedule anything, not even a first run.
func TestScheduleUnloaderDisabledAtZeroInterval(t *testing.T) {
	cfg := &config.Config{}
	cfg.Unload.IntervalHours = 0
	cfg.Unload.StartDelayMinutes = 10
	cfg.Unload.AgeMinutes = 60

	srv := &Server{cfg: cfg, loop: executor.NewEventLoop()}
	srv.scheduleUnloader()

	assert.Equal(t, 0, srv.loop.PendingTimers())
}

// With a positive interval the first run comes after the configured start
// delay, not immediately and not at the interval.
func TestScheduleUnloaderFirstRunHonorsStartDelay(t *testing.T) {
	cfg := &config.Config{}
	cfg.Unload.IntervalHours = 8
	cfg.Unload.StartDelayMinutes = 10
	cfg.Unload.AgeMinutes = 60

	srv := &Server{cfg: cfg, loop: executor.NewEventLoop()}
	srv.scheduleUnloader()

	require.Equal(t, 1, srv.loop.PendingTimers())
	in, ok := srv.loop.NextTimerIn()
	require.True(t, ok)
	assert.Greater(t, in, 9*time.Minute)
	assert.LessOrEqual(t, in, 10*time.Minute)
}
