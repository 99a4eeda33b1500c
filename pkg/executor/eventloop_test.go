package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRunsInOrder(t *testing.T) {
	loop := NewEventLoop()

	var order []int
	for i := 1; i <= 5; i++ {
		i := i
		loop.Schedule(func() { order = append(order, i) })
	}
	loop.Schedule(func() { loop.Stop() })
	loop.Run()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestScheduleAfterFiresAfterDeadline(t *testing.T) {
	loop := NewEventLoop()

	start := time.Now()
	var fired time.Time
	loop.ScheduleAfter(30*time.Millisecond, func() {
		fired = time.Now()
		loop.Stop()
	})
	loop.Run()

	require.False(t, fired.IsZero())
	assert.GreaterOrEqual(t, fired.Sub(start), 30*time.Millisecond)
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	loop := NewEventLoop()

	var order []string
	loop.ScheduleAfter(20*time.Millisecond, func() {
		order = append(order, "late")
		loop.Stop()
	})
	loop.ScheduleAfter(5*time.Millisecond, func() { order = append(order, "early") })
	loop.Run()

	assert.Equal(t, []string{"early", "late"}, order)
}

func TestStopFromAnotherGoroutine(t *testing.T) {
	loop := NewEventLoop()

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	loop.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

// TestLoopOnceAfterStop covers the shutdown drain pattern: the loop has
// stopped running, but tasks scheduled afterwards still execute when the
// drain advances the loop by hand.
func TestLoopOnceAfterStop(t *testing.T) {
	loop := NewEventLoop()
	loop.Stop()
	loop.Run()

	ran := false
	loop.Schedule(func() { ran = true })
	loop.LoopOnce()

	assert.True(t, ran)
}

func TestLoopOnceIdleWaitIsBounded(t *testing.T) {
	loop := NewEventLoop()

	start := time.Now()
	loop.LoopOnce()
	elapsed := time.Since(start)

	// An empty loop must come back within one polling interval, or the
	// shutdown drain could stall on conditions resolved off-loop.
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestPendingTimersTracksScheduled(t *testing.T) {
	loop := NewEventLoop()

	_, ok := loop.NextTimerIn()
	assert.False(t, ok)
	assert.Equal(t, 0, loop.PendingTimers())

	loop.ScheduleAfter(time.Hour, func() {})
	loop.ScheduleAfter(time.Minute, func() {})

	assert.Equal(t, 2, loop.PendingTimers())
	in, ok := loop.NextTimerIn()
	require.True(t, ok)
	assert.LessOrEqual(t, in, time.Minute)
	assert.Greater(t, in, 50*time.Second)
}

func TestWorkerPoolRunsTasks(t *testing.T) {
	pool := NewWorkerPool(4)

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()
	pool.Close()

	assert.Equal(t, int64(100), count.Load())
}

func TestWorkerPoolClampsWorkerCount(t *testing.T) {
	pool := NewWorkerPool(0)

	done := make(chan struct{})
	pool.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran on clamped pool")
	}
	pool.Close()
}
