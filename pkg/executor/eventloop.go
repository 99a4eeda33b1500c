// Package executor provides the two schedulers everything in the daemon runs
// on: a single-threaded event loop (timers, signal delivery, control-server
// callbacks) and a fixed-size worker pool for blocking mount-setup work.
package executor

import (
	"container/heap"
	"sync"
	"time"
)

// EventLoop is a cooperative event loop driven by one goroutine.
//
// Tasks submitted with Schedule run in submission order on the goroutine that
// drives the loop (Run or LoopOnce). Timer tasks fire on the same goroutine
// once their deadline passes. The loop never runs tasks concurrently.
type EventLoop struct {
	mu      sync.Mutex
	tasks   []func()
	timers  timerHeap
	wake    chan struct{}
	stopped bool
}

// NewEventLoop creates a stopped-flag-clear, empty loop.
func NewEventLoop() *EventLoop {
	l := &EventLoop{
		wake: make(chan struct{}, 1),
	}
	heap.Init(&l.timers)
	return l
}

// Schedule queues fn to run on the loop goroutine.
func (l *EventLoop) Schedule(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.notify()
}

// ScheduleAfter queues fn to run on the loop goroutine once d has elapsed.
func (l *EventLoop) ScheduleAfter(d time.Duration, fn func()) {
	l.mu.Lock()
	heap.Push(&l.timers, &timerTask{deadline: time.Now().Add(d), fn: fn})
	l.mu.Unlock()
	l.notify()
}

// Run drives the loop on the calling goroutine until Stop is called.
// Pending tasks queued before Stop still run; timers that have not fired
// by then are discarded.
func (l *EventLoop) Run() {
	for {
		l.mu.Lock()
		stopped := l.stopped
		idle := len(l.tasks) == 0
		l.mu.Unlock()

		if stopped && idle {
			return
		}
		l.LoopOnce()
	}
}

// Stop requests Run to return. Safe to call from any goroutine, including
// loop tasks. LoopOnce keeps working after Stop so the shutdown path can
// continue advancing the loop by hand.
func (l *EventLoop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.notify()
}

// LoopOnce advances the loop by one iteration: it runs every due timer and
// every queued task, or, when there is nothing ready, waits until the next
// timer deadline or new work arrives (bounded, so callers polling an external
// condition are never parked indefinitely).
func (l *EventLoop) LoopOnce() {
	if l.runReady() {
		return
	}

	// Nothing ready: sleep until the next timer or a wakeup, but never
	// longer than one polling interval. The shutdown path interleaves
	// LoopOnce with readiness checks on futures resolved off-loop, so an
	// unbounded wait here could stall it.
	const maxIdleWait = 50 * time.Millisecond
	wait := maxIdleWait
	l.mu.Lock()
	if len(l.timers) > 0 {
		if until := time.Until(l.timers[0].deadline); until < wait {
			wait = until
		}
	}
	l.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-l.wake:
		case <-timer.C:
		}
		timer.Stop()
	}

	l.runReady()
}

// runReady runs all due timers and queued tasks. Returns whether it ran any.
func (l *EventLoop) runReady() bool {
	ran := false
	now := time.Now()

	for {
		l.mu.Lock()
		var fn func()
		if len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
			fn = heap.Pop(&l.timers).(*timerTask).fn
		} else if len(l.tasks) > 0 {
			fn = l.tasks[0]
			l.tasks = l.tasks[1:]
		}
		l.mu.Unlock()

		if fn == nil {
			return ran
		}
		ran = true
		fn()
	}
}

// PendingTimers returns the number of timer tasks that have not fired yet.
func (l *EventLoop) PendingTimers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// NextTimerIn returns the time until the earliest pending timer fires, or
// false when no timers are pending.
func (l *EventLoop) NextTimerIn() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return 0, false
	}
	return time.Until(l.timers[0].deadline), true
}

func (l *EventLoop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

type timerTask struct {
	deadline time.Time
	fn       func()
}

type timerHeap []*timerTask

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)        { *h = append(*h, x.(*timerTask)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return task
}
