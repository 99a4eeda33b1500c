package registry

import (
	"context"
	"sync"
)

// Signal is a one-shot completion signal with any number of waiters.
//
// Exactly one caller resolves it; every waiter observes the same outcome.
// A second Resolve is ignored and reported via the return value, so callers
// that own the exactly-once contract can assert on it.
type Signal struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewSignal creates an unresolved signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve completes the signal with the given outcome (nil for success).
// Returns true if this call performed the resolution.
func (s *Signal) Resolve(err error) bool {
	first := false
	s.once.Do(func() {
		s.err = err
		first = true
		close(s.done)
	})
	return first
}

// Done returns a channel closed once the signal has been resolved.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Ready reports whether the signal has been resolved, without blocking.
func (s *Signal) Ready() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the outcome. Only valid after Done is closed.
func (s *Signal) Err() error {
	return s.err
}

// Wait blocks until the signal resolves or the context is cancelled.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
