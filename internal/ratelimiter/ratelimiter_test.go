package ratelimiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroRateDisablesLimiting(t *testing.T) {
	limiter := New(0, 0)

	for i := 0; i < 10_000; i++ {
		require.True(t, limiter.Allow())
	}
}

func TestBurstThenReject(t *testing.T) {
	// One token per second, bucket of two: the burst is admitted, the next
	// request is rejected rather than delayed.
	limiter := New(1, 2)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())
}

func TestTokensRefillOverTime(t *testing.T) {
	limiter := New(100, 1)

	require.True(t, limiter.Allow())
	require.False(t, limiter.Allow())

	// At 100 req/s a token is back within 10ms.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, limiter.Allow())
}

// TestConcurrentAdmission: racing requests against a full bucket admit
// exactly the burst, no matter how the goroutines interleave.
func TestConcurrentAdmission(t *testing.T) {
	const burst = 10
	limiter := New(1, burst)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 4*burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(burst), admitted.Load())
}
