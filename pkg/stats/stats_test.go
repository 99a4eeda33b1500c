package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlushAggregatesShards(t *testing.T) {
	s := New()
	a := s.NewShard()
	b := s.NewShard()

	a.Bump("requests", 3)
	b.Bump("requests", 2)
	b.Bump("errors", 1)

	// Nothing visible before a flush.
	assert.Equal(t, uint64(0), s.Value("requests"))

	s.Flush()
	assert.Equal(t, uint64(5), s.Value("requests"))
	assert.Equal(t, uint64(1), s.Value("errors"))

	// Flushing drains shards; a second flush adds nothing.
	s.Flush()
	assert.Equal(t, uint64(5), s.Value("requests"))
}

func TestFlushForwardsDeltasToSink(t *testing.T) {
	s := New()
	shard := s.NewShard()

	var mu sync.Mutex
	seen := make(map[string]uint64)
	s.SetSink(func(name string, delta uint64) {
		mu.Lock()
		seen[name] += delta
		mu.Unlock()
	})

	shard.Bump("mounts.created", 1)
	s.Flush()
	shard.Bump("mounts.created", 2)
	s.Flush()

	assert.Equal(t, uint64(3), seen["mounts.created"])
}

func TestConcurrentBumps(t *testing.T) {
	s := New()

	const producers = 8
	const bumps = 1000

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		shard := s.NewShard()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < bumps; j++ {
				shard.Bump("ops", 1)
			}
		}()
	}
	wg.Wait()

	s.Flush()
	assert.Equal(t, uint64(producers*bumps), s.Value("ops"))
}

func TestNames(t *testing.T) {
	s := New()
	shard := s.NewShard()
	shard.Bump("zeta", 1)
	shard.Bump("alpha", 1)
	s.Flush()

	assert.Equal(t, []string{"alpha", "zeta"}, s.Names())
}
