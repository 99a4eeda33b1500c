// Package stats implements low-contention service counters. Producers bump
// counters on their own shard; an aggregator periodically folds all shards
// into the global view and forwards the deltas to an optional sink.
package stats

import (
	"sort"
	"sync"
)

// SinkFunc receives aggregated counter deltas at flush time.
type SinkFunc func(name string, delta uint64)

// Stats is the set of service counters, split across shards.
type Stats struct {
	mu         sync.Mutex
	shards     []*Shard
	aggregated map[string]uint64
	sink       SinkFunc
}

// New creates an empty counter set.
func New() *Stats {
	return &Stats{
		aggregated: make(map[string]uint64),
	}
}

// SetSink installs the flush sink. Deltas accumulated before the sink is
// installed are delivered on the next flush.
func (s *Stats) SetSink(sink SinkFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// NewShard creates a counter shard owned by one producer. Shards are cheap;
// each worker or subsystem that bumps counters should hold its own.
func (s *Stats) NewShard() *Shard {
	shard := &Shard{
		pending: make(map[string]uint64),
	}
	s.mu.Lock()
	s.shards = append(s.shards, shard)
	s.mu.Unlock()
	return shard
}

// Flush drains every shard into the aggregated view and forwards the summed
// deltas to the sink. Called periodically from the main event loop.
func (s *Stats) Flush() {
	s.mu.Lock()
	shards := make([]*Shard, len(s.shards))
	copy(shards, s.shards)
	sink := s.sink
	s.mu.Unlock()

	deltas := make(map[string]uint64)
	for _, shard := range shards {
		shard.drainInto(deltas)
	}
	if len(deltas) == 0 {
		return
	}

	s.mu.Lock()
	for name, delta := range deltas {
		s.aggregated[name] += delta
	}
	s.mu.Unlock()

	if sink != nil {
		for name, delta := range deltas {
			sink(name, delta)
		}
	}
}

// Value returns the aggregated value of one counter. Shard-local deltas not
// yet flushed are not included.
func (s *Stats) Value(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregated[name]
}

// Names returns the sorted names of all aggregated counters.
func (s *Stats) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.aggregated))
	for name := range s.aggregated {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shard is one producer's private slice of the counter set.
type Shard struct {
	mu      sync.Mutex
	pending map[string]uint64
}

// Bump adds delta to the named counter on this shard.
func (sh *Shard) Bump(name string, delta uint64) {
	sh.mu.Lock()
	sh.pending[name] += delta
	sh.mu.Unlock()
}

func (sh *Shard) drainInto(out map[string]uint64) {
	sh.mu.Lock()
	for name, delta := range sh.pending {
		out[name] += delta
	}
	sh.pending = make(map[string]uint64)
	sh.mu.Unlock()
}
