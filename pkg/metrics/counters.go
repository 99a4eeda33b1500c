package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServiceCounters exposes the daemon's named counters through Prometheus.
//
// Two flavors are supported:
//   - set counters: written explicitly with SetCounter, e.g. the number of
//     resources reclaimed by the last periodic unload pass;
//   - callback counters: sampled from a callback at scrape time, e.g. the
//     per-mount loaded/unloaded node counts. Callbacks are registered when
//     a mount starts and unregistered during mount teardown.
//
// A nil *ServiceCounters is valid and turns every method into a no-op, so
// callers never need to guard on metrics being enabled.
type ServiceCounters struct {
	mu        sync.Mutex
	values    map[string]float64
	gauges    *prometheus.GaugeVec
	callbacks map[string]prometheus.GaugeFunc
	flushed   *prometheus.CounterVec
}

// NewServiceCounters creates the counter set, registering its collectors on
// the global registry. Returns nil (no-op) when metrics are disabled.
func NewServiceCounters() *ServiceCounters {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()
	return &ServiceCounters{
		values:    make(map[string]float64),
		callbacks: make(map[string]prometheus.GaugeFunc),
		gauges: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sourcefs_counter",
				Help: "Named sourcefs service counters",
			},
			[]string{"name"},
		),
		flushed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcefs_stat_total",
				Help: "Aggregated sourcefs statistics, by counter name",
			},
			[]string{"name"},
		),
	}
}

// SetCounter sets the named counter to a value.
func (c *ServiceCounters) SetCounter(name string, value float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.values[name] = value
	c.mu.Unlock()
	c.gauges.WithLabelValues(name).Set(value)
}

// GetCounter returns the last value set for the named counter.
func (c *ServiceCounters) GetCounter(name string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[name]
	return v, ok
}

// RegisterCallback registers a counter whose value is sampled from fn at
// scrape time. Registering a name twice replaces the previous callback.
func (c *ServiceCounters) RegisterCallback(name string, fn func() float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.callbacks[name]; ok {
		GetRegistry().Unregister(prev)
	}

	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "sourcefs_dynamic_counter",
			Help:        "Callback-sampled sourcefs counters",
			ConstLabels: prometheus.Labels{"name": name},
		},
		fn,
	)
	if err := GetRegistry().Register(gauge); err != nil {
		return
	}
	c.callbacks[name] = gauge
}

// UnregisterCallback removes a callback counter. Unknown names are ignored.
func (c *ServiceCounters) UnregisterCallback(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if gauge, ok := c.callbacks[name]; ok {
		GetRegistry().Unregister(gauge)
		delete(c.callbacks, name)
	}
}

// HasCallback reports whether a callback counter is currently registered.
func (c *ServiceCounters) HasCallback(name string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.callbacks[name]
	return ok
}

// AddStat folds one aggregated statistics delta into the exported totals.
// Wired as the flush sink of the stats aggregator.
func (c *ServiceCounters) AddStat(name string, delta uint64) {
	if c == nil {
		return
	}
	c.flushed.WithLabelValues(name).Add(float64(delta))
}
