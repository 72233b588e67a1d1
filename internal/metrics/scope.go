// Package metrics provides hierarchical scoped counters, histograms, and
// timers, generalized from internal/server/stats_collector.go's
// collector/snapshot shape: every component is handed a *Scope explicit
// constructor argument rather than reaching for package-level state (spec
// §9's "Global state" design note).
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scope is a named hierarchical namespace (e.g. "iter/7/model/main") under
// which metrics are recorded.
type Scope struct {
	name   string
	logger zerolog.Logger

	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	closed     bool
}

// NewRoot creates the single top-level Scope for a process. Callers derive
// every other scope from it with Child so there is exactly one owned root.
func NewRoot(logger zerolog.Logger) *Scope {
	return &Scope{
		name:       "root",
		logger:     logger.With().Str("component", "metrics").Logger(),
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
}

// Child returns a new Scope nested under s, named "s.name/name", or just
// name when s is the root.
func (s *Scope) Child(name string) *Scope {
	full := name
	if s.name != "" && s.name != "root" {
		full = s.name + "/" + name
	}
	return &Scope{
		name:       full,
		logger:     s.logger,
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
}

// Name returns the scope's fully qualified path.
func (s *Scope) Name() string { return s.name }

// Counter returns (creating if needed) the named counter in this scope.
func (s *Scope) Counter(name string) *Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = &Counter{}
		s.counters[name] = c
	}
	return c
}

// Histogram returns (creating if needed) the named histogram in this scope.
func (s *Scope) Histogram(name string) *Histogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histograms[name]
	if !ok {
		h = &Histogram{}
		s.histograms[name] = h
	}
	return h
}

// StartTimer begins timing an operation recorded into the named histogram
// (in seconds) when the returned func is called.
func (s *Scope) StartTimer(name string) func() {
	start := time.Now()
	h := s.Histogram(name)
	return func() {
		h.Record(time.Since(start).Seconds())
	}
}

// Close flushes this scope's counters and histograms to its logger and
// marks it closed. Further writes after Close are still accepted: a closed
// scope is a reporting boundary, not a lock, and its accumulated counters
// are flushed once on close.
func (s *Scope) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	ev := s.logger.Info().Str("scope", s.name)
	for _, name := range sortedKeys(s.counters) {
		ev = ev.Int64(fmt.Sprintf("counter.%s", name), s.counters[name].Value())
	}
	for _, name := range sortedKeys(s.histograms) {
		snap := s.histograms[name].Snapshot()
		ev = ev.Int64(fmt.Sprintf("hist.%s.count", name), snap.Count).
			Float64(fmt.Sprintf("hist.%s.mean", name), snap.Mean)
	}
	ev.Msg("scope closed")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Counter is a monotonically-adjustable int64.
type Counter struct {
	mu    sync.Mutex
	value int64
}

func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Histogram tracks a running count/sum/min/max for a stream of samples,
// enough for batch-size and latency distributions without pulling in a
// quantile-sketch dependency.
type Histogram struct {
	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
}

func (h *Histogram) Record(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		h.min, h.max = v, v
	} else {
		if v < h.min {
			h.min = v
		}
		if v > h.max {
			h.max = v
		}
	}
	h.count++
	h.sum += v
}

// HistogramSnapshot is a point-in-time read of a Histogram.
type HistogramSnapshot struct {
	Count    int64
	Sum      float64
	Mean     float64
	Min, Max float64
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := HistogramSnapshot{Count: h.count, Sum: h.sum, Min: h.min, Max: h.max}
	if h.count > 0 {
		snap.Mean = h.sum / float64(h.count)
	}
	return snap
}
