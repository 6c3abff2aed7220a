// Package profiler times the stages of a run.
package profiler

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimeTracker tracks timing statistics for one operation.
type TimeTracker struct {
	Name  string
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Count int64
}

// Mean returns the average duration, 0 before the first sample.
func (t TimeTracker) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// StageProfiler accumulates operation times. It is safe for concurrent use.
type StageProfiler struct {
	mu    sync.Mutex
	stats map[string]*TimeTracker
}

// New returns an empty profiler.
func New() *StageProfiler {
	return &StageProfiler{stats: make(map[string]*TimeTracker)}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *StageProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one sample for name.
func (p *StageProfiler) Record(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.stats[name]
	if !ok {
		t = &TimeTracker{Name: name, Min: d, Max: d}
		p.stats[name] = t
	}
	t.Total += d
	t.Count++
	t.Min = min(t.Min, d)
	t.Max = max(t.Max, d)
}

// Snapshot returns the trackers sorted by name.
func (p *StageProfiler) Snapshot() []TimeTracker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TimeTracker, 0, len(p.stats))
	for _, t := range p.stats {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Log writes one debug line per operation.
func (p *StageProfiler) Log(logger zerolog.Logger) {
	for _, t := range p.Snapshot() {
		logger.Debug().
			Str("operation", t.Name).
			Int64("count", t.Count).
			Dur("total", t.Total).
			Dur("mean", t.Mean()).
			Dur("min", t.Min).
			Dur("max", t.Max).
			Msg("stage timing")
	}
}
