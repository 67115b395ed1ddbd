// Package metrics aggregates per-stage pipeline statistics.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// stageStats accumulates raw counters for one stage.
type stageStats struct {
	count     int64
	successes int64
	cacheHits int64
	total     time.Duration
	min       time.Duration
	max       time.Duration
}

// StageSnapshot is a point-in-time view of one stage's statistics.
type StageSnapshot struct {
	// Stage is the stage name.
	Stage string `json:"stage"`
	// Count is the number of recorded executions.
	Count int64 `json:"count"`
	// Successes is the number of successful executions.
	Successes int64 `json:"successes"`
	// CacheHits is the number of executions served from a cache.
	CacheHits int64 `json:"cache_hits"`
	// SuccessRate is successes over count.
	SuccessRate float64 `json:"success_rate"`
	// Mean is the mean execution duration.
	Mean time.Duration `json:"mean"`
	// Min is the shortest recorded duration.
	Min time.Duration `json:"min"`
	// Max is the longest recorded duration.
	Max time.Duration `json:"max"`
}

// Aggregator is a thread-safe running aggregator of stage results. It is
// queryable at any time, including while pipeline runs are in flight.
type Aggregator struct {
	mu     sync.Mutex
	stages map[string]*stageStats
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{stages: make(map[string]*stageStats)}
}

// Record adds one stage execution to the running statistics.
func (a *Aggregator) Record(stage string, duration time.Duration, success, cacheHit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.stages[stage]
	if !ok {
		st = &stageStats{min: duration, max: duration}
		a.stages[stage] = st
	}
	st.count++
	if success {
		st.successes++
	}
	if cacheHit {
		st.cacheHits++
	}
	st.total += duration
	if duration < st.min {
		st.min = duration
	}
	if duration > st.max {
		st.max = duration
	}
}

// Stage returns the snapshot for one stage.
func (a *Aggregator) Stage(name string) (StageSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.stages[name]
	if !ok {
		return StageSnapshot{}, false
	}
	return snapshot(name, st), true
}

// Snapshot returns all stage snapshots, sorted by stage name.
func (a *Aggregator) Snapshot() []StageSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]StageSnapshot, 0, len(a.stages))
	for name, st := range a.stages {
		out = append(out, snapshot(name, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

func snapshot(name string, st *stageStats) StageSnapshot {
	s := StageSnapshot{
		Stage:     name,
		Count:     st.count,
		Successes: st.successes,
		CacheHits: st.cacheHits,
		Min:       st.min,
		Max:       st.max,
	}
	if st.count > 0 {
		s.SuccessRate = float64(st.successes) / float64(st.count)
		s.Mean = st.total / time.Duration(st.count)
	}
	return s
}
