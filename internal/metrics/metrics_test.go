package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestAggregatorRecordAndSnapshot(t *testing.T) {
	agg := NewAggregator()

	agg.Record("analysis", 100*time.Millisecond, true, false)
	agg.Record("analysis", 300*time.Millisecond, true, true)
	agg.Record("analysis", 200*time.Millisecond, false, false)

	s, ok := agg.Stage("analysis")
	if !ok {
		t.Fatal("expected analysis stage to exist")
	}
	if s.Count != 3 {
		t.Errorf("expected count 3, got %d", s.Count)
	}
	if s.Successes != 2 {
		t.Errorf("expected 2 successes, got %d", s.Successes)
	}
	if s.CacheHits != 1 {
		t.Errorf("expected 1 cache hit, got %d", s.CacheHits)
	}
	if s.Min != 100*time.Millisecond {
		t.Errorf("expected min 100ms, got %s", s.Min)
	}
	if s.Max != 300*time.Millisecond {
		t.Errorf("expected max 300ms, got %s", s.Max)
	}
	if s.Mean != 200*time.Millisecond {
		t.Errorf("expected mean 200ms, got %s", s.Mean)
	}
	if want := 2.0 / 3.0; s.SuccessRate != want {
		t.Errorf("expected success rate %f, got %f", want, s.SuccessRate)
	}
}

func TestAggregatorUnknownStage(t *testing.T) {
	agg := NewAggregator()
	if _, ok := agg.Stage("nope"); ok {
		t.Error("expected unknown stage to report not found")
	}
}

func TestAggregatorSnapshotSorted(t *testing.T) {
	agg := NewAggregator()
	agg.Record("validation", time.Millisecond, true, false)
	agg.Record("analysis", time.Millisecond, true, false)
	agg.Record("decision", time.Millisecond, true, false)

	snap := agg.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(snap))
	}
	want := []string{"analysis", "decision", "validation"}
	for i, name := range want {
		if snap[i].Stage != name {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].Stage, name)
		}
	}
}

func TestAggregatorConcurrentRecording(t *testing.T) {
	agg := NewAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Record("stage", time.Millisecond, true, false)
			}
		}()
	}
	wg.Wait()

	s, _ := agg.Stage("stage")
	if s.Count != 1600 {
		t.Errorf("expected 1600 records, got %d", s.Count)
	}
}

func TestCollectorRegisters(t *testing.T) {
	agg := NewAggregator()
	agg.Record("analysis", 50*time.Millisecond, true, false)

	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(agg)); err != nil {
		t.Fatalf("register collector: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected gathered metric families")
	}
}
