package state

import (
	"path/filepath"
	"testing"
	"time"

	"agentflow/pkg/models"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRecordAndRecent(t *testing.T) {
	h := openTestHistory(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		err := h.Record(Run{
			ID:      id,
			Input:   "deploy service",
			Success: id != "run-b",
			Stages: []models.StageResult{
				{Stage: models.StageAnalysis, Success: true},
				{Stage: models.StageDecision, Success: id != "run-b"},
			},
			Duration:  2 * time.Second,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record(%s): %v", id, err)
		}
	}

	runs, err := h.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].ID != "run-c" || runs[2].ID != "run-a" {
		t.Errorf("runs not newest first: %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
	if runs[1].Success {
		t.Error("run-b should have recorded failure")
	}
	if len(runs[0].Stages) != 2 || runs[0].Stages[0].Stage != models.StageAnalysis {
		t.Errorf("stage results not round-tripped: %+v", runs[0].Stages)
	}
	if runs[0].Duration != 2*time.Second {
		t.Errorf("duration = %v, want 2s", runs[0].Duration)
	}
}

func TestRecentLimit(t *testing.T) {
	h := openTestHistory(t)

	for i := 0; i < 5; i++ {
		err := h.Record(Run{
			ID:        string(rune('a' + i)),
			Input:     "x",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	runs, err := h.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2", len(runs))
	}
}

func TestRecentEmpty(t *testing.T) {
	h := openTestHistory(t)

	runs, err := h.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("got %d runs, want 0", len(runs))
	}
}

func TestDuplicateRunIDRejected(t *testing.T) {
	h := openTestHistory(t)

	run := Run{ID: "dup", Input: "x", CreatedAt: time.Now()}
	if err := h.Record(run); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := h.Record(run); err == nil {
		t.Error("second Record with same ID should fail")
	}
}
