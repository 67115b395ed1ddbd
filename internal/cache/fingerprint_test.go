package cache

import (
	"testing"
	"time"

	"agentflow/pkg/models"
)

func TestFingerprintOrderIndependent(t *testing.T) {
	fp1 := Fingerprint([]string{"create", "update"}, []string{"svc-a", "svc-b"}, "ctx")
	fp2 := Fingerprint([]string{"update", "create"}, []string{"svc-b", "svc-a"}, "ctx")

	if fp1 != fp2 {
		t.Error("expected fingerprints to be independent of operation and target order")
	}
}

func TestFingerprintSensitiveToDefiningFields(t *testing.T) {
	base := Fingerprint([]string{"create"}, []string{"svc-a"}, "ctx")

	if got := Fingerprint([]string{"delete"}, []string{"svc-a"}, "ctx"); got == base {
		t.Error("expected different operations to change the fingerprint")
	}
	if got := Fingerprint([]string{"create"}, []string{"svc-b"}, "ctx"); got == base {
		t.Error("expected different targets to change the fingerprint")
	}
	if got := Fingerprint([]string{"create"}, []string{"svc-a"}, "other"); got == base {
		t.Error("expected different context to change the fingerprint")
	}
}

func TestTaskFingerprintExcludesIncidentalFields(t *testing.T) {
	input := map[string]any{"target": "svc-a", "op": "restart"}

	a := models.Task{
		ID:        "task-1",
		Type:      models.TaskTypeAnalysis,
		Priority:  10,
		DependsOn: []string{"task-0"},
		CreatedAt: time.Now(),
		Input:     input,
	}
	b := models.Task{
		ID:        "task-2",
		Type:      models.TaskTypeAnalysis,
		Priority:  -3,
		CreatedAt: time.Now().Add(time.Hour),
		Input:     input,
	}

	fpA, err := TaskFingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint a: %v", err)
	}
	fpB, err := TaskFingerprint(b)
	if err != nil {
		t.Fatalf("fingerprint b: %v", err)
	}

	if fpA != fpB {
		t.Error("expected structurally identical tasks to share a fingerprint")
	}
}

func TestTaskFingerprintVariesByType(t *testing.T) {
	a := models.Task{Type: models.TaskTypeAnalysis, Input: "same"}
	b := models.Task{Type: models.TaskTypeDecision, Input: "same"}

	fpA, _ := TaskFingerprint(a)
	fpB, _ := TaskFingerprint(b)

	if fpA == fpB {
		t.Error("expected task type to be a defining field")
	}
}
