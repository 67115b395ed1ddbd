package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"agentflow/internal/cache"
	"agentflow/internal/metrics"
	"agentflow/internal/scheduler"
	"agentflow/pkg/models"
)

// testEnv wires a coordinator with counting executors over fresh caches.
type testEnv struct {
	coord       *Coordinator
	decisions   *cache.DecisionCache
	semantic    *cache.SemanticCache
	agg         *metrics.Aggregator
	analysisRun atomic.Int64
	decisionRun atomic.Int64
	validateRun atomic.Int64
	applyRun    atomic.Int64

	// failingSteps marks validation step names that should fail.
	failingSteps map[string]bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		decisions:    cache.NewDecisionCache(64, time.Minute),
		semantic:     cache.NewSemanticCache(64, time.Minute, 0.8),
		agg:          metrics.NewAggregator(),
		failingSteps: make(map[string]bool),
	}

	registry := scheduler.NewRegistry()
	registry.Register(models.TaskTypeAnalysis, func(ctx context.Context, task models.Task) (any, error) {
		env.analysisRun.Add(1)
		aspect := task.Input.(map[string]any)["aspect"].(string)
		return "analysis:" + aspect, nil
	})
	registry.Register(models.TaskTypeDecision, func(ctx context.Context, task models.Task) (any, error) {
		env.decisionRun.Add(1)
		return "decision-record", nil
	})
	registry.Register(models.TaskTypeValidation, func(ctx context.Context, task models.Task) (any, error) {
		env.validateRun.Add(1)
		step := task.Input.(map[string]any)["step"].(string)
		if env.failingSteps[step] {
			return nil, fmt.Errorf("step %s rejected artifact", step)
		}
		return "passed:" + step, nil
	})
	registry.Register(models.TaskTypeApplication, func(ctx context.Context, task models.Task) (any, error) {
		env.applyRun.Add(1)
		return "applied", nil
	})

	sched := scheduler.New(registry, scheduler.Options{DefaultTimeout: 5 * time.Second})
	env.coord = New(sched, env.decisions, env.semantic, env.agg, zerolog.Nop())
	return env
}

func baseRequest() Request {
	return Request{
		Input:      "restart the ingest service after deploy",
		Operations: []string{"restart"},
		Targets:    []string{"ingest"},
	}
}

func TestPipelineHappyPath(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.coord.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !result.Success {
		t.Fatal("expected successful run")
	}
	if len(result.Stages) != 4 {
		t.Fatalf("expected 4 stages, got %d", len(result.Stages))
	}
	wantOrder := []string{
		models.StageAnalysis, models.StageDecision,
		models.StageValidation, models.StageApplication,
	}
	for i, name := range wantOrder {
		if result.Stages[i].Stage != name {
			t.Errorf("stage %d = %s, want %s", i, result.Stages[i].Stage, name)
		}
		if !result.Stages[i].Success {
			t.Errorf("stage %s failed: %s", name, result.Stages[i].Error)
		}
	}

	if env.analysisRun.Load() != 2 {
		t.Errorf("expected 2 analysis sub-tasks, got %d", env.analysisRun.Load())
	}
	if env.decisionRun.Load() != 1 {
		t.Errorf("expected 1 decision call, got %d", env.decisionRun.Load())
	}
	if got := env.validateRun.Load(); got != int64(len(DefaultValidationSteps)) {
		t.Errorf("expected %d validation calls, got %d", len(DefaultValidationSteps), got)
	}
	if env.applyRun.Load() != 1 {
		t.Errorf("expected 1 application call, got %d", env.applyRun.Load())
	}
}

func TestPipelineAnalysisCombinesBothSubTasks(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.coord.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	analysis := result.Stage(models.StageAnalysis)
	combined, ok := analysis.Payload.(map[string]any)
	if !ok {
		t.Fatalf("expected combined analysis map, got %T", analysis.Payload)
	}
	if combined["structure"] != "analysis:structure" || combined["context"] != "analysis:context" {
		t.Errorf("unexpected combined record: %v", combined)
	}
	if len(analysis.Steps) != 2 {
		t.Errorf("expected 2 recorded sub-tasks, got %d", len(analysis.Steps))
	}
}

func TestPipelineValidationFailIsolationThenAggregate(t *testing.T) {
	env := newTestEnv(t)
	env.failingSteps["consistency"] = true
	env.failingSteps["completeness"] = true

	result, err := env.coord.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Success {
		t.Fatal("expected failed run")
	}

	validation := result.Stage(models.StageValidation)
	if validation == nil {
		t.Fatal("missing validation stage")
	}
	if validation.Success {
		t.Error("expected aggregate validation failure")
	}
	// All steps must execute and be recorded, not just the first failure.
	if len(validation.Steps) != 4 {
		t.Fatalf("expected all 4 step outcomes, got %d", len(validation.Steps))
	}
	if env.validateRun.Load() != 4 {
		t.Errorf("expected all 4 steps executed, got %d", env.validateRun.Load())
	}
	outcomes := make(map[string]bool)
	for _, step := range validation.Steps {
		outcomes[step.Name] = step.Success
	}
	for step, wantFail := range map[string]bool{
		"syntax": false, "consistency": true, "safety": false, "completeness": true,
	} {
		if outcomes[step] == wantFail {
			t.Errorf("step %s: success=%v, want %v", step, outcomes[step], !wantFail)
		}
	}

	// Application short-circuits with the validation detail.
	application := result.Stage(models.StageApplication)
	if application == nil {
		t.Fatal("missing application stage record")
	}
	if application.Success {
		t.Error("expected application short-circuit")
	}
	if env.applyRun.Load() != 0 {
		t.Errorf("application executor must not run, got %d calls", env.applyRun.Load())
	}
}

func TestPipelineAnalysisFailureStopsRun(t *testing.T) {
	env := newTestEnv(t)

	registry := scheduler.NewRegistry()
	registry.Register(models.TaskTypeAnalysis, func(ctx context.Context, task models.Task) (any, error) {
		if task.Input.(map[string]any)["aspect"] == "context" {
			return nil, errors.New("context analyzer unavailable")
		}
		return "ok", nil
	})
	sched := scheduler.New(registry, scheduler.Options{})
	coord := New(sched, env.decisions, env.semantic, env.agg, zerolog.Nop())

	result, err := coord.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Success {
		t.Fatal("expected failed run")
	}
	if len(result.Stages) != 1 {
		t.Fatalf("expected run to stop after analysis, got %d stages", len(result.Stages))
	}
	if result.Stages[0].Error == "" {
		t.Error("expected analysis failure detail")
	}
}

func TestPipelineAnalysisCachedAcrossRuns(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.coord.Run(context.Background(), baseRequest()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstCalls := env.analysisRun.Load()

	result, err := env.coord.Run(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	analysis := result.Stage(models.StageAnalysis)
	if !analysis.CacheHit {
		t.Error("expected analysis stage cache hit on identical input")
	}
	if env.analysisRun.Load() != firstCalls {
		t.Errorf("expected no further analysis calls, got %d", env.analysisRun.Load()-firstCalls)
	}
}

func TestPipelineSemanticCacheOnNearDuplicate(t *testing.T) {
	env := newTestEnv(t)

	first := baseRequest()
	first.Input = "summarize incident report for 2026-08-01"
	if _, err := env.coord.Run(context.Background(), first); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same request up to the embedded date: the decision stage must be
	// served from the semantic cache.
	second := baseRequest()
	second.Input = "summarize incident  report for 2026-08-15"
	result, err := env.coord.Run(context.Background(), second)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	decision := result.Stage(models.StageDecision)
	if !decision.CacheHit {
		t.Error("expected semantic cache hit for near-duplicate input")
	}
	if decision.Payload != "decision-record" {
		t.Errorf("expected cached decision, got %v", decision.Payload)
	}
	if env.decisionRun.Load() != 1 {
		t.Errorf("expected decision executor called once, got %d", env.decisionRun.Load())
	}
}

func TestPipelineMetricsRecorded(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.coord.Run(context.Background(), baseRequest()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, stage := range []string{
		models.StageAnalysis, models.StageDecision,
		models.StageValidation, models.StageApplication,
	} {
		snap, ok := env.agg.Stage(stage)
		if !ok {
			t.Errorf("missing metrics for stage %s", stage)
			continue
		}
		if snap.Count != 1 {
			t.Errorf("stage %s: expected 1 recorded execution, got %d", stage, snap.Count)
		}
		if snap.SuccessRate != 1.0 {
			t.Errorf("stage %s: expected success rate 1.0, got %f", stage, snap.SuccessRate)
		}
	}
}

func TestPipelineEmptyInputRejected(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.coord.Run(context.Background(), Request{Input: "   "}); err == nil {
		t.Error("expected error for empty input")
	}
}
