// Package pipeline runs the fixed four-stage workflow (analysis, decision,
// validation, application) on top of the scheduler and both caches.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agentflow/internal/cache"
	"agentflow/internal/metrics"
	"agentflow/internal/scheduler"
	"agentflow/pkg/models"
)

// DefaultValidationSteps are the checks run when a request names none.
var DefaultValidationSteps = []string{"syntax", "consistency", "safety", "completeness"}

// Request describes one pipeline run.
type Request struct {
	// ID identifies the run; a UUID is assigned when empty.
	ID string `json:"id" yaml:"id"`
	// Input is the primary free-text input under analysis.
	Input string `json:"input" yaml:"input"`
	// Operations are the actions the run intends to perform.
	Operations []string `json:"operations" yaml:"operations"`
	// Targets are the identifiers the operations act on.
	Targets []string `json:"targets" yaml:"targets"`
	// ValidationSteps names the validation checks for stage three.
	// Empty means DefaultValidationSteps.
	ValidationSteps []string `json:"validation_steps" yaml:"validation_steps"`

	// taskPrefix keeps task IDs unique across runs even when the caller
	// reuses a request ID; task IDs are never reused within a scheduler.
	taskPrefix string
}

// Coordinator drives pipeline runs. Both caches are owned by the caller
// and injected here; the coordinator never constructs shared state of its
// own beyond the metrics aggregator.
type Coordinator struct {
	sched     *scheduler.Scheduler
	decisions *cache.DecisionCache
	semantic  *cache.SemanticCache
	agg       *metrics.Aggregator
	log       zerolog.Logger
}

// New creates a Coordinator. decisions and semantic may be nil to disable
// the respective cache. The logger may be zerolog.Nop().
func New(sched *scheduler.Scheduler, decisions *cache.DecisionCache, semantic *cache.SemanticCache, agg *metrics.Aggregator, log zerolog.Logger) *Coordinator {
	if agg == nil {
		agg = metrics.NewAggregator()
	}
	return &Coordinator{
		sched:     sched,
		decisions: decisions,
		semantic:  semantic,
		agg:       agg,
		log:       log,
	}
}

// Metrics returns the coordinator's stage aggregator.
func (c *Coordinator) Metrics() *metrics.Aggregator {
	return c.agg
}

// Run executes the four stages in order. Each stage is gated on the
// previous stage's success; a failing stage short-circuits the rest and
// its failure detail is carried in the returned result. The returned error
// is reserved for structural problems (an empty request); stage failures
// are expressed through the result.
func (c *Coordinator) Run(ctx context.Context, req Request) (*models.PipelineResult, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, fmt.Errorf("pipeline request has empty input")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()[:8]
	}
	req.taskPrefix = fmt.Sprintf("%s-%s", req.ID, uuid.New().String()[:8])
	if len(req.ValidationSteps) == 0 {
		req.ValidationSteps = DefaultValidationSteps
	}

	result := &models.PipelineResult{ID: req.ID, StartedAt: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
	}()

	c.log.Info().Str("run", req.ID).Msg("pipeline run started")

	analysis := c.runAnalysis(ctx, req)
	c.finishStage(result, analysis)
	if !analysis.Success {
		return result, nil
	}

	decision := c.runDecision(ctx, req, analysis.Payload)
	c.finishStage(result, decision)
	if !decision.Success {
		return result, nil
	}

	validation := c.runValidation(ctx, req, decision.Payload)
	c.finishStage(result, validation)
	if !validation.Success {
		// Application is gated on validation: short-circuit with the
		// full per-step detail instead of running it.
		application := models.StageResult{
			Stage:   models.StageApplication,
			Success: false,
			Error:   fmt.Sprintf("validation failed: %s", validation.Error),
		}
		c.finishStage(result, application)
		return result, nil
	}

	application := c.runApplication(ctx, req, decision.Payload)
	c.finishStage(result, application)
	return result, nil
}

// finishStage appends the stage to the result, folds its success into the
// aggregate, and records it with the metrics aggregator.
func (c *Coordinator) finishStage(result *models.PipelineResult, stage models.StageResult) {
	result.Stages = append(result.Stages, stage)
	result.Success = stage.Success && (len(result.Stages) == 1 || result.Success)
	c.agg.Record(stage.Stage, stage.Duration, stage.Success, stage.CacheHit)

	evt := c.log.Debug().Str("run", result.ID).Str("stage", stage.Stage).
		Bool("success", stage.Success).Bool("cache_hit", stage.CacheHit).
		Dur("duration", stage.Duration)
	if stage.Error != "" {
		evt = evt.Str("error", stage.Error)
	}
	evt.Msg("pipeline stage finished")
}

// runAnalysis fans out two independent analysis sub-tasks and combines
// their outputs. Either sub-task failing fails the whole stage. The
// combined record is cached by a fingerprint of the stage's primary input.
func (c *Coordinator) runAnalysis(ctx context.Context, req Request) models.StageResult {
	start := time.Now()
	stage := models.StageResult{Stage: models.StageAnalysis}

	fp := cache.Fingerprint(req.Operations, req.Targets, req.Input)
	if c.decisions != nil {
		if cached, ok := c.decisions.Get(fp); ok {
			stage.Success = true
			stage.CacheHit = true
			stage.Payload = cached
			stage.Duration = time.Since(start)
			return stage
		}
	}

	aspects := []string{"structure", "context"}
	tasks := make([]models.Task, len(aspects))
	for i, aspect := range aspects {
		tasks[i] = models.Task{
			ID:   fmt.Sprintf("%s-analysis-%s", req.taskPrefix, aspect),
			Type: models.TaskTypeAnalysis,
			Input: map[string]any{
				"aspect":  aspect,
				"input":   req.Input,
				"targets": req.Targets,
			},
			CreatedAt: time.Now(),
		}
	}

	results, err := c.sched.SubmitBatch(ctx, tasks)
	if err != nil {
		stage.Error = err.Error()
		stage.Duration = time.Since(start)
		return stage
	}

	combined := make(map[string]any, len(aspects))
	var failures []string
	for i, r := range results {
		stage.Steps = append(stage.Steps, stepFromResult(aspects[i], r))
		if r.Success {
			combined[aspects[i]] = r.Value
		} else {
			failures = append(failures, fmt.Sprintf("%s: %s", aspects[i], r.Error))
		}
	}

	stage.Duration = time.Since(start)
	if len(failures) > 0 {
		stage.Error = strings.Join(failures, "; ")
		return stage
	}

	stage.Success = true
	stage.Payload = combined
	if c.decisions != nil {
		c.decisions.Put(fp, combined)
	}
	return stage
}

// runDecision invokes a single decision executor over the analysis record.
// There is no fan-out; the stage is inherently sequential on analysis. The
// semantic cache is consulted with the request's free text first, so a
// near-duplicate request reuses the earlier decision.
func (c *Coordinator) runDecision(ctx context.Context, req Request, analysis any) models.StageResult {
	start := time.Now()
	stage := models.StageResult{Stage: models.StageDecision}

	if c.semantic != nil {
		if match, ok := c.semantic.GetSimilar(req.Input, 0); ok {
			c.log.Debug().Str("run", req.ID).Float64("similarity", match.Similarity).
				Msg("semantic cache hit")
			stage.Success = true
			stage.CacheHit = true
			stage.Payload = match.Value
			stage.Duration = time.Since(start)
			return stage
		}
	}

	results, err := c.sched.SubmitBatch(ctx, []models.Task{{
		ID:   fmt.Sprintf("%s-decision", req.taskPrefix),
		Type: models.TaskTypeDecision,
		Input: map[string]any{
			"input":      req.Input,
			"analysis":   analysis,
			"operations": req.Operations,
		},
		CreatedAt: time.Now(),
	}})
	stage.Duration = time.Since(start)
	if err != nil {
		stage.Error = err.Error()
		return stage
	}

	r := results[0]
	if !r.Success {
		stage.Error = r.Error
		return stage
	}

	stage.Success = true
	stage.Payload = r.Value
	if c.semantic != nil {
		c.semantic.Store(req.Input, r.Value)
	}
	return stage
}

// runValidation runs every named validation step concurrently. All steps
// execute and are recorded even when some fail, so a failing run still
// carries full diagnostic detail; the stage's success is the logical AND
// of all step outcomes. Each step is cache-checked independently by a
// fingerprint of the artifact under validation.
func (c *Coordinator) runValidation(ctx context.Context, req Request, decision any) models.StageResult {
	start := time.Now()
	stage := models.StageResult{Stage: models.StageValidation}

	artifact := fmt.Sprintf("%v", decision)
	steps := make(map[string]*models.StepResult, len(req.ValidationSteps))
	var pending []models.Task

	for _, name := range req.ValidationSteps {
		step := &models.StepResult{Name: name}
		steps[name] = step

		fp := cache.Fingerprint([]string{name}, req.Targets, artifact)
		if c.decisions != nil {
			if cached, ok := c.decisions.Get(fp); ok {
				step.Success = true
				step.CacheHit = true
				step.Value = cached
				continue
			}
		}
		pending = append(pending, models.Task{
			ID:   fmt.Sprintf("%s-validation-%s", req.taskPrefix, name),
			Type: models.TaskTypeValidation,
			Input: map[string]any{
				"step":     name,
				"decision": decision,
				"targets":  req.Targets,
			},
			CreatedAt: time.Now(),
		})
	}

	if len(pending) > 0 {
		results, err := c.sched.SubmitBatch(ctx, pending)
		if err != nil {
			stage.Error = err.Error()
			stage.Duration = time.Since(start)
			for _, name := range req.ValidationSteps {
				stage.Steps = append(stage.Steps, *steps[name])
			}
			return stage
		}
		for i, r := range results {
			name := pending[i].Input.(map[string]any)["step"].(string)
			*steps[name] = stepFromResult(name, r)
			if r.Success && c.decisions != nil {
				fp := cache.Fingerprint([]string{name}, req.Targets, artifact)
				c.decisions.Put(fp, r.Value)
			}
		}
	}

	allPassed := true
	allCached := len(req.ValidationSteps) > 0
	var failures []string
	for _, name := range req.ValidationSteps {
		step := *steps[name]
		stage.Steps = append(stage.Steps, step)
		if !step.Success {
			allPassed = false
			failures = append(failures, fmt.Sprintf("%s: %s", name, step.Error))
		}
		if !step.CacheHit {
			allCached = false
		}
	}

	stage.Success = allPassed
	stage.CacheHit = allCached
	stage.Duration = time.Since(start)
	if !allPassed {
		stage.Error = strings.Join(failures, "; ")
	} else {
		stage.Payload = stage.Steps
	}
	return stage
}

// runApplication applies the validated decision with a single executor call.
func (c *Coordinator) runApplication(ctx context.Context, req Request, decision any) models.StageResult {
	start := time.Now()
	stage := models.StageResult{Stage: models.StageApplication}

	results, err := c.sched.SubmitBatch(ctx, []models.Task{{
		ID:   fmt.Sprintf("%s-application", req.taskPrefix),
		Type: models.TaskTypeApplication,
		Input: map[string]any{
			"decision": decision,
			"targets":  req.Targets,
		},
		CreatedAt: time.Now(),
	}})
	stage.Duration = time.Since(start)
	if err != nil {
		stage.Error = err.Error()
		return stage
	}

	r := results[0]
	stage.Success = r.Success
	stage.Payload = r.Value
	stage.CacheHit = r.CacheHit
	if !r.Success {
		stage.Error = r.Error
	}
	return stage
}

func stepFromResult(name string, r models.Result) models.StepResult {
	return models.StepResult{
		Name:     name,
		Success:  r.Success,
		Value:    r.Value,
		Error:    r.Error,
		CacheHit: r.CacheHit,
		Duration: r.Duration,
	}
}
