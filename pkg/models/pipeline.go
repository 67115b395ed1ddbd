package models

import "time"

// Stage names for the fixed four-stage pipeline.
const (
	// StageAnalysis fans out two concurrent analysis sub-tasks.
	StageAnalysis = "analysis"
	// StageDecision makes a single decision over the analysis record.
	StageDecision = "decision"
	// StageValidation runs all validation steps and aggregates their outcomes.
	StageValidation = "validation"
	// StageApplication applies the decision once validation passes.
	StageApplication = "application"
)

// StageResult records the outcome of one pipeline stage.
type StageResult struct {
	// Stage is the stage name (analysis, decision, validation, application).
	Stage string `json:"stage"`
	// Success indicates the stage completed successfully.
	Success bool `json:"success"`
	// Payload is the stage's output.
	Payload any `json:"payload,omitempty"`
	// Error is the failure message if Success is false.
	Error string `json:"error,omitempty"`
	// CacheHit indicates the stage was served from a cache.
	CacheHit bool `json:"cache_hit"`
	// Duration is how long the stage took.
	Duration time.Duration `json:"duration"`
	// Steps holds per-step outcomes for stages that fan out
	// (both analysis sub-tasks, every validation step).
	Steps []StepResult `json:"steps,omitempty"`
}

// StepResult records one named sub-task within a stage.
type StepResult struct {
	// Name identifies the step (e.g. a validation check name).
	Name string `json:"name"`
	// Success indicates the step passed.
	Success bool `json:"success"`
	// Value is the step's output.
	Value any `json:"value,omitempty"`
	// Error is the failure message if Success is false.
	Error string `json:"error,omitempty"`
	// CacheHit indicates the step was served from a cache.
	CacheHit bool `json:"cache_hit"`
	// Duration is how long the step took.
	Duration time.Duration `json:"duration"`
}

// PipelineResult is the aggregate outcome of one pipeline run.
type PipelineResult struct {
	// ID is the unique identifier of this run.
	ID string `json:"id"`
	// Success indicates every stage completed successfully.
	Success bool `json:"success"`
	// Stages holds per-stage results in execution order. A run that
	// short-circuits carries only the stages that actually ran, plus the
	// short-circuited stage's failure record.
	Stages []StageResult `json:"stages"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// Duration is the total wall-clock time of the run.
	Duration time.Duration `json:"duration"`
}

// Stage returns the result for the named stage, or nil if it did not run.
func (r *PipelineResult) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Stage == name {
			return &r.Stages[i]
		}
	}
	return nil
}
