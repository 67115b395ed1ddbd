// Package models defines the shared domain types for agentflow.
package models

import "time"

// TaskState represents the current state of a task within a batch.
type TaskState string

const (
	// TaskStatePending indicates the task has been submitted but not started.
	TaskStatePending TaskState = "pending"
	// TaskStateWaiting indicates the task is waiting on its dependencies.
	TaskStateWaiting TaskState = "waiting_on_dependencies"
	// TaskStateRunning indicates the task's executor has been invoked.
	TaskStateRunning TaskState = "running"
	// TaskStateCompleted indicates the task finished successfully.
	TaskStateCompleted TaskState = "completed"
	// TaskStateFailed indicates the task failed, timed out, or its executor errored.
	TaskStateFailed TaskState = "failed"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateWaiting, TaskStateRunning, TaskStateCompleted, TaskStateFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the state is final. Tasks never leave a terminal state.
func (s TaskState) Terminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// TaskType identifies which executor handles a task. The set of types is
// open; any type registered with the executor registry is valid.
type TaskType string

const (
	// TaskTypeAnalysis is structural analysis of an input.
	TaskTypeAnalysis TaskType = "analysis"
	// TaskTypeDecision is decision-making over an analysis record.
	TaskTypeDecision TaskType = "decision"
	// TaskTypeValidation is an independent validation step.
	TaskTypeValidation TaskType = "validation"
	// TaskTypeApplication applies a validated decision.
	TaskTypeApplication TaskType = "application"
)

// Task represents a unit of work submitted to the scheduler.
type Task struct {
	// ID is the unique identifier for this task. IDs are never reused.
	ID string `json:"id"`
	// Type selects the executor that handles this task.
	Type TaskType `json:"type"`
	// Priority orders launch within a batch; higher launches first.
	// It carries no guarantee about completion order.
	Priority int `json:"priority"`
	// DependsOn lists task IDs that must reach a terminal state before
	// this task runs. A failed dependency still unblocks this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Timeout overrides the batch default when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Input is the payload handed to the executor.
	Input any `json:"input,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
}

// Result records the outcome of a single task. Exactly one Result is ever
// recorded per task ID.
type Result struct {
	// TaskID is the ID of the task this result belongs to.
	TaskID string `json:"task_id"`
	// Type is the task type, copied for consumers that only see results.
	Type TaskType `json:"type"`
	// Success indicates the executor returned without error before the timeout.
	Success bool `json:"success"`
	// Value is the executor's output. Nil on failure.
	Value any `json:"value,omitempty"`
	// Err holds the failure if Success is false.
	Err error `json:"-"`
	// Error is the failure message, kept for serialization.
	Error string `json:"error,omitempty"`
	// CacheHit indicates the value came from a cache rather than an executor.
	CacheHit bool `json:"cache_hit,omitempty"`
	// Duration is how long execution (or cache lookup) took.
	Duration time.Duration `json:"duration"`
	// CompletedAt is when the result was recorded.
	CompletedAt time.Time `json:"completed_at"`
}
