// Package scheduler coordinates batches of agent tasks: dependency-aware
// launch, per-type concurrency limits, timeouts, and exactly-once result
// collection.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"agentflow/pkg/models"
)

// ErrNoExecutor indicates a task was submitted for a type with no
// registered executor.
var ErrNoExecutor = errors.New("no executor registered for task type")

// Executor performs a task's actual work. It is the only interface to the
// external collaborators (model calls, response parsing); an error return
// is converted into a failed result and never crashes the orchestrator.
// Executors should honor ctx cancellation, but the scheduler does not
// depend on it: a blocking executor that ignores ctx keeps running after
// its task has been marked failed.
type Executor func(ctx context.Context, task models.Task) (any, error)

// Registry maps task types to their executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[models.TaskType]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[models.TaskType]Executor)}
}

// Register installs the executor for a task type, replacing any previous one.
func (r *Registry) Register(taskType models.TaskType, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[taskType] = exec
}

// Lookup returns the executor for a task type.
func (r *Registry) Lookup(taskType models.TaskType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[taskType]
	return exec, ok
}

// Types returns the registered task types.
func (r *Registry) Types() []models.TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.TaskType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}
