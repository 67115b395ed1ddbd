package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"agentflow/internal/cache"
	"agentflow/pkg/models"
)

// DefaultMaxConcurrentPerType bounds simultaneous executor invocations for
// a task type when no limit is configured.
const DefaultMaxConcurrentPerType = 4

// DefaultTimeout is the batch-wide timeout applied to tasks without one.
const DefaultTimeout = 5 * time.Minute

// ErrTaskTimeout marks results of tasks whose executor did not return in
// time. The executor goroutine is abandoned, not terminated: it may keep
// running and its eventual output is discarded.
var ErrTaskTimeout = errors.New("task timed out")

// ErrDuplicateTaskID indicates a batch reused a task ID.
var ErrDuplicateTaskID = errors.New("task id already submitted")

// Options configures a Scheduler.
type Options struct {
	// DefaultTimeout applies to tasks without their own. Zero means
	// DefaultTimeout (the package constant).
	DefaultTimeout time.Duration
	// MaxConcurrentPerType is the concurrency limit for types without an
	// entry in TypeLimits. Zero means DefaultMaxConcurrentPerType.
	MaxConcurrentPerType int64
	// TypeLimits overrides the concurrency limit for specific task types.
	TypeLimits map[models.TaskType]int64
	// Decisions, when set, is consulted by task fingerprint before the
	// executor is invoked, and updated after a successful execution.
	Decisions *cache.DecisionCache
	// Logger receives scheduling traces at debug level. Defaults to a
	// no-op logger.
	Logger zerolog.Logger
}

// Scheduler runs batches of tasks with bounded per-type concurrency.
// Dependency waiting uses a per-task completion channel closed when the
// task reaches a terminal state, so waiters are woken precisely. A failed
// dependency still unblocks its waiters: "attempted" counts as "resolved",
// and dependents are expected to inspect their dependencies' results.
//
// There is no deadlock detection. A dependency on an ID that is never
// submitted blocks its waiter until the batch context is cancelled.
type Scheduler struct {
	registry *Registry
	opts     Options
	log      zerolog.Logger

	mu sync.Mutex
	// states tracks the lifecycle of every submitted task.
	states map[string]models.TaskState
	// results holds exactly one result per terminal task.
	results map[string]models.Result
	// done maps task ID to a channel closed when the task is terminal.
	// Channels are created on demand so waiters can register before the
	// dependency itself is submitted.
	done map[string]chan struct{}
	// sems holds the per-type counting semaphores, created on first use.
	sems map[models.TaskType]*semaphore.Weighted
}

// New creates a Scheduler over the given executor registry.
func New(registry *Registry, opts Options) *Scheduler {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxConcurrentPerType <= 0 {
		opts.MaxConcurrentPerType = DefaultMaxConcurrentPerType
	}
	return &Scheduler{
		registry: registry,
		opts:     opts,
		log:      opts.Logger,
		states:   make(map[string]models.TaskState),
		results:  make(map[string]models.Result),
		done:     make(map[string]chan struct{}),
		sems:     make(map[models.TaskType]*semaphore.Weighted),
	}
}

// SubmitBatch runs every task in the batch and returns once all of them
// have reached a terminal state. Results are returned in submission order,
// one per task. Per-task failures (executor errors, timeouts, cancelled
// waits) are captured in the task's Result and never returned as an error;
// the only error cases are structural: a reused task ID or a nil registry
// entry check failing before anything is launched.
//
// Priority orders goroutine launch only. Completion order is a race.
func (s *Scheduler) SubmitBatch(ctx context.Context, tasks []models.Task) ([]models.Result, error) {
	if err := s.admit(tasks); err != nil {
		return nil, err
	}

	// Launch in priority order, highest first. Stable so equal priorities
	// keep submission order.
	launch := make([]models.Task, len(tasks))
	copy(launch, tasks)
	sort.SliceStable(launch, func(i, j int) bool {
		return launch[i].Priority > launch[j].Priority
	})

	var wg sync.WaitGroup
	for _, task := range launch {
		wg.Add(1)
		go func(task models.Task) {
			defer wg.Done()
			s.runTask(ctx, task)
		}(task)
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]models.Result, len(tasks))
	for i, task := range tasks {
		results[i] = s.results[task.ID]
	}
	return results, nil
}

// admit validates the batch and registers every task as pending, so that
// dependency channels exist before any goroutine starts waiting.
func (s *Scheduler) admit(tasks []models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if _, exists := s.states[task.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTaskID, task.ID)
		}
		if _, exists := seen[task.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTaskID, task.ID)
		}
		seen[task.ID] = struct{}{}
	}
	for _, task := range tasks {
		s.states[task.ID] = models.TaskStatePending
		s.doneChanLocked(task.ID)
	}
	return nil
}

// doneChanLocked returns the completion channel for id, creating it if
// needed. Caller must hold s.mu.
func (s *Scheduler) doneChanLocked(id string) chan struct{} {
	ch, ok := s.done[id]
	if !ok {
		ch = make(chan struct{})
		s.done[id] = ch
	}
	return ch
}

// runTask drives one task through its state machine. Every exit path
// records exactly one result and closes the task's completion channel.
func (s *Scheduler) runTask(ctx context.Context, task models.Task) {
	start := time.Now()

	if err := s.waitForDependencies(ctx, task); err != nil {
		s.record(task, nil, err, time.Since(start), false)
		return
	}

	sem := s.semFor(task.Type)
	if err := sem.Acquire(ctx, 1); err != nil {
		s.record(task, nil, fmt.Errorf("acquire concurrency slot: %w", err), time.Since(start), false)
		return
	}
	defer sem.Release(1)

	s.setState(task.ID, models.TaskStateRunning)
	s.log.Debug().Str("task", task.ID).Str("type", string(task.Type)).Msg("task running")

	// Consult the decision cache before paying for the executor.
	if s.opts.Decisions != nil {
		if fp, err := cache.TaskFingerprint(task); err == nil {
			if value, ok := s.opts.Decisions.Get(fp); ok {
				s.log.Debug().Str("task", task.ID).Msg("decision cache hit")
				s.record(task, value, nil, time.Since(start), true)
				return
			}
		}
	}

	value, err := s.execute(ctx, task)
	if err == nil && s.opts.Decisions != nil {
		if fp, fpErr := cache.TaskFingerprint(task); fpErr == nil {
			s.opts.Decisions.Put(fp, value)
		}
	}
	s.record(task, value, err, time.Since(start), false)
}

// waitForDependencies blocks until every dependency of task is terminal or
// ctx is cancelled. Failed dependencies satisfy the wait.
func (s *Scheduler) waitForDependencies(ctx context.Context, task models.Task) error {
	if len(task.DependsOn) == 0 {
		return nil
	}

	s.setState(task.ID, models.TaskStateWaiting)
	s.log.Debug().Str("task", task.ID).Strs("deps", task.DependsOn).Msg("waiting on dependencies")

	for _, depID := range task.DependsOn {
		s.mu.Lock()
		ch := s.doneChanLocked(depID)
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting on dependency %s: %w", depID, ctx.Err())
		}
	}
	return nil
}

// execute invokes the task's executor on its own goroutine under the
// task's timeout. On timeout the goroutine is abandoned: the result
// channel is buffered so its late send does not leak, and its output is
// dropped.
func (s *Scheduler) execute(ctx context.Context, task models.Task) (any, error) {
	exec, ok := s.registry.Lookup(task.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, task.Type)
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	out := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- outcome{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		value, err := exec(execCtx, task)
		out <- outcome{value: value, err: err}
	}()

	select {
	case o := <-out:
		return o.value, o.err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTaskTimeout, timeout)
		}
		return nil, execCtx.Err()
	}
}

// record stores the task's result exactly once and wakes its dependents.
func (s *Scheduler) record(task models.Task, value any, err error, elapsed time.Duration, cacheHit bool) {
	result := models.Result{
		TaskID:      task.ID,
		Type:        task.Type,
		Success:     err == nil,
		Value:       value,
		CacheHit:    cacheHit,
		Duration:    elapsed,
		CompletedAt: time.Now(),
	}
	if err != nil {
		result.Err = err
		result.Error = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[task.ID]; exists {
		// Exactly-once invariant: a second record for the same task is a
		// scheduler bug, not a caller error. Keep the first result.
		s.log.Error().Str("task", task.ID).Msg("duplicate result record dropped")
		return
	}
	s.results[task.ID] = result
	if err != nil {
		s.states[task.ID] = models.TaskStateFailed
		s.log.Debug().Str("task", task.ID).Err(err).Msg("task failed")
	} else {
		s.states[task.ID] = models.TaskStateCompleted
		s.log.Debug().Str("task", task.ID).Dur("duration", elapsed).Msg("task completed")
	}
	close(s.doneChanLocked(task.ID))
}

func (s *Scheduler) setState(id string, state models.TaskState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[id].Terminal() {
		return
	}
	s.states[id] = state
}

// semFor returns the counting semaphore bounding concurrency for a task
// type, creating it on first use.
func (s *Scheduler) semFor(taskType models.TaskType) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sem, ok := s.sems[taskType]; ok {
		return sem
	}
	limit := s.opts.MaxConcurrentPerType
	if override, ok := s.opts.TypeLimits[taskType]; ok && override > 0 {
		limit = override
	}
	sem := semaphore.NewWeighted(limit)
	s.sems[taskType] = sem
	return sem
}

// Result returns the recorded result for a task ID.
func (s *Scheduler) Result(id string) (models.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	return r, ok
}

// State returns the current lifecycle state of a task ID.
func (s *Scheduler) State(id string) (models.TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok
}
