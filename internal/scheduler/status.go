package scheduler

import (
	"agentflow/internal/cache"
	"agentflow/pkg/models"
)

// Status is a point-in-time view of the scheduler for observability. It
// reports; it does not alert or retry.
type Status struct {
	// Active counts tasks that are pending, waiting or running.
	Active int `json:"active"`
	// Completed counts tasks that finished successfully.
	Completed int `json:"completed"`
	// Failed counts tasks that failed or timed out.
	Failed int `json:"failed"`
	// DecisionCache holds the decision cache counters, when one is wired.
	DecisionCache *cache.Stats `json:"decision_cache,omitempty"`
}

// Status returns current task counts and cache statistics.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	var st Status
	for _, state := range s.states {
		switch state {
		case models.TaskStateCompleted:
			st.Completed++
		case models.TaskStateFailed:
			st.Failed++
		default:
			st.Active++
		}
	}
	s.mu.Unlock()

	if s.opts.Decisions != nil {
		stats := s.opts.Decisions.Stats()
		st.DecisionCache = &stats
	}
	return st
}
