// ABOUTME: Selects the best agent for a task via weighted multi-criteria scoring.
// ABOUTME: Scores availability, historical success rate, and idle recency.

package router

import (
	"log/slog"
	"time"

	"github.com/2389/espfleet/internal/agent"
)

// RecencyWindow is the idle duration after which an agent is considered
// fully rested for scoring purposes.
const RecencyWindow = 60 * time.Second

// Weights tunes the trade-off between latency (availability), reliability
// (success rate), and load balancing (recency). Raw values are normalized at
// construction so they always sum to 1.
type Weights struct {
	Availability float64
	SuccessRate  float64
	Recency      float64
}

// DefaultWeights favors idle agents first, reliable agents second, and
// spreads load across peers third.
var DefaultWeights = Weights{
	Availability: 0.50,
	SuccessRate:  0.30,
	Recency:      0.20,
}

// Router picks the optimal agent from a set of same-type candidates. Every
// sub-score is normalized to [0, 1] before weighting so no criterion
// dominates purely by scale.
type Router struct {
	weights Weights
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Router with the given weights. All-zero weights fall back to
// DefaultWeights; anything else is normalized to sum to 1.
func New(w Weights, logger *slog.Logger) *Router {
	total := w.Availability + w.SuccessRate + w.Recency
	if total == 0 {
		w = DefaultWeights
		total = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		weights: Weights{
			Availability: w.Availability / total,
			SuccessRate:  w.SuccessRate / total,
			Recency:      w.Recency / total,
		},
		now:    time.Now,
		logger: logger.With("component", "router"),
	}
}

// Select returns the highest-scoring agent from candidates, or nil if the
// slice is empty. A single candidate is returned without scoring. Ties break
// on the lexicographically smallest agent id, so repeated calls under
// identical conditions pick the same agent.
func (r *Router) Select(candidates []agent.Agent) agent.Agent {
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	best := candidates[0]
	bestScore := r.Score(best)
	for _, a := range candidates[1:] {
		score := r.Score(a)
		if score > bestScore || (score == bestScore && a.ID() < best.ID()) {
			best = a
			bestScore = score
		}
	}

	r.logger.Debug("agent selected",
		"agent_id", best.ID(),
		"score", bestScore,
		"candidates", len(candidates),
	)
	return best
}

// Score returns the composite routing score for one agent, in [0, 1].
func (r *Router) Score(a agent.Agent) float64 {
	w := r.weights
	return w.Availability*availability(a.Status()) +
		w.SuccessRate*successRate(a.Metrics()) +
		w.Recency*r.recency(a.Metrics())
}

// availability maps agent status to a readiness score. Busy and running are
// treated identically: both mean the agent has taken on work and cannot
// immediately start another task.
func availability(s agent.Status) float64 {
	switch s {
	case agent.StatusIdle:
		return 1.0
	case agent.StatusRunning, agent.StatusBusy:
		return 0.5
	default:
		return 0.0
	}
}

// successRate is completed over total. An agent with no history scores 1.0 so
// fresh agents are not penalized against seasoned ones.
func successRate(m agent.Metrics) float64 {
	total := m.TasksCompleted + m.TasksFailed
	if total == 0 {
		return 1.0
	}
	return float64(m.TasksCompleted) / float64(total)
}

// recency rewards agents that have been idle the longest. An agent that has
// never run a task is maximally rested.
func (r *Router) recency(m agent.Metrics) float64 {
	if m.LastTaskAt == nil {
		return 1.0
	}
	age := r.now().Sub(*m.LastTaskAt)
	if age >= RecencyWindow {
		return 1.0
	}
	if age < 0 {
		return 0.0
	}
	return age.Seconds() / RecencyWindow.Seconds()
}
