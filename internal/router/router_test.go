// ABOUTME: Tests for the weighted multi-criteria agent selection.
// ABOUTME: Covers determinism, availability preference, and success-rate ranking.

package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/espfleet/internal/agent"
	"github.com/2389/espfleet/internal/device"
)

// stubAgent is a minimal agent.Agent with fixed status and metrics.
type stubAgent struct {
	id      string
	status  agent.Status
	metrics agent.Metrics
}

func (s *stubAgent) ID() string             { return s.id }
func (s *stubAgent) Type() string           { return "stub" }
func (s *stubAgent) Status() agent.Status   { return s.status }
func (s *stubAgent) Metrics() agent.Metrics { return s.metrics }
func (s *stubAgent) SetPeers(agent.Peers)   {}

func (s *stubAgent) Start(ctx context.Context) error { return nil }
func (s *stubAgent) Stop(ctx context.Context) error  { return nil }

func (s *stubAgent) Execute(ctx context.Context, task string, params map[string]any, dev *device.Device) (any, error) {
	return nil, nil
}

func TestSelect_Empty(t *testing.T) {
	r := New(DefaultWeights, nil)
	assert.Nil(t, r.Select(nil))
}

func TestSelect_SingleShortCircuits(t *testing.T) {
	r := New(DefaultWeights, nil)
	only := &stubAgent{id: "a", status: agent.StatusStopped}

	// Even a stopped agent is returned when it is the only candidate.
	assert.Same(t, only, r.Select([]agent.Agent{only}))
}

func TestSelect_PrefersIdleOverBusy(t *testing.T) {
	r := New(DefaultWeights, nil)
	idle := &stubAgent{id: "b", status: agent.StatusIdle}
	busy := &stubAgent{id: "a", status: agent.StatusBusy}

	assert.Same(t, idle, r.Select([]agent.Agent{busy, idle}))
}

func TestSelect_PrefersHigherSuccessRate(t *testing.T) {
	r := New(DefaultWeights, nil)
	flaky := &stubAgent{id: "a", status: agent.StatusIdle,
		metrics: agent.Metrics{TasksCompleted: 1, TasksFailed: 9}}
	solid := &stubAgent{id: "b", status: agent.StatusIdle,
		metrics: agent.Metrics{TasksCompleted: 9, TasksFailed: 1}}

	assert.Same(t, solid, r.Select([]agent.Agent{flaky, solid}))
}

func TestSelect_Deterministic(t *testing.T) {
	r := New(DefaultWeights, nil)
	agents := []agent.Agent{
		&stubAgent{id: "c", status: agent.StatusIdle},
		&stubAgent{id: "a", status: agent.StatusIdle},
		&stubAgent{id: "b", status: agent.StatusIdle},
	}

	first := r.Select(agents)
	for i := 0; i < 20; i++ {
		assert.Same(t, first, r.Select(agents))
	}
}

func TestSelect_TieBreaksOnLowestID(t *testing.T) {
	r := New(DefaultWeights, nil)
	a := &stubAgent{id: "aaa", status: agent.StatusIdle}
	b := &stubAgent{id: "bbb", status: agent.StatusIdle}

	assert.Same(t, a, r.Select([]agent.Agent{b, a}))
}

func TestScore_FreshAgentScoresFull(t *testing.T) {
	r := New(DefaultWeights, nil)
	fresh := &stubAgent{id: "a", status: agent.StatusIdle}

	// No history: availability 1.0, success 1.0, recency 1.0.
	assert.InDelta(t, 1.0, r.Score(fresh), 1e-9)
}

func TestScore_RecencyRampsUp(t *testing.T) {
	r := New(Weights{Availability: 0, SuccessRate: 0, Recency: 1}, nil)

	base := time.Now()
	r.now = func() time.Time { return base }

	halfWindow := base.Add(-RecencyWindow / 2)
	recent := &stubAgent{id: "a", status: agent.StatusIdle,
		metrics: agent.Metrics{LastTaskAt: &halfWindow}}
	assert.InDelta(t, 0.5, r.Score(recent), 1e-9)

	longAgo := base.Add(-2 * RecencyWindow)
	rested := &stubAgent{id: "b", status: agent.StatusIdle,
		metrics: agent.Metrics{LastTaskAt: &longAgo}}
	assert.InDelta(t, 1.0, r.Score(rested), 1e-9)
}

func TestScore_ErrorAndStoppedScoreZeroAvailability(t *testing.T) {
	r := New(Weights{Availability: 1, SuccessRate: 0, Recency: 0}, nil)

	errored := &stubAgent{id: "a", status: agent.StatusError}
	stopped := &stubAgent{id: "b", status: agent.StatusStopped}
	assert.Zero(t, r.Score(errored))
	assert.Zero(t, r.Score(stopped))
}

func TestNew_NormalizesWeights(t *testing.T) {
	// Raw weights {5, 3, 2} must behave identically to the defaults.
	scaled := New(Weights{Availability: 5, SuccessRate: 3, Recency: 2}, nil)
	defaults := New(DefaultWeights, nil)

	last := time.Now().Add(-10 * time.Second)
	a := &stubAgent{id: "a", status: agent.StatusBusy,
		metrics: agent.Metrics{TasksCompleted: 3, TasksFailed: 1, LastTaskAt: &last}}

	require.InDelta(t, defaults.Score(a), scaled.Score(a), 1e-9)
}

func TestNew_ZeroWeightsFallBackToDefaults(t *testing.T) {
	r := New(Weights{}, nil)
	assert.InDelta(t, 0.50, r.weights.Availability, 1e-9)
	assert.InDelta(t, 0.30, r.weights.SuccessRate, 1e-9)
	assert.InDelta(t, 0.20, r.weights.Recency, 1e-9)
}
