// ABOUTME: Base implementation shared by all concrete agents.
// ABOUTME: Wraps domain handlers with uniform status and metrics bookkeeping.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/espfleet/internal/device"
)

// Handler implements one named task for a concrete agent.
type Handler func(ctx context.Context, params map[string]any, dev *device.Device) (any, error)

// Hook runs custom logic during agent start or stop.
type Hook func(ctx context.Context) error

// BaseParams configures a new Base.
type BaseParams struct {
	// Type is the capability-class discriminator, e.g. "frequency".
	Type string

	// Handlers maps supported task names to their implementations. The
	// table is validated at construction: a nil entry is an error, and an
	// unlisted task name surfaces as ErrUnknownTask at Execute time.
	Handlers map[string]Handler

	// OnStart and OnStop are optional lifecycle hooks.
	OnStart Hook
	OnStop  Hook

	Logger *slog.Logger
}

// Base carries the agent identity, lifecycle state, metrics, and handler
// table. Concrete agents embed it and supply their handler map.
//
// Base is not reentrant-safe for two concurrent Execute calls on the same
// instance: status is a single field and concurrent tasks would race on it.
// The router and scheduler keep at most one in-flight task per agent; direct
// dispatch callers share that obligation.
type Base struct {
	id        string
	agentType string

	mu      sync.RWMutex
	status  Status
	metrics Metrics
	peers   Peers

	handlers map[string]Handler
	onStart  Hook
	onStop   Hook
	logger   *slog.Logger
}

// NewBase creates the shared agent core. It validates the handler table and
// assigns a fresh agent id.
func NewBase(p BaseParams) (*Base, error) {
	if p.Type == "" {
		return nil, fmt.Errorf("agent type is required")
	}
	for name, h := range p.Handlers {
		if h == nil {
			return nil, fmt.Errorf("%w: task %q", ErrNilHandler, name)
		}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	id := uuid.New().String()
	return &Base{
		id:        id,
		agentType: p.Type,
		status:    StatusIdle,
		handlers:  p.Handlers,
		onStart:   p.OnStart,
		onStop:    p.OnStop,
		logger:    p.Logger.With("agent_type", p.Type, "agent_id", id),
	}, nil
}

// ID returns the process-unique agent identifier.
func (b *Base) ID() string { return b.id }

// Type returns the capability-class discriminator.
func (b *Base) Type() string { return b.agentType }

// Status returns the current lifecycle state.
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Metrics returns a copy of the agent's execution counters.
func (b *Base) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

// SetPeers installs the orchestrator back-reference. Called at registration.
func (b *Base) SetPeers(p Peers) {
	b.mu.Lock()
	b.peers = p
	b.mu.Unlock()
}

// Peers returns the orchestrator back-reference, or nil if the agent is
// detached.
func (b *Base) Peers() Peers {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.peers
}

// Start resets the agent to idle and runs the start hook, if any.
func (b *Base) Start(ctx context.Context) error {
	b.setStatus(StatusIdle)
	if b.onStart != nil {
		if err := b.onStart(ctx); err != nil {
			return fmt.Errorf("starting %s agent: %w", b.agentType, err)
		}
	}
	b.logger.Info("agent started")
	return nil
}

// Stop moves the agent to the terminal stopped state and runs the stop hook.
func (b *Base) Stop(ctx context.Context) error {
	b.setStatus(StatusStopped)
	if b.onStop != nil {
		if err := b.onStop(ctx); err != nil {
			return fmt.Errorf("stopping %s agent: %w", b.agentType, err)
		}
	}
	b.logger.Info("agent stopped")
	return nil
}

// Execute runs one named task through the uniform wrapper: the agent goes
// busy and stamps last-task-at before the handler runs, so a concurrently
// querying router sees the agent as taken as soon as work starts. Success
// returns the agent to idle and counts a completion; failure (including an
// unsupported task name) counts a failure, leaves the agent in the error
// state, and propagates the error to the caller.
func (b *Base) Execute(ctx context.Context, task string, params map[string]any, dev *device.Device) (any, error) {
	now := time.Now().UTC()

	b.mu.Lock()
	b.status = StatusBusy
	b.metrics.LastTaskAt = &now
	handler, ok := b.handlers[task]
	b.mu.Unlock()

	if !ok {
		b.recordFailure()
		return nil, fmt.Errorf("%w: %q (agent type %s)", ErrUnknownTask, task, b.agentType)
	}

	result, err := handler(ctx, params, dev)
	if err != nil {
		b.recordFailure()
		b.logger.Error("task failed", "task", task, "error", err)
		return nil, fmt.Errorf("%s agent task %q: %w", b.agentType, task, err)
	}

	b.recordSuccess()
	return result, nil
}

// Tasks returns the set of task names this agent supports, in no particular
// order.
func (b *Base) Tasks() []string {
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	return names
}

func (b *Base) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *Base) recordSuccess() {
	b.mu.Lock()
	b.metrics.TasksCompleted++
	b.status = StatusIdle
	b.mu.Unlock()
}

func (b *Base) recordFailure() {
	b.mu.Lock()
	b.metrics.TasksFailed++
	b.status = StatusError
	b.mu.Unlock()
}
