// ABOUTME: Defines the Agent capability interface, status enum, and metrics.
// ABOUTME: The narrow contract the orchestrator uses to drive any agent kind.

package agent

import (
	"context"
	"errors"
	"time"

	"github.com/2389/espfleet/internal/device"
)

// ErrUnknownTask indicates an agent received a task name it does not support.
var ErrUnknownTask = errors.New("unknown task")

// ErrNilHandler indicates a handler table entry was nil at construction time.
var ErrNilHandler = errors.New("nil task handler")

// Status describes an agent's lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

// Metrics holds an agent's task execution counters. Mutated only by the
// Execute wrapper, never by domain handlers directly.
type Metrics struct {
	TasksCompleted uint64
	TasksFailed    uint64
	LastTaskAt     *time.Time
}

// Peers is the narrow, non-owning view of the orchestrator an agent may call
// back into, e.g. to locate sibling agents or enumerate the device fleet. It
// is set at registration time; a detached agent has no peers.
type Peers interface {
	AgentsByType(agentType string) []Agent
	Devices() []*device.Device
	OnlineDevices() []*device.Device
}

// Agent is one unit of domain capability with a lifecycle and an execution
// contract. Concrete agents embed Base, which enforces the uniform status and
// metrics bookkeeping around their task handlers.
type Agent interface {
	// ID returns the process-unique identifier assigned at construction.
	ID() string

	// Type returns the capability-class discriminator used for routing
	// and broadcast lookups (e.g. "frequency", "firmware").
	Type() string

	Status() Status
	Metrics() Metrics

	// Start prepares the agent for work and leaves it idle. It must not
	// block indefinitely; slow setup belongs in the agent's start hook.
	Start(ctx context.Context) error

	// Stop moves the agent to the terminal stopped state. There is no
	// stopped-to-idle transition; restarting requires a new instance.
	Stop(ctx context.Context) error

	// Execute runs one named task against an optional target device.
	// The device reference is borrowed for the duration of the call.
	Execute(ctx context.Context, task string, params map[string]any, dev *device.Device) (any, error)

	// SetPeers installs the orchestrator back-reference at registration.
	SetPeers(Peers)
}
