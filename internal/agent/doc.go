// Package agent defines the capability contract for fleet agents and the
// shared Base implementation concrete agents embed.
//
// # Lifecycle
//
// An agent moves through a small state machine:
//
//	idle ──execute begins──▶ busy ──success──▶ idle
//	                           │
//	                           └──failure──▶ error
//	any state ──stop──▶ stopped (terminal)
//
// Idle is both the initial and nominal resting state. Stopped is terminal for
// the instance; restart requires constructing a new agent, which avoids
// partially-reinitialized resources.
//
// # Execution contract
//
// Execute is the single entry point for domain work. Base wraps the concrete
// handler with uniform bookkeeping: status and last-task-at are updated
// before the handler runs, counters after. Handlers are registered in a table
// validated at construction, so an unsupported task name is a reportable
// ErrUnknownTask rather than a silent no-op.
//
// A single agent instance assumes at most one in-flight task at a time. This
// is a documented precondition enforced by the router and scheduler choosing
// distinct agents, not by the agent itself.
package agent
