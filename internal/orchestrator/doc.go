// Package orchestrator is the composition root of the fleet coordination
// core and the only component external callers interact with directly.
//
// # Responsibilities
//
// The Orchestrator owns:
//
//   - the agent and device registries (register, look up, enumerate)
//   - the event bus (On to subscribe; events fire synchronously in
//     registration order with per-listener failure isolation)
//   - the task scheduler and the multi-criteria router
//   - a bounded cache of recent task results, optionally backed by a
//     SQLite ledger for durable history
//   - the periodic device health-check loop
//
// # Dispatch paths
//
// A caller dispatches a task one of three ways:
//
//   - DispatchTask: to a specific agent id
//   - BroadcastTask: to every agent of a capability class, concurrently
//   - RouteTask: to the best agent of a class, chosen by the router and
//     queued through the scheduler at a caller-supplied priority
//
// Every dispatch resolves an optional target device, invokes the agent's
// Execute wrapper, records the result under a fresh task id, and emits
// task_dispatched / task_completed events around the execution.
//
// # Ordering
//
// Within one dispatch, task_dispatched precedes execution and
// task_completed follows it. Across different dispatches there is no
// ordering guarantee; concurrent dispatches interleave arbitrarily.
package orchestrator
