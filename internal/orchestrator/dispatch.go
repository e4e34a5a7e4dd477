// ABOUTME: Task dispatch paths: direct, broadcast, and router-selected.
// ABOUTME: Records results, emits lifecycle events, and surfaces agent failures.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/espfleet/internal/store"
)

// DispatchTask dispatches one task to a specific agent, optionally targeting
// a device. It returns the generated task id, under which the result is
// retrievable via TaskResult. On handler failure the error is returned to
// the caller and the result entry still records it, so the id remains valid
// for later inspection either way.
//
// Within one call, task_dispatched is emitted strictly before the agent
// executes and task_completed strictly after. Across concurrent dispatches
// there is no ordering guarantee.
func (o *Orchestrator) DispatchTask(ctx context.Context, agentID, task string, params map[string]any, deviceID string) (string, error) {
	a, ok := o.Agent(agentID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	taskID := uuid.New().String()

	// Unknown device ids degrade to a device-less dispatch; the device
	// parameter is optional.
	target, _ := o.Device(deviceID)

	o.logger.Info("dispatching task",
		"task", task,
		"agent_id", agentID,
		"device_id", deviceID,
	)
	o.emit(EventTaskDispatched, map[string]any{
		"task_id":   taskID,
		"agent_id":  agentID,
		"task":      task,
		"device_id": deviceID,
	})

	value, execErr := a.Execute(ctx, task, params, target)

	result := &store.TaskResult{
		TaskID:    taskID,
		AgentID:   agentID,
		Task:      task,
		Result:    value,
		Timestamp: time.Now().UTC(),
	}
	if execErr != nil {
		result.Err = execErr.Error()
	}
	o.recordResult(ctx, result)

	completed := map[string]any{
		"task_id":  taskID,
		"agent_id": agentID,
		"task":     task,
	}
	if execErr != nil {
		completed["error"] = execErr.Error()
	}
	o.emit(EventTaskCompleted, completed)

	return taskID, execErr
}

// BroadcastTask fans the same task out to every registered agent of the
// given type concurrently. It returns the task ids of all dispatches that
// completed successfully; failures are joined into the returned error. An
// empty candidate set returns an empty result and logs a warning.
func (o *Orchestrator) BroadcastTask(ctx context.Context, agentType, task string, params map[string]any) ([]string, error) {
	candidates := o.AgentsByType(agentType)
	if len(candidates) == 0 {
		o.logger.Warn("no agents for broadcast", "agent_type", agentType)
		return nil, nil
	}

	ids := make([]string, len(candidates))
	errs := make([]error, len(candidates))

	var wg sync.WaitGroup
	for i, a := range candidates {
		i, a := i, a
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := o.DispatchTask(ctx, a.ID(), task, params, "")
			ids[i] = id
			errs[i] = err
		}()
	}
	wg.Wait()

	out := make([]string, 0, len(candidates))
	for i, id := range ids {
		if errs[i] == nil {
			out = append(out, id)
		}
	}
	return out, errors.Join(errs...)
}

// RouteTask dispatches a task to the best available agent of the given type,
// selected by the router's weighted scoring, queued through the scheduler at
// the given priority (lower value is more urgent). Priority matters only
// under queue contention: with an otherwise empty queue the call is
// effectively synchronous.
//
// The returned id is whatever the scheduler ran; the result is retrievable
// under both the returned id and the outer scheduling id.
func (o *Orchestrator) RouteTask(ctx context.Context, agentType, task string, params map[string]any, deviceID string, priority int) (string, error) {
	candidates := o.AgentsByType(agentType)
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: type %q", ErrNoCandidateAgents, agentType)
	}

	selected := o.router.Select(candidates)
	if selected == nil {
		return "", fmt.Errorf("%w: type %q", ErrNoCandidateAgents, agentType)
	}

	outerID := uuid.New().String()
	o.sched.Schedule(func(runCtx context.Context) (any, error) {
		return o.DispatchTask(runCtx, selected.ID(), task, params, deviceID)
	}, outerID, priority, map[string]string{
		"agent_type": agentType,
		"task":       task,
	})

	value, err := o.sched.RunNext(ctx)
	innerID, _ := value.(string)

	// Expose the result under the outer id as well, so callers can use
	// either identifier with TaskResult.
	if innerID != "" && innerID != outerID {
		if r, ok := o.results.get(innerID); ok {
			o.results.put(outerID, r)
		}
	}

	o.logger.Info("task routed",
		"task", task,
		"agent_id", selected.ID(),
		"priority", priority,
	)

	if innerID == "" {
		innerID = outerID
	}
	return innerID, err
}

// TaskResult returns the stored result for a task id. Absent ids return
// false rather than an error. When a ledger is configured, ids evicted from
// the in-memory cache are looked up there.
func (o *Orchestrator) TaskResult(taskID string) (*store.TaskResult, bool) {
	if r, ok := o.results.get(taskID); ok {
		return r, true
	}
	if o.ledger != nil {
		r, err := o.ledger.TaskResultByID(context.Background(), taskID)
		if err == nil {
			return r, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Error("ledger lookup failed", "task_id", taskID, "error", err)
		}
	}
	return nil, false
}

// recordResult stores a result in the cache and writes through to the
// ledger when configured.
func (o *Orchestrator) recordResult(ctx context.Context, result *store.TaskResult) {
	o.results.put(result.TaskID, result)
	if o.ledger != nil {
		if err := o.ledger.SaveTaskResult(ctx, result); err != nil {
			o.logger.Error("result ledger write failed", "task_id", result.TaskID, "error", err)
		}
	}
}
