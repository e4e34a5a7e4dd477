// ABOUTME: Synchronous event bus tying lifecycle transitions together.
// ABOUTME: Listener failures are isolated and logged, never propagated.

package orchestrator

import "context"

// Listener receives one event payload. Listeners run synchronously on the
// emitting goroutine, in registration order.
type Listener func(payload map[string]any)

// Event names emitted by the orchestrator.
const (
	EventDeviceRegistered    = "device_registered"
	EventDeviceUnregistered  = "device_unregistered"
	EventAgentRegistered     = "agent_registered"
	EventTaskDispatched      = "task_dispatched"
	EventTaskCompleted       = "task_completed"
	EventOrchestratorStarted = "orchestrator_started"
	EventOrchestratorStopped = "orchestrator_stopped"
)

// On subscribes a listener to the named event.
func (o *Orchestrator) On(event string, listener Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners[event] = append(o.listeners[event], listener)
}

// emit calls every current listener for the event, in registration order. A
// panicking listener is recovered and logged so it cannot take down the
// emitting operation or the listeners after it. The event is also written to
// the ledger when one is configured.
func (o *Orchestrator) emit(event string, payload map[string]any) {
	o.mu.RLock()
	listeners := make([]Listener, len(o.listeners[event]))
	copy(listeners, o.listeners[event])
	o.mu.RUnlock()

	for _, listener := range listeners {
		o.callListener(event, listener, payload)
	}

	if o.ledger != nil {
		if err := o.ledger.SaveEvent(context.Background(), event, payload); err != nil {
			o.logger.Error("event ledger write failed", "event", event, "error", err)
		}
	}
}

// callListener invokes one listener with panic isolation.
func (o *Orchestrator) callListener(event string, listener Listener, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("event listener panicked", "event", event, "panic", r)
		}
	}()
	listener(payload)
}
