// ABOUTME: Central orchestrator owning the agent and device registries.
// ABOUTME: Wires the scheduler, router, event bus, and device health-check loop.

package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/espfleet/internal/agent"
	"github.com/2389/espfleet/internal/device"
	"github.com/2389/espfleet/internal/router"
	"github.com/2389/espfleet/internal/sched"
	"github.com/2389/espfleet/internal/store"
)

// ErrUnknownAgent indicates a dispatch referenced an unregistered agent id.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrNoCandidateAgents indicates a routed dispatch found no agents of the
// requested type.
var ErrNoCandidateAgents = errors.New("no candidate agents")

// DefaultHealthCheckInterval is the pause between device probe cycles.
const DefaultHealthCheckInterval = 10 * time.Second

// Params configures a new Orchestrator. Zero values get sensible defaults.
type Params struct {
	Router    *router.Router
	Scheduler *sched.Scheduler

	// Ledger, when set, receives a durable copy of every task result and
	// emitted event. Nil means in-memory only.
	Ledger store.Ledger

	HealthCheckInterval time.Duration

	// ResultCacheSize caps the in-memory task-result cache; the oldest
	// entry is evicted beyond it. Zero means DefaultResultCacheSize.
	ResultCacheSize int

	// PingRate paces health-check probes in pings per second, so a large
	// fleet is not hit in one burst. Zero means no pacing.
	PingRate float64

	Logger *slog.Logger
}

// Orchestrator is the composition root for the fleet: it owns the agent and
// device registries, the event-listener table, and the scheduler and router
// instances, and runs the periodic device health-check loop.
type Orchestrator struct {
	mu        sync.RWMutex
	agents    map[string]agent.Agent
	devices   map[string]*device.Device
	listeners map[string][]Listener
	running   bool

	results *resultCache
	router  *router.Router
	sched   *sched.Scheduler
	ledger  store.Ledger

	healthInterval time.Duration
	pingLimiter    *rate.Limiter

	cancelHealth context.CancelFunc
	healthDone   chan struct{}

	logger *slog.Logger
}

// New creates an Orchestrator from the given parameters.
func New(p Params) *Orchestrator {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Router == nil {
		p.Router = router.New(router.DefaultWeights, p.Logger)
	}
	if p.Scheduler == nil {
		p.Scheduler = sched.New(sched.DefaultMaxConcurrent, p.Logger)
	}
	if p.HealthCheckInterval <= 0 {
		p.HealthCheckInterval = DefaultHealthCheckInterval
	}

	var limiter *rate.Limiter
	if p.PingRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.PingRate), 1)
	}

	o := &Orchestrator{
		agents:         make(map[string]agent.Agent),
		devices:        make(map[string]*device.Device),
		listeners:      make(map[string][]Listener),
		results:        newResultCache(p.ResultCacheSize),
		router:         p.Router,
		sched:          p.Scheduler,
		ledger:         p.Ledger,
		healthInterval: p.HealthCheckInterval,
		pingLimiter:    limiter,
		logger:         p.Logger.With("component", "orchestrator"),
	}
	o.logger.Info("orchestrator initialized")
	return o
}

// RegisterDevice adds a device to the registry and returns its id.
// Registration is idempotent: a duplicate id logs a warning and leaves the
// existing entry in place.
func (o *Orchestrator) RegisterDevice(d *device.Device) string {
	o.mu.Lock()
	if _, exists := o.devices[d.ID]; exists {
		o.mu.Unlock()
		o.logger.Warn("device already registered", "device_id", d.ID)
		return d.ID
	}
	o.devices[d.ID] = d
	o.mu.Unlock()

	o.emit("device_registered", map[string]any{"device_id": d.ID, "name": d.Name})
	o.logger.Info("device registered", "device_id", d.ID, "name", d.Name)
	return d.ID
}

// UnregisterDevice removes a device from the registry. Returns whether the
// device was present.
func (o *Orchestrator) UnregisterDevice(deviceID string) bool {
	o.mu.Lock()
	_, exists := o.devices[deviceID]
	if exists {
		delete(o.devices, deviceID)
	}
	o.mu.Unlock()

	if !exists {
		return false
	}
	o.emit("device_unregistered", map[string]any{"device_id": deviceID})
	o.logger.Info("device unregistered", "device_id", deviceID)
	return true
}

// Device returns the device with the given id, if registered.
func (o *Orchestrator) Device(deviceID string) (*device.Device, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.devices[deviceID]
	return d, ok
}

// Devices returns all registered devices.
func (o *Orchestrator) Devices() []*device.Device {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*device.Device, 0, len(o.devices))
	for _, d := range o.devices {
		out = append(out, d)
	}
	return out
}

// OnlineDevices returns the devices whose current status is online. The
// result reflects live status: a device that went offline since the last
// health check is excluded without re-registration.
func (o *Orchestrator) OnlineDevices() []*device.Device {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*device.Device, 0, len(o.devices))
	for _, d := range o.devices {
		if d.Status() == device.StatusOnline {
			out = append(out, d)
		}
	}
	return out
}

// RegisterAgent adds an agent to the registry, installs the orchestrator as
// its peers back-reference, and returns the agent id. Idempotent like
// RegisterDevice.
func (o *Orchestrator) RegisterAgent(a agent.Agent) string {
	o.mu.Lock()
	if _, exists := o.agents[a.ID()]; exists {
		o.mu.Unlock()
		o.logger.Warn("agent already registered", "agent_id", a.ID())
		return a.ID()
	}
	o.agents[a.ID()] = a
	o.mu.Unlock()

	a.SetPeers(o)
	o.emit("agent_registered", map[string]any{"agent_id": a.ID(), "agent_type": a.Type()})
	o.logger.Info("agent registered", "agent_id", a.ID(), "agent_type", a.Type())
	return a.ID()
}

// Agent returns the agent with the given id, if registered.
func (o *Orchestrator) Agent(agentID string) (agent.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[agentID]
	return a, ok
}

// Agents returns all registered agents.
func (o *Orchestrator) Agents() []agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]agent.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, a)
	}
	return out
}

// AgentsByType returns the registered agents of one capability class.
func (o *Orchestrator) AgentsByType(agentType string) []agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []agent.Agent
	for _, a := range o.agents {
		if a.Type() == agentType {
			out = append(out, a)
		}
	}
	return out
}

// Start starts every registered agent concurrently and launches the
// health-check loop. Individual agent start failures are logged and do not
// prevent other agents from starting. Start is a no-op while running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	agents := make([]agent.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		agents = append(agents, a)
	}
	o.mu.Unlock()

	o.logger.Info("starting orchestrator",
		"agents", len(agents),
		"devices", len(o.Devices()),
	)

	var wg sync.WaitGroup
	for _, a := range agents {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Start(ctx); err != nil {
				o.logger.Error("agent failed to start", "agent_id", a.ID(), "error", err)
			}
		}()
	}
	wg.Wait()

	healthCtx, cancel := context.WithCancel(context.Background())
	o.cancelHealth = cancel
	o.healthDone = make(chan struct{})
	go o.healthCheckLoop(healthCtx)

	o.emit("orchestrator_started", map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)})
	return nil
}

// Stop halts the health-check loop and stops every agent concurrently,
// best-effort. Stop is a no-op when not running.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	agents := make([]agent.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		agents = append(agents, a)
	}
	o.mu.Unlock()

	if o.cancelHealth != nil {
		o.cancelHealth()
		<-o.healthDone
	}

	var wg sync.WaitGroup
	for _, a := range agents {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Stop(ctx); err != nil {
				o.logger.Error("agent failed to stop", "agent_id", a.ID(), "error", err)
			}
		}()
	}
	wg.Wait()

	o.emit("orchestrator_stopped", map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)})
	o.logger.Info("orchestrator stopped")
	return nil
}

// healthCheckLoop pings every registered device once per interval. A failed
// probe marks that device offline but never interrupts the rest of the cycle
// or the loop itself.
func (o *Orchestrator) healthCheckLoop(ctx context.Context) {
	defer close(o.healthDone)

	ticker := time.NewTicker(o.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, d := range o.Devices() {
				if o.pingLimiter != nil {
					if err := o.pingLimiter.Wait(ctx); err != nil {
						return
					}
				}
				if !d.Ping(ctx) {
					o.logger.Warn("health check failed", "device_id", d.ID)
				}
			}
		}
	}
}
