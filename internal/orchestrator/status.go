// ABOUTME: Point-in-time status snapshot of the orchestrator and its fleet.
// ABOUTME: Pure read; never mutates agent, device, or scheduler state.

package orchestrator

import (
	"sort"
	"time"
)

// AgentStatus is one agent's entry in a Snapshot.
type AgentStatus struct {
	ID     string `json:"agent_id"`
	Type   string `json:"agent_type"`
	Status string `json:"status"`
}

// DeviceStatus is one device's entry in a Snapshot.
type DeviceStatus struct {
	ID      string `json:"device_id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
}

// Snapshot is a point-in-time view of the orchestrator's state.
type Snapshot struct {
	Running      bool           `json:"running"`
	Agents       []AgentStatus  `json:"agents"`
	Devices      []DeviceStatus `json:"devices"`
	PendingTasks int            `json:"pending_tasks"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Status returns a snapshot of the current state. Entries are sorted by id
// so repeated snapshots of an unchanged fleet compare equal.
func (o *Orchestrator) Status() Snapshot {
	o.mu.RLock()
	running := o.running
	agents := make([]AgentStatus, 0, len(o.agents))
	for _, a := range o.agents {
		agents = append(agents, AgentStatus{
			ID:     a.ID(),
			Type:   a.Type(),
			Status: string(a.Status()),
		})
	}
	devices := make([]DeviceStatus, 0, len(o.devices))
	for _, d := range o.devices {
		devices = append(devices, DeviceStatus{
			ID:      d.ID,
			Name:    d.Name,
			Status:  string(d.Status()),
			Address: d.Address,
		})
	}
	o.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	return Snapshot{
		Running:      running,
		Agents:       agents,
		Devices:      devices,
		PendingTasks: o.sched.PendingCount(),
		Timestamp:    time.Now().UTC(),
	}
}
