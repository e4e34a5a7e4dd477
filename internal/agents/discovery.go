// ABOUTME: Discovery agent: enumerates the fleet through the orchestrator.
// ABOUTME: Demonstrates the non-owning peers back-reference installed at registration.

package agents

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/espfleet/internal/agent"
	"github.com/2389/espfleet/internal/device"
)

// TypeDiscovery is the capability-class discriminator for discovery agents.
const TypeDiscovery = "discovery"

// ErrDetached indicates the agent has not been registered with an
// orchestrator and so has no fleet to enumerate.
var ErrDetached = errors.New("agent is not registered with an orchestrator")

// Discovery reports on the device fleet. Supported tasks:
//
//   - scan: snapshots of the currently online devices
//   - inventory: snapshots of every registered device
//
// Neither task targets a specific device; both read the registry through the
// peers back-reference.
type Discovery struct {
	*agent.Base
}

// NewDiscovery creates a discovery agent.
func NewDiscovery(logger *slog.Logger) (*Discovery, error) {
	d := &Discovery{}
	base, err := agent.NewBase(agent.BaseParams{
		Type: TypeDiscovery,
		Handlers: map[string]agent.Handler{
			"scan":      d.scan,
			"inventory": d.inventory,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	d.Base = base
	return d, nil
}

func (d *Discovery) scan(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
	peers := d.Peers()
	if peers == nil {
		return nil, ErrDetached
	}
	return snapshots(peers.OnlineDevices()), nil
}

func (d *Discovery) inventory(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
	peers := d.Peers()
	if peers == nil {
		return nil, ErrDetached
	}
	return snapshots(peers.Devices()), nil
}

func snapshots(devices []*device.Device) []map[string]any {
	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	return out
}
