// ABOUTME: Firmware agent: drives OTA deployments and version queries.
// ABOUTME: Wraps the device's updating/online/error status transitions.

package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/espfleet/internal/agent"
	"github.com/2389/espfleet/internal/device"
)

// TypeFirmware is the capability-class discriminator for firmware agents.
const TypeFirmware = "firmware"

// Firmware deploys firmware images over the air. Supported tasks:
//
//   - deploy: flash the image at params["url"] onto the target device
//   - version: report the device's current firmware version
type Firmware struct {
	*agent.Base
}

// NewFirmware creates a firmware agent.
func NewFirmware(logger *slog.Logger) (*Firmware, error) {
	f := &Firmware{}
	base, err := agent.NewBase(agent.BaseParams{
		Type: TypeFirmware,
		Handlers: map[string]agent.Handler{
			"deploy":  f.deploy,
			"version": f.version,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	f.Base = base
	return f, nil
}

func (f *Firmware) deploy(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
	if dev == nil {
		return nil, ErrDeviceRequired
	}
	url, err := stringParam(params, "url")
	if err != nil {
		return nil, err
	}

	if err := dev.FlashFirmware(ctx, url); err != nil {
		return nil, fmt.Errorf("deploying to %s: %w", dev.ID, err)
	}
	return map[string]any{
		"status":  "ok",
		"version": dev.FirmwareVersion(),
	}, nil
}

func (f *Firmware) version(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
	if dev == nil {
		return nil, ErrDeviceRequired
	}
	return map[string]any{"version": dev.FirmwareVersion()}, nil
}
