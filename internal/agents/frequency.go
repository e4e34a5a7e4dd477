// ABOUTME: Frequency agent: tunes devices and sweeps bands for the best signal.
// ABOUTME: Exercises the Agent contract against the device command primitives.

package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/espfleet/internal/agent"
	"github.com/2389/espfleet/internal/device"
)

// TypeFrequency is the capability-class discriminator for frequency agents.
const TypeFrequency = "frequency"

// ErrDeviceRequired indicates a task needs a target device and none was given.
var ErrDeviceRequired = errors.New("task requires a target device")

// ErrCommandRefused indicates the device declined a command.
var ErrCommandRefused = errors.New("device refused command")

const defaultSweepSteps = 10

// Frequency tunes device radios. Supported tasks:
//
//   - set_frequency: tune to params["frequency_hz"]
//   - get_rssi: read the current signal strength
//   - sweep: step from params["start_hz"] to params["end_hz"] in
//     params["steps"] increments and report the frequency with the
//     strongest signal
type Frequency struct {
	*agent.Base
}

// NewFrequency creates a frequency agent.
func NewFrequency(logger *slog.Logger) (*Frequency, error) {
	f := &Frequency{}
	base, err := agent.NewBase(agent.BaseParams{
		Type: TypeFrequency,
		Handlers: map[string]agent.Handler{
			"set_frequency": f.setFrequency,
			"get_rssi":      f.getRSSI,
			"sweep":         f.sweep,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	f.Base = base
	return f, nil
}

func (f *Frequency) setFrequency(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
	if dev == nil {
		return nil, ErrDeviceRequired
	}
	hz, err := floatParam(params, "frequency_hz")
	if err != nil {
		return nil, err
	}

	if !dev.SetFrequency(ctx, hz) {
		return nil, fmt.Errorf("%w: set_frequency %.0f Hz", ErrCommandRefused, hz)
	}
	return map[string]any{"status": "ok", "frequency_hz": hz}, nil
}

func (f *Frequency) getRSSI(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
	if dev == nil {
		return nil, ErrDeviceRequired
	}
	rssi, ok := dev.ReadRSSI(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: get_rssi", ErrCommandRefused)
	}
	return map[string]any{"rssi": rssi}, nil
}

// sweep steps across a band, tuning and sampling RSSI at each point, and
// returns the strongest frequency found. Points the device refuses to tune
// to are skipped rather than failing the whole sweep.
func (f *Frequency) sweep(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
	if dev == nil {
		return nil, ErrDeviceRequired
	}
	startHz, err := floatParam(params, "start_hz")
	if err != nil {
		return nil, err
	}
	endHz, err := floatParam(params, "end_hz")
	if err != nil {
		return nil, err
	}
	if endHz <= startHz {
		return nil, fmt.Errorf("end_hz %.0f must be above start_hz %.0f", endHz, startHz)
	}

	steps := defaultSweepSteps
	if raw, ok := params["steps"]; ok {
		n, err := intValue(raw)
		if err != nil || n < 2 {
			return nil, fmt.Errorf("steps must be an integer >= 2, got %v", raw)
		}
		steps = n
	}

	var (
		samples  []map[string]any
		bestHz   float64
		bestRSSI int
		found    bool
	)
	stride := (endHz - startHz) / float64(steps-1)
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hz := startHz + float64(i)*stride
		if !dev.SetFrequency(ctx, hz) {
			continue
		}
		rssi, ok := dev.ReadRSSI(ctx)
		if !ok {
			continue
		}

		samples = append(samples, map[string]any{"frequency_hz": hz, "rssi": rssi})
		if !found || rssi > bestRSSI {
			bestHz, bestRSSI, found = hz, rssi, true
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: sweep produced no readings", ErrCommandRefused)
	}

	// Leave the device parked on the winner.
	dev.SetFrequency(ctx, bestHz)
	return map[string]any{
		"best_frequency_hz": bestHz,
		"best_rssi":         bestRSSI,
		"samples":           samples,
	}, nil
}
