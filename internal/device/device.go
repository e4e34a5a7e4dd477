// ABOUTME: Models a single fleet device and its connectivity state machine.
// ABOUTME: Provides HTTP ping/command transport, telemetry merge, and OTA flashing.

package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrNoAddress indicates the device has no network address configured.
var ErrNoAddress = errors.New("device has no network address")

// ErrUnreachable indicates a command could not complete a round-trip to the device.
var ErrUnreachable = errors.New("device unreachable")

// ErrCircuitOpen indicates the command circuit breaker is open after repeated failures.
var ErrCircuitOpen = errors.New("device circuit open")

// ErrUpdateRejected indicates the device refused an OTA update request.
var ErrUpdateRejected = errors.New("firmware update rejected by device")

// Status describes the connectivity state of a device.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusUpdating Status = "updating"
	StatusError    Status = "error"
)

// Capability identifies a radio or positioning subsystem present on a device.
type Capability string

const (
	CapabilityWiFi Capability = "wifi"
	CapabilityBLE  Capability = "ble"
	CapabilityGPS  Capability = "gps"
	CapabilityGNSS Capability = "gnss"
	CapabilityLoRa Capability = "lora"
)

const (
	defaultPingTimeout    = 5 * time.Second
	defaultCommandTimeout = 10 * time.Second
	defaultFrequencyHz    = 2.4e9

	// breakerMaxFailures is the number of consecutive command failures
	// before the circuit opens and commands fail fast.
	breakerMaxFailures uint32 = 5
	breakerTimeout            = 30 * time.Second
)

// Params configures a new Device.
type Params struct {
	ID           string
	Name         string
	Address      string // host[:port] the companion firmware listens on
	MAC          string
	Capabilities []Capability

	FirmwareVersion string
	FrequencyHz     float64

	PingTimeout    time.Duration
	CommandTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Device represents a single module in the fleet. It tracks connectivity,
// hardware capabilities, current operating frequency, and firmware version,
// and sends commands to the companion firmware over HTTP.
//
// All mutable state is guarded by an internal mutex; a Device may be probed
// by the orchestrator's health-check loop while an agent drives commands
// through it.
type Device struct {
	ID           string
	Name         string
	Address      string
	MAC          string
	Capabilities []Capability

	mu              sync.RWMutex
	status          Status
	firmwareVersion string
	frequencyHz     float64
	rssi            *int
	lastSeen        *time.Time
	telemetry       map[string]any

	client         *http.Client
	breaker        *gobreaker.CircuitBreaker[map[string]any]
	pingTimeout    time.Duration
	commandTimeout time.Duration
	logger         *slog.Logger
}

// New creates a Device from the given parameters, applying defaults for
// anything unset. A device starts in StatusUnknown until the first probe.
func New(p Params) *Device {
	if len(p.Capabilities) == 0 {
		p.Capabilities = []Capability{CapabilityWiFi, CapabilityBLE}
	}
	if p.FirmwareVersion == "" {
		p.FirmwareVersion = "0.0.0"
	}
	if p.FrequencyHz == 0 {
		p.FrequencyHz = defaultFrequencyHz
	}
	if p.PingTimeout == 0 {
		p.PingTimeout = defaultPingTimeout
	}
	if p.CommandTimeout == 0 {
		p.CommandTimeout = defaultCommandTimeout
	}
	if p.HTTPClient == nil {
		p.HTTPClient = &http.Client{}
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	d := &Device{
		ID:              p.ID,
		Name:            p.Name,
		Address:         p.Address,
		MAC:             p.MAC,
		Capabilities:    p.Capabilities,
		status:          StatusUnknown,
		firmwareVersion: p.FirmwareVersion,
		frequencyHz:     p.FrequencyHz,
		telemetry:       make(map[string]any),
		client:          p.HTTPClient,
		pingTimeout:     p.PingTimeout,
		commandTimeout:  p.CommandTimeout,
		logger:          p.Logger.With("device_id", p.ID),
	}

	d.breaker = gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        "device:" + p.ID,
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("command circuit state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return d
}

// Ping probes the device over the network and returns whether it responded.
// Ping never returns an error: every transport failure maps to false and a
// transition to StatusOffline. A successful probe refreshes last-seen and
// sets StatusOnline. The probe is bounded by the configured ping timeout so
// an unreachable device cannot stall the caller.
func (d *Device) Ping(ctx context.Context) bool {
	if d.Address == "" {
		d.setStatus(StatusOffline)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.pingTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/ping", d.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		d.setStatus(StatusOffline)
		return false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Debug("ping failed", "error", err)
		d.setStatus(StatusOffline)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		d.setStatus(StatusOffline)
		return false
	}

	d.markSeen()
	return true
}

// SendCommand sends a structured command to the device's companion firmware
// and returns the decoded JSON response. The request is bounded by the
// configured command timeout and routed through a circuit breaker: after
// repeated consecutive failures the breaker opens and SendCommand fails fast
// with ErrCircuitOpen until the device recovers.
//
// The device does not retry; callers decide how to handle failures.
func (d *Device) SendCommand(ctx context.Context, command string, payload map[string]any) (map[string]any, error) {
	if d.Address == "" {
		return nil, ErrNoAddress
	}

	result, err := d.breaker.Execute(func() (map[string]any, error) {
		return d.roundTrip(ctx, command, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, command)
		}
		return nil, err
	}

	d.markSeen()
	return result, nil
}

// roundTrip performs one command POST without breaker involvement.
func (d *Device) roundTrip(ctx context.Context, command string, payload map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.commandTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"command": command,
		"payload": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding command %q: %w", command, err)
	}

	url := fmt.Sprintf("http://%s/api/command", d.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.setStatus(StatusOffline)
		return nil, fmt.Errorf("%w: command %q: %v", ErrUnreachable, command, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.setStatus(StatusOffline)
		return nil, fmt.Errorf("%w: command %q: status %d", ErrUnreachable, command, resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response to %q: %w", command, err)
	}
	return result, nil
}

// SetFrequency tunes the device to the given frequency in Hz. Returns whether
// the device acknowledged the change; transport errors are absorbed.
func (d *Device) SetFrequency(ctx context.Context, frequencyHz float64) bool {
	resp, err := d.SendCommand(ctx, "set_frequency", map[string]any{"frequency_hz": frequencyHz})
	if err != nil {
		d.logger.Debug("set_frequency failed", "error", err)
		return false
	}
	if resp["status"] != "ok" {
		return false
	}

	d.mu.Lock()
	d.frequencyHz = frequencyHz
	d.mu.Unlock()
	d.logger.Info("device tuned", "frequency_mhz", frequencyHz/1e6)
	return true
}

// ReadRSSI reads the current signal strength from the device. The second
// return value reports whether a reading was obtained.
func (d *Device) ReadRSSI(ctx context.Context) (int, bool) {
	resp, err := d.SendCommand(ctx, "get_rssi", nil)
	if err != nil {
		return 0, false
	}
	raw, ok := resp["rssi"].(float64)
	if !ok {
		return 0, false
	}

	rssi := int(raw)
	d.mu.Lock()
	d.rssi = &rssi
	d.mu.Unlock()
	return rssi, true
}

// FlashFirmware triggers an OTA firmware update from the given URL. The
// device transitions to StatusUpdating for the duration, then to StatusOnline
// on success (recording the new version) or StatusError on failure.
func (d *Device) FlashFirmware(ctx context.Context, firmwareURL string) error {
	d.logger.Info("OTA update initiated", "url", firmwareURL)
	d.setStatus(StatusUpdating)

	resp, err := d.SendCommand(ctx, "ota_update", map[string]any{"url": firmwareURL})
	if err != nil {
		d.setStatus(StatusError)
		return fmt.Errorf("ota update: %w", err)
	}
	if resp["status"] != "ok" {
		d.setStatus(StatusError)
		return ErrUpdateRejected
	}

	d.mu.Lock()
	if v, ok := resp["new_version"].(string); ok && v != "" {
		d.firmwareVersion = v
	}
	d.status = StatusOnline
	d.mu.Unlock()
	return nil
}

// UpdateTelemetry merges incoming telemetry into the device's telemetry map.
// The merge is last-write-wins per key. Well-known keys (rssi, frequency_hz)
// are promoted into their first-class fields. Last-seen is refreshed.
func (d *Device) UpdateTelemetry(data map[string]any) {
	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, v := range data {
		d.telemetry[k] = v
	}
	d.lastSeen = &now

	if raw, ok := data["rssi"].(float64); ok {
		rssi := int(raw)
		d.rssi = &rssi
	}
	if hz, ok := data["frequency_hz"].(float64); ok {
		d.frequencyHz = hz
	}
}

// HasCapability reports whether the device advertises the given capability.
func (d *Device) HasCapability(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Status returns the current connectivity status.
func (d *Device) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// FirmwareVersion returns the last known firmware version string.
func (d *Device) FirmwareVersion() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.firmwareVersion
}

// FrequencyHz returns the current operating frequency in Hz.
func (d *Device) FrequencyHz() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frequencyHz
}

// RSSI returns the last known signal strength reading, if any.
func (d *Device) RSSI() (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.rssi == nil {
		return 0, false
	}
	return *d.rssi, true
}

// LastSeen returns the time of the last successful contact, if any.
func (d *Device) LastSeen() (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastSeen == nil {
		return time.Time{}, false
	}
	return *d.lastSeen, true
}

// Telemetry returns a copy of the telemetry map.
func (d *Device) Telemetry() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]any, len(d.telemetry))
	for k, v := range d.telemetry {
		out[k] = v
	}
	return out
}

// Snapshot returns a point-in-time view of the device suitable for status
// reporting. It never mutates device state.
func (d *Device) Snapshot() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	caps := make([]string, len(d.Capabilities))
	for i, c := range d.Capabilities {
		caps[i] = string(c)
	}
	telemetry := make(map[string]any, len(d.telemetry))
	for k, v := range d.telemetry {
		telemetry[k] = v
	}

	snap := map[string]any{
		"device_id":            d.ID,
		"name":                 d.Name,
		"address":              d.Address,
		"mac":                  d.MAC,
		"status":               string(d.status),
		"firmware_version":     d.firmwareVersion,
		"current_frequency_hz": d.frequencyHz,
		"capabilities":         caps,
		"telemetry":            telemetry,
	}
	if d.rssi != nil {
		snap["rssi"] = *d.rssi
	}
	if d.lastSeen != nil {
		snap["last_seen"] = d.lastSeen.Format(time.RFC3339)
	}
	return snap
}

// setStatus updates the connectivity status under lock.
func (d *Device) setStatus(s Status) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// markSeen records a successful contact: status online, last-seen now.
func (d *Device) markSeen() {
	now := time.Now().UTC()
	d.mu.Lock()
	d.status = StatusOnline
	d.lastSeen = &now
	d.mu.Unlock()
}
