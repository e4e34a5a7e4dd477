// ABOUTME: Tests for orchestrator registries, event bus, lifecycle, and status.
// ABOUTME: Uses Base-backed test agents and httptest-backed devices.

package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/espfleet/internal/agent"
	"github.com/2389/espfleet/internal/device"
)

// newTestAgent builds a Base-backed agent with an echo and a fail handler.
func newTestAgent(t *testing.T, agentType string) *agent.Base {
	t.Helper()
	a, err := agent.NewBase(agent.BaseParams{
		Type: agentType,
		Handlers: map[string]agent.Handler{
			"echo": func(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
				return params["value"], nil
			},
			"fail": func(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
				return nil, errors.New("handler exploded")
			},
			"sleep": func(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
				time.Sleep(10 * time.Millisecond)
				return "slept", nil
			},
		},
	})
	require.NoError(t, err)
	return a
}

// newPingableDevice returns a device backed by a live httptest server.
func newPingableDevice(t *testing.T, id string) (*device.Device, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return device.New(device.Params{
		ID:      id,
		Name:    id,
		Address: strings.TrimPrefix(srv.URL, "http://"),
	}), srv
}

func TestRegisterDevice_Idempotent(t *testing.T) {
	o := New(Params{})
	d := device.New(device.Params{ID: "esp-1", Name: "bench"})

	assert.Equal(t, "esp-1", o.RegisterDevice(d))
	assert.Equal(t, "esp-1", o.RegisterDevice(d))
	assert.Len(t, o.Devices(), 1)
}

func TestUnregisterDevice(t *testing.T) {
	o := New(Params{})
	o.RegisterDevice(device.New(device.Params{ID: "esp-1", Name: "bench"}))

	assert.True(t, o.UnregisterDevice("esp-1"))
	assert.False(t, o.UnregisterDevice("esp-1"))
	assert.Empty(t, o.Devices())
}

func TestRegisterAgent_InstallsPeersAndIsIdempotent(t *testing.T) {
	o := New(Params{})
	a := newTestAgent(t, "frequency")

	o.RegisterAgent(a)
	o.RegisterAgent(a)

	assert.Len(t, o.Agents(), 1)
	assert.NotNil(t, a.Peers(), "registration must install the back-reference")
}

func TestAgentsByType(t *testing.T) {
	o := New(Params{})
	o.RegisterAgent(newTestAgent(t, "frequency"))
	o.RegisterAgent(newTestAgent(t, "frequency"))
	o.RegisterAgent(newTestAgent(t, "firmware"))

	assert.Len(t, o.AgentsByType("frequency"), 2)
	assert.Len(t, o.AgentsByType("firmware"), 1)
	assert.Empty(t, o.AgentsByType("spectrum"))
}

func TestOnlineDevices_ReflectsLiveStatus(t *testing.T) {
	o := New(Params{})
	d, srv := newPingableDevice(t, "esp-1")
	o.RegisterDevice(d)

	ctx := context.Background()
	require.True(t, d.Ping(ctx))
	assert.Len(t, o.OnlineDevices(), 1)

	// Kill the endpoint; the next probe flips the device offline and it
	// drops out of the online set without re-registration.
	srv.Close()
	require.False(t, d.Ping(ctx))
	assert.Empty(t, o.OnlineDevices())
}

func TestEvents_DeviceRegisteredFiresOncePerCall(t *testing.T) {
	o := New(Params{})

	var got []string
	o.On(EventDeviceRegistered, func(payload map[string]any) {
		got = append(got, payload["device_id"].(string))
	})

	o.RegisterDevice(device.New(device.Params{ID: "esp-1", Name: "a"}))
	o.RegisterDevice(device.New(device.Params{ID: "esp-2", Name: "b"}))
	// Duplicate registration must not re-fire.
	o.RegisterDevice(device.New(device.Params{ID: "esp-1", Name: "a"}))

	assert.Equal(t, []string{"esp-1", "esp-2"}, got)
}

func TestEvents_ListenerPanicIsolated(t *testing.T) {
	o := New(Params{})

	var secondRan bool
	o.On(EventDeviceRegistered, func(map[string]any) { panic("listener bug") })
	o.On(EventDeviceRegistered, func(map[string]any) { secondRan = true })

	o.RegisterDevice(device.New(device.Params{ID: "esp-1", Name: "a"}))
	assert.True(t, secondRan, "a panicking listener must not block later listeners")
}

func TestEvents_RunInRegistrationOrder(t *testing.T) {
	o := New(Params{})

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		o.On(EventAgentRegistered, func(map[string]any) { order = append(order, i) })
	}

	o.RegisterAgent(newTestAgent(t, "frequency"))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestStartStop_Lifecycle(t *testing.T) {
	o := New(Params{HealthCheckInterval: time.Hour})
	a := newTestAgent(t, "frequency")
	o.RegisterAgent(a)

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	assert.True(t, o.Status().Running)
	assert.Equal(t, agent.StatusIdle, a.Status())

	// Second start is a no-op.
	require.NoError(t, o.Start(ctx))

	require.NoError(t, o.Stop(ctx))
	assert.False(t, o.Status().Running)
	assert.Equal(t, agent.StatusStopped, a.Status())
}

func TestStart_AgentFailureDoesNotBlockSiblings(t *testing.T) {
	o := New(Params{HealthCheckInterval: time.Hour})

	bad, err := agent.NewBase(agent.BaseParams{
		Type:    "broken",
		OnStart: func(ctx context.Context) error { return errors.New("init failed") },
	})
	require.NoError(t, err)
	good := newTestAgent(t, "frequency")

	o.RegisterAgent(bad)
	o.RegisterAgent(good)

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(ctx)

	assert.Equal(t, agent.StatusIdle, good.Status())
}

func TestHealthCheckLoop_PingsDevices(t *testing.T) {
	var pings atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pings.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := New(Params{HealthCheckInterval: 20 * time.Millisecond})
	d := device.New(device.Params{ID: "esp-1", Name: "bench", Address: strings.TrimPrefix(srv.URL, "http://")})
	o.RegisterDevice(d)

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	assert.Eventually(t, func() bool { return pings.Load() >= 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, o.Stop(ctx))
	assert.Equal(t, device.StatusOnline, d.Status())
}

func TestHealthCheckLoop_OneDeadDeviceDoesNotStallOthers(t *testing.T) {
	o := New(Params{HealthCheckInterval: 20 * time.Millisecond})
	dead := device.New(device.Params{ID: "esp-dead", Name: "dead", Address: "127.0.0.1:1", PingTimeout: 50 * time.Millisecond})
	alive, _ := newPingableDevice(t, "esp-alive")
	o.RegisterDevice(dead)
	o.RegisterDevice(alive)

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	defer o.Stop(ctx)

	assert.Eventually(t, func() bool {
		return alive.Status() == device.StatusOnline && dead.Status() == device.StatusOffline
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStatus_Snapshot(t *testing.T) {
	o := New(Params{})
	o.RegisterAgent(newTestAgent(t, "frequency"))
	o.RegisterDevice(device.New(device.Params{ID: "esp-1", Name: "bench", Address: "10.0.0.5"}))

	snap := o.Status()
	assert.False(t, snap.Running)
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, "frequency", snap.Agents[0].Type)
	assert.Equal(t, string(agent.StatusIdle), snap.Agents[0].Status)
	require.Len(t, snap.Devices, 1)
	assert.Equal(t, "esp-1", snap.Devices[0].ID)
	assert.Equal(t, "10.0.0.5", snap.Devices[0].Address)
	assert.Zero(t, snap.PendingTasks)
	assert.False(t, snap.Timestamp.IsZero())
}
