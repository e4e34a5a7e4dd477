// ABOUTME: Tests for the Base agent execution wrapper and lifecycle.
// ABOUTME: Covers status transitions, metrics accounting, and handler table validation.

package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/espfleet/internal/device"
)

func newTestAgent(t *testing.T, handlers map[string]Handler) *Base {
	t.Helper()
	b, err := NewBase(BaseParams{Type: "test", Handlers: handlers})
	require.NoError(t, err)
	return b
}

func TestNewBase_RequiresType(t *testing.T) {
	_, err := NewBase(BaseParams{})
	require.Error(t, err)
}

func TestNewBase_RejectsNilHandler(t *testing.T) {
	_, err := NewBase(BaseParams{
		Type:     "test",
		Handlers: map[string]Handler{"noop": nil},
	})
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestNewBase_AssignsUniqueIDs(t *testing.T) {
	a := newTestAgent(t, nil)
	b := newTestAgent(t, nil)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestExecute_Success(t *testing.T) {
	a := newTestAgent(t, map[string]Handler{
		"echo": func(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
			return params["value"], nil
		},
	})

	result, err := a.Execute(context.Background(), "echo", map[string]any{"value": 42}, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	assert.Equal(t, StatusIdle, a.Status())
	m := a.Metrics()
	assert.Equal(t, uint64(1), m.TasksCompleted)
	assert.Equal(t, uint64(0), m.TasksFailed)
	require.NotNil(t, m.LastTaskAt)
}

func TestExecute_HandlerFailure(t *testing.T) {
	boom := errors.New("boom")
	a := newTestAgent(t, map[string]Handler{
		"fail": func(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
			return nil, boom
		},
	})

	_, err := a.Execute(context.Background(), "fail", nil, nil)
	require.ErrorIs(t, err, boom, "handler errors must surface to the caller")

	assert.Equal(t, StatusError, a.Status())
	m := a.Metrics()
	assert.Equal(t, uint64(0), m.TasksCompleted)
	assert.Equal(t, uint64(1), m.TasksFailed)
}

func TestExecute_UnknownTask(t *testing.T) {
	a := newTestAgent(t, map[string]Handler{
		"known": func(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
			return nil, nil
		},
	})

	_, err := a.Execute(context.Background(), "unknown", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownTask)

	assert.Equal(t, StatusError, a.Status())
	m := a.Metrics()
	assert.Equal(t, uint64(0), m.TasksCompleted)
	assert.Equal(t, uint64(1), m.TasksFailed)
}

func TestExecute_BusyVisibleToHandler(t *testing.T) {
	a := newTestAgent(t, nil)
	a.handlers = map[string]Handler{
		"check": func(ctx context.Context, params map[string]any, dev *device.Device) (any, error) {
			// Status flips to busy before the handler runs.
			return string(a.Status()), nil
		},
	}

	result, err := a.Execute(context.Background(), "check", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, string(StatusBusy), result)
}

func TestLifecycle_StartStop(t *testing.T) {
	var started, stopped bool
	b, err := NewBase(BaseParams{
		Type:    "lifecycle",
		OnStart: func(ctx context.Context) error { started = true; return nil },
		OnStop:  func(ctx context.Context) error { stopped = true; return nil },
	})
	require.NoError(t, err)

	require.NoError(t, b.Start(context.Background()))
	assert.True(t, started)
	assert.Equal(t, StatusIdle, b.Status())

	require.NoError(t, b.Stop(context.Background()))
	assert.True(t, stopped)
	assert.Equal(t, StatusStopped, b.Status())
}

func TestLifecycle_StartHookError(t *testing.T) {
	hookErr := errors.New("radio init failed")
	b, err := NewBase(BaseParams{
		Type:    "lifecycle",
		OnStart: func(ctx context.Context) error { return hookErr },
	})
	require.NoError(t, err)

	err = b.Start(context.Background())
	assert.ErrorIs(t, err, hookErr)
}

func TestSetPeers(t *testing.T) {
	a := newTestAgent(t, nil)
	assert.Nil(t, a.Peers(), "detached agent has no peers")
}

func TestTasks(t *testing.T) {
	a := newTestAgent(t, map[string]Handler{
		"one": func(ctx context.Context, params map[string]any, dev *device.Device) (any, error) { return nil, nil },
		"two": func(ctx context.Context, params map[string]any, dev *device.Device) (any, error) { return nil, nil },
	})
	assert.ElementsMatch(t, []string{"one", "two"}, a.Tasks())
}
