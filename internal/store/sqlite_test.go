// ABOUTME: Tests for the SQLite ledger covering task results and fleet events.
// ABOUTME: Uses a temporary database file per test.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSaveAndFetchTaskResult(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	saved := &TaskResult{
		TaskID:    "task-1",
		AgentID:   "agent-1",
		Task:      "set_frequency",
		Result:    map[string]any{"status": "ok"},
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, l.SaveTaskResult(ctx, saved))

	got, err := l.TaskResultByID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, "set_frequency", got.Task)
	assert.Equal(t, map[string]any{"status": "ok"}, got.Result)
	assert.Empty(t, got.Err)
	assert.WithinDuration(t, saved.Timestamp, got.Timestamp, time.Millisecond)
}

func TestTaskResult_WithError(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SaveTaskResult(ctx, &TaskResult{
		TaskID:    "task-2",
		AgentID:   "agent-1",
		Task:      "deploy",
		Err:       "device unreachable",
		Timestamp: time.Now().UTC(),
	}))

	got, err := l.TaskResultByID(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, "device unreachable", got.Err)
}

func TestTaskResultByID_NotFound(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.TaskResultByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveTaskResult_ReplaceIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	r := &TaskResult{TaskID: "task-3", AgentID: "a", Task: "scan", Timestamp: time.Now().UTC()}
	require.NoError(t, l.SaveTaskResult(ctx, r))
	r.Result = "updated"
	require.NoError(t, l.SaveTaskResult(ctx, r))

	got, err := l.TaskResultByID(ctx, "task-3")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Result)
}

func TestEvents_RecentNewestFirst(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SaveEvent(ctx, "device_registered", map[string]any{"device_id": "esp-1"}))
	require.NoError(t, l.SaveEvent(ctx, "task_dispatched", map[string]any{"task_id": "t-1"}))
	require.NoError(t, l.SaveEvent(ctx, "task_completed", map[string]any{"task_id": "t-1"}))

	events, err := l.RecentEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "task_completed", events[0].Event)
	assert.Equal(t, "task_dispatched", events[1].Event)
	assert.Equal(t, "t-1", events[1].Payload["task_id"])
}

func TestRecentEvents_DefaultLimit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SaveEvent(ctx, "orchestrator_started", nil))
	events, err := l.RecentEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
