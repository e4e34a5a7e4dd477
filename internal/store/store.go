// ABOUTME: Ledger interface and record types for task results and fleet events.
// ABOUTME: Consumed by the orchestrator for durable audit/history storage.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// TaskResult is the immutable outcome of one dispatched task.
type TaskResult struct {
	TaskID    string
	AgentID   string
	Task      string
	Result    any
	Err       string // empty on success
	Timestamp time.Time
}

// FleetEvent is one orchestrator lifecycle or task event, persisted for audit.
type FleetEvent struct {
	ID        int64
	Event     string
	Payload   map[string]any
	Timestamp time.Time
}

// Ledger persists task results and fleet events. The orchestrator writes
// through to it when configured; an absent ledger means in-memory only.
type Ledger interface {
	SaveTaskResult(ctx context.Context, result *TaskResult) error
	TaskResultByID(ctx context.Context, taskID string) (*TaskResult, error)

	SaveEvent(ctx context.Context, event string, payload map[string]any) error
	RecentEvents(ctx context.Context, limit int) ([]FleetEvent, error)

	Close() error
}
