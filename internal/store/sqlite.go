// ABOUTME: SQLite implementation of the Ledger interface using modernc.org/sqlite.
// ABOUTME: Persists task results and fleet events with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLedger implements the Ledger interface using SQLite.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLedger opens (or creates) a ledger database at the given path.
// The schema is created automatically and parent directories are created if
// needed.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &SQLiteLedger{
		db:     db,
		logger: logger,
	}

	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return l, nil
}

// createSchema creates the database tables if they don't exist
func (l *SQLiteLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS task_results (
			task_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			task TEXT NOT NULL,
			result_json TEXT,
			error TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_task_results_agent_id
			ON task_results(agent_id);

		CREATE TABLE IF NOT EXISTS fleet_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			payload_json TEXT,
			timestamp DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_fleet_events_timestamp
			ON fleet_events(timestamp);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// SaveTaskResult persists one task result. Saving the same task id twice
// replaces the earlier row; results are immutable in practice, so this only
// matters for route-task aliases.
func (l *SQLiteLedger) SaveTaskResult(ctx context.Context, result *TaskResult) error {
	resultJSON, err := json.Marshal(result.Result)
	if err != nil {
		// Non-serializable payloads still get a row; the raw value stays
		// in the in-memory cache only.
		resultJSON = []byte("null")
	}

	query := `
		INSERT OR REPLACE INTO task_results (task_id, agent_id, task, result_json, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(ctx, query,
		result.TaskID,
		result.AgentID,
		result.Task,
		string(resultJSON),
		result.Err,
		result.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving task result: %w", err)
	}
	return nil
}

// TaskResultByID fetches one task result, or ErrNotFound.
func (l *SQLiteLedger) TaskResultByID(ctx context.Context, taskID string) (*TaskResult, error) {
	query := `
		SELECT task_id, agent_id, task, result_json, error, timestamp
		FROM task_results WHERE task_id = ?
	`
	var (
		r          TaskResult
		resultJSON string
		ts         string
	)
	err := l.db.QueryRowContext(ctx, query, taskID).Scan(
		&r.TaskID, &r.AgentID, &r.Task, &resultJSON, &r.Err, &ts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying task result: %w", err)
	}

	if resultJSON != "" {
		if err := json.Unmarshal([]byte(resultJSON), &r.Result); err != nil {
			l.logger.Warn("undecodable result payload", "task_id", taskID, "error", err)
		}
	}
	if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &r, nil
}

// SaveEvent appends one fleet event to the ledger.
func (l *SQLiteLedger) SaveEvent(ctx context.Context, event string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		payloadJSON = []byte("{}")
	}

	query := `INSERT INTO fleet_events (event, payload_json, timestamp) VALUES (?, ?, ?)`
	_, err = l.db.ExecContext(ctx, query,
		event,
		string(payloadJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (l *SQLiteLedger) RecentEvents(ctx context.Context, limit int) ([]FleetEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, event, payload_json, timestamp
		FROM fleet_events ORDER BY id DESC LIMIT ?
	`
	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []FleetEvent
	for rows.Next() {
		var (
			e           FleetEvent
			payloadJSON string
			ts          string
		)
		if err := rows.Scan(&e.ID, &e.Event, &payloadJSON, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				l.logger.Warn("undecodable event payload", "event_id", e.ID, "error", err)
			}
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
