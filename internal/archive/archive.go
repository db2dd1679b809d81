// Package archive persists pruned flows in SQLite so history survives the
// shared file's retention window.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowscope/flowscope/internal/eventstore"
)

// Archive is a SQLite-backed sink for pruned flows.
type Archive struct {
	db *sql.DB
}

var _ eventstore.Archiver = (*Archive)(nil)

// New opens (or creates) the archive database at dbPath.
func New(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	a := &Archive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS archived_flows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			current_stage TEXT,
			archived_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS archived_events (
			event_id TEXT NOT NULL,
			flow_id TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			stage TEXT,
			event_type TEXT NOT NULL,
			status TEXT,
			duration_ms INTEGER,
			error TEXT,
			data TEXT,
			PRIMARY KEY (flow_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_events_flow ON archived_events(flow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_archived_flows_started ON archived_flows(started_at)`,
	}
	for _, stmt := range statements {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	return nil
}

// ArchiveFlows inserts the given flows and events in one transaction.
// Re-archiving a flow replaces its previous rows.
func (a *Archive) ArchiveFlows(ctx context.Context, flows []*eventstore.Flow, events []*eventstore.Event) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	archivedAt := time.Now()
	for _, flow := range flows {
		var completedAt any
		if flow.CompletedAt != nil {
			completedAt = *flow.CompletedAt
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO archived_flows (id, name, started_at, completed_at, current_stage, archived_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			flow.ID, flow.Name, flow.StartedAt, completedAt, flow.CurrentStage, archivedAt,
		); err != nil {
			return fmt.Errorf("failed to archive flow %s: %w", flow.ID, err)
		}
	}

	for _, ev := range events {
		dataJSON, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO archived_events (event_id, flow_id, timestamp, stage, event_type, status, duration_ms, error, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.EventID, ev.FlowID, ev.Timestamp, ev.Stage, ev.EventType, ev.Status, ev.DurationMS, ev.Error, string(dataJSON),
		); err != nil {
			return fmt.Errorf("failed to archive event %s: %w", ev.EventID, err)
		}
	}

	return tx.Commit()
}

// FlowCount returns the number of archived flows.
func (a *Archive) FlowCount(ctx context.Context) (int, error) {
	var count int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_flows`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count archived flows: %w", err)
	}
	return count, nil
}

// FlowEvents returns the archived events for a flow in timestamp order.
func (a *Archive) FlowEvents(ctx context.Context, flowID string) ([]*eventstore.Event, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT event_id, flow_id, timestamp, stage, event_type, status, duration_ms, error, data
		 FROM archived_events WHERE flow_id = ? ORDER BY timestamp`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived events: %w", err)
	}
	defer rows.Close()

	var events []*eventstore.Event
	for rows.Next() {
		var ev eventstore.Event
		var dataJSON string
		if err := rows.Scan(&ev.EventID, &ev.FlowID, &ev.Timestamp, &ev.Stage, &ev.EventType, &ev.Status, &ev.DurationMS, &ev.Error, &dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan archived event: %w", err)
		}
		if dataJSON != "" {
			if err := json.Unmarshal([]byte(dataJSON), &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
