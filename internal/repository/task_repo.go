// Package repository provides data access for the persisted task history.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/remote-agent-terminal/dashsync/internal/model"
)

// TaskRepository provides data access for task events.
type TaskRepository struct {
	db *sql.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Append inserts one task event.
func (r *TaskRepository) Append(ctx context.Context, ev model.TaskEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO task_events (id, agent_id, status, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		ev.ID,
		nullString(ev.AgentID),
		ev.Status,
		nullString(ev.Message),
		ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append task event: %w", err)
	}
	return nil
}

// List returns the newest limit events, oldest first. A non-positive
// limit returns every event.
func (r *TaskRepository) List(ctx context.Context, limit int) ([]model.TaskEvent, error) {
	query := `
		SELECT id, agent_id, status, message, timestamp FROM (
			SELECT seq, id, agent_id, status, message, timestamp
			FROM task_events
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`
	return r.query(ctx, query, limitArg(limit))
}

// ListByAgent returns the newest limit events of one agent, oldest first.
func (r *TaskRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]model.TaskEvent, error) {
	query := `
		SELECT id, agent_id, status, message, timestamp FROM (
			SELECT seq, id, agent_id, status, message, timestamp
			FROM task_events
			WHERE agent_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`
	return r.query(ctx, query, agentID, limitArg(limit))
}

// History returns every event recorded for one task id, oldest first.
func (r *TaskRepository) History(ctx context.Context, taskID string) ([]model.TaskEvent, error) {
	query := `
		SELECT id, agent_id, status, message, timestamp
		FROM task_events
		WHERE id = ?
		ORDER BY seq ASC
	`
	return r.query(ctx, query, taskID)
}

// Count returns the number of stored events.
func (r *TaskRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_events`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count task events: %w", err)
	}
	return count, nil
}

// Prune deletes all but the newest keep events and returns how many were
// removed.
func (r *TaskRepository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM task_events
		WHERE seq NOT IN (SELECT seq FROM task_events ORDER BY seq DESC LIMIT ?)
	`
	result, err := r.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune task events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *TaskRepository) query(ctx context.Context, query string, args ...any) ([]model.TaskEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list task events: %w", err)
	}
	defer rows.Close()

	var events []model.TaskEvent
	for rows.Next() {
		var ev model.TaskEvent
		var agentID, message sql.NullString
		if err := rows.Scan(&ev.ID, &agentID, &ev.Status, &message, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan task event: %w", err)
		}
		if agentID.Valid {
			ev.AgentID = agentID.String
		}
		if message.Valid {
			ev.Message = message.String
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// limitArg maps a non-positive limit to sqlite's "no limit".
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
