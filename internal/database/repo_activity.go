package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/agentboard/controlplane/internal/models"
)

// AppendActivityEvent inserts an activity-log row. The log is append-only —
// there is no Update or Delete.
func (db *DB) AppendActivityEvent(ctx context.Context, e *models.ActivityEvent) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO activity_events (id, board_id, event_type, task_id, agent_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BoardID, e.EventType, e.TaskID, e.AgentID, e.Message, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append activity event: %w", err)
	}
	return nil
}

// appendActivityEventTx is AppendActivityEvent's transaction-scoped
// sibling, used by the composite task/agent operations that must commit
// their state change and its log entry together.
func appendActivityEventTx(ctx context.Context, tx *sql.Tx, e *models.ActivityEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO activity_events (id, board_id, event_type, task_id, agent_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BoardID, e.EventType, e.TaskID, e.AgentID, e.Message, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append activity event: %w", err)
	}
	return nil
}

func scanActivityEvent(row interface{ Scan(...any) error }) (*models.ActivityEvent, error) {
	e := &models.ActivityEvent{}
	err := row.Scan(&e.ID, &e.BoardID, &e.EventType, &e.TaskID, &e.AgentID, &e.Message, &e.CreatedAt)
	return e, err
}

// ListActivitySince returns every event on boardID created strictly after
// since, oldest first — the query behind GET /activity. The SSE streams use
// ListTaskCommentsSince and ListAgentsUpdatedSince instead.
func (db *DB) ListActivitySince(ctx context.Context, boardID string, since time.Time) ([]*models.ActivityEvent, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, board_id, event_type, task_id, agent_id, message, created_at
		FROM activity_events
		WHERE board_id = ? AND created_at > ?
		ORDER BY created_at ASC`, boardID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity since cursor: %w", err)
	}
	defer rows.Close()

	var out []*models.ActivityEvent
	for rows.Next() {
		e, err := scanActivityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListTaskCommentsSince returns comment-feed entries created strictly after
// since across every board in boardIDs, oldest first — the query the
// task-comments SSE stream runs on each poll tick. An empty boardIDs slice
// (an empty accessible-board set) returns no rows without querying.
func (db *DB) ListTaskCommentsSince(ctx context.Context, boardIDs []string, since time.Time) ([]*models.ActivityEvent, error) {
	if len(boardIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(boardIDs)
	args = append(args, since)
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, board_id, event_type, task_id, agent_id, message, created_at
		FROM activity_events
		WHERE board_id IN (`+placeholders+`) AND event_type = 'task.comment' AND created_at > ?
		ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list task comments since cursor: %w", err)
	}
	defer rows.Close()

	var out []*models.ActivityEvent
	for rows.Next() {
		e, err := scanActivityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func inClause(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}

// ListTaskComments returns the comment-feed entries for a task, oldest
// first, using the partial index on event_type = 'task.comment'.
func (db *DB) ListTaskComments(ctx context.Context, taskID string) ([]*models.ActivityEvent, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, board_id, event_type, task_id, agent_id, message, created_at
		FROM activity_events
		WHERE task_id = ? AND event_type = 'task.comment'
		ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task comments: %w", err)
	}
	defer rows.Close()

	var out []*models.ActivityEvent
	for rows.Next() {
		e, err := scanActivityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
