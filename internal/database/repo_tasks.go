package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentboard/controlplane/internal/models"
)

// CreateTask inserts a new task.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO tasks (id, board_id, title, description, status, priority, assigned_agent_id, in_progress_at, review_at, done_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BoardID, t.Title, t.Description, t.Status, t.Priority, t.AssignedAgentID,
		t.InProgressAt, t.ReviewAt, t.DoneAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(
		&t.ID, &t.BoardID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.AssignedAgentID,
		&t.InProgressAt, &t.ReviewAt, &t.DoneAt, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

const taskColumns = `
	id, board_id, title, description, status, priority, assigned_agent_id,
	in_progress_at, review_at, done_at, created_at, updated_at`

// GetTask retrieves a task by ID.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(db.SQL.QueryRowContext(ctx, "SELECT"+taskColumns+" FROM tasks WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListTasksByBoard returns every task on a board, oldest first.
func (db *DB) ListTasksByBoard(ctx context.Context, boardID string) ([]*models.Task, error) {
	rows, err := db.SQL.QueryContext(ctx, "SELECT"+taskColumns+" FROM tasks WHERE board_id = ? ORDER BY created_at", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasksByAssignee returns every task currently assigned to an agent.
func (db *DB) ListTasksByAssignee(ctx context.Context, agentID string) ([]*models.Task, error) {
	rows, err := db.SQL.QueryContext(ctx, "SELECT"+taskColumns+" FROM tasks WHERE assigned_agent_id = ? ORDER BY created_at", agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks by assignee: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTask persists status/priority/assignment/timestamp changes.
func (db *DB) UpdateTask(ctx context.Context, t *models.Task) error {
	res, err := db.SQL.ExecContext(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, status = ?, priority = ?, assigned_agent_id = ?,
			in_progress_at = ?, review_at = ?, done_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, t.Status, t.Priority, t.AssignedAgentID,
		t.InProgressAt, t.ReviewAt, t.DoneAt, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", t.ID)
	}
	return nil
}

// AddTaskDependency records that taskID depends on dependsOnTaskID.
func (db *DB) AddTaskDependency(ctx context.Context, dep *models.TaskDependency) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO task_dependencies (task_id, depends_on_task_id, created_at) VALUES (?, ?, ?)`,
		dep.TaskID, dep.DependsOnTaskID, dep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add task dependency: %w", err)
	}
	return nil
}

// RemoveTaskDependenciesInvolving deletes every dependency edge that
// mentions taskID on either side — the cleanup cascade run when a task is
// deleted, so neither dangling depends-on edges nor dangling blocked-by
// edges survive it.
func (db *DB) RemoveTaskDependenciesInvolving(ctx context.Context, taskID string) error {
	_, err := db.SQL.ExecContext(ctx, `
		DELETE FROM task_dependencies WHERE task_id = ? OR depends_on_task_id = ?`,
		taskID, taskID,
	)
	if err != nil {
		return fmt.Errorf("failed to clean up task dependencies: %w", err)
	}
	return nil
}

// DeleteTask removes a task row. Dependency edges must be cleaned up by the
// caller first via RemoveTaskDependenciesInvolving; both run directly on
// db.SQL, not in one transaction. DeleteTaskCascade is the atomic variant.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	res, err := db.SQL.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// BlockedBy returns the IDs of tasks taskID depends on that are not yet
// done — the set a transition to in_progress/review/done must be empty
// before it is allowed.
func (db *DB) BlockedBy(ctx context.Context, taskID string) ([]string, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT d.depends_on_task_id
		FROM task_dependencies d
		JOIN tasks t ON t.id = d.depends_on_task_id
		WHERE d.task_id = ? AND t.status != 'done'`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked-by set: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependency id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CreateTaskWithDependencies inserts a task, its dependency edges, and the
// activity event recording its creation inside one transaction, so a
// caller never observes a task with a partial dependency set.
func (db *DB) CreateTaskWithDependencies(ctx context.Context, t *models.Task, deps []*models.TaskDependency, event *models.ActivityEvent) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, board_id, title, description, status, priority, assigned_agent_id, in_progress_at, review_at, done_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.BoardID, t.Title, t.Description, t.Status, t.Priority, t.AssignedAgentID,
			t.InProgressAt, t.ReviewAt, t.DoneAt, t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		for _, dep := range deps {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (task_id, depends_on_task_id, created_at) VALUES (?, ?, ?)`,
				dep.TaskID, dep.DependsOnTaskID, dep.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to add task dependency: %w", err)
			}
		}
		if event != nil {
			if err := appendActivityEventTx(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

// TransitionTask persists a task update and its activity event atomically
// — the pairing every status/assignment change in the task engine uses, so
// the log never records a transition the row itself doesn't reflect.
func (db *DB) TransitionTask(ctx context.Context, t *models.Task, event *models.ActivityEvent) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET
				title = ?, description = ?, status = ?, priority = ?, assigned_agent_id = ?,
				in_progress_at = ?, review_at = ?, done_at = ?, updated_at = ?
			WHERE id = ?`,
			t.Title, t.Description, t.Status, t.Priority, t.AssignedAgentID,
			t.InProgressAt, t.ReviewAt, t.DoneAt, t.UpdatedAt, t.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task not found: %s", t.ID)
		}
		if event != nil {
			if err := appendActivityEventTx(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteTaskCascade removes every dependency edge touching taskID, the
// task row itself, and appends a deletion activity event, atomically.
func (db *DB) DeleteTaskCascade(ctx context.Context, taskID string, event *models.ActivityEvent) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM task_dependencies WHERE task_id = ? OR depends_on_task_id = ?`,
			taskID, taskID,
		); err != nil {
			return fmt.Errorf("failed to clean up task dependencies: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", taskID)
		if err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task not found: %s", taskID)
		}
		if event != nil {
			if err := appendActivityEventTx(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

// DependentTaskIDs returns the IDs of tasks that depend on taskID — the
// inverse edge, used to notify downstream tasks when one becomes unblocked.
func (db *DB) DependentTaskIDs(ctx context.Context, taskID string) ([]string, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT task_id FROM task_dependencies WHERE depends_on_task_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dependent id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
