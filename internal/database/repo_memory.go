package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentboard/controlplane/internal/models"
)

// CreateBoardMemory inserts a chat or structured-memory entry.
func (db *DB) CreateBoardMemory(ctx context.Context, m *models.BoardMemory) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	_, err = db.SQL.ExecContext(ctx, `
		INSERT INTO board_memory (id, board_id, author_id, is_chat, tags, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.BoardID, m.AuthorID, m.IsChat, string(tags), m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create board memory: %w", err)
	}
	return nil
}

func scanBoardMemory(row interface{ Scan(...any) error }) (*models.BoardMemory, error) {
	m := &models.BoardMemory{}
	var tags string
	if err := row.Scan(&m.ID, &m.BoardID, &m.AuthorID, &m.IsChat, &tags, &m.Content, &m.CreatedAt); err != nil {
		return nil, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return m, nil
}

// ListBoardMemory returns entries for a board filtered by isChat (chat
// transcript vs. structured memory), newest first.
func (db *DB) ListBoardMemory(ctx context.Context, boardID string, isChat bool, limit int) ([]*models.BoardMemory, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, board_id, author_id, is_chat, tags, content, created_at
		FROM board_memory
		WHERE board_id = ? AND is_chat = ?
		ORDER BY created_at DESC
		LIMIT ?`, boardID, isChat, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list board memory: %w", err)
	}
	defer rows.Close()

	var out []*models.BoardMemory
	for rows.Next() {
		m, err := scanBoardMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListBoardMemoryByTag returns structured-memory entries carrying tag,
// newest first, such as a pull-based reply a lead leaves after "lead asks
// user". Nothing in the repository calls it.
func (db *DB) ListBoardMemoryByTag(ctx context.Context, boardID, tag string, limit int) ([]*models.BoardMemory, error) {
	all, err := db.ListBoardMemory(ctx, boardID, false, limit*4)
	if err != nil {
		return nil, err
	}
	var out []*models.BoardMemory
	for _, m := range all {
		for _, t := range m.Tags {
			if t == tag {
				out = append(out, m)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CreateApproval inserts a new approval request.
func (db *DB) CreateApproval(ctx context.Context, a *models.Approval) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO approvals (id, board_id, task_id, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BoardID, a.TaskID, a.Title, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

func scanApproval(row interface{ Scan(...any) error }) (*models.Approval, error) {
	a := &models.Approval{}
	err := row.Scan(&a.ID, &a.BoardID, &a.TaskID, &a.Title, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// GetApproval retrieves an approval by ID.
func (db *DB) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	a, err := scanApproval(db.SQL.QueryRowContext(ctx, `
		SELECT id, board_id, task_id, title, status, created_at, updated_at
		FROM approvals WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return a, nil
}

// ListApprovalsByBoard returns every approval on a board, newest first.
func (db *DB) ListApprovalsByBoard(ctx context.Context, boardID string) ([]*models.Approval, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, board_id, task_id, title, status, created_at, updated_at
		FROM approvals WHERE board_id = ? ORDER BY created_at DESC`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []*models.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateApprovalStatus resolves an approval to approved/rejected.
func (db *DB) UpdateApprovalStatus(ctx context.Context, a *models.Approval) error {
	res, err := db.SQL.ExecContext(ctx, `
		UPDATE approvals SET status = ?, updated_at = ? WHERE id = ?`,
		a.Status, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("approval not found: %s", a.ID)
	}
	return nil
}
