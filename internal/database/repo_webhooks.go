package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentboard/controlplane/internal/models"
)

// CreateBoardWebhook registers a new ingestion endpoint for a board.
func (db *DB) CreateBoardWebhook(ctx context.Context, w *models.BoardWebhook) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO board_webhooks (id, board_id, name, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.BoardID, w.Name, w.Disabled, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create board webhook: %w", err)
	}
	return nil
}

func scanBoardWebhook(row interface{ Scan(...any) error }) (*models.BoardWebhook, error) {
	w := &models.BoardWebhook{}
	err := row.Scan(&w.ID, &w.BoardID, &w.Name, &w.Disabled, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// GetBoardWebhook retrieves a webhook by ID.
func (db *DB) GetBoardWebhook(ctx context.Context, id string) (*models.BoardWebhook, error) {
	w, err := scanBoardWebhook(db.SQL.QueryRowContext(ctx, `
		SELECT id, board_id, name, disabled, created_at, updated_at
		FROM board_webhooks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("webhook not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

// ListBoardWebhooks returns every webhook configured on a board.
func (db *DB) ListBoardWebhooks(ctx context.Context, boardID string) ([]*models.BoardWebhook, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, board_id, name, disabled, created_at, updated_at
		FROM board_webhooks WHERE board_id = ? ORDER BY created_at`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var out []*models.BoardWebhook
	for rows.Next() {
		w, err := scanBoardWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SetBoardWebhookDisabled toggles the disabled flag used by the 410 check.
func (db *DB) SetBoardWebhookDisabled(ctx context.Context, id string, disabled bool) error {
	res, err := db.SQL.ExecContext(ctx, `
		UPDATE board_webhooks SET disabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, disabled, id)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("webhook not found: %s", id)
	}
	return nil
}

// CreateBoardWebhookPayload persists a captured inbound delivery ahead of
// dispatch, so a crash between capture and dispatch never loses the
// payload — the reconciliation job rescans rows with no matching dispatch
// record.
func (db *DB) CreateBoardWebhookPayload(ctx context.Context, p *models.BoardWebhookPayload) error {
	body, err := json.Marshal(p.Body)
	if err != nil {
		return fmt.Errorf("failed to marshal payload body: %w", err)
	}
	headers, err := json.Marshal(p.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal payload headers: %w", err)
	}
	_, err = db.SQL.ExecContext(ctx, `
		INSERT INTO board_webhook_payloads (id, webhook_id, board_id, body, headers, source_ip, content_type, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WebhookID, p.BoardID, string(body), string(headers), p.SourceIP, p.ContentType, p.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook payload: %w", err)
	}
	return nil
}

func scanBoardWebhookPayload(row interface{ Scan(...any) error }) (*models.BoardWebhookPayload, error) {
	p := &models.BoardWebhookPayload{}
	var body, headers string
	if err := row.Scan(&p.ID, &p.WebhookID, &p.BoardID, &body, &headers, &p.SourceIP, &p.ContentType, &p.ReceivedAt); err != nil {
		return nil, err
	}
	if body != "" {
		if err := json.Unmarshal([]byte(body), &p.Body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload body: %w", err)
		}
	}
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &p.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload headers: %w", err)
		}
	}
	return p, nil
}

// GetBoardWebhookPayload retrieves a captured payload by ID, used by the
// dispatcher to load the delivery it is about to notify a lead about.
func (db *DB) GetBoardWebhookPayload(ctx context.Context, id string) (*models.BoardWebhookPayload, error) {
	p, err := scanBoardWebhookPayload(db.SQL.QueryRowContext(ctx, `
		SELECT id, webhook_id, board_id, body, headers, source_ip, content_type, received_at
		FROM board_webhook_payloads WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("webhook payload not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook payload: %w", err)
	}
	return p, nil
}

// ListWebhookPayloadsByWebhook returns every payload captured for a single
// webhook, newest first, for the /boards/{id}/webhooks/{wid}/payloads
// inspection endpoint.
func (db *DB) ListWebhookPayloadsByWebhook(ctx context.Context, webhookID string) ([]*models.BoardWebhookPayload, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, webhook_id, board_id, body, headers, source_ip, content_type, received_at
		FROM board_webhook_payloads
		WHERE webhook_id = ?
		ORDER BY received_at DESC`, webhookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook payloads: %w", err)
	}
	defer rows.Close()

	var out []*models.BoardWebhookPayload
	for rows.Next() {
		p, err := scanBoardWebhookPayload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook payload: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListRecentWebhookPayloads returns every payload received at or after
// since, oldest first — the query the reconciliation job's rescue scan runs
// each tick to find deliveries the in-process queue may have dropped across
// a restart.
func (db *DB) ListRecentWebhookPayloads(ctx context.Context, since time.Time) ([]*models.BoardWebhookPayload, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, webhook_id, board_id, body, headers, source_ip, content_type, received_at
		FROM board_webhook_payloads
		WHERE received_at >= ?
		ORDER BY received_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent webhook payloads: %w", err)
	}
	defer rows.Close()

	var out []*models.BoardWebhookPayload
	for rows.Next() {
		p, err := scanBoardWebhookPayload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook payload: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
