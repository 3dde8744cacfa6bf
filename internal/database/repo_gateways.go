package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentboard/controlplane/internal/models"
)

// CreateGateway inserts a new gateway record.
func (db *DB) CreateGateway(ctx context.Context, g *models.Gateway) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO gateways (id, organization_id, name, url, bearer_token, main_session_key, workspace_root, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.OrganizationID, g.Name, g.URL, g.BearerToken, g.MainSessionKey, g.WorkspaceRoot, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	return nil
}

func scanGateway(row interface{ Scan(...any) error }) (*models.Gateway, error) {
	g := &models.Gateway{}
	err := row.Scan(&g.ID, &g.OrganizationID, &g.Name, &g.URL, &g.BearerToken, &g.MainSessionKey, &g.WorkspaceRoot, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

// GetGateway retrieves a gateway by ID.
func (db *DB) GetGateway(ctx context.Context, id string) (*models.Gateway, error) {
	g, err := scanGateway(db.SQL.QueryRowContext(ctx, `
		SELECT id, organization_id, name, url, bearer_token, main_session_key, workspace_root, created_at, updated_at
		FROM gateways WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("gateway not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway: %w", err)
	}
	return g, nil
}

// ListGateways returns every gateway in an organization.
func (db *DB) ListGateways(ctx context.Context, orgID string) ([]*models.Gateway, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, organization_id, name, url, bearer_token, main_session_key, workspace_root, created_at, updated_at
		FROM gateways WHERE organization_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	defer rows.Close()

	var out []*models.Gateway
	for rows.Next() {
		g, err := scanGateway(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gateway: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListAllGateways returns every gateway across every organization, the set
// the reconciliation cron iterates each tick.
func (db *DB) ListAllGateways(ctx context.Context) ([]*models.Gateway, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, organization_id, name, url, bearer_token, main_session_key, workspace_root, created_at, updated_at
		FROM gateways ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all gateways: %w", err)
	}
	defer rows.Close()

	var out []*models.Gateway
	for rows.Next() {
		g, err := scanGateway(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gateway: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGatewayRegistration persists a fresh URL/token/session/workspace
// tuple for an existing gateway. Nothing in the repository calls it.
func (db *DB) UpdateGatewayRegistration(ctx context.Context, g *models.Gateway) error {
	res, err := db.SQL.ExecContext(ctx, `
		UPDATE gateways
		SET url = ?, bearer_token = ?, main_session_key = ?, workspace_root = ?, updated_at = ?
		WHERE id = ?`,
		g.URL, g.BearerToken, g.MainSessionKey, g.WorkspaceRoot, g.UpdatedAt, g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update gateway: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("gateway not found: %s", g.ID)
	}
	return nil
}

// CreateBoard inserts a new board.
func (db *DB) CreateBoard(ctx context.Context, b *models.Board) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO boards (id, organization_id, gateway_id, name, objective, target_date, goal_confirmed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OrganizationID, b.GatewayID, b.Name, b.Objective, b.TargetDate, b.GoalConfirmed, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create board: %w", err)
	}
	return nil
}

func scanBoard(row interface{ Scan(...any) error }) (*models.Board, error) {
	b := &models.Board{}
	err := row.Scan(&b.ID, &b.OrganizationID, &b.GatewayID, &b.Name, &b.Objective, &b.TargetDate, &b.GoalConfirmed, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// GetBoard retrieves a board by ID.
func (db *DB) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	b, err := scanBoard(db.SQL.QueryRowContext(ctx, `
		SELECT id, organization_id, gateway_id, name, objective, target_date, goal_confirmed, created_at, updated_at
		FROM boards WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("board not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get board: %w", err)
	}
	return b, nil
}

// ListBoards returns every board in an organization.
func (db *DB) ListBoards(ctx context.Context, orgID string) ([]*models.Board, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, organization_id, gateway_id, name, objective, target_date, goal_confirmed, created_at, updated_at
		FROM boards WHERE organization_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	defer rows.Close()

	var out []*models.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListBoardsByGateway returns every board attached to a gateway, the set
// the coordinator's lead-broadcast fans out over.
func (db *DB) ListBoardsByGateway(ctx context.Context, gatewayID string) ([]*models.Board, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT id, organization_id, gateway_id, name, objective, target_date, goal_confirmed, created_at, updated_at
		FROM boards WHERE gateway_id = ? ORDER BY created_at`, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards by gateway: %w", err)
	}
	defer rows.Close()

	var out []*models.Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBoard persists mutable board fields (objective, target date, goal
// confirmation, gateway attachment).
func (db *DB) UpdateBoard(ctx context.Context, b *models.Board) error {
	res, err := db.SQL.ExecContext(ctx, `
		UPDATE boards
		SET gateway_id = ?, name = ?, objective = ?, target_date = ?, goal_confirmed = ?, updated_at = ?
		WHERE id = ?`,
		b.GatewayID, b.Name, b.Objective, b.TargetDate, b.GoalConfirmed, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("board not found: %s", b.ID)
	}
	return nil
}
