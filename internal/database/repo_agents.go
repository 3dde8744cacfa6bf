package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentboard/controlplane/internal/models"
)

// CreateAgent inserts a new agent record.
func (db *DB) CreateAgent(ctx context.Context, a *models.Agent) error {
	profile, err := json.Marshal(a.IdentityProfile)
	if err != nil {
		return fmt.Errorf("failed to marshal identity profile: %w", err)
	}
	_, err = db.SQL.ExecContext(ctx, `
		INSERT INTO agents (
			id, board_id, gateway_id, name, is_board_lead, openclaw_session_id,
			heartbeat_every, heartbeat_target, identity_profile, identity_template,
			soul_template, agent_token_hash, status, last_seen_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BoardID, a.GatewayID, a.Name, a.IsBoardLead, a.OpenClawSessionID,
		a.HeartbeatConfig.Every, a.HeartbeatConfig.Target, string(profile), a.IdentityTemplate,
		a.SoulTemplate, a.AgentTokenHash, a.Status, a.LastSeenAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func scanAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	a := &models.Agent{}
	var profile string
	err := row.Scan(
		&a.ID, &a.BoardID, &a.GatewayID, &a.Name, &a.IsBoardLead, &a.OpenClawSessionID,
		&a.HeartbeatConfig.Every, &a.HeartbeatConfig.Target, &profile, &a.IdentityTemplate,
		&a.SoulTemplate, &a.AgentTokenHash, &a.Status, &a.LastSeenAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if profile != "" {
		if uerr := json.Unmarshal([]byte(profile), &a.IdentityProfile); uerr != nil {
			return nil, fmt.Errorf("failed to unmarshal identity profile: %w", uerr)
		}
	}
	return a, nil
}

const agentColumns = `
	id, board_id, gateway_id, name, is_board_lead, openclaw_session_id,
	heartbeat_every, heartbeat_target, identity_profile, identity_template,
	soul_template, agent_token_hash, status, last_seen_at, created_at, updated_at`

// GetAgent retrieves an agent by ID.
func (db *DB) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	a, err := scanAgent(db.SQL.QueryRowContext(ctx, "SELECT"+agentColumns+" FROM agents WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return a, nil
}

// FindAgentByToken scans agents for one whose AgentTokenHash verify accepts
// plaintext, using the supplied verify function (kept as a parameter so
// this package does not import the bcrypt-wrapping auth package).
func (db *DB) FindAgentByToken(ctx context.Context, plaintext string, verify func(hash, plaintext string) bool) (*models.Agent, error) {
	rows, err := db.SQL.QueryContext(ctx, "SELECT"+agentColumns+" FROM agents WHERE agent_token_hash != ''")
	if err != nil {
		return nil, fmt.Errorf("failed to scan agents for token: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		if verify(a.AgentTokenHash, plaintext) {
			return a, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no agent matches the supplied token")
}

// GetAgentByOpenClawSession resolves the agent owning a gateway session id,
// used to authenticate inbound agent-originated RPCs.
func (db *DB) GetAgentByOpenClawSession(ctx context.Context, sessionID string) (*models.Agent, error) {
	a, err := scanAgent(db.SQL.QueryRowContext(ctx, "SELECT"+agentColumns+" FROM agents WHERE openclaw_session_id = ?", sessionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent not found for session: %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent by session: %w", err)
	}
	return a, nil
}

// ListAgentsByBoard returns every agent assigned to a board, including its
// lead.
func (db *DB) ListAgentsByBoard(ctx context.Context, boardID string) ([]*models.Agent, error) {
	rows, err := db.SQL.QueryContext(ctx, "SELECT"+agentColumns+" FROM agents WHERE board_id = ? ORDER BY created_at", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListMainAgentsByGateway returns the gateway-wide (board_id IS NULL) agents
// for a gateway, i.e. its main sessions.
func (db *DB) ListMainAgentsByGateway(ctx context.Context, gatewayID string) ([]*models.Agent, error) {
	rows, err := db.SQL.QueryContext(ctx, "SELECT"+agentColumns+" FROM agents WHERE gateway_id = ? AND board_id IS NULL ORDER BY created_at", gatewayID)
	if err != nil {
		return nil, fmt.Errorf("failed to list main agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAgentsUpdatedSince returns agents across boardIDs whose updated_at or
// last_seen_at moved past since — the query the agents SSE stream runs on
// each poll tick. An empty boardIDs slice returns no rows without querying.
func (db *DB) ListAgentsUpdatedSince(ctx context.Context, boardIDs []string, since time.Time) ([]*models.Agent, error) {
	if len(boardIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(boardIDs)
	args = append(args, since, since)
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT`+agentColumns+`
		FROM agents
		WHERE board_id IN (`+placeholders+`) AND (updated_at >= ? OR last_seen_at >= ?)
		ORDER BY updated_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents updated since cursor: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgent persists mutable agent fields (status, token hash, templates,
// heartbeat config) but not board/gateway assignment, which never changes
// after provisioning.
func (db *DB) UpdateAgent(ctx context.Context, a *models.Agent) error {
	profile, err := json.Marshal(a.IdentityProfile)
	if err != nil {
		return fmt.Errorf("failed to marshal identity profile: %w", err)
	}
	res, err := db.SQL.ExecContext(ctx, `
		UPDATE agents SET
			name = ?, is_board_lead = ?, openclaw_session_id = ?, heartbeat_every = ?,
			heartbeat_target = ?, identity_profile = ?, identity_template = ?, soul_template = ?,
			agent_token_hash = ?, status = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.IsBoardLead, a.OpenClawSessionID, a.HeartbeatConfig.Every,
		a.HeartbeatConfig.Target, string(profile), a.IdentityTemplate, a.SoulTemplate,
		a.AgentTokenHash, a.Status, a.LastSeenAt, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent not found: %s", a.ID)
	}
	return nil
}

// TouchAgentHeartbeat updates only LastSeenAt and Status, the hot path hit
// by every agent heartbeat RPC.
func (db *DB) TouchAgentHeartbeat(ctx context.Context, id string, status models.AgentStatus, seenAt time.Time) error {
	res, err := db.SQL.ExecContext(ctx, `
		UPDATE agents SET status = ?, last_seen_at = ?, updated_at = ? WHERE id = ?`,
		status, seenAt, seenAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}
	return nil
}

// DeleteAgent removes an agent row.
func (db *DB) DeleteAgent(ctx context.Context, id string) error {
	res, err := db.SQL.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}
	return nil
}

// DeleteAgentCascade unassigns every task currently assigned to id and
// deletes the agent row, atomically. Only a task still in_progress reverts
// to inbox (clearing in_progress_at) — the boundary behaviour the
// specification requires so an in-flight assignment is never left
// dangling. Tasks already in review or done keep their status and
// timestamps; they just lose their assignee. Activity rows referencing the
// agent are nulled by the schema's ON DELETE SET NULL, not by this method.
func (db *DB) DeleteAgentCascade(ctx context.Context, agentID string, event *models.ActivityEvent) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'inbox', assigned_agent_id = NULL,
				in_progress_at = NULL, updated_at = ?
			WHERE assigned_agent_id = ? AND status = 'in_progress'`,
			event.CreatedAt, agentID,
		); err != nil {
			return fmt.Errorf("failed to revert agent's in-progress tasks to inbox: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET assigned_agent_id = NULL, updated_at = ?
			WHERE assigned_agent_id = ? AND status != 'in_progress'`,
			event.CreatedAt, agentID,
		); err != nil {
			return fmt.Errorf("failed to unassign agent's other tasks: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", agentID)
		if err != nil {
			return fmt.Errorf("failed to delete agent: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("agent not found: %s", agentID)
		}
		if event != nil {
			if err := appendActivityEventTx(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}
