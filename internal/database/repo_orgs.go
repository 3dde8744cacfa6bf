package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentboard/controlplane/internal/models"
)

// CreateOrganization inserts a new organization.
func (db *DB) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		org.ID, org.Name, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID.
func (db *DB) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	org := &models.Organization{}
	err := db.SQL.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// CreateMember inserts a new membership row.
func (db *DB) CreateMember(ctx context.Context, m *models.Member) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO members (id, organization_id, user_id, email, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OrganizationID, m.UserID, m.Email, m.Role, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

// GetMemberByUserID finds the membership row for userID within orgID, used
// on every authenticated request to resolve the actor's role.
func (db *DB) GetMemberByUserID(ctx context.Context, orgID, userID string) (*models.Member, error) {
	m := &models.Member{}
	err := db.SQL.QueryRowContext(ctx, `
		SELECT id, organization_id, user_id, email, role, created_at, updated_at
		FROM members WHERE organization_id = ? AND user_id = ?`, orgID, userID,
	).Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Email, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("member not found: org=%s user=%s", orgID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// GetMember retrieves a member by its own ID.
func (db *DB) GetMember(ctx context.Context, id string) (*models.Member, error) {
	m := &models.Member{}
	err := db.SQL.QueryRowContext(ctx, `
		SELECT id, organization_id, user_id, email, role, created_at, updated_at
		FROM members WHERE id = ?`, id,
	).Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Email, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("member not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// GetBoardACL looks up a member's board-level grant, if any.
func (db *DB) GetBoardACL(ctx context.Context, boardID, memberID string) (*models.BoardACL, error) {
	acl := &models.BoardACL{}
	err := db.SQL.QueryRowContext(ctx, `
		SELECT id, board_id, member_id, can_write, created_at
		FROM board_acls WHERE board_id = ? AND member_id = ?`, boardID, memberID,
	).Scan(&acl.ID, &acl.BoardID, &acl.MemberID, &acl.CanWrite, &acl.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get board acl: %w", err)
	}
	return acl, nil
}

// UpsertBoardACL grants or updates a member's board-level access.
func (db *DB) UpsertBoardACL(ctx context.Context, acl *models.BoardACL) error {
	var err error
	switch db.Driver {
	case DriverPostgres:
		_, err = db.SQL.ExecContext(ctx, `
			INSERT INTO board_acls (id, board_id, member_id, can_write, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (board_id, member_id) DO UPDATE SET can_write = EXCLUDED.can_write`,
			acl.ID, acl.BoardID, acl.MemberID, acl.CanWrite, acl.CreatedAt,
		)
	default:
		_, err = db.SQL.ExecContext(ctx, `
			INSERT INTO board_acls (id, board_id, member_id, can_write, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (board_id, member_id) DO UPDATE SET can_write = excluded.can_write`,
			acl.ID, acl.BoardID, acl.MemberID, acl.CanWrite, acl.CreatedAt,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert board acl: %w", err)
	}
	return nil
}
