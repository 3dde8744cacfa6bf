package authz

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
)

func setup(t *testing.T) (*database.DB, *models.Organization, *models.Board) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	now := time.Now()
	org := &models.Organization{ID: uuid.NewString(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	if err := db.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, Name: "launch", CreatedAt: now, UpdatedAt: now}
	if err := db.CreateBoard(ctx, board); err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	return db, org, board
}

func createMember(t *testing.T, db *database.DB, orgID string, role models.MemberRole) *models.Member {
	t.Helper()
	now := time.Now()
	m := &models.Member{ID: uuid.NewString(), OrganizationID: orgID, UserID: uuid.NewString(), Email: "m@acme.test", Role: role, CreatedAt: now, UpdatedAt: now}
	if err := db.CreateMember(context.Background(), m); err != nil {
		t.Fatalf("CreateMember() error = %v", err)
	}
	return m
}

func createAgent(t *testing.T, db *database.DB, gatewayID string, boardID *string, lead bool) *models.Agent {
	t.Helper()
	now := time.Now()
	a := &models.Agent{ID: uuid.NewString(), BoardID: boardID, GatewayID: gatewayID, Name: "scout", IsBoardLead: lead, Status: models.AgentStatusOnline, CreatedAt: now, UpdatedAt: now}
	if err := db.CreateAgent(context.Background(), a); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	return a
}

func TestResolveBoardAccessMemberRoles(t *testing.T) {
	db, org, board := setup(t)
	ctx := context.Background()

	admin := createMember(t, db, org.ID, models.MemberRoleAdmin)
	member := createMember(t, db, org.ID, models.MemberRoleMember)

	access, err := ResolveBoardAccess(ctx, db, board, admin.ID)
	if err != nil {
		t.Fatalf("ResolveBoardAccess(admin) error = %v", err)
	}
	if access != AccessWrite {
		t.Errorf("admin access = %v, want AccessWrite", access)
	}

	access, err = ResolveBoardAccess(ctx, db, board, member.ID)
	if err != nil {
		t.Fatalf("ResolveBoardAccess(member) error = %v", err)
	}
	if access != AccessRead {
		t.Errorf("member access without ACL = %v, want AccessRead", access)
	}

	if err := db.UpsertBoardACL(ctx, &models.BoardACL{ID: uuid.NewString(), BoardID: board.ID, MemberID: member.ID, CanWrite: true, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertBoardACL() error = %v", err)
	}
	access, err = ResolveBoardAccess(ctx, db, board, member.ID)
	if err != nil {
		t.Fatalf("ResolveBoardAccess(member with acl) error = %v", err)
	}
	if access != AccessWrite {
		t.Errorf("member access with write ACL = %v, want AccessWrite", access)
	}
}

func TestCanCreateTaskAgentMustBeLead(t *testing.T) {
	db, _, board := setup(t)
	ctx := context.Background()
	lead := createAgent(t, db, "gw1", &board.ID, true)
	grunt := createAgent(t, db, "gw1", &board.ID, false)

	if err := CanCreateTask(ctx, db, board, auth.ActorContext{Kind: auth.ActorAgent, AgentID: lead.ID}); err != nil {
		t.Errorf("lead CanCreateTask() error = %v, want nil", err)
	}
	if err := CanCreateTask(ctx, db, board, auth.ActorContext{Kind: auth.ActorAgent, AgentID: grunt.ID}); err == nil {
		t.Error("non-lead CanCreateTask() = nil, want authz error")
	}
}

func TestCanAssignTaskNonLeadSelfUnassignOnly(t *testing.T) {
	db, _, board := setup(t)
	ctx := context.Background()
	grunt := createAgent(t, db, "gw1", &board.ID, false)
	other := createAgent(t, db, "gw1", &board.ID, false)
	now := time.Now()
	task := &models.Task{ID: uuid.NewString(), BoardID: board.ID, Title: "t", AssignedAgentID: &grunt.ID, CreatedAt: now, UpdatedAt: now}
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	actor := auth.ActorContext{Kind: auth.ActorAgent, AgentID: grunt.ID}

	if err := CanAssignTask(ctx, db, board, task, nil, actor); err != nil {
		t.Errorf("self-unassign CanAssignTask() error = %v, want nil", err)
	}
	if err := CanAssignTask(ctx, db, board, task, &other.ID, actor); err == nil {
		t.Error("reassign-to-other CanAssignTask() = nil, want authz error")
	}
}

func TestCanUpdateTaskNonLeadOnlyOwnAssignment(t *testing.T) {
	db, _, board := setup(t)
	ctx := context.Background()
	grunt := createAgent(t, db, "gw1", &board.ID, false)
	now := time.Now()
	mine := &models.Task{ID: uuid.NewString(), BoardID: board.ID, Title: "mine", AssignedAgentID: &grunt.ID, CreatedAt: now, UpdatedAt: now}
	theirs := &models.Task{ID: uuid.NewString(), BoardID: board.ID, Title: "theirs", CreatedAt: now, UpdatedAt: now}
	if err := db.CreateTask(ctx, mine); err != nil {
		t.Fatalf("CreateTask(mine) error = %v", err)
	}
	if err := db.CreateTask(ctx, theirs); err != nil {
		t.Fatalf("CreateTask(theirs) error = %v", err)
	}

	actor := auth.ActorContext{Kind: auth.ActorAgent, AgentID: grunt.ID}
	if err := CanUpdateTask(ctx, db, board, mine, actor); err != nil {
		t.Errorf("CanUpdateTask(own) error = %v, want nil", err)
	}
	if err := CanUpdateTask(ctx, db, board, theirs, actor); err == nil {
		t.Error("CanUpdateTask(unassigned) = nil, want authz error")
	}
}

func TestRequireBoardReadDeniesCrossTenantAsNotFound(t *testing.T) {
	db, _, board := setup(t)
	ctx := context.Background()

	otherOrg := &models.Organization{ID: uuid.NewString(), Name: "other", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := db.CreateOrganization(ctx, otherOrg); err != nil {
		t.Fatalf("CreateOrganization() error = %v", err)
	}
	outsider := createMember(t, db, otherOrg.ID, models.MemberRoleAdmin)

	err := RequireBoardRead(ctx, db, board, auth.ActorContext{Kind: auth.ActorUser, MemberID: outsider.ID})
	if err == nil {
		t.Fatal("expected error for cross-tenant access")
	}
}
