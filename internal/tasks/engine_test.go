package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
)

type fakeNudger struct {
	calls int
}

func (f *fakeNudger) Nudge(ctx context.Context, agent *models.Agent, task *models.Task) error {
	f.calls++
	return nil
}

func setup(t *testing.T) (*database.DB, *models.Organization, *models.Board) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	org := &models.Organization{ID: uuid.NewString(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateOrganization(ctx, org))
	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, Name: "launch", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, board))
	return db, org, board
}

func createAgent(t *testing.T, db *database.DB, board *models.Board, lead bool) *models.Agent {
	t.Helper()
	now := time.Now().UTC()
	id := uuid.NewString()
	gw := &models.Gateway{ID: uuid.NewString(), OrganizationID: board.OrganizationID, Name: "gw-" + id[:8], URL: "wss://x", MainSessionKey: "gateway:main", WorkspaceRoot: "/w", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateGateway(context.Background(), gw))
	a := &models.Agent{
		ID: id, BoardID: &board.ID, GatewayID: gw.ID,
		Name: "scout-" + id[:8], IsBoardLead: lead, Status: models.AgentStatusOnline,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateAgent(context.Background(), a))
	return a
}

func memberActor(id string) auth.ActorContext {
	return auth.ActorContext{Kind: auth.ActorUser, MemberID: id}
}

func agentActor(id string) auth.ActorContext {
	return auth.ActorContext{Kind: auth.ActorAgent, AgentID: id}
}

func TestCreateTask_LeadCannotSelfAssign(t *testing.T) {
	db, org, board := setup(t)
	lead := createAgent(t, db, board, true)
	ctx := context.Background()

	now := time.Now().UTC()
	member := &models.Member{ID: uuid.NewString(), OrganizationID: org.ID, UserID: "u1", Email: "u1@acme.test", Role: models.MemberRoleAdmin, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateMember(ctx, member))

	engine := New(db, clock.New(), nil)
	_, err := engine.CreateTask(ctx, board, CreateTaskInput{
		Title:           "ship it",
		AssignedAgentID: &lead.ID,
	}, memberActor(member.ID))

	require.Error(t, err)
	var authzErr *apierr.AuthzError
	require.ErrorAs(t, err, &authzErr)
}

func TestUpdateTask_BlockedTransition(t *testing.T) {
	db, org, board := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	member := &models.Member{ID: uuid.NewString(), OrganizationID: org.ID, UserID: "u1", Email: "u1@acme.test", Role: models.MemberRoleAdmin, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateMember(ctx, member))
	actor := memberActor(member.ID)

	engine := New(db, clock.New(), nil)
	dep, err := engine.CreateTask(ctx, board, CreateTaskInput{Title: "design"}, actor)
	require.NoError(t, err)
	task, err := engine.CreateTask(ctx, board, CreateTaskInput{Title: "build", DependsOn: []string{dep.ID}}, actor)
	require.NoError(t, err)

	inProgress := models.TaskStatusInProgress
	_, err = engine.UpdateTask(ctx, board, task, UpdateInput{Status: &inProgress}, actor)
	require.Error(t, err)
	var conflict *apierr.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "task_blocked_cannot_transition", conflict.Code)
	require.Equal(t, []string{dep.ID}, conflict.BlockedByTaskIDs)

	done := models.TaskStatusDone
	_, err = engine.UpdateTask(ctx, board, dep, UpdateInput{Status: &done}, actor)
	require.NoError(t, err)

	updated, err := engine.UpdateTask(ctx, board, task, UpdateInput{Status: &inProgress}, actor)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusInProgress, updated.Status)
	require.NotNil(t, updated.InProgressAt)
}

func TestUpdateTask_NonLeadMaySelfUnassignOnly(t *testing.T) {
	db, _, board := setup(t)
	ctx := context.Background()
	lead := createAgent(t, db, board, true)
	grunt := createAgent(t, db, board, false)
	other := createAgent(t, db, board, false)

	engine := New(db, clock.New(), nil)
	task, err := engine.CreateTask(ctx, board, CreateTaskInput{Title: "t", AssignedAgentID: &grunt.ID}, agentActor(lead.ID))
	require.NoError(t, err)

	// Self-unassign is allowed.
	updated, err := engine.UpdateTask(ctx, board, task, UpdateInput{AssignedAgentID: nil, AssignedAgentIDSet: true}, agentActor(grunt.ID))
	require.NoError(t, err)
	require.Nil(t, updated.AssignedAgentID)

	// Reassigning onto someone else is not.
	task.AssignedAgentID = &grunt.ID
	_, err = engine.UpdateTask(ctx, board, task, UpdateInput{AssignedAgentID: &other.ID, AssignedAgentIDSet: true}, agentActor(grunt.ID))
	require.Error(t, err)
	var authzErr *apierr.AuthzError
	require.ErrorAs(t, err, &authzErr)
}

func TestUpdateTask_AssignmentTriggersNudge(t *testing.T) {
	db, _, board := setup(t)
	ctx := context.Background()
	lead := createAgent(t, db, board, true)
	grunt := createAgent(t, db, board, false)

	nudger := &fakeNudger{}
	engine := New(db, clock.New(), nudger)
	task, err := engine.CreateTask(ctx, board, CreateTaskInput{Title: "t"}, agentActor(lead.ID))
	require.NoError(t, err)
	require.Equal(t, 0, nudger.calls)

	_, err = engine.UpdateTask(ctx, board, task, UpdateInput{AssignedAgentID: &grunt.ID, AssignedAgentIDSet: true}, agentActor(lead.ID))
	require.NoError(t, err)
	require.Equal(t, 1, nudger.calls)
}

func TestDeleteTask_RemovesDependencyEdges(t *testing.T) {
	db, _, board := setup(t)
	ctx := context.Background()
	lead := createAgent(t, db, board, true)

	engine := New(db, clock.New(), nil)
	dep, err := engine.CreateTask(ctx, board, CreateTaskInput{Title: "dep"}, agentActor(lead.ID))
	require.NoError(t, err)
	task, err := engine.CreateTask(ctx, board, CreateTaskInput{Title: "t", DependsOn: []string{dep.ID}}, agentActor(lead.ID))
	require.NoError(t, err)

	require.NoError(t, engine.DeleteTask(ctx, board, task, agentActor(lead.ID)))
	_, err = db.GetTask(ctx, task.ID)
	require.Error(t, err)

	dependents, err := db.DependentTaskIDs(ctx, dep.ID)
	require.NoError(t, err)
	require.Empty(t, dependents)
}
