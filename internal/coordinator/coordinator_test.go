package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
)

type fakeClient struct {
	sent []sentMessage
	fail bool
}

type sentMessage struct {
	sessionKey string
	text       string
	deliver    bool
}

func (f *fakeClient) SendMessage(ctx context.Context, sessionKey, text string, deliver bool) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, sentMessage{sessionKey, text, deliver})
	return nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNudge_SendsToAgentSession(t *testing.T) {
	c := New(newTestDB(t))
	client := &fakeClient{}
	agent := &models.Agent{ID: uuid.NewString(), OpenClawSessionID: "agent:scout:main"}
	task := &models.Task{ID: uuid.NewString(), Title: "ship it", Priority: models.TaskPriorityHigh}

	require.NoError(t, c.Nudge(context.Background(), client, agent, task))
	require.Len(t, client.sent, 1)
	require.Equal(t, "agent:scout:main", client.sent[0].sessionKey)
	require.True(t, client.sent[0].deliver)
}

func TestLeadAsksUser_IncludesCorrelationAndReplyPath(t *testing.T) {
	c := New(newTestDB(t))
	client := &fakeClient{}
	gw := &models.Gateway{ID: uuid.NewString(), MainSessionKey: "gateway:main"}
	board := &models.Board{ID: uuid.NewString(), Name: "launch"}

	result, err := c.LeadAsksUser(context.Background(), client, gw, board, "what's the deadline?", "slack")
	require.NoError(t, err)
	require.NotEmpty(t, result.CorrelationID)
	require.Equal(t, "/boards/"+board.ID+"/memory", result.ReplyMemoryPath)
	require.Len(t, client.sent, 1)
	require.Contains(t, client.sent[0].text, result.CorrelationID)
	require.Contains(t, client.sent[0].text, "slack")
}

func TestBroadcastToLeads_SummarizesPerBoard(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	org := &models.Organization{ID: uuid.NewString(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateOrganization(ctx, org))
	gwID := uuid.NewString()
	gw := &models.Gateway{ID: gwID, OrganizationID: org.ID, Name: "gw", URL: "wss://x", MainSessionKey: "gateway:main", WorkspaceRoot: "/w", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateGateway(ctx, gw))

	withLead := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, GatewayID: &gwID, Name: "has-lead", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, withLead))
	lead := &models.Agent{ID: uuid.NewString(), BoardID: &withLead.ID, GatewayID: gwID, Name: "lead", IsBoardLead: true, OpenClawSessionID: "agent:lead:main", Status: models.AgentStatusOnline, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateAgent(ctx, lead))

	noLead := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, GatewayID: &gwID, Name: "no-lead", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, noLead))

	c := New(db)
	client := &fakeClient{}
	result, err := c.BroadcastToLeads(ctx, client, gw, "status check", nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Sent)
	require.Equal(t, 1, result.Failed)
	require.Len(t, result.Outcomes, 2)
}

func TestWebhookNotifier_MessagesBoardLead(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	org := &models.Organization{ID: uuid.NewString(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateOrganization(ctx, org))
	gwID := uuid.NewString()
	gw := &models.Gateway{ID: gwID, OrganizationID: org.ID, Name: "gw", URL: "wss://x", MainSessionKey: "gateway:main", WorkspaceRoot: "/w", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateGateway(ctx, gw))
	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, GatewayID: &gwID, Name: "launch", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, board))
	lead := &models.Agent{ID: uuid.NewString(), BoardID: &board.ID, GatewayID: gwID, Name: "lead", IsBoardLead: true, OpenClawSessionID: "agent:lead:main", Status: models.AgentStatusOnline, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateAgent(ctx, lead))

	client := &fakeClient{}
	notifier := &WebhookNotifier{
		Coordinator: New(db),
		Resolve:     func(context.Context, string) (GatewayClient, error) { return client, nil },
	}

	payload := &models.BoardWebhookPayload{ID: uuid.NewString(), WebhookID: uuid.NewString(), BoardID: board.ID, ReceivedAt: now}
	require.NoError(t, notifier.NotifyPayload(ctx, payload))
	require.Len(t, client.sent, 1)
	require.Equal(t, "agent:lead:main", client.sent[0].sessionKey)
	require.Contains(t, client.sent[0].text, payload.ID)
}

func TestWebhookNotifier_IncludesPayloadPreviewAndInspectURL(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	org := &models.Organization{ID: uuid.NewString(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateOrganization(ctx, org))
	gwID := uuid.NewString()
	gw := &models.Gateway{ID: gwID, OrganizationID: org.ID, Name: "gw", URL: "wss://x", MainSessionKey: "gateway:main", WorkspaceRoot: "/w", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateGateway(ctx, gw))
	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, GatewayID: &gwID, Name: "launch", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, board))
	lead := &models.Agent{ID: uuid.NewString(), BoardID: &board.ID, GatewayID: gwID, Name: "lead", IsBoardLead: true, OpenClawSessionID: "agent:lead:main", Status: models.AgentStatusOnline, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateAgent(ctx, lead))

	client := &fakeClient{}
	notifier := &WebhookNotifier{
		Coordinator: New(db),
		Resolve:     func(context.Context, string) (GatewayClient, error) { return client, nil },
	}

	webhookID := uuid.NewString()
	payload := &models.BoardWebhookPayload{
		ID: uuid.NewString(), WebhookID: webhookID, BoardID: board.ID,
		Body: models.StringJSONValue("build failed on main"), ReceivedAt: now,
	}
	require.NoError(t, notifier.NotifyPayload(ctx, payload))
	require.Len(t, client.sent, 1)

	text := client.sent[0].text
	require.Contains(t, text, "build failed on main", "instruction must include the payload preview")
	wantInspectURL := "/boards/" + board.ID + "/webhooks/" + webhookID + "/payloads/" + payload.ID
	require.Contains(t, text, wantInspectURL, "instruction must include the inspect URL")
}
