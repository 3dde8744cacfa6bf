package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/gateway"
	"github.com/agentboard/controlplane/internal/models"
	"github.com/agentboard/controlplane/internal/provisioner"
	"github.com/agentboard/controlplane/internal/templatesync"
	"github.com/agentboard/controlplane/internal/webhooks"
)

type fakeSyncClient struct{}

func (fakeSyncClient) AgentsList(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}
func (fakeSyncClient) EnsureSession(ctx context.Context, key, label string) (gateway.SessionEntry, error) {
	return gateway.SessionEntry{Key: key, Label: label}, nil
}
func (fakeSyncClient) ResetSession(ctx context.Context, key string) error  { return nil }
func (fakeSyncClient) DeleteSession(ctx context.Context, key string) error { return nil }
func (fakeSyncClient) SetFile(ctx context.Context, agentID, path, content string) error {
	return nil
}
func (fakeSyncClient) GetFile(ctx context.Context, agentID, path string) (string, error) {
	return "", nil
}
func (fakeSyncClient) ConfigGet(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"hash":"h0","config":{}}`), nil
}
func (fakeSyncClient) ConfigPatch(ctx context.Context, baseHash string, patch json.RawMessage) error {
	return nil
}

type fakeNotifier struct{}

func (fakeNotifier) NotifyPayload(ctx context.Context, payload *models.BoardWebhookPayload) error {
	return nil
}

func setup(t *testing.T) (*database.DB, *models.Organization, *models.Gateway) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	org := &models.Organization{ID: uuid.NewString(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateOrganization(ctx, org))
	gw := &models.Gateway{ID: uuid.NewString(), OrganizationID: org.ID, Name: "gw", URL: "wss://x", MainSessionKey: "gateway:main", WorkspaceRoot: "/w", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateGateway(ctx, gw))
	return db, org, gw
}

func TestRunTemplateSyncTick_RecordsSuccessPerGateway(t *testing.T) {
	db, org, gw := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	main := &models.Agent{
		ID: uuid.NewString(), GatewayID: gw.ID, Name: "main",
		OpenClawSessionID: gw.MainSessionKey, Status: models.AgentStatusOnline,
		IdentityProfile: map[string]any{"role": "main", "personality": "steady", "emoji": "🧭"},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateAgent(ctx, main))
	_ = org

	cat, err := provisioner.LoadCatalogue("../../configs/templates.yaml")
	require.NoError(t, err)
	engine := templatesync.New(db, provisioner.New(cat), nil)
	hooks := webhooks.New(db, fakeNotifier{}, webhooks.NewMemoryDeduper(), clock.New(), 10, 10)

	resolve := func(ctx context.Context, gatewayID string) (templatesync.GatewayClient, error) {
		return fakeSyncClient{}, nil
	}
	sched := New(db, engine, hooks, resolve, zerolog.Nop(), time.Minute, time.Hour)

	sched.runTemplateSyncTick()

	run, err := db.GetReconciliationRun(ctx, models.ReconciliationKindTemplateSync, gw.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.True(t, run.Succeeded)
}

func TestRunWebhookRescueTick_ReEnqueuesUndeliveredPayload(t *testing.T) {
	db, org, gw := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = org

	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, GatewayID: &gw.ID, Name: "launch", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, board))
	webhook := &models.BoardWebhook{ID: uuid.NewString(), BoardID: board.ID, Name: "inbound", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoardWebhook(ctx, webhook))
	payload := &models.BoardWebhookPayload{
		ID: uuid.NewString(), WebhookID: webhook.ID, BoardID: board.ID,
		Body: models.StringJSONValue("{}"), Headers: map[string]string{}, ReceivedAt: now,
	}
	require.NoError(t, db.CreateBoardWebhookPayload(ctx, payload))

	cat, err := provisioner.LoadCatalogue("../../configs/templates.yaml")
	require.NoError(t, err)
	engine := templatesync.New(db, provisioner.New(cat), nil)
	hooks := webhooks.New(db, fakeNotifier{}, webhooks.NewMemoryDeduper(), clock.New(), 10, 10)

	resolve := func(ctx context.Context, gatewayID string) (templatesync.GatewayClient, error) {
		return fakeSyncClient{}, nil
	}
	sched := New(db, engine, hooks, resolve, zerolog.Nop(), time.Minute, time.Hour)

	sched.runWebhookRescueTick()

	run, err := db.GetReconciliationRun(ctx, models.ReconciliationKindWebhookRescue, "")
	require.NoError(t, err)
	require.NotNil(t, run)
	require.True(t, run.Succeeded)
	require.Contains(t, run.Detail, "scanned 1 undelivered")
}
