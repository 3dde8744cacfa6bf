package templatesync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/gateway"
	"github.com/agentboard/controlplane/internal/models"
	"github.com/agentboard/controlplane/internal/provisioner"
)

type fakeGatewayClient struct {
	mu      sync.Mutex
	files   map[string]map[string]string // slug -> filename -> content
	config  map[string]any
	configH string
}

func newFakeGatewayClient() *fakeGatewayClient {
	return &fakeGatewayClient{files: make(map[string]map[string]string), config: map[string]any{}, configH: "h0"}
}

func (f *fakeGatewayClient) AgentsList(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (f *fakeGatewayClient) EnsureSession(ctx context.Context, key, label string) (gateway.SessionEntry, error) {
	return gateway.SessionEntry{Key: key, Label: label}, nil
}

func (f *fakeGatewayClient) ResetSession(ctx context.Context, key string) error { return nil }
func (f *fakeGatewayClient) DeleteSession(ctx context.Context, key string) error { return nil }

func (f *fakeGatewayClient) SetFile(ctx context.Context, agentID, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files[agentID] == nil {
		f.files[agentID] = map[string]string{}
	}
	f.files[agentID][path] = content
	return nil
}

func (f *fakeGatewayClient) GetFile(ctx context.Context, agentID, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[agentID][path], nil
}

func (f *fakeGatewayClient) ConfigGet(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := map[string]any{"hash": f.configH, "config": f.config}
	return json.Marshal(doc)
}

func (f *fakeGatewayClient) ConfigPatch(ctx context.Context, baseHash string, patch json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if baseHash != f.configH {
		return fmt.Errorf("hash mismatch")
	}
	var cfg map[string]any
	if err := json.Unmarshal(patch, &cfg); err != nil {
		return err
	}
	f.config = cfg
	f.configH = f.configH + "x"
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

func mintStub() (string, string, error) { return "agt_new", "hash_new", nil }

func TestSync_SkipsAgentWithoutTokenWhenRotationDisabled(t *testing.T) {
	db, org, gw := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, GatewayID: &gw.ID, Name: "launch", Objective: "ship", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, board))
	agent := &models.Agent{
		ID: uuid.NewString(), BoardID: &board.ID, GatewayID: gw.ID, Name: "scout",
		OpenClawSessionID: "agent:scout:main", Status: models.AgentStatusOnline,
		IdentityProfile: map[string]any{"role": "scout", "personality": "curious", "emoji": "🔭"},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateAgent(ctx, agent))

	cat, err := provisioner.LoadCatalogue("../../configs/templates.yaml")
	require.NoError(t, err)
	engine := New(db, provisioner.New(cat), mintStub)
	client := newFakeGatewayClient()

	result, err := engine.Sync(ctx, client, gw, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, result.AgentsUpdated)
	require.Equal(t, 1, result.AgentsSkipped)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0].Message, "rotate_tokens=true")
}

func TestSync_RotatesAndProvisionsWhenRequested(t *testing.T) {
	db, org, gw := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, GatewayID: &gw.ID, Name: "launch", Objective: "ship", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, board))
	agent := &models.Agent{
		ID: uuid.NewString(), BoardID: &board.ID, GatewayID: gw.ID, Name: "scout",
		OpenClawSessionID: "agent:scout:main", Status: models.AgentStatusOnline,
		IdentityProfile: map[string]any{"role": "scout", "personality": "curious", "emoji": "🔭"},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateAgent(ctx, agent))

	cat, err := provisioner.LoadCatalogue("../../configs/templates.yaml")
	require.NoError(t, err)
	engine := New(db, provisioner.New(cat), mintStub)
	client := newFakeGatewayClient()

	result, err := engine.Sync(ctx, client, gw, Options{RotateTokens: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.AgentsUpdated)
	require.Equal(t, 0, result.AgentsSkipped)
	require.Empty(t, result.Errors)

	stored, err := db.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, "hash_new", stored.AgentTokenHash)

	tools := client.files["scout"]["TOOLS.md"]
	require.Contains(t, tools, "AUTH_TOKEN=agt_new")
}

func TestSync_ExcludesPausedBoard(t *testing.T) {
	db, org, gw := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, GatewayID: &gw.ID, Name: "launch", Objective: "ship", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, board))
	agent := &models.Agent{
		ID: uuid.NewString(), BoardID: &board.ID, GatewayID: gw.ID, Name: "scout",
		OpenClawSessionID: "agent:scout:main", Status: models.AgentStatusOnline,
		IdentityProfile: map[string]any{"role": "scout", "personality": "curious", "emoji": "🔭"},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateAgent(ctx, agent))
	require.NoError(t, db.CreateBoardMemory(ctx, &models.BoardMemory{
		ID: uuid.NewString(), BoardID: board.ID, AuthorID: agent.ID, IsChat: true,
		Content: "/pause", CreatedAt: now,
	}))

	cat, err := provisioner.LoadCatalogue("../../configs/templates.yaml")
	require.NoError(t, err)
	engine := New(db, provisioner.New(cat), mintStub)
	client := newFakeGatewayClient()

	result, err := engine.Sync(ctx, client, gw, Options{RotateTokens: true})
	require.NoError(t, err)
	require.Equal(t, 0, result.AgentsUpdated)
	require.Equal(t, 0, result.AgentsSkipped)
}

func TestSync_ProvisionsMainWhenIncludeMain(t *testing.T) {
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

	cat, err := provisioner.LoadCatalogue("../../configs/templates.yaml")
	require.NoError(t, err)
	engine := New(db, provisioner.New(cat), mintStub)
	client := newFakeGatewayClient()

	result, err := engine.Sync(ctx, client, gw, Options{IncludeMain: true})
	require.NoError(t, err)
	require.True(t, result.MainUpdated)
}

func TestExtractAuthToken_ParsesRenderedToolsFile(t *testing.T) {
	body := "# Tools\n\nAUTH_TOKEN=agt_abc123\nWORKSPACE=/w/workspace-scout\n"
	require.Equal(t, "agt_abc123", extractAuthToken(body))
	require.Equal(t, "", extractAuthToken(strings.TrimSpace("# Tools\n\nWORKSPACE=/w\n")))
}
