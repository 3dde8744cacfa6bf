// Package provisioner turns an Agent/Board/Gateway triple into a live
// gateway workspace: file rendering from a hot-reloadable template
// catalogue, slug/session-key/workspace-path derivation, and the
// config.agents.list registry patch, grounded on the teacher's
// agent/manager.go CRUD shape and internal/connectors/service.go's
// local/remote split (here: local template render vs. gateway RPC write).
package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentboard/controlplane/internal/gateway"
	"github.com/agentboard/controlplane/internal/models"
)

// GatewayClient is the subset of *gateway.Client the provisioner needs.
// Declaring it here (rather than passing the concrete type everywhere)
// keeps this package's tests free of a real websocket dial — a fake
// satisfying this interface is enough.
type GatewayClient interface {
	EnsureSession(ctx context.Context, key, label string) (gateway.SessionEntry, error)
	ResetSession(ctx context.Context, key string) error
	DeleteSession(ctx context.Context, key string) error
	SetFile(ctx context.Context, agentID, path, content string) error
	GetFile(ctx context.Context, agentID, path string) (string, error)
	ConfigGet(ctx context.Context) (json.RawMessage, error)
	ConfigPatch(ctx context.Context, baseHash string, patch json.RawMessage) error
}

// agentFiles are rendered and overwritten on every provision/update call.
var agentFiles = []string{"AGENTS.md", "SOUL.md", "AUTONOMY.md", "TOOLS.md", "IDENTITY.md", "BOOT.md"}

// mainFiles is the parallel set for the gateway main agent.
var mainFiles = []string{"MAIN_AGENTS.md", "MAIN_SOUL.md", "MAIN_AUTONOMY.md", "MAIN_TOOLS.md", "MAIN_IDENTITY.md", "MAIN_BOOT.md"}

// editableFiles are written once at creation and never overwritten once
// present on the gateway, preserving anything a human or the agent itself
// has since edited there.
var editableFiles = []string{"SELF.md", "USER.md", "MEMORY.md"}

// Action distinguishes a fresh provision from a reconciling update; it
// controls BOOTSTRAP.md presence and nothing else.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Options carries the per-call flags from the provision/template-sync
// operations.
type Options struct {
	Action         Action
	ForceBootstrap bool
	ResetSession   bool
}

// Provisioner renders templates and writes them, plus the config registry
// entry, to a gateway on behalf of an agent.
type Provisioner struct {
	catalogue *Catalogue
}

// New builds a Provisioner backed by catalogue.
func New(catalogue *Catalogue) *Provisioner {
	return &Provisioner{catalogue: catalogue}
}

// Provision renders and writes a board agent's workspace files, rotates
// its session (if requested), and upserts its config.agents.list entry.
// token is the plaintext bearer secret to render into TOOLS.md — callers
// are responsible for generating it (on create, or when rotate_tokens is
// requested) or recovering it (template sync reading TOOLS.md back).
func (p *Provisioner) Provision(ctx context.Context, client GatewayClient, agent *models.Agent, board *models.Board, gw *models.Gateway, token string, opts Options) (string, error) {
	if !gw.Usable() {
		return "", fmt.Errorf("gateway %s is missing url/main_session_key/workspace_root and cannot be provisioned against", gw.ID)
	}

	sessionKey := SessionKey(agent.OpenClawSessionID, agent.Name)
	workspace := WorkspacePath(gw.WorkspaceRoot, sessionKey)
	slug := SlugFromSessionKey(sessionKey)

	if _, err := client.EnsureSession(ctx, sessionKey, agent.Name); err != nil {
		return "", fmt.Errorf("failed to ensure gateway session for %s: %w", sessionKey, err)
	}
	if opts.ResetSession {
		if err := client.ResetSession(ctx, sessionKey); err != nil {
			return "", fmt.Errorf("failed to reset gateway session for %s: %w", sessionKey, err)
		}
	}

	vars := TemplateVars{Agent: agent, Board: board, Gateway: gw, Token: token, Workspace: workspace, SessionKey: sessionKey}

	heartbeatTemplate := "HEARTBEAT_AGENT.md"
	if agent.IsBoardLead {
		heartbeatTemplate = "HEARTBEAT_LEAD.md"
	}

	if err := p.writeTemplates(ctx, client, slug, agentFiles, templateOverride(agent), vars); err != nil {
		return "", err
	}
	if err := p.writeOne(ctx, client, slug, "HEARTBEAT.md", heartbeatTemplate, vars); err != nil {
		return "", err
	}
	if opts.Action == ActionCreate || opts.ForceBootstrap {
		if err := p.writeOne(ctx, client, slug, "BOOTSTRAP.md", "BOOTSTRAP.md", vars); err != nil {
			return "", err
		}
	}
	if err := p.writeEditableIfAbsent(ctx, client, slug, vars); err != nil {
		return "", err
	}

	entry := AgentRegistryEntry{ID: slug, Workspace: workspace, Heartbeat: agent.HeartbeatConfig}
	if err := UpsertAgentRegistry(ctx, client, entry); err != nil {
		return "", fmt.Errorf("failed to patch agent registry for %s: %w", slug, err)
	}

	return workspace, nil
}

// ProvisionMain is Provision's counterpart for the gateway-wide main
// session: it uses the MAIN_*.md template set, has no board, and is never
// subject to the lead/non-lead heartbeat split.
func (p *Provisioner) ProvisionMain(ctx context.Context, client GatewayClient, agent *models.Agent, gw *models.Gateway, token string, opts Options) (string, error) {
	if !gw.Usable() {
		return "", fmt.Errorf("gateway %s is missing url/main_session_key/workspace_root and cannot be provisioned against", gw.ID)
	}

	sessionKey := gw.MainSessionKey
	workspace := WorkspacePath(gw.WorkspaceRoot, sessionKey)
	slug := SlugFromSessionKey(sessionKey)

	if _, err := client.EnsureSession(ctx, sessionKey, "main"); err != nil {
		return "", fmt.Errorf("failed to ensure gateway main session: %w", err)
	}
	if opts.ResetSession {
		if err := client.ResetSession(ctx, sessionKey); err != nil {
			return "", fmt.Errorf("failed to reset gateway main session: %w", err)
		}
	}

	vars := TemplateVars{Agent: agent, Board: nil, Gateway: gw, Token: token, Workspace: workspace, SessionKey: sessionKey}

	for i, name := range mainFiles {
		srcName := agentFiles[i]
		t, ok := p.catalogue.MainTemplate(name)
		if !ok {
			return "", fmt.Errorf("no main template registered for %s", name)
		}
		body, err := render(t, vars)
		if err != nil {
			return "", err
		}
		if err := client.SetFile(ctx, slug, srcName, body); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", srcName, err)
		}
	}
	hb, ok := p.catalogue.MainTemplate("MAIN_HEARTBEAT.md")
	if !ok {
		return "", fmt.Errorf("no main template registered for MAIN_HEARTBEAT.md")
	}
	hbBody, err := render(hb, vars)
	if err != nil {
		return "", err
	}
	if err := client.SetFile(ctx, slug, "HEARTBEAT.md", hbBody); err != nil {
		return "", fmt.Errorf("failed to write HEARTBEAT.md: %w", err)
	}
	if opts.Action == ActionCreate || opts.ForceBootstrap {
		if t, ok := p.catalogue.MainTemplate("MAIN_BOOTSTRAP.md"); ok {
			body, err := render(t, vars)
			if err != nil {
				return "", err
			}
			if err := client.SetFile(ctx, slug, "BOOTSTRAP.md", body); err != nil {
				return "", fmt.Errorf("failed to write BOOTSTRAP.md: %w", err)
			}
		}
	}
	if err := p.writeEditableIfAbsent(ctx, client, slug, vars); err != nil {
		return "", err
	}

	entry := AgentRegistryEntry{ID: slug, Workspace: workspace, Heartbeat: agent.HeartbeatConfig}
	if err := UpsertAgentRegistry(ctx, client, entry); err != nil {
		return "", fmt.Errorf("failed to patch agent registry for main: %w", err)
	}

	return workspace, nil
}

// Cleanup removes agent from the gateway's agent registry and deletes its
// session, returning the workspace path it occupied (the gateway itself
// owns deleting the on-disk directory; the control plane's job ends at the
// registry and session).
func (p *Provisioner) Cleanup(ctx context.Context, client GatewayClient, agent *models.Agent, gw *models.Gateway) (string, error) {
	sessionKey := SessionKey(agent.OpenClawSessionID, agent.Name)
	workspace := WorkspacePath(gw.WorkspaceRoot, sessionKey)
	slug := SlugFromSessionKey(sessionKey)

	if err := RemoveAgentRegistry(ctx, client, slug); err != nil {
		return "", fmt.Errorf("failed to remove %s from agent registry: %w", slug, err)
	}
	if err := client.DeleteSession(ctx, sessionKey); err != nil {
		return "", fmt.Errorf("failed to delete gateway session for %s: %w", sessionKey, err)
	}
	return workspace, nil
}

// templateOverride returns a lookup used while rendering an agent's static
// files: an agent with a non-empty IdentityTemplate/SoulTemplate uses that
// template name in place of the catalogue default for IDENTITY.md/SOUL.md.
func templateOverride(agent *models.Agent) func(name string) string {
	return func(name string) string {
		switch name {
		case "IDENTITY.md":
			return agent.IdentityTemplate
		case "SOUL.md":
			return agent.SoulTemplate
		default:
			return ""
		}
	}
}

func (p *Provisioner) writeTemplates(ctx context.Context, client GatewayClient, slug string, names []string, override func(name string) string, vars TemplateVars) error {
	for _, name := range names {
		templateName := name
		if override != nil {
			if o := override(name); o != "" {
				templateName = o
			}
		}
		if err := p.writeOne(ctx, client, slug, name, templateName, vars); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) writeOne(ctx context.Context, client GatewayClient, slug, fileName, templateName string, vars TemplateVars) error {
	t, ok := p.catalogue.AgentTemplate(templateName)
	if !ok {
		return fmt.Errorf("no agent template registered for %s", templateName)
	}
	body, err := render(t, vars)
	if err != nil {
		return err
	}
	if err := client.SetFile(ctx, slug, fileName, body); err != nil {
		return fmt.Errorf("failed to write %s: %w", fileName, err)
	}
	return nil
}

// writeEditableIfAbsent writes SELF.md/USER.md/MEMORY.md only when the
// gateway reports no existing content for them, preserving anything a
// human or the agent has since edited there.
func (p *Provisioner) writeEditableIfAbsent(ctx context.Context, client GatewayClient, slug string, vars TemplateVars) error {
	for _, name := range editableFiles {
		existing, err := client.GetFile(ctx, slug, name)
		if err != nil {
			return fmt.Errorf("failed to check existing %s: %w", name, err)
		}
		if strings.TrimSpace(existing) != "" {
			continue
		}
		t, ok := p.catalogue.AgentTemplate(name)
		if !ok {
			continue // no seed content defined for this editable file; leave absent
		}
		body, err := render(t, vars)
		if err != nil {
			return err
		}
		if err := client.SetFile(ctx, slug, name, body); err != nil {
			return fmt.Errorf("failed to seed %s: %w", name, err)
		}
	}
	return nil
}
