// Package templatesync reconciles every agent of a gateway against the
// current template catalogue: rendered files, preserved editable content,
// and a single batched agent-registry patch. Implements the specification's
// 5-step algorithm, using golang.org/x/sync/errgroup to fan the per-agent
// TOOLS.md token-recovery reads (step 4a) out concurrently before the
// registry patches (step 4b) are applied serially, since config.patch is a
// single-writer protocol per gateway.
package templatesync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
	"github.com/agentboard/controlplane/internal/provisioner"
)

// TokenMinter issues a fresh agent bearer token and its stored hash,
// mirroring internal/auth.Manager's GenerateAgentToken without this
// package importing auth directly.
type TokenMinter func() (plaintext, hash string, err error)

// Options carries the sync run's flags, mirrored from the specification's
// inputs.
type Options struct {
	BoardID        string // optional single-board filter; empty means all boards
	IncludeMain    bool
	ResetSessions  bool
	RotateTokens   bool
	ForceBootstrap bool
}

// SyncError is one failed agent or board within an otherwise-continuing
// sync run.
type SyncError struct {
	AgentID string `json:"agent_id,omitempty"`
	BoardID string `json:"board_id,omitempty"`
	Message string `json:"message"`
}

// Result is the structured outcome of a sync run.
type Result struct {
	GatewayID     string      `json:"gateway_id"`
	AgentsUpdated int         `json:"agents_updated"`
	AgentsSkipped int         `json:"agents_skipped"`
	MainUpdated   bool        `json:"main_updated"`
	Errors        []SyncError `json:"errors,omitempty"`
}

// GatewayClient is the subset of *gateway.Client the sync engine needs:
// provisioner.GatewayClient's file/session/registry calls plus the
// agents.list liveness ping of step 1.
type GatewayClient interface {
	provisioner.GatewayClient
	AgentsList(ctx context.Context) (json.RawMessage, error)
}

// Engine runs template-sync reconciliations.
type Engine struct {
	db          *database.DB
	provisioner *provisioner.Provisioner
	mint        TokenMinter
}

// New builds an Engine.
func New(db *database.DB, p *provisioner.Provisioner, mint TokenMinter) *Engine {
	return &Engine{db: db, provisioner: p, mint: mint}
}

// tokenRecovery is the per-agent result of step 4a's concurrent TOOLS.md
// read, carried forward into the serialized provision calls of step 4b.
type tokenRecovery struct {
	agent       *models.Agent
	board       *models.Board
	token       string
	rotated     bool
	pendingHash string
	skip        bool
	skipWhy     string
}

// Sync runs the 5-step reconciliation for gw against client.
func (e *Engine) Sync(ctx context.Context, client GatewayClient, gw *models.Gateway, opts Options) (Result, error) {
	result := Result{GatewayID: gw.ID}

	// Step 1: ping gateway behind the backoff; fail fast on timeout.
	if _, err := client.AgentsList(ctx); err != nil {
		result.Errors = append(result.Errors, SyncError{Message: fmt.Sprintf("gateway unreachable: %v", err)})
		return result, nil
	}

	// Step 2: select boards attached to gateway (optionally a single board).
	boards, err := e.db.ListBoardsByGateway(ctx, gw.ID)
	if err != nil {
		return result, fmt.Errorf("failed to list boards for gateway: %w", err)
	}
	if opts.BoardID != "" {
		filtered := boards[:0]
		for _, b := range boards {
			if b.ID == opts.BoardID {
				filtered = append(filtered, b)
			}
		}
		boards = filtered
	}

	// Step 3: exclude paused boards.
	var active []*models.Board
	for _, b := range boards {
		paused, err := e.boardPaused(ctx, b.ID)
		if err != nil {
			result.Errors = append(result.Errors, SyncError{BoardID: b.ID, Message: err.Error()})
			continue
		}
		if paused {
			continue
		}
		active = append(active, b)
	}

	// Step 4: gather every agent across the active boards, ordered by
	// creation (ListAgentsByBoard already orders per-board; board order
	// follows ListBoardsByGateway's creation order).
	type agentBoard struct {
		agent *models.Agent
		board *models.Board
	}
	var pairs []agentBoard
	for _, b := range active {
		agents, err := e.db.ListAgentsByBoard(ctx, b.ID)
		if err != nil {
			result.Errors = append(result.Errors, SyncError{BoardID: b.ID, Message: err.Error()})
			continue
		}
		for _, a := range agents {
			pairs = append(pairs, agentBoard{agent: a, board: b})
		}
	}

	// Step 4a: fan out TOOLS.md reads to recover AUTH_TOKEN concurrently.
	recoveries := make([]tokenRecovery, len(pairs))
	group, gctx := errgroup.WithContext(ctx)
	for i, pair := range pairs {
		i, pair := i, pair
		group.Go(func() error {
			recoveries[i] = e.recoverToken(gctx, client, pair.agent, pair.board, opts)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, fmt.Errorf("failed to recover agent tokens: %w", err)
	}

	// Step 4b: serialize the provision calls (registry patches are
	// single-writer per gateway).
	for _, rec := range recoveries {
		if rec.skip {
			result.AgentsSkipped++
			result.Errors = append(result.Errors, SyncError{AgentID: rec.agent.ID, BoardID: rec.board.ID, Message: rec.skipWhy})
			continue
		}
		if rec.rotated {
			rec.agent.AgentTokenHash = rec.pendingHash
			if err := e.db.UpdateAgent(ctx, rec.agent); err != nil {
				result.Errors = append(result.Errors, SyncError{AgentID: rec.agent.ID, BoardID: rec.board.ID, Message: fmt.Sprintf("failed to persist rotated token: %v", err)})
				continue
			}
		}
		_, err := e.provisioner.Provision(ctx, client, rec.agent, rec.board, gw, rec.token, provisioner.Options{
			Action:         provisioner.ActionUpdate,
			ForceBootstrap: opts.ForceBootstrap,
			ResetSession:   opts.ResetSessions,
		})
		if err != nil {
			result.Errors = append(result.Errors, SyncError{AgentID: rec.agent.ID, BoardID: rec.board.ID, Message: err.Error()})
			continue
		}
		result.AgentsUpdated++
	}

	// Step 5: optionally provision the gateway's main agent.
	if opts.IncludeMain {
		main, err := e.db.GetAgentByOpenClawSession(ctx, gw.MainSessionKey)
		if err != nil {
			result.Errors = append(result.Errors, SyncError{Message: fmt.Sprintf("no main agent registered for session %s: %v", gw.MainSessionKey, err)})
		} else {
			token := ""
			if opts.RotateTokens && e.mint != nil {
				plaintext, hash, err := e.mint()
				if err != nil {
					result.Errors = append(result.Errors, SyncError{AgentID: main.ID, Message: err.Error()})
				} else {
					token = plaintext
					main.AgentTokenHash = hash
					if err := e.db.UpdateAgent(ctx, main); err != nil {
						result.Errors = append(result.Errors, SyncError{AgentID: main.ID, Message: err.Error()})
					}
				}
			}
			if _, err := e.provisioner.ProvisionMain(ctx, client, main, gw, token, provisioner.Options{
				Action:         provisioner.ActionUpdate,
				ForceBootstrap: opts.ForceBootstrap,
				ResetSession:   opts.ResetSessions,
			}); err != nil {
				result.Errors = append(result.Errors, SyncError{AgentID: main.ID, Message: err.Error()})
			} else {
				result.MainUpdated = true
			}
		}
	}

	return result, nil
}

// boardPaused reports whether a board's most recent chat memory is a
// /pause not yet followed by a /resume.
func (e *Engine) boardPaused(ctx context.Context, boardID string) (bool, error) {
	recent, err := e.db.ListBoardMemory(ctx, boardID, true, 1)
	if err != nil {
		return false, fmt.Errorf("failed to check board pause state: %w", err)
	}
	if len(recent) == 0 {
		return false, nil
	}
	return strings.HasPrefix(strings.TrimSpace(recent[0].Content), "/pause"), nil
}

// recoverToken implements step 4a for a single agent: read TOOLS.md,
// extract AUTH_TOKEN=..., and decide whether to rotate, warn, or skip.
func (e *Engine) recoverToken(ctx context.Context, client provisioner.GatewayClient, agent *models.Agent, board *models.Board, opts Options) tokenRecovery {
	rec := tokenRecovery{agent: agent, board: board}

	body, err := client.GetFile(ctx, provisionerSlug(agent), "TOOLS.md")
	if err != nil {
		rec.skip = true
		rec.skipWhy = fmt.Sprintf("failed to read TOOLS.md: %v", err)
		return rec
	}

	existing := extractAuthToken(body)
	if existing == "" {
		if !opts.RotateTokens {
			rec.skip = true
			rec.skipWhy = "TOOLS.md has no AUTH_TOKEN and rotate_tokens=true required to mint one"
			return rec
		}
		return e.rotate(rec)
	}

	// Present: the recovered value is not checked against the stored hash.
	// Rotate when no hash is on record or rotation was asked for; otherwise
	// reuse the recovered value as is, with no note of any drift.
	if agent.AgentTokenHash == "" {
		return e.rotate(rec)
	}
	if opts.RotateTokens {
		return e.rotate(rec)
	}
	rec.token = existing
	return rec
}

func (e *Engine) rotate(rec tokenRecovery) tokenRecovery {
	if e.mint == nil {
		rec.skip = true
		rec.skipWhy = "rotate_tokens requested but no token minter configured"
		return rec
	}
	plaintext, hash, err := e.mint()
	if err != nil {
		rec.skip = true
		rec.skipWhy = fmt.Sprintf("failed to mint rotated token: %v", err)
		return rec
	}
	rec.token = plaintext
	rec.rotated = true
	rec.pendingHash = hash
	return rec
}

// extractAuthToken pulls the value of an "AUTH_TOKEN=..." line from a
// rendered TOOLS.md body, the same format Provision writes it in.
func extractAuthToken(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "AUTH_TOKEN=") {
			return strings.TrimPrefix(line, "AUTH_TOKEN=")
		}
	}
	return ""
}

func provisionerSlug(agent *models.Agent) string {
	return provisioner.SlugFromSessionKey(provisioner.SessionKey(agent.OpenClawSessionID, agent.Name))
}
