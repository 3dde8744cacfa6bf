// Package coordinator implements lead↔main↔user message routing over the
// gateway's JSON-RPC session API: nudging a board agent, a lead asking the
// human user a question via the gateway main session, and the main session
// broadcasting an instruction to one or every board lead. Grounded on the
// teacher's internal/openclaw/types.go (AgentRequest/InboundMessage shape),
// generalized from OpenClaw's single external webhook to arbitrary
// per-board session keys reached through internal/gateway.Client.
package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
	"github.com/agentboard/controlplane/internal/webhooks"
)

// GatewayClient is the subset of *gateway.Client the coordinator needs to
// send and correlate messages.
type GatewayClient interface {
	SendMessage(ctx context.Context, sessionKey, text string, deliver bool) error
}

// Coordinator routes messages between board agents, board leads, the
// gateway main session, and (indirectly, via the main agent) the human
// user.
type Coordinator struct {
	db *database.DB
}

// New builds a Coordinator.
func New(db *database.DB) *Coordinator {
	return &Coordinator{db: db}
}

// Nudge sends a direct message to a board agent's session announcing a new
// or changed assignment.
func (c *Coordinator) Nudge(ctx context.Context, client GatewayClient, agent *models.Agent, task *models.Task) error {
	text := fmt.Sprintf("You have been assigned task %q (%s priority). Check your board's task list for details.", task.Title, task.Priority)
	if err := client.SendMessage(ctx, agent.OpenClawSessionID, text, true); err != nil {
		return fmt.Errorf("failed to nudge agent %s: %w", agent.ID, err)
	}
	return nil
}

// ClientResolver looks up the gateway RPC client for a gateway id, the way
// a connection-pool keyed by gateway would in the running process.
type ClientResolver func(ctx context.Context, gatewayID string) (GatewayClient, error)

// NudgeAdapter adapts Coordinator.Nudge to internal/tasks.Nudger, resolving
// the correct gateway client per call since an agent's gateway is not fixed
// at construction time.
type NudgeAdapter struct {
	Coordinator *Coordinator
	Resolve     ClientResolver
}

// Nudge implements internal/tasks.Nudger.
func (a *NudgeAdapter) Nudge(ctx context.Context, agent *models.Agent, task *models.Task) error {
	client, err := a.Resolve(ctx, agent.GatewayID)
	if err != nil {
		return fmt.Errorf("failed to resolve gateway client for nudge: %w", err)
	}
	return a.Coordinator.Nudge(ctx, client, agent, task)
}

// LeadAsksUserResult is returned to the lead (or the API caller acting on
// its behalf) describing how to correlate the eventual reply.
type LeadAsksUserResult struct {
	CorrelationID   string `json:"correlation_id"`
	ReplyMemoryPath string `json:"reply_memory_path"`
}

// LeadAsksUser sends a structured instruction from a board lead to the
// gateway's main session asking it to reach the human user through its own
// channels. The reply protocol is pull-based: the main agent later writes a
// non-chat BoardMemory row tagged [gateway_main, user_reply] carrying
// CorrelationID in its content, rather than acking synchronously.
func (c *Coordinator) LeadAsksUser(ctx context.Context, client GatewayClient, gw *models.Gateway, board *models.Board, question, channelHint string) (LeadAsksUserResult, error) {
	correlationID := uuid.NewString()
	replyPath := fmt.Sprintf("/boards/%s/memory", board.ID)
	text := fmt.Sprintf(
		"Lead on board %q needs you to reach the user via your channels%s.\n\nQuestion: %s\n\nWhen answered, write a non-chat board memory item tagged [gateway_main, user_reply] with source=%q via POST %s. correlation_id=%s",
		board.Name, channelSuffix(channelHint), question, "gateway_main", replyPath, correlationID,
	)
	if err := client.SendMessage(ctx, gw.MainSessionKey, text, true); err != nil {
		return LeadAsksUserResult{}, fmt.Errorf("failed to relay question to gateway main: %w", err)
	}
	return LeadAsksUserResult{CorrelationID: correlationID, ReplyMemoryPath: replyPath}, nil
}

func channelSuffix(hint string) string {
	if hint == "" {
		return ""
	}
	return fmt.Sprintf(" (preferred channel: %s)", hint)
}

// BoardOutcome is one board's result in a BroadcastToLeads broadcast.
type BoardOutcome struct {
	BoardID string `json:"board_id"`
	Sent    bool   `json:"sent"`
	Error   string `json:"error,omitempty"`
}

// BroadcastResult summarizes a main→leads fan-out.
type BroadcastResult struct {
	Outcomes []BoardOutcome `json:"outcomes"`
	Sent     int            `json:"sent"`
	Failed   int            `json:"failed"`
}

// MessageLead sends an instruction from the gateway main session to a
// single board's lead.
func (c *Coordinator) MessageLead(ctx context.Context, client GatewayClient, board *models.Board, instruction string) error {
	lead, err := c.findLead(ctx, board.ID)
	if err != nil {
		return err
	}
	if err := client.SendMessage(ctx, lead.OpenClawSessionID, instruction, true); err != nil {
		return fmt.Errorf("failed to message lead on board %s: %w", board.ID, err)
	}
	return nil
}

// BroadcastToLeads sends instruction to every board attached to gw whose ID
// passes the optional boardFilter (nil accepts all), one message per
// board's lead. Boards without an assigned lead are counted as failures —
// provisioning a lead is an administrative act, not something a broadcast
// performs implicitly.
func (c *Coordinator) BroadcastToLeads(ctx context.Context, client GatewayClient, gw *models.Gateway, instruction string, boardFilter func(board *models.Board) bool) (BroadcastResult, error) {
	boards, err := c.db.ListBoardsByGateway(ctx, gw.ID)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("failed to list boards for gateway: %w", err)
	}

	var result BroadcastResult
	for _, board := range boards {
		if boardFilter != nil && !boardFilter(board) {
			continue
		}
		outcome := BoardOutcome{BoardID: board.ID}
		if err := c.MessageLead(ctx, client, board, instruction); err != nil {
			outcome.Error = err.Error()
			result.Failed++
		} else {
			outcome.Sent = true
			result.Sent++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

// WebhookNotifier adapts Coordinator.MessageLead to internal/webhooks.Notifier,
// resolving the gateway client for the payload's board the same way
// NudgeAdapter resolves one for an agent.
type WebhookNotifier struct {
	Coordinator *Coordinator
	Resolve     ClientResolver
}

// NotifyPayload implements internal/webhooks.Notifier by messaging the
// payload's board lead with a summary and an inspect path.
func (n *WebhookNotifier) NotifyPayload(ctx context.Context, payload *models.BoardWebhookPayload) error {
	board, err := n.Coordinator.db.GetBoard(ctx, payload.BoardID)
	if err != nil {
		return fmt.Errorf("failed to resolve board for webhook notification: %w", err)
	}
	lead, err := n.Coordinator.findLead(ctx, board.ID)
	if err != nil {
		return err
	}
	client, err := n.Resolve(ctx, lead.GatewayID)
	if err != nil {
		return fmt.Errorf("failed to resolve gateway client for webhook notification: %w", err)
	}
	inspectURL := fmt.Sprintf("/boards/%s/webhooks/%s/payloads/%s", board.ID, payload.WebhookID, payload.ID)
	instruction := fmt.Sprintf(
		"Webhook delivery received on board %q (payload %s).\n\nPayload preview: %s\n\nInspect the full payload at %s and decide whether action is needed.",
		board.Name, payload.ID, webhooks.PreviewOf(payload.Body), inspectURL,
	)
	return n.Coordinator.MessageLead(ctx, client, board, instruction)
}

func (c *Coordinator) findLead(ctx context.Context, boardID string) (*models.Agent, error) {
	agents, err := c.db.ListAgentsByBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list board agents: %w", err)
	}
	for _, a := range agents {
		if a.IsBoardLead {
			return a, nil
		}
	}
	return nil, fmt.Errorf("board %s has no assigned lead", boardID)
}
