package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/authz"
	"github.com/agentboard/controlplane/internal/models"
)

// handleAgents routes /api/v1/agents, /api/v1/agents/{id} and
// /api/v1/agents/heartbeat.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.respondError(w, apierr.NewAuthz("unauthenticated"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/agents")
	path = strings.TrimPrefix(path, "/")

	switch {
	case path == "":
		switch r.Method {
		case http.MethodGet:
			s.listAgents(w, r, actor)
		case http.MethodPost:
			s.createAgent(w, r, actor)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case path == "heartbeat":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.agentHeartbeat(w, r, actor)
	case path == "stream":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.streamAgentsSSE(w, r, actor)
	default:
		s.handleAgentByID(w, r, actor, path)
	}
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	ids, err := s.accessibleBoardIDs(r.Context(), actor)
	if err != nil {
		s.respondError(w, err)
		return
	}
	var out []*models.Agent
	for _, boardID := range ids {
		agents, err := s.db.ListAgentsByBoard(r.Context(), boardID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		out = append(out, agents...)
	}
	s.respondJSON(w, http.StatusOK, out)
}

type createAgentRequest struct {
	BoardID           *string                `json:"board_id,omitempty"`
	GatewayID         string                 `json:"gateway_id"`
	Name              string                 `json:"name"`
	IsBoardLead       bool                   `json:"is_board_lead"`
	OpenClawSessionID string                 `json:"openclaw_session_id"`
	HeartbeatConfig   models.HeartbeatConfig `json:"heartbeat_config"`
	IdentityProfile   map[string]any         `json:"identity_profile,omitempty"`
	IdentityTemplate  string                 `json:"identity_template,omitempty"`
	SoulTemplate      string                 `json:"soul_template,omitempty"`
}

// createAgent implements "Create agent": org admin may create any agent
// (board-scoped or the gateway's main session); a lead agent may request a
// new agent on its own board only.
func (s *Server) createAgent(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	var req createAgentRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.GatewayID) == "" {
		s.respondError(w, apierr.NewInput("name and gateway_id are required"))
		return
	}

	if req.BoardID != nil {
		board, err := s.loadBoard(r.Context(), *req.BoardID, actor)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if err := authz.CanCreateAgent(r.Context(), s.db, board, actor); err != nil {
			s.respondError(w, err)
			return
		}
	} else if actor.IsAgent() {
		s.respondError(w, apierr.NewAuthz("agents cannot create the gateway main session"))
		return
	} else {
		member, err := s.db.GetMember(r.Context(), actor.MemberID)
		if err != nil || member.Role != models.MemberRoleAdmin {
			s.respondError(w, apierr.NewAuthz("only an organization admin may create the gateway main session"))
			return
		}
	}

	_, hash, err := s.authMgr.GenerateAgentToken()
	if err != nil {
		s.respondError(w, err)
		return
	}

	now := s.clk.Now()
	agent := &models.Agent{
		ID:                uuid.NewString(),
		BoardID:           req.BoardID,
		GatewayID:         req.GatewayID,
		Name:              req.Name,
		IsBoardLead:       req.IsBoardLead,
		OpenClawSessionID: req.OpenClawSessionID,
		HeartbeatConfig:   req.HeartbeatConfig,
		IdentityProfile:   req.IdentityProfile,
		IdentityTemplate:  req.IdentityTemplate,
		SoulTemplate:      req.SoulTemplate,
		AgentTokenHash:    hash,
		Status:            models.AgentStatusProvisioning,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.db.CreateAgent(r.Context(), agent); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request, actor auth.ActorContext, id string) {
	agent, err := s.db.GetAgent(r.Context(), id)
	if err != nil {
		s.respondError(w, apierr.NewNotFound("agent not found"))
		return
	}
	if err := s.requireAgentVisible(r.Context(), agent, actor); err != nil {
		s.respondError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, agent)
	case http.MethodPatch:
		s.updateAgent(w, r, agent, actor)
	case http.MethodDelete:
		s.deleteAgent(w, r, agent, actor)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// requireAgentVisible enforces board-read access for member actors and
// same-board restriction for agent actors. A board-less agent (the
// gateway's main session) is visible to any member of its organization's
// gateway but to no other agent.
func (s *Server) requireAgentVisible(ctx context.Context, agent *models.Agent, actor auth.ActorContext) error {
	if actor.IsAgent() {
		if actor.AgentID == agent.ID {
			return nil
		}
		self, err := s.db.GetAgent(ctx, actor.AgentID)
		if err != nil {
			return apierr.NewNotFound("agent not found")
		}
		if agent.BoardID == nil || self.BoardID == nil || *agent.BoardID != *self.BoardID {
			return apierr.NewNotFound("agent not found")
		}
		return nil
	}
	if agent.BoardID == nil {
		gw, err := s.db.GetGateway(ctx, agent.GatewayID)
		if err != nil || gw.OrganizationID != actor.OrgID {
			return apierr.NewNotFound("agent not found")
		}
		return nil
	}
	board, err := s.db.GetBoard(ctx, *agent.BoardID)
	if err != nil {
		return apierr.NewNotFound("agent not found")
	}
	return authz.RequireBoardRead(ctx, s.db, board, actor)
}

type updateAgentRequest struct {
	Name             *string                 `json:"name,omitempty"`
	IsBoardLead      *bool                   `json:"is_board_lead,omitempty"`
	HeartbeatConfig  *models.HeartbeatConfig `json:"heartbeat_config,omitempty"`
	IdentityProfile  map[string]any          `json:"identity_profile,omitempty"`
	IdentityTemplate *string                 `json:"identity_template,omitempty"`
	SoulTemplate     *string                 `json:"soul_template,omitempty"`
	Status           *models.AgentStatus     `json:"status,omitempty"`
	RotateToken      bool                    `json:"rotate_token,omitempty"`
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request, agent *models.Agent, actor auth.ActorContext) {
	if err := s.requireAgentWrite(r.Context(), agent, actor); err != nil {
		s.respondError(w, err)
		return
	}
	var req updateAgentRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.IsBoardLead != nil {
		agent.IsBoardLead = *req.IsBoardLead
	}
	if req.HeartbeatConfig != nil {
		agent.HeartbeatConfig = *req.HeartbeatConfig
	}
	if req.IdentityProfile != nil {
		agent.IdentityProfile = req.IdentityProfile
	}
	if req.IdentityTemplate != nil {
		agent.IdentityTemplate = *req.IdentityTemplate
	}
	if req.SoulTemplate != nil {
		agent.SoulTemplate = *req.SoulTemplate
	}
	if req.Status != nil {
		agent.Status = *req.Status
	}
	if req.RotateToken {
		_, hash, err := s.authMgr.GenerateAgentToken()
		if err != nil {
			s.respondError(w, err)
			return
		}
		agent.AgentTokenHash = hash
	}
	agent.UpdatedAt = s.clk.Now()

	if err := s.db.UpdateAgent(r.Context(), agent); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, agent)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request, agent *models.Agent, actor auth.ActorContext) {
	if err := s.requireAgentWrite(r.Context(), agent, actor); err != nil {
		s.respondError(w, err)
		return
	}
	event := &models.ActivityEvent{
		ID:        uuid.NewString(),
		EventType: "agent.deleted",
		AgentID:   &agent.ID,
		Message:   "agent " + agent.Name + " deleted",
		CreatedAt: s.clk.Now(),
	}
	if agent.BoardID != nil {
		event.BoardID = *agent.BoardID
	}
	if err := s.db.DeleteAgentCascade(r.Context(), agent.ID, event); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

// requireAgentWrite matches the authorization matrix's "Update board meta"
// row scope for agents: only a member with board write access, or an org
// admin (for the board-less main session), may mutate an agent record — no
// agent actor (lead or otherwise) may edit another agent's record through
// this endpoint, since agent lifecycle management is an administrative act.
func (s *Server) requireAgentWrite(ctx context.Context, agent *models.Agent, actor auth.ActorContext) error {
	if actor.IsAgent() {
		return apierr.NewAuthz("agents cannot modify agent records")
	}
	if agent.BoardID == nil {
		member, err := s.db.GetMember(ctx, actor.MemberID)
		if err != nil || member.Role != models.MemberRoleAdmin {
			return apierr.NewAuthz("only an organization admin may modify the gateway main session")
		}
		return nil
	}
	board, err := s.db.GetBoard(ctx, *agent.BoardID)
	if err != nil {
		return apierr.NewNotFound("agent not found")
	}
	return authz.RequireBoardWrite(ctx, s.db, board, actor)
}

// agentHeartbeat updates last_seen_at/status of the agent registered under
// OpenClawSessionID (a fresh agent process has no agent id of its own yet).
// It does not create agents: a session with no registered agent is answered
// with 404, so the agent has to exist through POST /agents first.
func (s *Server) agentHeartbeat(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	var req struct {
		OpenClawSessionID string             `json:"openclaw_session_id"`
		Status            models.AgentStatus `json:"status"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.OpenClawSessionID) == "" {
		s.respondError(w, apierr.NewInput("openclaw_session_id is required"))
		return
	}
	if req.Status == "" {
		req.Status = models.AgentStatusOnline
	}

	now := s.clk.Now()
	agent, err := s.db.GetAgentByOpenClawSession(r.Context(), req.OpenClawSessionID)
	if err != nil {
		s.respondError(w, apierr.NewNotFound("no agent registered for session %s; create it via POST /agents first", req.OpenClawSessionID))
		return
	}
	if actor.IsAgent() && actor.AgentID != agent.ID {
		s.respondError(w, apierr.NewAuthz("agents may only heartbeat their own session"))
		return
	}
	if err := s.db.TouchAgentHeartbeat(r.Context(), agent.ID, req.Status, now); err != nil {
		s.respondError(w, err)
		return
	}
	agent.Status = req.Status
	agent.LastSeenAt = &now
	s.respondJSON(w, http.StatusOK, agent)
}
