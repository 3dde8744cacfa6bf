// handlers_agent_scoped.go implements the agent-scoped surface under
// /agent/*: the subset of the member-facing API an authenticated agent
// needs to operate day-to-day — its own board's tasks and memory, and its
// own heartbeat — without exposing board
// administration or org-wide listings.
package api

import (
	"net/http"
	"strings"

	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/authz"
	"github.com/agentboard/controlplane/internal/models"
)

// handleAgentScoped dispatches /agent/me, /agent/board, /agent/tasks[/{id}],
// /agent/memory and /agent/heartbeat — all implicitly scoped to the calling
// agent's own board, requiring an agent-token actor.
func (s *Server) handleAgentScoped(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.respondError(w, apierr.NewAuthz("unauthenticated"))
		return
	}
	if !actor.IsAgent() {
		s.respondError(w, apierr.NewAuthz("the /agent surface requires an agent token"))
		return
	}

	self, err := s.db.GetAgent(r.Context(), actor.AgentID)
	if err != nil {
		s.respondError(w, apierr.NewNotFound("agent not found"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/agent/")
	switch {
	case path == "me":
		s.respondJSON(w, http.StatusOK, self)
	case path == "heartbeat":
		s.agentHeartbeat(w, r, actor)
	case path == "board":
		s.agentScopedBoard(w, r, self, actor)
	case path == "tasks" || strings.HasPrefix(path, "tasks/"):
		s.agentScopedTasks(w, r, self, actor, strings.TrimPrefix(path, "tasks"))
	case path == "memory":
		s.agentScopedMemory(w, r, self, actor)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// agentBoard resolves the calling agent's own board, failing with NotFound
// for the board-less main session (it has no board-scoped surface to serve).
func (s *Server) agentBoard(r *http.Request, self *models.Agent, actor auth.ActorContext) (*models.Board, error) {
	if self.BoardID == nil {
		return nil, apierr.NewNotFound("the main session has no board-scoped surface")
	}
	return s.loadBoard(r.Context(), *self.BoardID, actor)
}

func (s *Server) agentScopedBoard(w http.ResponseWriter, r *http.Request, self *models.Agent, actor auth.ActorContext) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	board, err := s.agentBoard(r, self, actor)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, board)
}

func (s *Server) agentScopedTasks(w http.ResponseWriter, r *http.Request, self *models.Agent, actor auth.ActorContext, rest string) {
	board, err := s.agentBoard(r, self, actor)
	if err != nil {
		s.respondError(w, err)
		return
	}
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		out, err := s.db.ListTasksByBoard(r.Context(), board.ID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, out)
		return
	}

	task, err := s.db.GetTask(r.Context(), rest)
	if err != nil || task.BoardID != board.ID {
		s.respondError(w, apierr.NewNotFound("task not found"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, task)
	case http.MethodPatch:
		s.updateTask(w, r, board, task, actor)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) agentScopedMemory(w http.ResponseWriter, r *http.Request, self *models.Agent, actor auth.ActorContext) {
	board, err := s.agentBoard(r, self, actor)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := authz.RequireBoardRead(r.Context(), s.db, board, actor); err != nil {
		s.respondError(w, err)
		return
	}
	s.handleMemory(w, r, board, actor)
}
