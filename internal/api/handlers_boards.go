package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/authz"
	"github.com/agentboard/controlplane/internal/models"
	"github.com/agentboard/controlplane/internal/tasks"
	"github.com/agentboard/controlplane/internal/templatesync"
	"github.com/agentboard/controlplane/internal/webhooks"
)

// handleBoards routes every /api/v1/boards* request, following the
// trim-prefix/split-segments dispatch pattern.
func (s *Server) handleBoards(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.respondError(w, apierr.NewAuthz("unauthenticated"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/boards")
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		switch r.Method {
		case http.MethodGet:
			s.listBoards(w, r, actor)
		case http.MethodPost:
			s.createBoard(w, r, actor)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	parts := strings.SplitN(path, "/", 2)
	boardID := parts[0]
	board, err := s.loadBoard(r.Context(), boardID, actor)
	if err != nil {
		s.respondError(w, err)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.respondJSON(w, http.StatusOK, board)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	rest := parts[1]
	switch {
	case rest == "tasks" || strings.HasPrefix(rest, "tasks/"):
		s.handleTasks(w, r, board, actor, strings.TrimPrefix(rest, "tasks"))
	case rest == "memory":
		s.handleMemory(w, r, board, actor)
	case rest == "approvals" || strings.HasPrefix(rest, "approvals/"):
		s.handleApprovals(w, r, board, actor, strings.TrimPrefix(rest, "approvals"))
	case rest == "onboarding":
		s.handleOnboarding(w, r, board, actor)
	case rest == "webhooks" || strings.HasPrefix(rest, "webhooks/"):
		s.handleWebhooks(w, r, board, actor, strings.TrimPrefix(rest, "webhooks"))
	default:
		http.Error(w, "Unknown endpoint", http.StatusNotFound)
	}
}

func (s *Server) listBoards(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	ids, err := s.accessibleBoardIDs(r.Context(), actor)
	if err != nil {
		s.respondError(w, err)
		return
	}
	allowed := make(map[string]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	boards, err := s.db.ListBoards(r.Context(), actor.OrgID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := boards[:0]
	for _, b := range boards {
		if allowed[b.ID] {
			out = append(out, b)
		}
	}
	s.respondJSON(w, http.StatusOK, out)
}

type createBoardRequest struct {
	Name       string     `json:"name"`
	Objective  string     `json:"objective"`
	GatewayID  *string    `json:"gateway_id,omitempty"`
	TargetDate *time.Time `json:"target_date,omitempty"`
}

func (s *Server) createBoard(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	if actor.IsAgent() {
		s.respondError(w, apierr.NewAuthz("agents cannot create boards"))
		return
	}
	member, err := s.db.GetMember(r.Context(), actor.MemberID)
	if err != nil || member.Role != models.MemberRoleAdmin {
		s.respondError(w, apierr.NewAuthz("only an organization admin may create boards"))
		return
	}

	var req createBoardRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.respondError(w, apierr.NewInput("board name is required"))
		return
	}

	now := s.clk.Now()
	board := &models.Board{
		ID:             uuid.NewString(),
		OrganizationID: actor.OrgID,
		GatewayID:      req.GatewayID,
		Name:           req.Name,
		Objective:      req.Objective,
		TargetDate:     req.TargetDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.CreateBoard(r.Context(), board); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, board)
}

// handleTasks covers /boards/{id}/tasks and /boards/{id}/tasks/{taskID}.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request, board *models.Board, actor auth.ActorContext, rest string) {
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			out, err := s.db.ListTasksByBoard(r.Context(), board.ID)
			if err != nil {
				s.respondError(w, err)
				return
			}
			s.respondJSON(w, http.StatusOK, out)
		case http.MethodPost:
			s.createTask(w, r, board, actor)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	taskID := rest
	task, err := s.db.GetTask(r.Context(), taskID)
	if err != nil || task.BoardID != board.ID {
		s.respondError(w, apierr.NewNotFound("task not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, task)
	case http.MethodPatch:
		s.updateTask(w, r, board, task, actor)
	case http.MethodDelete:
		if err := s.tasks.DeleteTask(r.Context(), board, task, actor); err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusNoContent, nil)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type taskRequest struct {
	Title              *string              `json:"title,omitempty"`
	Description        *string              `json:"description,omitempty"`
	Priority           *models.TaskPriority `json:"priority,omitempty"`
	Status             *models.TaskStatus   `json:"status,omitempty"`
	AssignedAgentID    *string              `json:"assigned_agent_id,omitempty"`
	AssignedAgentIDSet bool                 `json:"assigned_agent_id_set,omitempty"`
	DependsOn          []string             `json:"depends_on,omitempty"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, board *models.Board, actor auth.ActorContext) {
	var req taskRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}
	in := tasks.CreateTaskInput{DependsOn: req.DependsOn, AssignedAgentID: req.AssignedAgentID}
	if req.Title != nil {
		in.Title = *req.Title
	}
	if req.Description != nil {
		in.Description = *req.Description
	}
	if req.Priority != nil {
		in.Priority = *req.Priority
	}
	task, err := s.tasks.CreateTask(r.Context(), board, in, actor)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, board *models.Board, task *models.Task, actor auth.ActorContext) {
	var req taskRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}
	in := tasks.UpdateInput{
		Title:              req.Title,
		Description:        req.Description,
		Priority:           req.Priority,
		Status:             req.Status,
		AssignedAgentID:    req.AssignedAgentID,
		AssignedAgentIDSet: req.AssignedAgentIDSet,
	}
	updated, err := s.tasks.UpdateTask(r.Context(), board, task, in, actor)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request, board *models.Board, actor auth.ActorContext) {
	switch r.Method {
	case http.MethodGet:
		isChat := r.URL.Query().Get("is_chat") != "false"
		limit := 100
		out, err := s.db.ListBoardMemory(r.Context(), board.ID, isChat, limit)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, out)
	case http.MethodPost:
		s.createMemory(w, r, board, actor)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type createMemoryRequest struct {
	IsChat  bool     `json:"is_chat"`
	Tags    []string `json:"tags,omitempty"`
	Content string   `json:"content"`
}

func (s *Server) createMemory(w http.ResponseWriter, r *http.Request, board *models.Board, actor auth.ActorContext) {
	var req createMemoryRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.respondError(w, apierr.NewInput("memory content is required"))
		return
	}
	if err := authz.RequireBoardRead(r.Context(), s.db, board, actor); err != nil {
		s.respondError(w, err)
		return
	}

	authorID := actor.MemberID
	if actor.IsAgent() {
		authorID = actor.AgentID
	}
	mem := &models.BoardMemory{
		ID:        uuid.NewString(),
		BoardID:   board.ID,
		AuthorID:  authorID,
		IsChat:    req.IsChat,
		Tags:      req.Tags,
		Content:   req.Content,
		CreatedAt: s.clk.Now(),
	}
	if err := s.db.CreateBoardMemory(r.Context(), mem); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, mem)
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request, board *models.Board, actor auth.ActorContext, rest string) {
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			out, err := s.db.ListApprovalsByBoard(r.Context(), board.ID)
			if err != nil {
				s.respondError(w, err)
				return
			}
			s.respondJSON(w, http.StatusOK, out)
		case http.MethodPost:
			s.createApproval(w, r, board, actor)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	approval, err := s.db.GetApproval(r.Context(), rest)
	if err != nil || approval.BoardID != board.ID {
		s.respondError(w, apierr.NewNotFound("approval not found"))
		return
	}
	if r.Method != http.MethodPatch {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := authz.RequireBoardWrite(r.Context(), s.db, board, actor); err != nil {
		s.respondError(w, err)
		return
	}
	var req struct {
		Status models.ApprovalStatus `json:"status"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}
	approval.Status = req.Status
	approval.UpdatedAt = s.clk.Now()
	if err := s.db.UpdateApprovalStatus(r.Context(), approval); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, approval)
}

func (s *Server) createApproval(w http.ResponseWriter, r *http.Request, board *models.Board, actor auth.ActorContext) {
	var req struct {
		Title  string  `json:"title"`
		TaskID *string `json:"task_id,omitempty"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.respondError(w, apierr.NewInput("approval title is required"))
		return
	}
	now := s.clk.Now()
	approval := &models.Approval{
		ID:        uuid.NewString(),
		BoardID:   board.ID,
		TaskID:    req.TaskID,
		Title:     req.Title,
		Status:    models.ApprovalStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateApproval(r.Context(), approval); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, approval)
}

// handleOnboarding triggers a single-board force_bootstrap template sync,
// the control plane's "first touch" path for a freshly created board: it
// runs the same 5-step algorithm internal/reconcile fires periodically, but
// immediately, scoped to this board, and with force_bootstrap set so
// BOOTSTRAP.md is written even on this update run. Editable files that
// already exist are still left as they are.
func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request, board *models.Board, actor auth.ActorContext) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := authz.RequireBoardWrite(r.Context(), s.db, board, actor); err != nil {
		s.respondError(w, err)
		return
	}
	if board.GatewayID == nil {
		s.respondError(w, apierr.NewInput("board has no attached gateway"))
		return
	}

	gw, err := s.db.GetGateway(r.Context(), *board.GatewayID)
	if err != nil {
		s.respondError(w, apierr.NewNotFound("gateway not found"))
		return
	}
	client, err := s.pool.Resolve(r.Context(), gw.ID)
	if err != nil {
		s.respondError(w, apierr.NewUpstream(apierr.UpstreamFatal, "failed to reach gateway", err))
		return
	}

	var req struct {
		IncludeMain  bool `json:"include_main"`
		RotateTokens bool `json:"rotate_tokens"`
	}
	_ = s.parseJSON(r, &req)

	result, err := s.sync.Sync(r.Context(), client, gw, templatesync.Options{
		BoardID:        board.ID,
		IncludeMain:    req.IncludeMain,
		RotateTokens:   req.RotateTokens,
		ForceBootstrap: true,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleWebhooks(w http.ResponseWriter, r *http.Request, board *models.Board, actor auth.ActorContext, rest string) {
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			out, err := s.db.ListBoardWebhooks(r.Context(), board.ID)
			if err != nil {
				s.respondError(w, err)
				return
			}
			s.respondJSON(w, http.StatusOK, out)
		case http.MethodPost:
			s.createWebhook(w, r, board, actor)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	segs := strings.SplitN(rest, "/", 2)
	webhookID := segs[0]
	wh, err := s.db.GetBoardWebhook(r.Context(), webhookID)
	if err != nil || wh.BoardID != board.ID {
		s.respondError(w, apierr.NewNotFound("webhook not found"))
		return
	}

	if len(segs) == 1 {
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := authz.RequireBoardWrite(r.Context(), s.db, board, actor); err != nil {
			s.respondError(w, err)
			return
		}
		if err := s.db.SetBoardWebhookDisabled(r.Context(), wh.ID, true); err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusNoContent, nil)
		return
	}

	if segs[1] == "payloads" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		out, err := s.db.ListWebhookPayloadsByWebhook(r.Context(), wh.ID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, out)
		return
	}

	http.Error(w, "Unknown endpoint", http.StatusNotFound)
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request, board *models.Board, actor auth.ActorContext) {
	if err := authz.RequireBoardWrite(r.Context(), s.db, board, actor); err != nil {
		s.respondError(w, err)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, apierr.NewInput("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.respondError(w, apierr.NewInput("webhook name is required"))
		return
	}
	now := s.clk.Now()
	wh := &models.BoardWebhook{
		ID:        uuid.NewString(),
		BoardID:   board.ID,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateBoardWebhook(r.Context(), wh); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, wh)
}

// handleWebhookIngest is the open, unauthenticated POST /boards/{id}/webhooks/{wid}
// endpoint: it never calls s.actor since ingest credentials are the path's
// webhook id itself, per §4.7.
func (s *Server) handleWebhookIngest(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/api/v1/boards/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 3 || parts[1] != "webhooks" {
		http.Error(w, "Unknown endpoint", http.StatusNotFound)
		return
	}
	webhookID := parts[2]

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.respondError(w, apierr.NewInput("failed to read request body"))
		return
	}

	var decoded models.JSONValue
	if models.LooksLikeJSON(body) {
		decoded, err = models.ParseJSONValue(body)
		if err != nil {
			decoded = models.StringJSONValue(string(body))
		}
	} else {
		decoded = models.StringJSONValue(string(body))
	}

	headers := map[string]string{}
	for name := range r.Header {
		lower := strings.ToLower(name)
		if lower == "content-type" || lower == "user-agent" || strings.HasPrefix(lower, "x-") {
			headers[lower] = r.Header.Get(name)
		}
	}

	payloadID, err := s.hooks.Ingest(r.Context(), webhookID, decoded, headers, sourceIP(r), r.Header.Get("Content-Type"))
	if err != nil {
		s.respondError(w, ingestStatusError(err))
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"payload_id": payloadID})
}

func ingestStatusError(err error) error {
	var notFound webhooks.ErrWebhookNotFound
	if errors.As(err, &notFound) {
		return apierr.NewNotFound(notFound.Error())
	}
	var disabled webhooks.ErrWebhookDisabled
	if errors.As(err, &disabled) {
		return apierr.NewDisabled(disabled.Error())
	}
	return err
}

func sourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	return r.RemoteAddr
}
