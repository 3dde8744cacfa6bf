// Package api implements the REST/SSE surface described in the external
// interfaces section: manual path-segment dispatch per resource (grounded
// on the teacher's internal/api/connectors.go HandleConnectors), JSON
// helpers and apierr-to-HTTP status mapping (grounded on the teacher's
// respondJSON/respondError/parseJSON in handlers_streaming.go), and an SSE
// adapter over http.ResponseWriter (grounded on the teacher's
// handleStreamChatCompletion).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/authz"
	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/coordinator"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/metrics"
	"github.com/agentboard/controlplane/internal/models"
	"github.com/agentboard/controlplane/internal/tasks"
	"github.com/agentboard/controlplane/internal/templatesync"
	"github.com/agentboard/controlplane/internal/webhooks"
)

// Server holds every engine the HTTP surface dispatches into.
type Server struct {
	db      *database.DB
	authMgr *auth.Manager
	tasks   *tasks.Engine
	hooks   *webhooks.Service
	sync    *templatesync.Engine
	pool    *clientPool
	clk     clock.Clock
	log     zerolog.Logger
	mux     *http.ServeMux

	minimumGatewayVersion string
}

// NewServer wires every dependency and builds the routing table. pool is
// constructed once by the caller (cmd/controlplaned) and shared with the
// coordinator/template-sync/reconcile resolvers built from it, so a
// gateway's websocket connection is dialed at most once per process
// regardless of which engine reaches for it first. minimumGatewayVersion is
// the floor a gateway's probed version must meet to be reported connected.
func NewServer(db *database.DB, authMgr *auth.Manager, taskEngine *tasks.Engine, hooks *webhooks.Service, sync *templatesync.Engine, pool *GatewayPool, clk clock.Clock, log zerolog.Logger, minimumGatewayVersion string) *Server {
	s := &Server{
		db:                    db,
		authMgr:               authMgr,
		tasks:                 taskEngine,
		hooks:                 hooks,
		sync:                  sync,
		pool:                  pool,
		clk:                   clk,
		log:                   log,
		minimumGatewayVersion: minimumGatewayVersion,
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

// CoordinatorResolver returns the shared pool's resolver as a
// coordinator.ClientResolver.
func (s *Server) CoordinatorResolver() coordinator.ClientResolver { return s.pool.CoordinatorResolver() }

// ReconcileResolver returns the shared pool's resolver in the shape
// internal/reconcile.Scheduler needs.
func (s *Server) ReconcileResolver() func(ctx context.Context, gatewayID string) (templatesync.GatewayClient, error) {
	return s.pool.ReconcileResolver()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers the top-level prefixes; each handler performs its own
// manual sub-path dispatch the way the teacher's HandleConnectors does.
func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", metrics.Handler())

	s.mux.Handle("/api/v1/activity", s.withAuth(http.HandlerFunc(s.handleActivity)))
	s.mux.Handle("/api/v1/activity/", s.withAuth(http.HandlerFunc(s.handleActivity)))

	s.mux.Handle("/api/v1/agents", s.withAuth(http.HandlerFunc(s.handleAgents)))
	s.mux.Handle("/api/v1/agents/", s.withAuth(http.HandlerFunc(s.handleAgents)))

	s.mux.Handle("/api/v1/boards", s.withAuth(http.HandlerFunc(s.handleBoards)))
	// Open ingest is unauthenticated by design — the webhook's own UUID
	// path segment is its credential, per §4.7. maybeIngest decides
	// per-request whether a /boards/{id}/webhooks/{wid} POST is the open
	// ingest path or falls through to the authenticated board router.
	s.mux.HandleFunc("/api/v1/boards/", s.maybeIngest)

	s.mux.Handle("/api/v1/gateways/", s.withAuth(http.HandlerFunc(s.handleGateways)))

	s.mux.Handle("/agent/", s.withAuth(http.HandlerFunc(s.handleAgentScoped)))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// maybeIngest intercepts POST /boards/{id}/webhooks/{wid} before auth, since
// that single path segment is an open ingest endpoint; every other boards
// sub-path is passed to handleBoards behind withAuth here. The
// /api/v1/boards/ prefix is registered only to this function (the bare
// /api/v1/boards above goes straight to handleBoards), so the ingest
// decision is made per request.
func (s *Server) maybeIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !s.isIngestPath(r.URL.Path) {
		s.withAuth(http.HandlerFunc(s.handleBoards)).ServeHTTP(w, r)
		return
	}
	s.handleWebhookIngest(w, r)
}

func (s *Server) isIngestPath(path string) bool {
	trimmed := strings.TrimPrefix(path, "/api/v1/boards/")
	parts := strings.Split(trimmed, "/")
	return len(parts) == 3 && parts[1] == "webhooks" && parts[2] != ""
}

// withAuth wraps h with auth.Middleware, resolving the caller into an
// auth.ActorContext before h runs.
func (s *Server) withAuth(h http.Handler) http.Handler {
	return auth.Middleware(s.authMgr, s.db)(h)
}

func (s *Server) actor(r *http.Request) (auth.ActorContext, error) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		return auth.ActorContext{}, fmt.Errorf("no actor attached to request")
	}
	return actor, nil
}

// respondJSON writes v as a JSON body with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("api: failed to encode response body")
	}
}

// respondError maps err to HTTP status via the apierr taxonomy and writes
// a structured body, falling back to 500 for anything unrecognized.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var (
		inputErr    *apierr.InputError
		authzErr    *apierr.AuthzError
		notFoundErr *apierr.NotFoundError
		conflictErr *apierr.ConflictError
		upstreamErr *apierr.UpstreamError
		disabledErr *apierr.DisabledError
	)

	switch {
	case errors.As(err, &inputErr):
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": inputErr.Message})
	case errors.As(err, &authzErr):
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": authzErr.Message})
	case errors.As(err, &notFoundErr):
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": notFoundErr.Message})
	case errors.As(err, &conflictErr):
		body := map[string]any{"error": conflictErr.Message, "code": conflictErr.Code}
		if len(conflictErr.BlockedByTaskIDs) > 0 {
			body["blocked_by_task_ids"] = conflictErr.BlockedByTaskIDs
		}
		s.respondJSON(w, http.StatusConflict, body)
	case errors.As(err, &upstreamErr):
		s.respondJSON(w, http.StatusBadGateway, map[string]string{"error": upstreamErr.Error()})
	case errors.As(err, &disabledErr):
		s.respondJSON(w, http.StatusGone, map[string]string{"error": disabledErr.Message})
	default:
		s.log.Error().Err(err).Msg("api: unhandled error")
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// parseJSON decodes r's body into v, capping it against unbounded input the
// way the teacher's parseJSON does.
func (s *Server) parseJSON(r *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}

// accessibleBoardIDs resolves the set of boards a member or agent actor may
// read, used both by the boards list endpoint and as the
// activity.AccessibleBoards callback each SSE stream re-evaluates per poll
// tick.
func (s *Server) accessibleBoardIDs(ctx context.Context, actor auth.ActorContext) ([]string, error) {
	if actor.IsAgent() {
		agent, err := s.db.GetAgent(ctx, actor.AgentID)
		if err != nil || agent.BoardID == nil {
			return nil, nil
		}
		return []string{*agent.BoardID}, nil
	}

	boards, err := s.db.ListBoards(ctx, actor.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	var ids []string
	for _, b := range boards {
		access, err := authz.ResolveBoardAccess(ctx, s.db, b, actor.MemberID)
		if err != nil {
			return nil, err
		}
		if access != authz.AccessNone {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

// loadBoard fetches a board and enforces read access, returning the
// apierr.NotFoundError RequireBoardRead raises on any access denial.
func (s *Server) loadBoard(ctx context.Context, id string, actor auth.ActorContext) (*models.Board, error) {
	board, err := s.db.GetBoard(ctx, id)
	if err != nil {
		return nil, apierr.NewNotFound("board not found")
	}
	if err := authz.RequireBoardRead(ctx, s.db, board, actor); err != nil {
		return nil, err
	}
	return board, nil
}
