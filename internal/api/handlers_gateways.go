// handlers_gateways.go routes /api/v1/gateways/*: registry status (including
// the reconciliation job's own bookkeeping, per internal/reconcile), and a
// thin proxy onto a gateway's session RPCs, grounded on internal/gateway's
// session.go wrapper methods.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/gateway"
)

// handleGateways dispatches everything under /api/v1/gateways/.
func (s *Server) handleGateways(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actor(r)
	if err != nil {
		s.respondError(w, apierr.NewAuthz("unauthenticated"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/gateways/")
	switch {
	case path == "status":
		s.gatewaysStatus(w, r, actor)
	case path == "sessions":
		s.gatewaySessions(w, r, actor)
	case path == "commands":
		s.gatewayCommands(w, r, actor)
	case strings.HasPrefix(path, "sessions/"):
		s.gatewaySessionByKey(w, r, actor, strings.TrimPrefix(path, "sessions/"))
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

type gatewaySummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// gatewaysStatus implements GET /gateways/status: every gateway in the
// actor's organization, each with a live compatibility probe and the last
// reconciliation bookkeeping rows recorded against it.
func (s *Server) gatewaysStatus(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	gateways, err := s.db.ListGateways(r.Context(), actor.OrgID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	runs, err := s.db.ListReconciliationRuns(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	runsByGateway := make(map[string][]any)
	for _, run := range runs {
		runsByGateway[run.GatewayID] = append(runsByGateway[run.GatewayID], run)
	}

	type row struct {
		Gateway        gatewaySummary       `json:"gateway"`
		Connected      bool                 `json:"connected"`
		Error          string               `json:"error,omitempty"`
		Probe          *gateway.ProbeResult `json:"probe,omitempty"`
		Reconciliation []any                `json:"reconciliation,omitempty"`
	}
	out := make([]row, 0, len(gateways))
	for _, gw := range gateways {
		rowItem := row{Gateway: gatewaySummary{ID: gw.ID, Name: gw.Name, URL: gw.URL}, Reconciliation: runsByGateway[gw.ID]}
		if !gw.Usable() {
			rowItem.Error = "gateway is not fully configured"
			out = append(out, rowItem)
			continue
		}
		client, err := s.pool.Resolve(r.Context(), gw.ID)
		if err != nil {
			rowItem.Error = err.Error()
			out = append(out, rowItem)
			continue
		}
		probe := gateway.Probe(r.Context(), client, gw.ID, s.minimumGatewayVersion)
		rowItem.Probe = &probe
		switch {
		case probe.Error != "":
			rowItem.Error = probe.Error
		case !probe.Compatible:
			rowItem.Error = probe.Message
		default:
			rowItem.Connected = true
		}
		out = append(out, rowItem)
	}
	s.respondJSON(w, http.StatusOK, out)
}

// gatewaySessions implements GET /gateways/sessions?gateway_id=.
func (s *Server) gatewaySessions(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	gatewayID := r.URL.Query().Get("gateway_id")
	if gatewayID == "" {
		s.respondError(w, apierr.NewInput("gateway_id is required"))
		return
	}
	if err := s.requireGatewayVisible(r.Context(), gatewayID, actor); err != nil {
		s.respondError(w, err)
		return
	}
	client, err := s.pool.Resolve(r.Context(), gatewayID)
	if err != nil {
		s.respondError(w, apierr.NewUpstream(apierr.UpstreamFatal, "failed to resolve gateway", err))
		return
	}
	sessions, err := client.ListSessions(r.Context())
	if err != nil {
		s.respondError(w, apierr.NewUpstream(apierr.UpstreamTransient, "failed to list sessions", err))
		return
	}
	s.respondJSON(w, http.StatusOK, sessions)
}

// gatewaySessionByKey dispatches /gateways/sessions/{key} and
// /gateways/sessions/{key}/history and /gateways/sessions/{key}/message.
func (s *Server) gatewaySessionByKey(w http.ResponseWriter, r *http.Request, actor auth.ActorContext, rest string) {
	parts := strings.SplitN(rest, "/", 2)
	key := parts[0]
	if key == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	gatewayID := r.URL.Query().Get("gateway_id")
	if gatewayID == "" {
		s.respondError(w, apierr.NewInput("gateway_id is required"))
		return
	}
	if err := s.requireGatewayVisible(r.Context(), gatewayID, actor); err != nil {
		s.respondError(w, err)
		return
	}
	client, err := s.pool.Resolve(r.Context(), gatewayID)
	if err != nil {
		s.respondError(w, apierr.NewUpstream(apierr.UpstreamFatal, "failed to resolve gateway", err))
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	switch {
	case sub == "history":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		history, err := client.GetHistory(r.Context(), key)
		if err != nil {
			s.respondError(w, apierr.NewUpstream(apierr.UpstreamTransient, "failed to fetch history", err))
			return
		}
		s.respondJSON(w, http.StatusOK, history)
	case sub == "message":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Text    string `json:"text"`
			Deliver bool   `json:"deliver"`
		}
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, apierr.NewInput("invalid request body: %v", err))
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			s.respondError(w, apierr.NewInput("text is required"))
			return
		}
		if err := client.SendMessage(r.Context(), key, req.Text, req.Deliver); err != nil {
			s.respondError(w, apierr.NewUpstream(apierr.UpstreamTransient, "failed to send message", err))
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// gatewayCapability describes one RPC method the control plane proxies onto
// a gateway session, surfaced so an operator UI can discover what it can
// call without hardcoding the method catalog.
type gatewayCapability struct {
	Method      string `json:"method"`
	Description string `json:"description"`
}

var gatewayCapabilities = []gatewayCapability{
	{"ensure_session", "idempotently create or fetch a session"},
	{"send_message", "post a message into a session's inbox"},
	{"get_history", "fetch a session's chat transcript"},
	{"config.get", "fetch the gateway's configuration document"},
	{"config.patch", "apply an optimistic-concurrency patch to the configuration document"},
	{"config.schema", "fetch the configuration JSON schema"},
	{"connect-metadata", "fetch the metadata the gateway advertised at connect time"},
	{"status", "fetch the gateway's status document"},
	{"health", "fetch the gateway's health document"},
	{"agents.list", "list registered agents"},
	{"sessions.list", "list sessions"},
	{"sessions.reset", "reset a session's history without deleting it"},
	{"sessions.delete", "delete a session"},
	{"agents.files.set", "write a file into an agent's workspace"},
	{"agents.files.get", "read a file from an agent's workspace"},
	{"agents.files.list", "list an agent's workspace files"},
}

// gatewayCommands implements GET /gateways/commands: the static catalog of
// RPC methods this control plane can issue against a gateway session.
func (s *Server) gatewayCommands(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respondJSON(w, http.StatusOK, gatewayCapabilities)
}

// requireGatewayVisible restricts gateway-scoped session operations to
// actors whose OrgID is the gateway's own organization. Agent actors carry
// no OrgID, so every agent caller is refused.
func (s *Server) requireGatewayVisible(ctx context.Context, gatewayID string, actor auth.ActorContext) error {
	gw, err := s.db.GetGateway(ctx, gatewayID)
	if err != nil {
		return apierr.NewNotFound("gateway not found")
	}
	if gw.OrganizationID != actor.OrgID {
		return apierr.NewNotFound("gateway not found")
	}
	return nil
}
