package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentboard/controlplane/internal/database"
)

type ctxKey int

const actorCtxKey ctxKey = 0

// WithActor returns a copy of ctx carrying the resolved actor, the explicit
// request-scoped value every downstream handler reads instead of the
// teacher's header-smuggling (r.Header.Set("X-User-ID", ...)) approach —
// per the redesign away from ambient per-request state.
func WithActor(ctx context.Context, actor ActorContext) context.Context {
	return context.WithValue(ctx, actorCtxKey, actor)
}

// ActorFromContext extracts the actor a Middleware call attached.
func ActorFromContext(ctx context.Context) (ActorContext, bool) {
	actor, ok := ctx.Value(actorCtxKey).(ActorContext)
	return actor, ok
}

// Middleware resolves either a member session token ("Bearer <jwt>") or an
// agent bearer token ("Bearer agt_...") into an ActorContext and attaches
// it to the request context before calling next. Unauthenticated and
// malformed headers are rejected with 401, mirroring the teacher's
// middleware but without the permission-string parameter — authorization
// decisions live in internal/authz, not baked into the HTTP layer.
func Middleware(mgr *Manager, db *database.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				http.Error(w, "missing or malformed authorization header", http.StatusUnauthorized)
				return
			}
			token := parts[1]

			if strings.HasPrefix(token, "agt_") {
				actor, err := resolveAgentActor(r.Context(), db, mgr, token)
				if err != nil {
					http.Error(w, fmt.Sprintf("invalid agent token: %v", err), http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
				return
			}

			claims, err := mgr.ValidateToken(token)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid session token: %v", err), http.StatusUnauthorized)
				return
			}
			actor := ActorContext{Kind: ActorUser, MemberID: claims.MemberID, OrgID: claims.OrgID, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// resolveAgentActor checks token against every agent's stored hash. This is
// a linear scan over agents; a deployment large enough to make that a
// bottleneck would shard tokens by a public prefix, but nothing in the
// specification calls for more than a handful of agents per gateway.
func resolveAgentActor(ctx context.Context, db *database.DB, mgr *Manager, token string) (ActorContext, error) {
	agent, err := db.FindAgentByToken(ctx, token, mgr.VerifyAgentToken)
	if err != nil {
		return ActorContext{}, err
	}
	return ActorContext{Kind: ActorAgent, AgentID: agent.ID}, nil
}
