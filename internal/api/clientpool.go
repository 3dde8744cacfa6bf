// clientpool.go gives every package that needs a live *gateway.Client one
// shared resolver keyed by gateway id, the single place that turns a
// models.Gateway row into a dialed connection. The two narrow resolver
// function types in internal/coordinator and internal/reconcile (the latter
// handing out internal/templatesync clients) both close over the same pool
// method, so a
// gateway's websocket connection is reused across a nudge, a template sync
// tick, and a webhook rescue instead of being redialed per call.
package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentboard/controlplane/internal/coordinator"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/gateway"
	"github.com/agentboard/controlplane/internal/reconcile"
	"github.com/agentboard/controlplane/internal/templatesync"
)

// GatewayPool is the exported form of the pool, constructed once in
// cmd/controlplaned and shared between the HTTP server and the engines
// whose resolvers it backs, so none of them dial a gateway's websocket
// connection twice.
type GatewayPool = clientPool

type clientPool struct {
	db *database.DB

	mu      sync.Mutex
	clients map[string]*gateway.Client
}

// NewGatewayPool builds a GatewayPool over db.
func NewGatewayPool(db *database.DB) *GatewayPool {
	return &clientPool{db: db, clients: make(map[string]*gateway.Client)}
}

// Resolve returns the cached client for gatewayID, dialing lazily on first
// use the same way *gateway.Client itself defers the websocket dial to the
// first call.
func (p *clientPool) Resolve(ctx context.Context, gatewayID string) (*gateway.Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[gatewayID]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	gw, err := p.db.GetGateway(ctx, gatewayID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve gateway %s: %w", gatewayID, err)
	}
	if !gw.Usable() {
		return nil, fmt.Errorf("gateway %s is missing url/main_session_key/workspace_root", gatewayID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[gatewayID]; ok {
		return c, nil
	}
	c := gateway.NewClient(gw.URL, gw.BearerToken)
	p.clients[gatewayID] = c
	return c, nil
}

// Evict drops a cached client, forcing the next Resolve to redial. Nothing
// in the repository calls it, so a cached client keeps the url/token it was
// dialed with for the life of the process.
func (p *clientPool) Evict(gatewayID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[gatewayID]; ok {
		_ = c.Close()
		delete(p.clients, gatewayID)
	}
}

// CoordinatorResolver adapts Resolve to internal/coordinator.ClientResolver.
func (p *clientPool) CoordinatorResolver() coordinator.ClientResolver {
	return func(ctx context.Context, gatewayID string) (coordinator.GatewayClient, error) {
		return p.Resolve(ctx, gatewayID)
	}
}

// ReconcileResolver adapts Resolve to internal/reconcile.GatewayResolver.
func (p *clientPool) ReconcileResolver() reconcile.GatewayResolver {
	return func(ctx context.Context, gatewayID string) (templatesync.GatewayClient, error) {
		return p.Resolve(ctx, gatewayID)
	}
}
