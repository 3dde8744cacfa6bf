// Command controlplaned runs the control plane's HTTP/SSE API alongside its
// two background loops: webhook dispatch (internal/webhooks.Service.Run) and
// the reconciliation scheduler (internal/reconcile.Scheduler), grounded on
// the teacher's arbiter main() wiring order (config, then database, then
// every engine in dependency order) but with graceful shutdown driven by
// signal.NotifyContext and errgroup the way the teacher's worker pool
// expects its caller to manage its lifetime.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentboard/controlplane/internal/api"
	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/config"
	"github.com/agentboard/controlplane/internal/coordinator"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/logging"
	"github.com/agentboard/controlplane/internal/provisioner"
	"github.com/agentboard/controlplane/internal/reconcile"
	"github.com/agentboard/controlplane/internal/tasks"
	"github.com/agentboard/controlplane/internal/templatesync"
	"github.com/agentboard/controlplane/internal/webhooks"
)

func main() {
	cfg, err := config.Default()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg)

	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate ephemeral jwt secret")
		}
		log.Warn().Msg("JWT_SECRET not set; generated an ephemeral secret that will not survive a restart")
		cfg.JWTSecret = secret
	}

	db, err := database.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Str("dsn", cfg.DatabaseDSN).Msg("failed to open database")
	}
	defer db.Close()

	catalogue, err := provisioner.LoadCatalogue(cfg.TemplatesPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.TemplatesPath).Msg("failed to load template catalogue")
	}
	if err := catalogue.Watch(func(err error) {
		log.Error().Err(err).Msg("template catalogue reload failed")
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to watch template catalogue")
	}
	defer catalogue.Close()

	clk := clock.New()
	authMgr := auth.NewManager(db, cfg.JWTSecret, clk)
	coord := coordinator.New(db)
	prov := provisioner.New(catalogue)
	syncEngine := templatesync.New(db, prov, authMgr.GenerateAgentToken)
	dedupe := webhooks.NewRedisDeduper(cfg.RedisAddr)
	defer dedupe.Close()

	pool := api.NewGatewayPool(db)

	nudger := &coordinator.NudgeAdapter{Coordinator: coord, Resolve: pool.CoordinatorResolver()}
	taskEngine := tasks.New(db, clk, nudger)

	notifier := &coordinator.WebhookNotifier{Coordinator: coord, Resolve: pool.CoordinatorResolver()}
	hooks := webhooks.New(db, notifier, dedupe, clk, cfg.WebhookRatePerSecond, cfg.WebhookBurst)

	server := api.NewServer(db, authMgr, taskEngine, hooks, syncEngine, pool, clk, log, cfg.MinimumGatewayVersion)

	scheduler := reconcile.New(db, syncEngine, hooks, pool.ReconcileResolver(), log, cfg.ReconcileInterval, cfg.WebhookRescueWindow)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hooks.Run(gctx)
		return nil
	})
	group.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})
	group.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("controlplaned listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatal().Err(err).Msg("controlplaned exited with error")
	}
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
