// Package reconcile wraps the Template Sync Engine and the webhook rescue
// scan (spec §9: "pair it with a reconciliation job that rescues unnotified
// payloads") in a robfig/cron loop, and records each firing as a
// models.ReconciliationRun so the periodic jobs are observable via
// /gateways/status the way internal/worker.Pool exposes PoolStats for its
// own background loop.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"

	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
	"github.com/agentboard/controlplane/internal/templatesync"
	"github.com/agentboard/controlplane/internal/webhooks"
)

// GatewayResolver resolves the live RPC client for a gateway id, mirroring
// coordinator.ClientResolver and templatesync.GatewayClient's narrow seam so
// this package never imports internal/gateway directly.
type GatewayResolver func(ctx context.Context, gatewayID string) (templatesync.GatewayClient, error)

// Scheduler drives the two periodic jobs off a single cron instance.
type Scheduler struct {
	db            *database.DB
	sync          *templatesync.Engine
	hooks         *webhooks.Service
	resolve       GatewayResolver
	log           zerolog.Logger
	syncInterval  time.Duration
	rescueWindow  time.Duration
	cron          *cron.Cron
}

// New builds a Scheduler. syncInterval governs how often every gateway is
// template-synced (also used as the cron's own firing period for the
// webhook rescue scan); rescueWindow is how far back RescueWindow looks for
// undelivered payloads on each tick.
func New(db *database.DB, sync *templatesync.Engine, hooks *webhooks.Service, resolve GatewayResolver, log zerolog.Logger, syncInterval, rescueWindow time.Duration) *Scheduler {
	return &Scheduler{
		db:           db,
		sync:         sync,
		hooks:        hooks,
		resolve:      resolve,
		log:          log,
		syncInterval: syncInterval,
		rescueWindow: rescueWindow,
		cron:         cron.New(),
	}
}

// Start registers both jobs on the cron spec "@every <syncInterval>" and
// starts the scheduler's own goroutine. Call Stop to drain in-flight jobs.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.syncInterval.String())
	if err := s.cron.AddFunc(spec, s.runTemplateSyncTick); err != nil {
		return fmt.Errorf("failed to schedule template sync job: %w", err)
	}
	if err := s.cron.AddFunc(spec, s.runWebhookRescueTick); err != nil {
		return fmt.Errorf("failed to schedule webhook rescue job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any job currently running to
// finish, per robfig/cron's Stop contract.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// runTemplateSyncTick reconciles every gateway's agents against the current
// template catalogue, one Sync call per gateway, recording bookkeeping per
// gateway so a single unreachable gateway never hides the others' results.
func (s *Scheduler) runTemplateSyncTick() {
	ctx := context.Background()
	gateways, err := s.db.ListAllGateways(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reconcile: failed to list gateways for template sync tick")
		return
	}
	for _, gw := range gateways {
		s.syncGateway(ctx, gw)
	}
}

func (s *Scheduler) syncGateway(ctx context.Context, gw *models.Gateway) {
	run := &models.ReconciliationRun{Kind: models.ReconciliationKindTemplateSync, GatewayID: gw.ID, RanAt: time.Now().UTC()}
	client, err := s.resolve(ctx, gw.ID)
	if err != nil {
		run.Detail = fmt.Sprintf("failed to resolve gateway client: %v", err)
		s.record(ctx, run)
		return
	}
	result, err := s.sync.Sync(ctx, client, gw, templatesync.Options{IncludeMain: true})
	if err != nil {
		run.Detail = fmt.Sprintf("sync failed: %v", err)
		s.record(ctx, run)
		return
	}
	run.Succeeded = len(result.Errors) == 0
	if detail, err := json.Marshal(result); err == nil {
		run.Detail = string(detail)
	}
	s.record(ctx, run)
	if !run.Succeeded {
		s.log.Warn().Str("gateway_id", gw.ID).Int("errors", len(result.Errors)).Msg("reconcile: template sync completed with errors")
	}
}

// runWebhookRescueTick scans payloads received within the rescue window and
// re-enqueues any that never reached a webhook.dispatch.success event,
// covering a queue entry lost to a crash between capture and dispatch.
func (s *Scheduler) runWebhookRescueTick() {
	ctx := context.Background()
	run := &models.ReconciliationRun{Kind: models.ReconciliationKindWebhookRescue, RanAt: time.Now().UTC()}

	since := run.RanAt.Add(-s.rescueWindow)
	undelivered, err := s.hooks.RescueWindow(ctx, since)
	if err != nil {
		run.Detail = fmt.Sprintf("rescue scan failed: %v", err)
		s.record(ctx, run)
		return
	}

	rescued := 0
	for _, payload := range undelivered {
		if s.hooks.Enqueue(webhooks.DeliveryJob{PayloadID: payload.ID, BoardID: payload.BoardID, WebhookID: payload.WebhookID}) {
			rescued++
		}
	}

	run.Succeeded = true
	run.Detail = fmt.Sprintf("scanned %d undelivered payload(s) since %s, re-enqueued %d", len(undelivered), since.Format(time.RFC3339), rescued)
	s.record(ctx, run)
	if rescued > 0 {
		s.log.Info().Int("rescued", rescued).Time("since", since).Msg("reconcile: webhook rescue re-enqueued undelivered payloads")
	}
}

func (s *Scheduler) record(ctx context.Context, run *models.ReconciliationRun) {
	if err := s.db.RecordReconciliationRun(ctx, run); err != nil {
		s.log.Error().Err(err).Str("kind", run.Kind).Msg("reconcile: failed to persist reconciliation run bookkeeping")
	}
}
