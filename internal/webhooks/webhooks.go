// Package webhooks implements inbound delivery capture and outbound
// lead-notification dispatch for per-board webhook endpoints. Ingestion
// persists the payload before it ever touches the queue, so a crash between
// capture and dispatch loses nothing — internal/reconcile's rescue scan
// picks up anything the in-process queue dropped. Dispatch is grounded on
// the teacher's internal/worker.Pool: a bounded in-memory queue drained by a
// single goroutine, generalized from a per-agent worker map to a
// rate-limited fan-out over internal/coordinator.
package webhooks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/metrics"
	"github.com/agentboard/controlplane/internal/models"
)

// MaxAttempts bounds delivery retries before a job is dropped and logged.
const MaxAttempts = 5

// QueueCapacity bounds the in-process delivery queue. Ingest never blocks
// past this: once full, it notifies synchronously instead of enqueuing.
const QueueCapacity = 256

// Notifier sends the lead-notification message describing a captured
// payload. internal/coordinator.Coordinator satisfies this via a thin
// adapter the caller supplies, the same seam internal/tasks uses for Nudger.
type Notifier interface {
	NotifyPayload(ctx context.Context, payload *models.BoardWebhookPayload) error
}

// Deduper records delivered payload ids across process restarts. A Redis-backed
// implementation lives in dedupe.go; tests substitute an in-memory stub.
type Deduper interface {
	// MarkDelivered records id as delivered, returning true if it was
	// already marked (a duplicate dispatch to skip).
	MarkDelivered(ctx context.Context, id string) (alreadyDelivered bool, err error)
	// IsDelivered reports whether id is marked, without recording it.
	IsDelivered(ctx context.Context, id string) (bool, error)
}

// DeliveryJob is one queued notification attempt.
type DeliveryJob struct {
	PayloadID string
	BoardID   string
	WebhookID string
	Attempts  int
}

// Service ingests inbound webhook deliveries and dispatches lead
// notifications for them, rate-limited and retried up to MaxAttempts.
type Service struct {
	db       *database.DB
	notifier Notifier
	dedupe   Deduper
	clk      clock.Clock
	limiter  *rate.Limiter
	queue    chan DeliveryJob
}

// New builds a Service. ratePerSecond bounds outbound notification
// throughput; burst allows short spikes (a gateway catching up after being
// unreachable).
func New(db *database.DB, notifier Notifier, dedupe Deduper, clk clock.Clock, ratePerSecond float64, burst int) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		dedupe:   dedupe,
		clk:      clk,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		queue:    make(chan DeliveryJob, QueueCapacity),
	}
}

// ErrWebhookNotFound maps to a 404 at the API layer.
type ErrWebhookNotFound struct{ ID string }

func (e ErrWebhookNotFound) Error() string { return fmt.Sprintf("webhook not found: %s", e.ID) }

// ErrWebhookDisabled maps to a 410 at the API layer.
type ErrWebhookDisabled struct{ ID string }

func (e ErrWebhookDisabled) Error() string { return fmt.Sprintf("webhook disabled: %s", e.ID) }

// Ingest validates the webhook is live, captures the payload, and enqueues
// a dispatch job. If the queue is full it notifies synchronously instead of
// dropping the delivery, trading request latency for zero loss.
func (s *Service) Ingest(ctx context.Context, webhookID string, body models.JSONValue, headers map[string]string, sourceIP, contentType string) (string, error) {
	wh, err := s.db.GetBoardWebhook(ctx, webhookID)
	if err != nil {
		return "", ErrWebhookNotFound{ID: webhookID}
	}
	if wh.Disabled {
		return "", ErrWebhookDisabled{ID: webhookID}
	}

	payload := &models.BoardWebhookPayload{
		ID:          uuid.NewString(),
		WebhookID:   wh.ID,
		BoardID:     wh.BoardID,
		Body:        body,
		Headers:     headers,
		SourceIP:    sourceIP,
		ContentType: contentType,
		ReceivedAt:  s.clk.Now(),
	}
	if err := s.db.CreateBoardWebhookPayload(ctx, payload); err != nil {
		return "", fmt.Errorf("failed to persist webhook payload: %w", err)
	}

	preview := PreviewOf(body)
	if err := s.db.CreateBoardMemory(ctx, &models.BoardMemory{
		ID:        uuid.NewString(),
		BoardID:   wh.BoardID,
		IsChat:    false,
		Tags:      []string{"webhook", "webhook:" + wh.ID, "payload:" + payload.ID},
		Content:   fmt.Sprintf("Webhook %q received a delivery: %s (inspect at /boards/%s/webhooks/%s/payloads/%s)", wh.Name, preview, wh.BoardID, wh.ID, payload.ID),
		CreatedAt: payload.ReceivedAt,
	}); err != nil {
		return "", fmt.Errorf("failed to record webhook memory: %w", err)
	}

	job := DeliveryJob{PayloadID: payload.ID, BoardID: wh.BoardID, WebhookID: wh.ID}
	select {
	case s.queue <- job:
		metrics.WebhookQueueDepth.Set(float64(len(s.queue)))
	default:
		log.Printf("webhook queue full, notifying board %s synchronously for payload %s", wh.BoardID, payload.ID)
		if err := s.notify(ctx, job); err != nil {
			log.Printf("synchronous webhook notification failed for payload %s: %v", payload.ID, err)
		}
	}
	return payload.ID, nil
}

// Run drains the delivery queue until ctx is cancelled, rate-limiting
// outbound notifications and retrying failures up to MaxAttempts.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			metrics.WebhookQueueDepth.Set(float64(len(s.queue)))
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.notify(ctx, job); err != nil {
				job.Attempts++
				if job.Attempts >= MaxAttempts {
					metrics.WebhookDispatchAttempts.WithLabelValues("dropped").Inc()
					log.Printf("dropping webhook delivery for payload %s after %d attempts: %v", job.PayloadID, job.Attempts, err)
					continue
				}
				metrics.WebhookDispatchAttempts.WithLabelValues("retry").Inc()
				select {
				case s.queue <- job:
					metrics.WebhookQueueDepth.Set(float64(len(s.queue)))
				default:
					log.Printf("dropping webhook delivery for payload %s: queue full on retry", job.PayloadID)
				}
			} else {
				metrics.WebhookDispatchAttempts.WithLabelValues("success").Inc()
			}
		}
	}
}

func (s *Service) notify(ctx context.Context, job DeliveryJob) error {
	dedupeKey := fmt.Sprintf("webhook-payload:%s", job.PayloadID)
	already, err := s.dedupe.IsDelivered(ctx, dedupeKey)
	if err != nil {
		return fmt.Errorf("failed to check delivery dedupe: %w", err)
	}
	if already {
		return nil
	}

	payload, err := s.db.GetBoardWebhookPayload(ctx, job.PayloadID)
	if err != nil {
		return err
	}
	if err := s.notifier.NotifyPayload(ctx, payload); err != nil {
		return fmt.Errorf("failed to notify board of webhook payload: %w", err)
	}
	if _, err := s.dedupe.MarkDelivered(ctx, dedupeKey); err != nil {
		return fmt.Errorf("failed to record delivery dedupe: %w", err)
	}

	event := &models.ActivityEvent{
		ID:        uuid.NewString(),
		BoardID:   job.BoardID,
		EventType: "webhook.dispatch.success",
		Message:   fmt.Sprintf("delivered webhook %s payload %s to board lead", job.WebhookID, job.PayloadID),
		CreatedAt: s.clk.Now(),
	}
	if err := s.db.AppendActivityEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record dispatch success: %w", err)
	}
	return nil
}

// PreviewOf truncates a webhook payload body to a short preview, used both
// for the board-memory record Ingest writes and the lead-notification
// message internal/coordinator sends.
func PreviewOf(v models.JSONValue) string {
	const maxLen = 160
	b, err := v.MarshalJSON()
	if err != nil {
		return "<unreadable payload>"
	}
	s := string(b)
	if len(s) > maxLen {
		return s[:maxLen] + "…"
	}
	return s
}

// RescueWindow lists payloads received since cutoff with no recorded
// dispatch-success event, the set internal/reconcile re-enqueues each tick
// to recover deliveries the in-process queue dropped across a restart.
func (s *Service) RescueWindow(ctx context.Context, since time.Time) ([]*models.BoardWebhookPayload, error) {
	payloads, err := s.db.ListRecentWebhookPayloads(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent webhook payloads: %w", err)
	}
	var stale []*models.BoardWebhookPayload
	for _, p := range payloads {
		dedupeKey := fmt.Sprintf("webhook-payload:%s", p.ID)
		delivered, err := s.dedupe.IsDelivered(ctx, dedupeKey)
		if err != nil {
			return nil, fmt.Errorf("failed to probe dedupe state: %w", err)
		}
		if !delivered {
			stale = append(stale, p)
		}
	}
	return stale, nil
}

// Enqueue re-submits a rescued payload for dispatch, used by
// internal/reconcile after RescueWindow identifies it as undelivered.
func (s *Service) Enqueue(job DeliveryJob) bool {
	select {
	case s.queue <- job:
		return true
	default:
		return false
	}
}
