package webhooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
)

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []string
	attempts int
	fail     bool
}

func (f *fakeNotifier) NotifyPayload(ctx context.Context, p *models.BoardWebhookPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fail {
		return context.DeadlineExceeded
	}
	f.payloads = append(f.payloads, p.ID)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func setup(t *testing.T) (*database.DB, *models.Board) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	org := &models.Organization{ID: uuid.NewString(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateOrganization(ctx, org))
	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, Name: "launch", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, board))
	return db, board
}

func TestIngest_UnknownWebhookReturns404Equivalent(t *testing.T) {
	db, _ := setup(t)
	svc := New(db, &fakeNotifier{}, NewMemoryDeduper(), clock.New(), 10, 5)

	_, err := svc.Ingest(context.Background(), uuid.NewString(), models.StringJSONValue("x"), nil, "1.2.3.4", "application/json")
	require.Error(t, err)
	require.IsType(t, ErrWebhookNotFound{}, err)
}

func TestIngest_DisabledWebhookReturns410Equivalent(t *testing.T) {
	db, board := setup(t)
	now := time.Now().UTC()
	wh := &models.BoardWebhook{ID: uuid.NewString(), BoardID: board.ID, Name: "ci", Disabled: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoardWebhook(context.Background(), wh))

	svc := New(db, &fakeNotifier{}, NewMemoryDeduper(), clock.New(), 10, 5)
	_, err := svc.Ingest(context.Background(), wh.ID, models.StringJSONValue("x"), nil, "1.2.3.4", "application/json")
	require.Error(t, err)
	require.IsType(t, ErrWebhookDisabled{}, err)
}

func TestIngest_CapturesPayloadAndDispatches(t *testing.T) {
	db, board := setup(t)
	now := time.Now().UTC()
	wh := &models.BoardWebhook{ID: uuid.NewString(), BoardID: board.ID, Name: "ci", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoardWebhook(context.Background(), wh))

	notifier := &fakeNotifier{}
	svc := New(db, notifier, NewMemoryDeduper(), clock.New(), 100, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	payloadID, err := svc.Ingest(ctx, wh.ID, models.StringJSONValue("build failed"), map[string]string{"X-Event": "ci.failure"}, "10.0.0.1", "application/json")
	require.NoError(t, err)
	require.NotEmpty(t, payloadID)

	require.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)

	stored, err := db.GetBoardWebhookPayload(ctx, payloadID)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", stored.SourceIP)

	mem, err := db.ListBoardMemory(ctx, board.ID, false, 10)
	require.NoError(t, err)
	require.Len(t, mem, 1)
}

func TestIngest_TagsMemoryWithWebhookAndPayloadIDs(t *testing.T) {
	db, board := setup(t)
	now := time.Now().UTC()
	wh := &models.BoardWebhook{ID: uuid.NewString(), BoardID: board.ID, Name: "ci", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoardWebhook(context.Background(), wh))

	svc := New(db, &fakeNotifier{}, NewMemoryDeduper(), clock.New(), 10, 5)

	ctx := context.Background()
	payloadID, err := svc.Ingest(ctx, wh.ID, models.StringJSONValue("build failed"), nil, "10.0.0.1", "application/json")
	require.NoError(t, err)

	mem, err := db.ListBoardMemory(ctx, board.ID, false, 10)
	require.NoError(t, err)
	require.Len(t, mem, 1)
	require.Equal(t, []string{"webhook", "webhook:" + wh.ID, "payload:" + payloadID}, mem[0].Tags)
}

func TestNotify_SkipsAlreadyDeliveredPayload(t *testing.T) {
	db, board := setup(t)
	now := time.Now().UTC()
	wh := &models.BoardWebhook{ID: uuid.NewString(), BoardID: board.ID, Name: "ci", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoardWebhook(context.Background(), wh))
	payload := &models.BoardWebhookPayload{ID: uuid.NewString(), WebhookID: wh.ID, BoardID: board.ID, Body: models.StringJSONValue("x"), ReceivedAt: now}
	require.NoError(t, db.CreateBoardWebhookPayload(context.Background(), payload))

	notifier := &fakeNotifier{}
	dedupe := NewMemoryDeduper()
	svc := New(db, notifier, dedupe, clock.New(), 100, 10)

	job := DeliveryJob{PayloadID: payload.ID, BoardID: board.ID, WebhookID: wh.ID}
	require.NoError(t, svc.notify(context.Background(), job))
	require.NoError(t, svc.notify(context.Background(), job))
	require.Equal(t, 1, notifier.count())
}

func TestRun_RetriesFailedDispatchUpToMaxAttempts(t *testing.T) {
	db, board := setup(t)
	now := time.Now().UTC()
	wh := &models.BoardWebhook{ID: uuid.NewString(), BoardID: board.ID, Name: "ci", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoardWebhook(context.Background(), wh))

	notifier := &fakeNotifier{fail: true}
	svc := New(db, notifier, NewMemoryDeduper(), clock.New(), 1000, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	_, err := svc.Ingest(ctx, wh.ID, models.StringJSONValue("x"), nil, "10.0.0.1", "application/json")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, notifier.count())
	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return notifier.attempts == MaxAttempts
	}, time.Second, 5*time.Millisecond)
}
