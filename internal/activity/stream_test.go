package activity

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

type recordingEmitter struct {
	mu         sync.Mutex
	events     []string
	heartbeats int
}

func (r *recordingEmitter) Event(name string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
	return nil
}

func (r *recordingEmitter) Heartbeat() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	return nil
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestStreamTaskComments_EmitsNewCommentsAndStopsOnCancel(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	org := &models.Organization{ID: uuid.NewString(), Name: "acme", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateOrganization(ctx, org))
	board := &models.Board{ID: uuid.NewString(), OrganizationID: org.ID, Name: "launch", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateBoard(ctx, board))

	mock := clock.NewMock()
	mock.Set(now)
	emitter := &recordingEmitter{}
	boards := func(context.Context) ([]string, error) { return []string{board.ID}, nil }

	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- streamTaskComments(streamCtx, db, mock, boards, emitter, 5*time.Millisecond, time.Hour)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, db.AppendActivityEvent(ctx, &models.ActivityEvent{
		ID: uuid.NewString(), BoardID: board.ID, EventType: "task.comment",
		Message: "hi", CreatedAt: mock.Now().Add(time.Millisecond),
	}))
	mock.Add(5 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.GreaterOrEqual(t, emitter.count(), 1)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after context cancellation")
	}
}
