package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/metrics"
	"github.com/agentboard/controlplane/internal/models"
)

// Emitter is the SSE transport the activity streams write through — kept as
// an interface so this package has no net/http dependency; internal/api's
// handlers_streaming.go implements it over http.ResponseWriter + Flusher,
// adapted from the teacher's handleStreamChatCompletion.
type Emitter interface {
	// Event writes one SSE frame (event: name\ndata: <json>\n\n) and
	// flushes it to the client.
	Event(name string, data any) error
	// Heartbeat writes an SSE comment line used as a keepalive ping.
	Heartbeat() error
}

// FeedItem is one entry in the task-comments feed.
type FeedItem struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board_id"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func toFeedItem(e *models.ActivityEvent) FeedItem {
	item := FeedItem{ID: e.ID, BoardID: e.BoardID, Message: e.Message, CreatedAt: e.CreatedAt}
	if e.TaskID != nil {
		item.TaskID = *e.TaskID
	}
	if e.AgentID != nil {
		item.AgentID = *e.AgentID
	}
	return item
}

// AccessibleBoards is evaluated once per poll tick, so a stream's
// authorization follows its viewer's access as it changes (e.g. a board
// ACL revoked mid-stream) without the client having to reconnect.
type AccessibleBoards func(ctx context.Context) ([]string, error)

// StreamTaskComments polls for new task-comment events across the viewer's
// accessible boards every PollInterval, emitting each as a "comment" SSE
// event, until ctx is cancelled (the client disconnect signal) or emit
// returns an error.
func StreamTaskComments(ctx context.Context, db *database.DB, clk clock.Clock, boards AccessibleBoards, emit Emitter) error {
	return streamTaskComments(ctx, db, clk, boards, emit, PollInterval, HeartbeatInterval)
}

func streamTaskComments(ctx context.Context, db *database.DB, clk clock.Clock, boards AccessibleBoards, emit Emitter, pollEvery, heartbeatEvery time.Duration) error {
	metrics.SSEStreamsActive.WithLabelValues("task_comments").Inc()
	defer metrics.SSEStreamsActive.WithLabelValues("task_comments").Dec()

	cursor := clk.Now()
	dedup := newDedupFIFO()
	ticker := clk.Ticker(pollEvery)
	defer ticker.Stop()
	heartbeat := clk.Ticker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := emit.Heartbeat(); err != nil {
				return err
			}
		case <-ticker.C:
			boardIDs, err := boards(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve accessible boards: %w", err)
			}
			events, err := db.ListTaskCommentsSince(ctx, boardIDs, cursor)
			if err != nil {
				return fmt.Errorf("failed to poll task comments: %w", err)
			}
			for _, e := range events {
				if dedup.Seen(e.ID) {
					continue
				}
				if err := emit.Event("comment", map[string]any{"comment": toFeedItem(e)}); err != nil {
					return err
				}
				if e.CreatedAt.After(cursor) {
					cursor = e.CreatedAt
				}
			}
		}
	}
}

// AgentSummary is one entry in the agents feed.
type AgentSummary struct {
	ID       string             `json:"id"`
	BoardID  string             `json:"board_id,omitempty"`
	Name     string             `json:"name"`
	Status   models.AgentStatus `json:"status"`
	LastSeen *time.Time         `json:"last_seen_at,omitempty"`
}

func toAgentSummary(a *models.Agent, now time.Time) AgentSummary {
	s := AgentSummary{ID: a.ID, Name: a.Name, Status: a.DerivedStatus(now), LastSeen: a.LastSeenAt}
	if a.BoardID != nil {
		s.BoardID = *a.BoardID
	}
	return s
}

// StreamAgents polls for agents whose status moved (updated_at or
// last_seen_at advanced) across the viewer's accessible boards, emitting
// each as an "agent" SSE event.
func StreamAgents(ctx context.Context, db *database.DB, clk clock.Clock, boards AccessibleBoards, emit Emitter) error {
	return streamAgents(ctx, db, clk, boards, emit, PollInterval, HeartbeatInterval)
}

func streamAgents(ctx context.Context, db *database.DB, clk clock.Clock, boards AccessibleBoards, emit Emitter, pollEvery, heartbeatEvery time.Duration) error {
	metrics.SSEStreamsActive.WithLabelValues("agents").Inc()
	defer metrics.SSEStreamsActive.WithLabelValues("agents").Dec()

	cursor := clk.Now()
	dedup := newDedupFIFO()
	ticker := clk.Ticker(pollEvery)
	defer ticker.Stop()
	heartbeat := clk.Ticker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := emit.Heartbeat(); err != nil {
				return err
			}
		case <-ticker.C:
			boardIDs, err := boards(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve accessible boards: %w", err)
			}
			now := clk.Now()
			agents, err := db.ListAgentsUpdatedSince(ctx, boardIDs, cursor)
			if err != nil {
				return fmt.Errorf("failed to poll agents: %w", err)
			}
			for _, a := range agents {
				// Dedup key includes the cursor-relevant timestamp since an
				// agent row, unlike an event, can legitimately re-qualify
				// on a later tick (another heartbeat) and must be re-sent.
				dedupKey := fmt.Sprintf("%s@%s", a.ID, a.UpdatedAt)
				if dedup.Seen(dedupKey) {
					continue
				}
				if err := emit.Event("agent", map[string]any{"agent": toAgentSummary(a, now)}); err != nil {
					return err
				}
				if a.UpdatedAt.After(cursor) {
					cursor = a.UpdatedAt
				}
			}
		}
	}
}
