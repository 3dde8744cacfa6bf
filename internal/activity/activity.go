// Package activity implements the append-only activity log and the two
// polling SSE streams built on top of it (task comments, agent status),
// each with its own bounded dedup FIFO and monotonic time cursor. Adapted
// from the teacher's handleStreamChatCompletion (SSE headers, flusher,
// write-deadline override) in internal/api/handlers_streaming.go, but
// polling durable state on a ticker instead of relaying provider token
// chunks.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
)

// PollInterval is how often a stream re-queries its cursor.
const PollInterval = 2 * time.Second

// HeartbeatInterval is how often an idle stream sends a keepalive comment
// line so intermediate proxies don't time out the connection.
const HeartbeatInterval = 15 * time.Second

// Log wraps the database's activity-event table with the single Append
// entry point every other component uses to record a state change.
type Log struct {
	db *database.DB
}

// New builds a Log.
func New(db *database.DB) *Log {
	return &Log{db: db}
}

// Append inserts an activity event, filling in its ID and CreatedAt if
// unset.
func (l *Log) Append(ctx context.Context, e *models.ActivityEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := l.db.AppendActivityEvent(ctx, e); err != nil {
		return fmt.Errorf("failed to append activity event: %w", err)
	}
	return nil
}
