// handlers_streaming.go implements the SSE transport the activity package's
// pollers write through, adapted from the teacher's handleStreamChatCompletion:
// disable the write deadline, set the event-stream headers, and flush one
// frame at a time through http.Flusher.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentboard/controlplane/internal/activity"
	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
)

// sseEmitter adapts an http.ResponseWriter into an activity.Emitter.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *sseEmitter) Event(name string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal sse event %s: %w", name, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\n", name); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", body); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

func (e *sseEmitter) Heartbeat() error {
	if _, err := fmt.Fprint(e.w, ": ping\n\n"); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// beginSSE sets the streaming headers and disables the write deadline the
// way the teacher's handleStreamChatCompletion does, returning the emitter
// or false if the underlying ResponseWriter can't be flushed.
func (s *Server) beginSSE(w http.ResponseWriter) (*sseEmitter, bool) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseEmitter{w: w, flusher: flusher}, true
}

// streamAgentsSSE serves GET /api/v1/agents/stream.
func (s *Server) streamAgentsSSE(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	emit, ok := s.beginSSE(w)
	if !ok {
		s.respondError(w, apierr.NewUpstream(apierr.UpstreamFatal, "streaming not supported by this connection", nil))
		return
	}
	boards := func(ctx context.Context) ([]string, error) { return s.accessibleBoardIDs(ctx, actor) }
	if err := activity.StreamAgents(r.Context(), s.db, s.clk, boards, emit); err != nil {
		s.log.Warn().Err(err).Msg("api: agents stream ended")
	}
}

// streamTaskCommentsSSE serves GET /api/v1/activity/task-comments/stream.
func (s *Server) streamTaskCommentsSSE(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	emit, ok := s.beginSSE(w)
	if !ok {
		s.respondError(w, apierr.NewUpstream(apierr.UpstreamFatal, "streaming not supported by this connection", nil))
		return
	}
	boards := func(ctx context.Context) ([]string, error) { return s.accessibleBoardIDs(ctx, actor) }
	if err := activity.StreamTaskComments(r.Context(), s.db, s.clk, boards, emit); err != nil {
		s.log.Warn().Err(err).Msg("api: task-comments stream ended")
	}
}
