// handlers_activity.go routes /api/v1/activity: a point-in-time feed read
// and the SSE task-comments stream, both scoped to the viewer's accessible
// boards via accessibleBoardIDs.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
)

// handleActivity dispatches GET /activity, GET /activity/task-comments and
// GET /activity/task-comments/stream.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, err := s.actor(r)
	if err != nil {
		s.respondError(w, apierr.NewAuthz("unauthenticated"))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/activity")
	path = strings.TrimPrefix(path, "/")

	switch path {
	case "":
		s.listActivity(w, r, actor)
	case "task-comments":
		s.listTaskComments(w, r, actor)
	case "task-comments/stream":
		s.streamTaskCommentsSSE(w, r, actor)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// listActivity implements GET /activity?board_id=&since=: a point-in-time
// read of every activity event (not just comments) on a single accessible
// board, the non-streaming counterpart to the task-comments SSE feed.
func (s *Server) listActivity(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	boardID := r.URL.Query().Get("board_id")
	if boardID == "" {
		s.respondError(w, apierr.NewInput("board_id is required"))
		return
	}
	if _, err := s.loadBoard(r.Context(), boardID, actor); err != nil {
		s.respondError(w, err)
		return
	}

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, apierr.NewInput("since must be an RFC3339 timestamp"))
			return
		}
		since = parsed
	}

	events, err := s.db.ListActivitySince(r.Context(), boardID, since)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, events)
}

// listTaskComments implements GET /activity/task-comments: either every
// comment on a single task (?task_id=) or a recent cross-board feed
// (?since=) across the viewer's accessible boards.
func (s *Server) listTaskComments(w http.ResponseWriter, r *http.Request, actor auth.ActorContext) {
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		task, err := s.db.GetTask(r.Context(), taskID)
		if err != nil {
			s.respondError(w, apierr.NewNotFound("task not found"))
			return
		}
		if _, err := s.loadBoard(r.Context(), task.BoardID, actor); err != nil {
			s.respondError(w, err)
			return
		}
		comments, err := s.db.ListTaskComments(r.Context(), taskID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, comments)
		return
	}

	boardIDs, err := s.accessibleBoardIDs(r.Context(), actor)
	if err != nil {
		s.respondError(w, err)
		return
	}
	since := s.clk.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, apierr.NewInput("since must be an RFC3339 timestamp"))
			return
		}
		since = parsed
	}
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if hours, err := strconv.Atoi(raw); err == nil && hours > 0 {
			since = s.clk.Now().Add(-time.Duration(hours) * time.Hour)
		}
	}

	comments, err := s.db.ListTaskCommentsSince(r.Context(), boardIDs, since)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, comments)
}
