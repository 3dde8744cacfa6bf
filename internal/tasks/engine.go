// Package tasks implements the board/task state machine: creation,
// status/assignment transitions gated by the blocked-by dependency closure,
// and deletion, generalized from the teacher's internal/beads.Manager
// (BlockedBy/Edge/GetReadyBeads over an in-memory map[string]*Bead) onto the
// relational internal/database layer.
package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/authz"
	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
)

// Nudger delivers the best-effort "assigned" notification to an agent's
// gateway session. Implemented by internal/coordinator; the engine takes it
// as an interface so this package never imports the gateway client.
type Nudger interface {
	Nudge(ctx context.Context, agent *models.Agent, task *models.Task) error
}

// Engine is the board/task state machine.
type Engine struct {
	db     *database.DB
	clock  clock.Clock
	nudger Nudger
}

// New builds an Engine. nudger may be nil, in which case assignment never
// triggers an outbound nudge (useful for tests and for callers that handle
// notification separately).
func New(db *database.DB, clk clock.Clock, nudger Nudger) *Engine {
	return &Engine{db: db, clock: clk, nudger: nudger}
}

// CreateTaskInput is the caller-supplied subset of a new task's fields.
type CreateTaskInput struct {
	Title           string
	Description     string
	Priority        models.TaskPriority
	AssignedAgentID *string
	DependsOn       []string
}

// CreateTask inserts a new task on board, validating lead-self-assign and
// forbidding creation as already-blocked-and-transitioned (a new task is
// always created in inbox; blocked status only prevents future transitions).
func (e *Engine) CreateTask(ctx context.Context, board *models.Board, in CreateTaskInput, actor auth.ActorContext) (*models.Task, error) {
	if err := authz.CanCreateTask(ctx, e.db, board, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, apierr.NewInput("task title is required")
	}
	if in.Priority == "" {
		in.Priority = models.TaskPriorityMedium
	}

	if in.AssignedAgentID != nil {
		agent, err := e.db.GetAgent(ctx, *in.AssignedAgentID)
		if err != nil {
			return nil, apierr.NewInput("assigned agent not found")
		}
		if agent.BoardID == nil || *agent.BoardID != board.ID {
			return nil, apierr.NewInput("assigned agent is not on this board")
		}
		if agent.IsBoardLead {
			return nil, apierr.NewAuthz("Board leads cannot assign tasks to themselves.")
		}
	}

	now := e.clock.Now()
	task := &models.Task{
		ID:              uuid.NewString(),
		BoardID:         board.ID,
		Title:           in.Title,
		Description:     in.Description,
		Status:          models.TaskStatusInbox,
		Priority:        in.Priority,
		AssignedAgentID: in.AssignedAgentID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var deps []*models.TaskDependency
	for _, depID := range in.DependsOn {
		if depID == task.ID {
			return nil, apierr.NewInput("a task cannot depend on itself")
		}
		if _, err := e.db.GetTask(ctx, depID); err != nil {
			return nil, apierr.NewInput("dependency task not found: %s", depID)
		}
		deps = append(deps, &models.TaskDependency{TaskID: task.ID, DependsOnTaskID: depID, CreatedAt: now})
	}

	event := &models.ActivityEvent{
		ID:        uuid.NewString(),
		BoardID:   board.ID,
		EventType: "task.created",
		TaskID:    &task.ID,
		Message:   fmt.Sprintf("task %q created", task.Title),
		CreatedAt: now,
	}
	if err := e.db.CreateTaskWithDependencies(ctx, task, deps, event); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if task.AssignedAgentID != nil {
		e.tryNudge(ctx, board, task)
	}
	return task, nil
}

// UpdateInput is the set of fields a caller may change on an existing task.
// Nil fields are left unchanged; AssignedAgentID uses a double-pointer-like
// convention via AssignedAgentIDSet to distinguish "leave unchanged" from
// "clear the assignment".
type UpdateInput struct {
	Title           *string
	Description     *string
	Priority        *models.TaskPriority
	Status          *models.TaskStatus
	AssignedAgentID *string
	AssignedAgentIDSet bool
}

// UpdateTask applies in to task, enforcing the blocked-by invariant on any
// status or assignment change, the lead-cannot-be-assigned invariant, and
// the authorization matrix's assignment rules (delegated to
// authz.CanAssignTask / authz.CanUpdateTask).
func (e *Engine) UpdateTask(ctx context.Context, board *models.Board, task *models.Task, in UpdateInput, actor auth.ActorContext) (*models.Task, error) {
	if err := authz.CanUpdateTask(ctx, e.db, board, task, actor); err != nil {
		return nil, err
	}

	changingStatus := in.Status != nil && *in.Status != task.Status
	changingAssignment := in.AssignedAgentIDSet && !samePtr(in.AssignedAgentID, task.AssignedAgentID)

	if changingAssignment {
		if err := authz.CanAssignTask(ctx, e.db, board, task, in.AssignedAgentID, actor); err != nil {
			return nil, err
		}
	}

	if changingStatus || changingAssignment {
		blocked, err := authz.TaskBlockReasons(ctx, e.db, task.ID)
		if err != nil {
			return nil, err
		}
		if len(blocked) > 0 {
			return nil, apierr.NewTaskBlocked(blocked)
		}
	}

	now := e.clock.Now()
	var targetAgent *models.Agent
	if changingAssignment && in.AssignedAgentID != nil {
		agent, err := e.db.GetAgent(ctx, *in.AssignedAgentID)
		if err != nil {
			return nil, apierr.NewInput("assigned agent not found")
		}
		if agent.BoardID == nil || *agent.BoardID != board.ID {
			return nil, apierr.NewInput("assigned agent is not on this board")
		}
		if agent.IsBoardLead {
			return nil, apierr.NewAuthz("Board leads cannot assign tasks to themselves.")
		}
		targetAgent = agent
	}

	if in.Title != nil {
		task.Title = *in.Title
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.Priority != nil {
		task.Priority = *in.Priority
	}
	if changingAssignment {
		task.AssignedAgentID = in.AssignedAgentID
	}
	if changingStatus {
		applyStatusTimestamp(task, *in.Status, now)
		task.Status = *in.Status
	}
	task.UpdatedAt = now

	event := transitionEvent(task, changingStatus, changingAssignment, now)
	if err := e.db.TransitionTask(ctx, task, event); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	if changingAssignment && targetAgent != nil {
		e.tryNudge(ctx, board, task)
	}
	return task, nil
}

// DeleteTask removes task and every dependency edge touching it.
func (e *Engine) DeleteTask(ctx context.Context, board *models.Board, task *models.Task, actor auth.ActorContext) error {
	if err := authz.RequireBoardWrite(ctx, e.db, board, actor); err != nil {
		return err
	}
	now := e.clock.Now()
	event := &models.ActivityEvent{
		ID:        uuid.NewString(),
		BoardID:   board.ID,
		EventType: "task.deleted",
		TaskID:    &task.ID,
		Message:   fmt.Sprintf("task %q deleted", task.Title),
		CreatedAt: now,
	}
	if err := e.db.DeleteTaskCascade(ctx, task.ID, event); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (e *Engine) tryNudge(ctx context.Context, board *models.Board, task *models.Task) {
	if e.nudger == nil || task.AssignedAgentID == nil {
		return
	}
	agent, err := e.db.GetAgent(ctx, *task.AssignedAgentID)
	if err != nil {
		return
	}
	// Best-effort: a failed nudge never fails the owning operation (§7).
	_ = e.nudger.Nudge(ctx, agent, task)
}

func applyStatusTimestamp(task *models.Task, next models.TaskStatus, now time.Time) {
	switch next {
	case models.TaskStatusInProgress:
		task.InProgressAt = &now
	case models.TaskStatusReview:
		task.ReviewAt = &now
	case models.TaskStatusDone:
		task.DoneAt = &now
	case models.TaskStatusInbox:
		task.InProgressAt = nil
		task.ReviewAt = nil
		task.DoneAt = nil
	}
}

func transitionEvent(task *models.Task, changingStatus, changingAssignment bool, now time.Time) *models.ActivityEvent {
	eventType := "task.updated"
	message := fmt.Sprintf("task %q updated", task.Title)
	switch {
	case changingStatus && changingAssignment:
		eventType = "task.transitioned"
		message = fmt.Sprintf("task %q moved to %s and reassigned", task.Title, task.Status)
	case changingStatus:
		eventType = "task.transitioned"
		message = fmt.Sprintf("task %q moved to %s", task.Title, task.Status)
	case changingAssignment:
		eventType = "task.assigned"
		if task.AssignedAgentID == nil {
			message = fmt.Sprintf("task %q unassigned", task.Title)
		} else {
			message = fmt.Sprintf("task %q assigned", task.Title)
		}
	}
	return &models.ActivityEvent{
		ID:        uuid.NewString(),
		BoardID:   task.BoardID,
		EventType: eventType,
		TaskID:    &task.ID,
		AgentID:   task.AssignedAgentID,
		Message:   message,
		CreatedAt: now,
	}
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
