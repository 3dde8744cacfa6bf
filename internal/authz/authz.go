// Package authz decides whether an ActorContext may perform an action
// against a Board/Task/Agent, implementing the authorization matrix in the
// specification's board/task engine section. It is kept separate from
// internal/auth so the HTTP layer never bakes a permission string into a
// middleware chain — callers pass the already-resolved actor and the
// concrete resource in hand, grounded on the teacher's decision to keep
// its own internal/decision package (approval workflows) free of HTTP
// concerns.
package authz

import (
	"context"
	"fmt"

	"github.com/agentboard/controlplane/internal/apierr"
	"github.com/agentboard/controlplane/internal/auth"
	"github.com/agentboard/controlplane/internal/database"
	"github.com/agentboard/controlplane/internal/models"
)

// BoardAccess is a member's resolved access level to a board: no access,
// read (via org membership with no explicit write grant), or write (org
// admin, or an explicit BoardACL.CanWrite grant).
type BoardAccess int

const (
	AccessNone BoardAccess = iota
	AccessRead
	AccessWrite
)

// ResolveBoardAccess computes a member's access to board, combining the
// org-wide role with any per-board ACL delta.
func ResolveBoardAccess(ctx context.Context, db *database.DB, board *models.Board, memberID string) (BoardAccess, error) {
	member, err := db.GetMember(ctx, memberID)
	if err != nil {
		return AccessNone, fmt.Errorf("failed to resolve member: %w", err)
	}
	if member.OrganizationID != board.OrganizationID {
		return AccessNone, nil
	}
	if member.Role == models.MemberRoleAdmin {
		return AccessWrite, nil
	}

	acl, err := db.GetBoardACL(ctx, board.ID, memberID)
	if err != nil {
		return AccessNone, fmt.Errorf("failed to resolve board acl: %w", err)
	}
	if acl != nil && acl.CanWrite {
		return AccessWrite, nil
	}
	return AccessRead, nil
}

// RequireBoardRead returns a NotFoundError (not Authz) when access is
// denied, since the specification treats tenant leakage — revealing that a
// board exists to a caller outside its organization — as something that
// must not be distinguishable from "board does not exist".
func RequireBoardRead(ctx context.Context, db *database.DB, board *models.Board, actor auth.ActorContext) error {
	if actor.IsAgent() {
		agent, err := db.GetAgent(ctx, actor.AgentID)
		if err != nil {
			return apierr.NewNotFound("board not found")
		}
		if agent.BoardID == nil || *agent.BoardID != board.ID {
			return apierr.NewNotFound("board not found")
		}
		return nil
	}

	access, err := ResolveBoardAccess(ctx, db, board, actor.MemberID)
	if err != nil {
		return err
	}
	if access == AccessNone {
		return apierr.NewNotFound("board not found")
	}
	return nil
}

// RequireBoardWrite additionally demands write access for a member and
// rejects every agent actor, the board's lead included — "Update board
// meta" in the authorization matrix is member-write-only. Agent-facing
// board write actions use CanCreateTask/CanUpdateTask/CanAssignTask below
// instead.
func RequireBoardWrite(ctx context.Context, db *database.DB, board *models.Board, actor auth.ActorContext) error {
	if actor.IsAgent() {
		return apierr.NewAuthz("agents cannot modify board metadata")
	}
	access, err := ResolveBoardAccess(ctx, db, board, actor.MemberID)
	if err != nil {
		return err
	}
	if access != AccessWrite {
		return apierr.NewAuthz("write access to board required")
	}
	return nil
}

// CanCreateTask implements "Leads are the only agents permitted to create
// tasks on behalf of the board; any human with board write may."
func CanCreateTask(ctx context.Context, db *database.DB, board *models.Board, actor auth.ActorContext) error {
	if actor.IsAgent() {
		agent, err := db.GetAgent(ctx, actor.AgentID)
		if err != nil {
			return apierr.NewNotFound("board not found")
		}
		if agent.BoardID == nil || *agent.BoardID != board.ID {
			return apierr.NewNotFound("board not found")
		}
		if !agent.IsBoardLead {
			return apierr.NewAuthz("only the board lead may create tasks")
		}
		return nil
	}
	return RequireBoardWrite(ctx, db, board, actor)
}

// CanUpdateTask implements "Update own board's task": a member needs write
// access, a lead agent may update any task on its board, and a non-lead
// agent may only update a task currently assigned to itself.
func CanUpdateTask(ctx context.Context, db *database.DB, board *models.Board, task *models.Task, actor auth.ActorContext) error {
	if actor.IsAgent() {
		agent, err := db.GetAgent(ctx, actor.AgentID)
		if err != nil {
			return apierr.NewNotFound("board not found")
		}
		if agent.BoardID == nil || *agent.BoardID != board.ID {
			return apierr.NewNotFound("board not found")
		}
		if agent.IsBoardLead {
			return nil
		}
		if task.AssignedAgentID == nil || *task.AssignedAgentID != agent.ID {
			return apierr.NewAuthz("agents may only update tasks assigned to themselves")
		}
		return nil
	}
	return RequireBoardWrite(ctx, db, board, actor)
}

// CanAssignTask implements "Assign to others": members with write access
// may assign to anyone; a lead agent may assign to anyone on its board; a
// non-lead agent may only reassign a task off itself (self-unassign),
// never onto another agent — the resolution of SPEC_FULL.md §9's open
// question on non-lead reassignment scope.
func CanAssignTask(ctx context.Context, db *database.DB, board *models.Board, task *models.Task, targetAgentID *string, actor auth.ActorContext) error {
	if actor.IsAgent() {
		agent, err := db.GetAgent(ctx, actor.AgentID)
		if err != nil {
			return apierr.NewNotFound("board not found")
		}
		if agent.BoardID == nil || *agent.BoardID != board.ID {
			return apierr.NewNotFound("board not found")
		}
		if agent.IsBoardLead {
			return nil
		}
		currentlyOwn := task.AssignedAgentID != nil && *task.AssignedAgentID == agent.ID
		unassigning := targetAgentID == nil
		if currentlyOwn && unassigning {
			return nil
		}
		return apierr.NewAuthz("agents may only unassign tasks from themselves")
	}
	return RequireBoardWrite(ctx, db, board, actor)
}

// CanCreateAgent implements "Create agent": org admin may create any agent;
// a lead agent may request a new agent on its own board; any other agent
// is denied.
func CanCreateAgent(ctx context.Context, db *database.DB, board *models.Board, actor auth.ActorContext) error {
	if actor.IsAgent() {
		agent, err := db.GetAgent(ctx, actor.AgentID)
		if err != nil {
			return apierr.NewNotFound("board not found")
		}
		if !agent.IsBoardLead || agent.BoardID == nil || *agent.BoardID != board.ID {
			return apierr.NewAuthz("only the board lead may request new agents")
		}
		return nil
	}
	member, err := db.GetMember(ctx, actor.MemberID)
	if err != nil {
		return fmt.Errorf("failed to resolve member: %w", err)
	}
	if member.Role != models.MemberRoleAdmin {
		return apierr.NewAuthz("only an organization admin may create agents directly")
	}
	return nil
}

// TaskBlockReasons returns the blocked-by set for a task, or nil if it is
// unblocked.
func TaskBlockReasons(ctx context.Context, db *database.DB, taskID string) ([]string, error) {
	blocked, err := db.BlockedBy(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blocked-by set: %w", err)
	}
	return blocked, nil
}
