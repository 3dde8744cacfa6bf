// Package models defines the persisted entities of the control plane: the
// tenant/board/agent/task graph described in the data model, plus the
// dynamic JSON payload type webhooks carry.
package models

import "time"

// MemberRole is the per-organization role of a human member.
type MemberRole string

const (
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentStatusProvisioning AgentStatus = "provisioning"
	AgentStatusOnline       AgentStatus = "online"
	AgentStatusOffline      AgentStatus = "offline"
	AgentStatusUpdating     AgentStatus = "updating"
	AgentStatusDeleting     AgentStatus = "deleting"
)

// OfflineAfter is the last-seen staleness window after which an agent's
// derived status becomes AgentStatusOffline regardless of its stored value.
const OfflineAfter = 10 * time.Minute

// TaskStatus is the position of a Task in the board's work queue.
type TaskStatus string

const (
	TaskStatusInbox      TaskStatus = "inbox"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
)

// TaskPriority ranks a Task relative to its board siblings.
type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

// ApprovalStatus is the outcome of an Approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// Organization is the tenant boundary: every Gateway, Board and Member
// belongs to exactly one.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member is a (user, org) pair with a role and per-board ACL deltas.
type Member struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	UserID         string     `json:"user_id"`
	Email          string     `json:"email"`
	Role           MemberRole `json:"role"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BoardACL is a per-board permission delta layered on top of Member.Role.
type BoardACL struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board_id"`
	MemberID  string    `json:"member_id"`
	CanWrite  bool      `json:"can_write"`
	CreatedAt time.Time `json:"created_at"`
}

// Gateway is a connection record for a remote gateway runtime. A Gateway
// without URL, MainSessionKey and WorkspaceRoot cannot be used to
// provision agents (see Gateway.Usable).
type Gateway struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	BearerToken    string    `json:"-"`
	MainSessionKey string    `json:"main_session_key"`
	WorkspaceRoot  string    `json:"workspace_root"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Usable reports whether the gateway record carries enough information to
// provision agents against it.
func (g *Gateway) Usable() bool {
	return g != nil && g.URL != "" && g.MainSessionKey != "" && g.WorkspaceRoot != ""
}

// Board is a work surface grouping tasks, agents, memory, approvals and
// webhooks under a single objective.
type Board struct {
	ID            string     `json:"id"`
	OrganizationID string    `json:"organization_id"`
	GatewayID     *string    `json:"gateway_id,omitempty"`
	Name          string     `json:"name"`
	Objective     string     `json:"objective"`
	TargetDate    *time.Time `json:"target_date,omitempty"`
	GoalConfirmed bool       `json:"goal_confirmed"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HeartbeatConfig is an agent's self-report cadence and target channel.
type HeartbeatConfig struct {
	Every  string `json:"every"`
	Target string `json:"target"`
}

// Agent is a named participant in a board (or, when BoardID is nil, the
// gateway's main session).
type Agent struct {
	ID                string          `json:"id"`
	BoardID           *string         `json:"board_id,omitempty"`
	GatewayID         string          `json:"gateway_id"`
	Name              string          `json:"name"`
	IsBoardLead       bool            `json:"is_board_lead"`
	OpenClawSessionID string          `json:"openclaw_session_id"`
	HeartbeatConfig   HeartbeatConfig `json:"heartbeat_config"`
	IdentityProfile   map[string]any  `json:"identity_profile"`
	IdentityTemplate  string          `json:"identity_template,omitempty"`
	SoulTemplate      string          `json:"soul_template,omitempty"`
	AgentTokenHash    string          `json:"-"`
	Status            AgentStatus     `json:"status"`
	LastSeenAt        *time.Time      `json:"last_seen_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsMain reports whether this agent record is the gateway-wide main session
// rather than a board-scoped agent.
func (a *Agent) IsMain() bool { return a.BoardID == nil }

// DerivedStatus returns the status an observer should see: Status verbatim,
// except that an agent not heard from in OfflineAfter is reported offline.
func (a *Agent) DerivedStatus(now time.Time) AgentStatus {
	if a.Status == AgentStatusOnline {
		if a.LastSeenAt == nil || now.Sub(*a.LastSeenAt) > OfflineAfter {
			return AgentStatusOffline
		}
	}
	return a.Status
}

// Task is a board-scoped unit of work.
type Task struct {
	ID              string       `json:"id"`
	BoardID         string       `json:"board_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Status          TaskStatus   `json:"status"`
	Priority        TaskPriority `json:"priority"`
	AssignedAgentID *string      `json:"assigned_agent_id,omitempty"`
	InProgressAt    *time.Time   `json:"in_progress_at,omitempty"`
	ReviewAt        *time.Time   `json:"review_at,omitempty"`
	DoneAt          *time.Time   `json:"done_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// TaskDependency is a directed "depends on" edge within a single board.
type TaskDependency struct {
	TaskID          string    `json:"task_id"`
	DependsOnTaskID string    `json:"depends_on_task_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// ActivityEvent is an append-only record of a state change.
type ActivityEvent struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board_id"`
	EventType string    `json:"event_type"`
	TaskID    *string   `json:"task_id,omitempty"`
	AgentID   *string   `json:"agent_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// IsComment reports whether this event is a task-comment feed entry.
func (e *ActivityEvent) IsComment() bool {
	return e.EventType == "task.comment" && len(trimmed(e.Message)) > 0
}

func trimmed(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// BoardMemory is a per-board note, either chat transcript or structured
// memory, written by agents and humans.
type BoardMemory struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board_id"`
	AuthorID  string    `json:"author_id"`
	IsChat    bool      `json:"is_chat"`
	Tags      []string  `json:"tags,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Approval is a per-board (optionally per-task) request awaiting a decision.
type Approval struct {
	ID        string         `json:"id"`
	BoardID   string         `json:"board_id"`
	TaskID    *string        `json:"task_id,omitempty"`
	Title     string         `json:"title"`
	Status    ApprovalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// BoardWebhook is a configured ingestion endpoint for a board.
type BoardWebhook struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board_id"`
	Name      string    `json:"name"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BoardWebhookPayload is a captured inbound webhook delivery.
type BoardWebhookPayload struct {
	ID          string         `json:"id"`
	WebhookID   string         `json:"webhook_id"`
	BoardID     string         `json:"board_id"`
	Body        JSONValue      `json:"body"`
	Headers     map[string]string `json:"headers"`
	SourceIP    string         `json:"source_ip"`
	ContentType string         `json:"content_type"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// Reconciliation run kinds, the two periodic jobs internal/reconcile fires.
const (
	ReconciliationKindTemplateSync   = "template_sync"
	ReconciliationKindWebhookRescue  = "webhook_rescue"
)

// ReconciliationRun is the bookkeeping row for the last firing of a
// background reconciliation job, keyed by kind and (for template sync) the
// gateway it ran against; the webhook rescue scan is global and leaves
// GatewayID empty. Exposed read-only via /gateways/status so the periodic
// job is itself observable.
type ReconciliationRun struct {
	Kind      string    `json:"kind"`
	GatewayID string    `json:"gateway_id,omitempty"`
	RanAt     time.Time `json:"ran_at"`
	Succeeded bool      `json:"succeeded"`
	Detail    string    `json:"detail,omitempty"`
}
