// Package auth resolves an inbound request to an ActorContext — a human
// Member authenticated by JWT session token, or an Agent authenticated by
// bearer token — and answers permission checks against it, grounded on the
// teacher's internal/auth middleware/Claims pattern but restructured around
// the board/task/agent/gateway permission set this control plane needs
// instead of the teacher's agents/beads/providers/projects/decisions set.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ActorKind distinguishes the two arms of the actor union. Every
// authorization decision in internal/authz pattern-matches both.
type ActorKind string

const (
	ActorUser  ActorKind = "user"
	ActorAgent ActorKind = "agent"
)

// ActorContext is the resolved identity of the caller for the duration of
// one request. Exactly one of MemberID/AgentID is populated, selected by
// Kind.
type ActorContext struct {
	Kind     ActorKind
	MemberID string
	AgentID  string
	OrgID    string
	Role     string // member role ("admin"/"member") when Kind == ActorUser
}

// IsUser reports whether this context is the human-member arm.
func (a ActorContext) IsUser() bool { return a.Kind == ActorUser }

// IsAgent reports whether this context is the agent arm.
func (a ActorContext) IsAgent() bool { return a.Kind == ActorAgent }

// Claims is the JWT payload issued on member login. Unlike the teacher's
// Claims (Username/Role/Permissions), this carries only what the
// specification's actor model needs: the member's org and role — the
// permission matrix in internal/authz computes the rest from Role at check
// time rather than freezing a permission list into the token.
type Claims struct {
	MemberID string `json:"member_id"`
	OrgID    string `json:"org_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error)      { return c.NotBefore, nil }
func (c *Claims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c *Claims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)       { return c.Audience, nil }

// LoginResponse returns the session token minted for an already-resolved
// Member. The control plane does not own a password store: membership is
// provisioned out of band (an operator invite, an upstream SSO callback),
// and this package's job starts at "mint/validate a session token for this
// member" rather than at credential verification.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
