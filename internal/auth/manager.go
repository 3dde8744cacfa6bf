package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/database"
)

// SessionTTL is how long a minted member session token remains valid.
const SessionTTL = 24 * time.Hour

// Manager issues and validates member session tokens and agent bearer
// tokens, grounded on the teacher's auth.Manager contract
// (ValidateToken/ValidateAPIKey/HasPermission) but built against the
// Member/Agent tables instead of User/APIKey.
type Manager struct {
	db        *database.DB
	jwtSecret []byte
	clock     clock.Clock
}

// NewManager builds a Manager. jwtSecret must be non-empty in any
// deployment that issues member sessions.
func NewManager(db *database.DB, jwtSecret string, c clock.Clock) *Manager {
	return &Manager{db: db, jwtSecret: []byte(jwtSecret), clock: c}
}

// IssueSession mints a session token for an already-resolved member.
func (m *Manager) IssueSession(member, orgID, role string) (LoginResponse, error) {
	now := m.clock.Now()
	expires := now.Add(SessionTTL)
	claims := &Claims{
		MemberID: member,
		OrgID:    orgID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.jwtSecret)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return LoginResponse{Token: signed, ExpiresAt: expires}, nil
}

// ValidateToken parses and verifies a member session token.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}

// GenerateAgentToken returns a fresh random bearer token (plaintext, shown
// once) and its bcrypt hash for storage on Agent.AgentTokenHash. Called on
// every agent create/update per the token-rotation rule.
func (m *Manager) GenerateAgentToken() (plaintext string, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate agent token: %w", err)
	}
	plaintext = "agt_" + hex.EncodeToString(raw)
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash agent token: %w", err)
	}
	return plaintext, string(hashed), nil
}

// VerifyAgentToken reports whether plaintext matches the stored hash.
func (m *Manager) VerifyAgentToken(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
