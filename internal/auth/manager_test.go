package auth

import (
	"testing"

	"github.com/agentboard/controlplane/internal/clock"
	"github.com/agentboard/controlplane/internal/database"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db, "test-secret", clock.New())
}

func TestIssueAndValidateSession(t *testing.T) {
	mgr := newTestManager(t)

	resp, err := mgr.IssueSession("member-1", "org-1", "admin")
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := mgr.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.MemberID != "member-1" || claims.OrgID != "org-1" || claims.Role != "admin" {
		t.Errorf("claims = %+v, want member-1/org-1/admin", claims)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	mgr := newTestManager(t)
	if _, err := mgr.ValidateToken("not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestGenerateAndVerifyAgentToken(t *testing.T) {
	mgr := newTestManager(t)

	plaintext, hash, err := mgr.GenerateAgentToken()
	if err != nil {
		t.Fatalf("GenerateAgentToken() error = %v", err)
	}
	if plaintext == "" || hash == "" {
		t.Fatal("expected non-empty plaintext and hash")
	}
	if !mgr.VerifyAgentToken(hash, plaintext) {
		t.Error("VerifyAgentToken() = false for matching token, want true")
	}
	if mgr.VerifyAgentToken(hash, "wrong-token") {
		t.Error("VerifyAgentToken() = true for mismatched token, want false")
	}
}
