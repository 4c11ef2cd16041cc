package auth

import (
	"testing"
	"time"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	m := NewManager("a-sufficiently-long-test-secret-value", time.Hour)

	token, expiresAt, err := m.Issue("user-1", "user@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if expiresAt.Before(time.Now().UTC()) {
		t.Fatal("expected future expiry")
	}

	userID, email, err := m.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if userID != "user-1" || email != "user@example.com" {
		t.Fatalf("unexpected claims: %s %s", userID, email)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewManager("a-sufficiently-long-test-secret-value", time.Hour)
	verifier := NewManager("a-completely-different-secret-value", time.Hour)

	token, _, err := issuer.Issue("user-1", "user@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := verifier.Validate(token); err == nil {
		t.Fatal("expected validation to fail for mismatched secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	base := time.Now().UTC().Add(-2 * time.Hour)
	m := NewManager("a-sufficiently-long-test-secret-value", time.Hour)
	m.now = func() time.Time { return base }

	token, _, err := m.Issue("user-1", "user@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	m.now = func() time.Time { return time.Now().UTC() }
	if _, _, err := m.Validate(token); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}

func TestCheckScope(t *testing.T) {
	if err := CheckScope("u1", ""); err != nil {
		t.Fatalf("expected empty body user_id to be accepted, got %v", err)
	}
	if err := CheckScope("u1", "u1"); err != nil {
		t.Fatalf("expected matching user_id to be accepted, got %v", err)
	}
	if err := CheckScope("u1", "u2"); err != ErrUserIDMismatch {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}
