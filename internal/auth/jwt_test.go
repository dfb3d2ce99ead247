package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	const (
		key    = "test-signing-key"
		issuer = "scheduling-engine"
	)

	session, err := Issue("student-123", "student", issuer, key, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Parse(session.Token, key, issuer)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "student-123" || claims.Role != "student" {
		t.Errorf("claims = %+v", claims)
	}

	t.Run("wrong key rejected", func(t *testing.T) {
		if _, err := Parse(session.Token, "other-key", issuer); err == nil {
			t.Fatal("expected signature error")
		}
	})

	t.Run("issuer mismatch rejected", func(t *testing.T) {
		if _, err := Parse(session.Token, key, "someone-else"); err == nil {
			t.Fatal("expected issuer error")
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		expired, err := Issue("student-123", "student", issuer, key, -time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Parse(expired.Token, key, issuer); err == nil {
			t.Fatal("expected expiry error")
		}
	})
}
