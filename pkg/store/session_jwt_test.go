package store

import (
	"testing"
	"time"
)

func TestJWTSessionRoundTrip(t *testing.T) {
	sessions, err := NewJWTSessionStore("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, err := sessions.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("subject = %q, want user-1", userID)
	}
}

func TestJWTSessionRejectsForgedToken(t *testing.T) {
	sessions, err := NewJWTSessionStore("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	other, err := NewJWTSessionStore("other-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	forged, err := other.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := sessions.GetUserIDByToken(forged); err == nil {
		t.Fatal("token signed with a different secret accepted")
	}
	if _, err := sessions.GetUserIDByToken("not-a-token"); err == nil {
		t.Fatal("malformed token accepted")
	}
	if _, err := sessions.GetUserIDByToken(""); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestJWTSessionRejectsExpiredToken(t *testing.T) {
	sessions, err := NewJWTSessionStore("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	// Shrink TTL below the negative of the leeway so expiry has passed.
	sessions.ttl = -2 * time.Minute
	token, err := sessions.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := sessions.GetUserIDByToken(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestJWTSessionRequiresSecret(t *testing.T) {
	if _, err := NewJWTSessionStore("  ", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
