package token

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Issuer: "ShadowMesh",
		TTL:    ttl,
		Secret: testSecret,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(t, time.Hour)
	now := time.Unix(1700000000, 0)

	tok, err := m.Issue("admin@example.com", "admin", now)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Subject != "admin@example.com" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Class != "admin" {
		t.Fatalf("unexpected class: %s", claims.Class)
	}
	if claims.Issuer != "ShadowMesh" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatal("expected a token ID")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	m := newTestManager(t, time.Minute)
	past := time.Now().Add(-time.Hour)

	tok, err := m.Issue("admin@example.com", "admin", past)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := m.Parse(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for expired token, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	m := newTestManager(t, time.Hour)
	other, err := NewManager(Config{
		Issuer: "ShadowMesh",
		TTL:    time.Hour,
		Secret: []byte("ffffffffffffffffffffffffffffffff"),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	tok, err := other.Issue("admin@example.com", "admin", time.Now())
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := m.Parse(tok); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for mis-signed token, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	m := newTestManager(t, time.Hour)

	for _, tok := range []string{"", "abc", "a.b.c"} {
		if _, err := m.Parse(tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid for %q, got %v", tok, err)
		}
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := NewManager(Config{Issuer: "x", TTL: time.Hour, Secret: []byte("short")}); err == nil {
		t.Fatal("short secret must be rejected")
	}
	if _, err := NewManager(Config{Issuer: "x", TTL: 0, Secret: testSecret}); err == nil {
		t.Fatal("zero TTL must be rejected")
	}
	if _, err := NewManager(Config{Issuer: "x", TTL: time.Hour, Secret: testSecret, Leeway: 5 * time.Minute}); err == nil {
		t.Fatal("excessive leeway must be rejected")
	}
}
