package auth

import (
	"errors"
	"testing"
	"time"
)

func TestDevToken(t *testing.T) {
	v := New("", "")
	p, err := v.Verify("ops:Dispatcher")
	if err != nil || p.Subject != "ops" || p.Role != RoleDispatcher || !p.CanPlan() || p.IsAdmin() {
		t.Fatalf("dev token: %v %+v", err, p)
	}
	if _, err := v.Verify("nocolon"); err == nil {
		t.Fatal("expected error for malformed dev token")
	}
}

func TestOffModeIsAdmin(t *testing.T) {
	p, err := New("off", "").Verify("")
	if err != nil || !p.IsAdmin() {
		t.Fatalf("off mode: %v %+v", err, p)
	}
}

func TestHMACRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	now := time.Unix(1_700_000_000, 0)
	v := New("hmac", string(secret))
	v.Now = func() time.Time { return now }

	tok, err := SignHS256(secret, map[string]any{"sub": "anna", "role": "admin", "exp": now.Add(time.Hour).Unix()})
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(tok)
	if err != nil || p.Subject != "anna" || !p.IsAdmin() {
		t.Fatalf("verify: %v %+v", err, p)
	}

	forged, _ := SignHS256([]byte("other"), map[string]any{"sub": "anna", "role": "admin"})
	if _, err := v.Verify(forged); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("want signature failure, got %v", err)
	}

	old, _ := SignHS256(secret, map[string]any{"sub": "anna", "role": "admin", "exp": now.Add(-time.Minute).Unix()})
	if _, err := v.Verify(old); !errors.Is(err, ErrExpired) {
		t.Fatalf("want expired, got %v", err)
	}

	norole, _ := SignHS256(secret, map[string]any{"sub": "bo"})
	p, err = v.Verify(norole)
	if err != nil || p.Role != RoleViewer || p.CanPlan() {
		t.Fatalf("default role: %v %+v", err, p)
	}

	if _, err := v.Verify("a.b"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("want malformed, got %v", err)
	}
}
