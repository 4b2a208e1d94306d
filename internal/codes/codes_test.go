package codes

import (
	"testing"
	"time"
)

func TestGenerateIsDeterministic(t *testing.T) {
	secret := []byte("hmac-secret")
	a := Generate(secret, "delivery-1", "user-1", "ocean", 0)
	b := Generate(secret, "delivery-1", "user-1", "ocean", 0)
	if a.Value != b.Value {
		t.Fatalf("expected deterministic code, got %q vs %q", a.Value, b.Value)
	}
}

func TestGenerateUnknownThemeFallsBackToDefault(t *testing.T) {
	secret := []byte("hmac-secret")
	c := Generate(secret, "delivery-1", "user-1", "not-a-real-theme", 0)
	if c.Theme != defaultTheme {
		t.Fatalf("expected fallback to default theme, got %q", c.Theme)
	}
}

func TestClampTTLBounds(t *testing.T) {
	if ClampTTL(0) != defaultTTL {
		t.Fatal("expected zero ttl to become default")
	}
	if ClampTTL(time.Minute) != minTTL {
		t.Fatal("expected sub-minimum ttl clamped to minTTL")
	}
	if ClampTTL(48 * time.Hour) != maxTTL {
		t.Fatal("expected above-maximum ttl clamped to maxTTL")
	}
}

func TestValidateCaseInsensitiveTrimmed(t *testing.T) {
	if !Validate(" Ocean-Kelp-AB12 ", "ocean-kelp-ab12") {
		t.Fatal("expected case-insensitive trimmed match")
	}
}
