package config

import (
	"testing"
)

func setSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	t.Setenv("ENCRYPTION_KEY", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	t.Setenv("HMAC_SECRET", "cccccccccccccccccccccccccccccccc")
}

func TestLoadDefaults(t *testing.T) {
	setSecrets(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != 3001 {
		t.Fatalf("expected default port 3001, got %d", c.Port)
	}
	if c.OTPLength != 6 {
		t.Fatalf("expected default otp length 6, got %d", c.OTPLength)
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("ENCRYPTION_KEY", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	t.Setenv("HMAC_SECRET", "cccccccccccccccccccccccccccccccc")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short JWT_SECRET")
	}
}

func TestLoadRejectsChangeMeInProduction(t *testing.T) {
	t.Setenv("NODE_ENV", "production")
	t.Setenv("JWT_SECRET", "CHANGE_ME_aaaaaaaaaaaaaaaaaaaaaaaa")
	t.Setenv("ENCRYPTION_KEY", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	t.Setenv("HMAC_SECRET", "cccccccccccccccccccccccccccccccc")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for CHANGE_ME secret in production")
	}
}

func TestLoadAllowsChangeMeOutsideProduction(t *testing.T) {
	t.Setenv("NODE_ENV", "development")
	t.Setenv("JWT_SECRET", "CHANGE_ME_aaaaaaaaaaaaaaaaaaaaaaaa")
	t.Setenv("ENCRYPTION_KEY", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	t.Setenv("HMAC_SECRET", "cccccccccccccccccccccccccccccccc")
	if _, err := Load(); err != nil {
		t.Fatalf("expected no error outside production, got %v", err)
	}
}
