package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := []byte("master-key-for-testing-purposes!")
	ct, err := Encrypt(key, "delivery-1", []byte("hello world"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := Decrypt(key, "delivery-1", ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hello world" {
		t.Fatalf("got %q", pt)
	}
}

func TestDecryptWrongContextFailsAuth(t *testing.T) {
	key := []byte("master-key-for-testing-purposes!")
	ct, err := Encrypt(key, "delivery-1", []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(key, "delivery-2", ct); err != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptMalformedCiphertext(t *testing.T) {
	key := []byte("master-key-for-testing-purposes!")
	if _, err := Decrypt(key, "ctx", "not-enough-segments"); err != ErrInvalidFormat {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	enc, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword(enc, "correct horse battery staple") {
		t.Fatal("expected password to verify")
	}
	if VerifyPassword(enc, "wrong password") {
		t.Fatal("expected wrong password to fail")
	}
}

func TestConstantTimeEqualFold(t *testing.T) {
	if !ConstantTimeEqualFold(" AbC12 ", "abc12") {
		t.Fatal("expected case-insensitive trimmed match")
	}
	if ConstantTimeEqualFold("abc", "abcd") {
		t.Fatal("expected mismatch on different length")
	}
}

func TestRandomTokenLengthAndUniqueness(t *testing.T) {
	a, err := RandomToken(16)
	if err != nil {
		t.Fatalf("RandomToken: %v", err)
	}
	b, _ := RandomToken(16)
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars for 16 bytes, got %d", len(a))
	}
	if a == b {
		t.Fatal("expected distinct tokens")
	}
}
