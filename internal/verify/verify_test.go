package verify

import (
	"testing"
	"time"

	"github.com/lastmile/courier-core/internal/geo"
)

func newTestVerifier() *Verifier {
	return New(Options{
		MasterKey:  []byte("0123456789abcdef0123456789abcdef"),
		HMACSecret: []byte("fedcba9876543210fedcba9876543210"),
		OTPLength:  6,
		OTPTTL:     300 * time.Second,
	})
}

func TestHappyVerificationFlow(t *testing.T) {
	v := newTestVerifier()
	v.Initialize("D1", []Method{MethodOTP, MethodPhoto, MethodGeofence})

	otpCode, _, err := v.GenerateOTP("D1", "R1")
	if err != nil {
		t.Fatalf("GenerateOTP: %v", err)
	}

	if err := v.StorePhoto("D1", make([]byte, 1024), PhotoMeta{Mime: "image/jpeg"}); err != nil {
		t.Fatalf("StorePhoto: %v", err)
	}

	driverLoc := geo.Point{Lat: -1.286, Lng: 36.817}
	deliveryLoc := geo.Point{Lat: -1.2861, Lng: 36.8171}
	ok, dist := v.VerifyGeofence("D1", driverLoc, deliveryLoc, 100)
	if !ok {
		t.Fatalf("expected geofence within 100m, distance was %.2f", dist)
	}

	res := v.VerifyOTP("D1", otpCode)
	if !res.Valid {
		t.Fatalf("expected valid OTP, got reason %q", res.Reason)
	}

	status, ok := v.Status("D1")
	if !ok || !status.Complete {
		t.Fatalf("expected delivery complete, got %+v", status)
	}
}

func TestOTPBruteForceAttemptBound(t *testing.T) {
	v := newTestVerifier()
	v.Initialize("D2", []Method{MethodOTP})
	if _, _, err := v.GenerateOTP("D2", "R2"); err != nil {
		t.Fatalf("GenerateOTP: %v", err)
	}

	var last Result
	for i := 0; i < 6; i++ {
		last = v.VerifyOTP("D2", "000000")
		if i < 5 && last.Reason != ReasonInvalidOTP && last.Reason != ReasonMaxAttemptsExceeded {
			t.Fatalf("call %d: unexpected reason %q", i, last.Reason)
		}
	}
	if last.Reason != ReasonMaxAttemptsExceeded {
		t.Fatalf("expected max_attempts_exceeded on sixth call, got %q", last.Reason)
	}

	again := v.VerifyOTP("D2", "000000")
	if again.Reason != ReasonMaxAttemptsExceeded {
		t.Fatalf("expected max_attempts_exceeded to persist, got %q", again.Reason)
	}
}

func TestVerifyOTPWithoutGenerateReturnsNoOTPGenerated(t *testing.T) {
	v := newTestVerifier()
	v.Initialize("D3", []Method{MethodOTP})
	res := v.VerifyOTP("D3", "123456")
	if res.Reason != ReasonNoOTPGenerated {
		t.Fatalf("expected no_otp_generated, got %q", res.Reason)
	}
}

func TestFallbackCodeDeterministicAndConstantTime(t *testing.T) {
	v := newTestVerifier()
	v.Initialize("D4", []Method{MethodCode})

	if v.Fallback("D4", "WRONGCOD") {
		t.Fatal("expected wrong fallback code to fail")
	}
	expected := fallbackCode(v.hmacSecret, "D4")
	if !v.Fallback("D4", expected) {
		t.Fatal("expected correct fallback code to succeed")
	}
	status, ok := v.Status("D4")
	if !ok || !status.Complete {
		t.Fatal("expected delivery complete after fallback")
	}
}

func TestSignatureHashMatchesDecryptedPlaintext(t *testing.T) {
	v := newTestVerifier()
	v.Initialize("D5", []Method{MethodSignature})
	if err := v.StoreSignature("D5", []byte("john hancock"), "John Doe"); err != nil {
		t.Fatalf("StoreSignature: %v", err)
	}
	hash, ok := v.SignatureHash("D5")
	if !ok || hash == "" {
		t.Fatal("expected stored signature hash")
	}
}
