package apierrors

import (
	"net/http/httptest"
	"testing"
)

func TestNewEnvelopeUnknownCodeFallsBackToInternal(t *testing.T) {
	env := NewEnvelope(Code("not.a.real.code"), "boom", "req-1", nil)
	if env.Error.Code != Internal {
		t.Fatalf("expected fallback to Internal, got %s", env.Error.Code)
	}
}

func TestNewEnvelopeDetailsSortedAndBounded(t *testing.T) {
	details := map[string]any{"b": 2, "a": 1, "c": 3}
	env := NewEnvelope(ValidationInvalid, "bad", "req-1", details)
	if len(env.Error.Details) != 3 {
		t.Fatalf("expected 3 details, got %d", len(env.Error.Details))
	}
	if env.Error.Details[0].K != "a" || env.Error.Details[1].K != "b" || env.Error.Details[2].K != "c" {
		t.Fatalf("details not sorted: %+v", env.Error.Details)
	}
}

func TestWriteHTTPSetsStatusFromCode(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, AuthUnauthorized, "nope", "req-1", nil)
	if rec.Code != 401 {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHTTPStatusForUnknownCodeDefaults500(t *testing.T) {
	if HTTPStatusFor(Code("bogus")) != 500 {
		t.Fatalf("expected 500 default")
	}
}
