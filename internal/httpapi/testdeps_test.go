package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lastmile/courier-core/internal/access"
	"github.com/lastmile/courier-core/internal/audit"
	"github.com/lastmile/courier-core/internal/emergency"
	"github.com/lastmile/courier-core/internal/notify"
	"github.com/lastmile/courier-core/internal/obfuscate"
	"github.com/lastmile/courier-core/internal/realtime"
	"github.com/lastmile/courier-core/internal/security"
	"github.com/lastmile/courier-core/internal/telemetry"
	"github.com/lastmile/courier-core/internal/verify"
)

// locationAt builds a stationary obfuscated location in the given zone, for
// tests that need to drive the security monitor's detectors directly.
func locationAt(zoneID string) obfuscate.Location {
	return obfuscate.Location{ZoneID: zoneID, MovementState: obfuscate.MovementUnknown, Resolution: 9}
}

const testMasterKey = "0123456789abcdef0123456789abcdef"

// noopNotifier satisfies emergency.Notifier without touching the real
// dispatcher, since these tests exercise the HTTP layer, not delivery.
type noopNotifier struct{}

func (noopNotifier) Send(recipientID, channel, templateID string, content map[string]string, priority string) error {
	return nil
}

// resetRateLimiter clears the package-level rate limit buckets so each test
// starts with a clean quota; the limiter is keyed globally by client IP, not
// per Deps, since a real process only ever runs one.
func resetRateLimiter() {
	rlMu.Lock()
	rlBuckets = make(map[string]*bucket)
	rlMu.Unlock()
}

func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	resetRateLimiter()
	issuer, err := access.NewIssuer([]byte(testMasterKey))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	log := telemetry.New(io.Discard, telemetry.Options{Service: "test"})
	broadcaster := realtime.New(log)
	return &Deps{
		Log:      log,
		Issuer:   issuer,
		Ledger:   audit.NewLedger(),
		Verifier: verify.New(verify.Options{
			MasterKey:  []byte(testMasterKey),
			HMACSecret: []byte("hmac-secret-value"),
			OTPLength:  6,
			OTPTTL:     5 * time.Minute,
		}),
		Monitor:                security.NewMonitor(),
		Emergency:              emergency.New(noopNotifier{}, broadcaster),
		Notify:                 notify.New(notify.Options{MasterKey: []byte(testMasterKey)}),
		Realtime:               broadcaster,
		CodesSecret:            []byte("codes-secret-value"),
		CORSOrigin:             "*",
		LocationGridSizeMeters: 500,
		GeofenceRadiusMeters:   100,
		RateLimitWindow:        time.Minute,
		RateLimitMaxRequests:   1000,
	}
}

func tokenFor(t *testing.T, d *Deps, userID string, role access.Role) string {
	t.Helper()
	tok, err := d.Issuer.Sign(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tok
}

// newRequest builds a request against the full router (middleware included),
// optionally bearing an auth token for the given user/role.
func newRequest(t *testing.T, method, path string, body io.Reader) *http.Request {
	t.Helper()
	r := httptest.NewRequest(method, path, body)
	r.Header.Set("Content-Type", "application/json")
	return r
}

func withAuth(r *http.Request, t *testing.T, d *Deps, userID string, role access.Role) *http.Request {
	t.Helper()
	r.Header.Set("Authorization", "Bearer "+tokenFor(t, d, userID, role))
	return r
}

func doRequest(d *Deps, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	NewRouter(d).ServeHTTP(w, r)
	return w
}
