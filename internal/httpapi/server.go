// Package httpapi wires every component behind the gorilla/mux router,
// the request-id/CORS/rate-limit/auth middleware chain, and the response
// envelopes: successful responses use {success,data,meta}, while error
// responses use apierrors' {error:{...}} body, which has no success or meta
// field.
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/mux"

	"github.com/lastmile/courier-core/internal/access"
	"github.com/lastmile/courier-core/internal/apierrors"
	"github.com/lastmile/courier-core/internal/audit"
	"github.com/lastmile/courier-core/internal/emergency"
	"github.com/lastmile/courier-core/internal/ids"
	"github.com/lastmile/courier-core/internal/notify"
	"github.com/lastmile/courier-core/internal/realtime"
	"github.com/lastmile/courier-core/internal/security"
	"github.com/lastmile/courier-core/internal/telemetry"
	"github.com/lastmile/courier-core/internal/verify"
)

// Deps are every component the router dispatches to. The composition root
// builds one of these and passes it to NewRouter.
type Deps struct {
	Log         *telemetry.Logger
	Issuer      *access.Issuer
	Ledger      *audit.Ledger
	Verifier    *verify.Verifier
	Monitor     *security.Monitor
	Emergency   *emergency.Orchestrator
	Notify      *notify.Dispatcher
	Realtime    *realtime.Broadcaster
	CodesSecret []byte
	CORSOrigin  string

	LocationGridSizeMeters int
	GeofenceRadiusMeters   float64

	RateLimitWindow       time.Duration
	RateLimitMaxRequests  int
}

// NewRouter assembles the full HTTP surface.
func NewRouter(d *Deps) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/location/{driverId}", d.handleUpdateLocation).Methods(http.MethodPost)
	api.HandleFunc("/location/{driverId}", d.handleGetLocation).Methods(http.MethodGet)
	api.HandleFunc("/zones/{zoneId}/center", d.handleZoneCenter).Methods(http.MethodGet)

	api.HandleFunc("/codes/{deliveryId}", d.handleGenerateCode).Methods(http.MethodPost)
	api.HandleFunc("/codes/{deliveryId}/validate", d.handleValidateCode).Methods(http.MethodPost)

	api.HandleFunc("/deliveries/{deliveryId}/verification", d.handleInitVerification).Methods(http.MethodPost)
	api.HandleFunc("/deliveries/{deliveryId}/verification", d.handleVerificationStatus).Methods(http.MethodGet)
	api.HandleFunc("/deliveries/{deliveryId}/verification/otp", d.handleGenerateOTP).Methods(http.MethodPost)
	api.HandleFunc("/deliveries/{deliveryId}/verification/otp/confirm", d.handleConfirmOTP).Methods(http.MethodPost)
	api.HandleFunc("/deliveries/{deliveryId}/verification/photo", d.handleStorePhoto).Methods(http.MethodPost)
	api.HandleFunc("/deliveries/{deliveryId}/verification/signature", d.handleStoreSignature).Methods(http.MethodPost)
	api.HandleFunc("/deliveries/{deliveryId}/verification/geofence", d.handleVerifyGeofence).Methods(http.MethodPost)
	api.HandleFunc("/deliveries/{deliveryId}/verification/fallback", d.handleVerifyFallback).Methods(http.MethodPost)

	api.HandleFunc("/security/alerts", d.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/security/alerts/{alertId}/ack", d.handleAckAlert).Methods(http.MethodPost)
	api.HandleFunc("/security/alerts/{alertId}/resolve", d.handleResolveAlert).Methods(http.MethodPost)
	api.HandleFunc("/security/stats", d.handleSecurityStats).Methods(http.MethodGet)
	api.HandleFunc("/expected-route", d.handleRegisterExpectedRoute).Methods(http.MethodPost)

	api.HandleFunc("/emergency/panic", d.handlePanic).Methods(http.MethodPost)
	api.HandleFunc("/emergency/accelerometer", d.handleAccelerometer).Methods(http.MethodPost)
	api.HandleFunc("/emergency/{emergencyId}/ack", d.handleAckEmergency).Methods(http.MethodPost)
	api.HandleFunc("/emergency/{emergencyId}/resolve", d.handleResolveEmergency).Methods(http.MethodPost)
	api.HandleFunc("/emergency", d.handleListEmergencies).Methods(http.MethodGet)

	api.HandleFunc("/notifications", d.handleSendNotification).Methods(http.MethodPost)
	api.HandleFunc("/notifications", d.handleListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{id}/delivered", d.handleMarkDelivered).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", d.handleMarkRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/preferences", d.handleSetPreferences).Methods(http.MethodPost)

	api.HandleFunc("/privacy/permissions", d.handlePermissions).Methods(http.MethodGet)
	api.HandleFunc("/audit/verify", d.handleAuditVerify).Methods(http.MethodGet)

	r.HandleFunc("/realtime/ws", d.handleWebSocket)

	return d.withMiddleware(r)
}

func (d *Deps) withMiddleware(next http.Handler) http.Handler {
	return requestID(cors(d.CORSOrigin)(d.rateLimit(d.authenticate(next))))
}

// ---- request id ----

const requestIDHeader = "X-Request-Id"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID(id) {
			id = newRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), ctxRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func newRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "req_fallback"
	}
	return "req_" + hex.EncodeToString(b[:])
}

// ---- CORS ----

func cors(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-Request-Id")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ---- rate limit ----

type bucket struct {
	count   int
	resetAt time.Time
}

var (
	rlMu      sync.Mutex
	rlBuckets = make(map[string]*bucket)
)

func (d *Deps) rateLimit(next http.Handler) http.Handler {
	window := d.RateLimitWindow
	if window <= 0 {
		window = 60 * time.Second
	}
	max := d.RateLimitMaxRequests
	if max <= 0 {
		max = 100
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ipKey(clientIP(r))
		now := time.Now().UTC()

		rlMu.Lock()
		b, ok := rlBuckets[key]
		if !ok || now.After(b.resetAt) {
			b = &bucket{resetAt: now.Add(window)}
			rlBuckets[key] = b
		}
		b.count++
		exceeded := b.count > max
		rlMu.Unlock()

		if exceeded {
			reqID, _ := r.Context().Value(ctxRequestID).(string)
			apierrors.Write(w, apierrors.RateLimitExceeded, "too many requests", reqID, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ipKey(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:16])
}

func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// ---- auth ----

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxClaims
)

// authenticate lets an unauthenticated request pass through to the
// handler; handlers that mutate state call requireAuth/requirePermission
// themselves before touching anything.
func (d *Deps) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			next.ServeHTTP(w, r)
			return
		}
		tok := strings.TrimSpace(authz[len("bearer "):])
		if tok == "" || d.Issuer == nil {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := d.Issuer.Verify(tok)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), ctxClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFrom(r *http.Request) (access.Claims, bool) {
	c, ok := r.Context().Value(ctxClaims).(access.Claims)
	return c, ok
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxRequestID).(string)
	return id
}

// requireAuth writes a 401 and returns false if the request has no valid
// claims attached. The denial itself is audited, since an unauthenticated
// access attempt against a protected resource is exactly the kind of event
// the ledger exists to catch.
func (d *Deps) requireAuth(w http.ResponseWriter, r *http.Request) (access.Claims, bool) {
	c, ok := claimsFrom(r)
	if !ok {
		d.audit("", "auth.authenticate", r.URL.Path, audit.ResultDenied, nil)
		apierrors.Write(w, apierrors.AuthUnauthorized, "authentication required", requestIDFrom(r), nil)
		return access.Claims{}, false
	}
	return c, true
}

// requirePermission calls requireAuth and additionally checks perm.
func (d *Deps) requirePermission(w http.ResponseWriter, r *http.Request, perm access.Permission) (access.Claims, bool) {
	c, ok := d.requireAuth(w, r)
	if !ok {
		return c, false
	}
	if !access.HasPermission(c.Role, perm) {
		d.audit(c.UserID, "auth.authorize", r.URL.Path, audit.ResultDenied, map[string]any{"permission": string(perm)})
		apierrors.Write(w, apierrors.AuthForbidden, "not authorized for this action", requestIDFrom(r), map[string]any{"permission": string(perm)})
		return c, false
	}
	return c, true
}

// audit appends one entry to the ledger. A nil Ledger (never the case once
// the composition root wires one, but kept defensive for package-level
// tests that build a bare Deps) makes this a no-op instead of a panic.
func (d *Deps) audit(actorID, action, resource string, result audit.Result, metadata map[string]any) {
	if d.Ledger == nil {
		return
	}
	d.Ledger.Append(ids.New(), actorID, action, resource, result, metadata)
}

// ---- response envelope ----

type meta struct {
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Meta    meta `json:"meta"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	env := successEnvelope{
		Success: true,
		Data:    data,
		Meta: meta{
			RequestID: requestIDFrom(r),
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}
