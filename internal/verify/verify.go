// Package verify implements the per-delivery verification state machine:
// OTP, photo, signature, geofence, and fallback-code proof of delivery.
package verify

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/lastmile/courier-core/internal/crypto"
	"github.com/lastmile/courier-core/internal/geo"
)

// Method is one of the required/completed proof-of-delivery methods.
type Method string

const (
	MethodOTP       Method = "otp"
	MethodPhoto     Method = "photo"
	MethodSignature Method = "signature"
	MethodGeofence  Method = "geofence"
	MethodCode      Method = "code"
)

const (
	minOTPLen     = 4
	maxOTPLen     = 8
	defaultOTPLen = 6

	minOTPTTL     = 60 * time.Second
	maxOTPTTL     = 900 * time.Second
	defaultOTPTTL = 300 * time.Second

	maxAttempts = 5

	defaultGeofenceRadiusMeters = 100

	maxPhotoBytes = 5 * 1024 * 1024
)

// VerifyReason explains a non-valid verifyOTP/fallback outcome.
type VerifyReason string

const (
	ReasonNoOTPGenerated      VerifyReason = "no_otp_generated"
	ReasonNoPendingOTP        VerifyReason = "no_pending_otp"
	ReasonOTPExpired          VerifyReason = "otp_expired"
	ReasonMaxAttemptsExceeded VerifyReason = "max_attempts_exceeded"
	ReasonInvalidOTP          VerifyReason = "invalid_otp"
)

// Result is the outcome of a verifyOTP or fallback call.
type Result struct {
	Valid     bool
	Reason    VerifyReason
	Remaining int
}

// PhotoMeta describes a stored delivery photo.
type PhotoMeta struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Mime   string `json:"mime"`
	Bytes  int    `json:"bytes"`
}

type otpRecord struct {
	secret       string // base32, never exposed
	ciphertext   string
	expiresAt    time.Time
	attemptCount int
	verified     bool
	verifiedAt   time.Time
	generated    bool
}

type photoRecord struct {
	ciphertext string
	meta       PhotoMeta
	capturedAt time.Time
}

type signatureRecord struct {
	ciphertext       string
	hash             string
	signerCiphertext string
	capturedAt       time.Time
}

type deliveryState struct {
	required     map[Method]struct{}
	completed    map[Method]struct{}
	isComplete   bool
	completedAt  time.Time

	otp       *otpRecord
	photo     *photoRecord
	signature *signatureRecord
}

// Verifier tracks per-delivery verification state. Safe for concurrent use.
type Verifier struct {
	mu         sync.Mutex
	deliveries map[string]*deliveryState

	masterKey  []byte
	hmacSecret []byte
	otpLen     int
	otpTTL     time.Duration
}

// Options configures a Verifier.
type Options struct {
	MasterKey  []byte // for AEAD context-derived encryption
	HMACSecret []byte // for fallback codes
	OTPLength  int    // clamped to [4,8]
	OTPTTL     time.Duration
}

// New returns a Verifier with no deliveries initialized.
func New(opt Options) *Verifier {
	return &Verifier{
		deliveries: make(map[string]*deliveryState),
		masterKey:  opt.MasterKey,
		hmacSecret: opt.HMACSecret,
		otpLen:     clampOTPLen(opt.OTPLength),
		otpTTL:     clampOTPTTL(opt.OTPTTL),
	}
}

func clampOTPLen(n int) int {
	if n <= 0 {
		return defaultOTPLen
	}
	if n < minOTPLen {
		return minOTPLen
	}
	if n > maxOTPLen {
		return maxOTPLen
	}
	return n
}

func clampOTPTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultOTPTTL
	}
	if d < minOTPTTL {
		return minOTPTTL
	}
	if d > maxOTPTTL {
		return maxOTPTTL
	}
	return d
}

// Initialize stores the required-methods set for a delivery. It starts
// in the "awaiting" state with an empty completed set.
func (v *Verifier) Initialize(deliveryID string, required []Method) {
	req := make(map[Method]struct{}, len(required))
	for _, m := range required {
		req[m] = struct{}{}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deliveries[deliveryID] = &deliveryState{
		required:  req,
		completed: make(map[Method]struct{}),
	}
}

func (v *Verifier) getOrCreate(deliveryID string) *deliveryState {
	st, ok := v.deliveries[deliveryID]
	if !ok {
		st = &deliveryState{
			required:  make(map[Method]struct{}),
			completed: make(map[Method]struct{}),
		}
		v.deliveries[deliveryID] = st
	}
	return st
}

// Status reports the current completion state of a delivery.
type Status struct {
	Required    []Method
	Completed   []Method
	Complete    bool
	CompletedAt time.Time
}

// Status returns the current verification status for deliveryID.
func (v *Verifier) Status(deliveryID string) (Status, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.deliveries[deliveryID]
	if !ok {
		return Status{}, false
	}
	return Status{
		Required:    methodSet(st.required),
		Completed:   methodSet(st.completed),
		Complete:    st.isComplete,
		CompletedAt: st.completedAt,
	}, true
}

func methodSet(m map[Method]struct{}) []Method {
	out := make([]Method, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// complete marks a method as completed, monotonically, and transitions the
// delivery to "complete" once required ⊆ completed. Must be called with the
// lock held.
func (st *deliveryState) complete(m Method) {
	if st.isComplete {
		return
	}
	st.completed[m] = struct{}{}
	for req := range st.required {
		if _, ok := st.completed[req]; !ok {
			return
		}
	}
	st.isComplete = true
	st.completedAt = time.Now().UTC()
}

// GenerateOTP lazily creates a per-delivery TOTP secret (which never leaves
// the process) and returns a fresh code for recipientID, valid for the
// configured OTP TTL.
func (v *Verifier) GenerateOTP(deliveryID, recipientID string) (code string, expiresAt time.Time, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.getOrCreate(deliveryID)
	if st.otp == nil || !st.otp.generated {
		secret, genErr := newTOTPSecret()
		if genErr != nil {
			return "", time.Time{}, genErr
		}
		ct, encErr := crypto.Encrypt(v.masterKey, otpContext(deliveryID), []byte(secret))
		if encErr != nil {
			return "", time.Time{}, encErr
		}
		st.otp = &otpRecord{secret: secret, ciphertext: ct, generated: true}
	}

	now := time.Now()
	code, err = totp.GenerateCodeCustom(st.otp.secret, now, totp.ValidateOpts{
		Period: uint(v.otpTTL / time.Second),
		Skew:   1,
		Digits: otp.Digits(v.otpLen),
	})
	if err != nil {
		return "", time.Time{}, err
	}
	st.otp.expiresAt = now.Add(v.otpTTL)
	return code, st.otp.expiresAt, nil
}

// VerifyOTP checks token against the pending OTP record for deliveryID.
// attemptCount always increments, including on the terminal successful
// call, so replaying a consumed token returns invalid_otp rather than
// resetting to success.
func (v *Verifier) VerifyOTP(deliveryID, token string) Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	st, ok := v.deliveries[deliveryID]
	if !ok || st.otp == nil || !st.otp.generated {
		return Result{Valid: false, Reason: ReasonNoOTPGenerated}
	}
	rec := st.otp

	if rec.expiresAt.IsZero() {
		return Result{Valid: false, Reason: ReasonNoPendingOTP}
	}

	// Attempt count always increments, even on the call that consumes a
	// record, so replay of an already-verified record counts against the
	// attempt bound rather than resetting it.
	if rec.attemptCount >= maxAttempts {
		return Result{Valid: false, Reason: ReasonMaxAttemptsExceeded, Remaining: 0}
	}
	rec.attemptCount++
	remaining := maxAttempts - rec.attemptCount
	if remaining < 0 {
		remaining = 0
	}

	if rec.verified {
		// Record already consumed; never re-validates as success.
		return Result{Valid: false, Reason: ReasonInvalidOTP, Remaining: remaining}
	}
	if time.Now().After(rec.expiresAt) {
		return Result{Valid: false, Reason: ReasonOTPExpired, Remaining: remaining}
	}

	valid, err := totp.ValidateCustom(token, rec.secret, time.Now(), totp.ValidateOpts{
		Period: uint(v.otpTTL / time.Second),
		Skew:   1,
		Digits: otp.Digits(v.otpLen),
	})
	if err != nil || !valid {
		return Result{Valid: false, Reason: ReasonInvalidOTP, Remaining: remaining}
	}

	rec.verified = true
	rec.verifiedAt = time.Now().UTC()
	st.complete(MethodOTP)
	return Result{Valid: true, Remaining: remaining}
}

// StorePhoto encrypts bytes under the delivery's context key and marks the
// photo method complete. Callers are expected to have already enforced the
// 5 MiB pre-encryption size cap before calling (it is re-checked here).
func (v *Verifier) StorePhoto(deliveryID string, data []byte, meta PhotoMeta) error {
	if len(data) > maxPhotoBytes {
		return fmt.Errorf("verify: photo exceeds %d bytes", maxPhotoBytes)
	}
	ct, err := crypto.Encrypt(v.masterKey, photoContext(deliveryID), data)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.getOrCreate(deliveryID)
	meta.Bytes = len(data)
	st.photo = &photoRecord{ciphertext: ct, meta: meta, capturedAt: time.Now().UTC()}
	st.complete(MethodPhoto)
	return nil
}

// StoreSignature hashes the plaintext signature data with SHA-256, encrypts
// both the signature and (if present) the signer name, and marks the
// signature method complete.
func (v *Verifier) StoreSignature(deliveryID string, data []byte, signerName string) error {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	ct, err := crypto.Encrypt(v.masterKey, signatureContext(deliveryID), data)
	if err != nil {
		return err
	}
	var signerCT string
	if strings.TrimSpace(signerName) != "" {
		signerCT, err = crypto.Encrypt(v.masterKey, signerContext(deliveryID), []byte(signerName))
		if err != nil {
			return err
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.getOrCreate(deliveryID)
	st.signature = &signatureRecord{
		ciphertext:       ct,
		hash:             hash,
		signerCiphertext: signerCT,
		capturedAt:       time.Now().UTC(),
	}
	st.complete(MethodSignature)
	return nil
}

// SignatureHash returns the stored SHA-256 hex digest for a delivery's
// signature, for the sha256(decrypt(sigCiphertext)) == sigHash invariant.
func (v *Verifier) SignatureHash(deliveryID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.deliveries[deliveryID]
	if !ok || st.signature == nil {
		return "", false
	}
	return st.signature.hash, true
}

// VerifyGeofence checks that driverLoc is within radius meters of
// deliveryLoc (Haversine distance), completing the geofence method on
// success. A zero radius means "use the default" (100 m).
func (v *Verifier) VerifyGeofence(deliveryID string, driverLoc, deliveryLoc geo.Point, radiusMeters float64) (ok bool, distanceMeters float64) {
	if radiusMeters <= 0 {
		radiusMeters = defaultGeofenceRadiusMeters
	}
	distanceMeters = geo.HaversineMeters(driverLoc, deliveryLoc)
	ok = distanceMeters <= radiusMeters

	v.mu.Lock()
	defer v.mu.Unlock()
	if ok {
		st := v.getOrCreate(deliveryID)
		st.complete(MethodGeofence)
	}
	return ok, distanceMeters
}

// Fallback checks code against the delivery's deterministic fallback code,
// derived as upper(hex(HMAC-SHA256(hmacSecret, deliveryID))[0:8]). On match,
// the delivery is marked complete with methods=[code].
func (v *Verifier) Fallback(deliveryID, code string) bool {
	expected := fallbackCode(v.hmacSecret, deliveryID)
	if !crypto.ConstantTimeEqualFold(code, expected) {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.getOrCreate(deliveryID)
	st.completed[MethodCode] = struct{}{}
	st.isComplete = true
	st.completedAt = time.Now().UTC()
	return true
}

func fallbackCode(hmacSecret []byte, deliveryID string) string {
	sum := crypto.HMACSHA256(hmacSecret, []byte(deliveryID))
	return strings.ToUpper(hex.EncodeToString(sum[:4]))
}

func newTOTPSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

func otpContext(deliveryID string) string       { return "otp:" + deliveryID }
func photoContext(deliveryID string) string     { return "photo:" + deliveryID }
func signatureContext(deliveryID string) string { return "signature:" + deliveryID }
func signerContext(deliveryID string) string    { return "signer:" + deliveryID }
