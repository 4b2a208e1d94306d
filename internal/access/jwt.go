// Package access implements bearer-token authentication and the fixed
// role/permission matrix guarding every mutating operation in the courier
// core.
package access

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lastmile/courier-core/internal/crypto"
)

var (
	// ErrTokenInvalid covers malformed tokens, bad signatures, and claims
	// that fail basic sanity checks.
	ErrTokenInvalid = errors.New("access: token invalid")
	// ErrTokenExpired is returned separately so callers can map it to its
	// own error code.
	ErrTokenExpired = errors.New("access: token expired")
)

// Claims is the payload of a courier-core bearer token.
type Claims struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Exp    int64  `json:"exp"` // unix seconds
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Issuer signs and verifies HS256 bearer tokens using a single shared
// secret.
type Issuer struct {
	secret []byte
}

// NewIssuer returns an Issuer using secret for signing and verification.
func NewIssuer(secret []byte) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("access: secret required")
	}
	return &Issuer{secret: append([]byte{}, secret...)}, nil
}

// Sign issues a token for userID/role that expires after ttl.
func (i *Issuer) Sign(userID string, role Role, ttl time.Duration) (string, error) {
	c := Claims{UserID: userID, Role: role, Exp: time.Now().Add(ttl).Unix()}
	hb, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	pb, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	h64 := b64url(hb)
	p64 := b64url(pb)
	unsigned := h64 + "." + p64
	sig := crypto.HMACSHA256(i.secret, []byte(unsigned))
	return unsigned + "." + b64url(sig), nil
}

// Verify checks the signature and expiry of tok and returns its claims.
func (i *Issuer) Verify(tok string) (Claims, error) {
	tok = strings.TrimSpace(tok)
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return Claims{}, ErrTokenInvalid
	}

	unsigned := parts[0] + "." + parts[1]
	want := crypto.HMACSHA256(i.secret, []byte(unsigned))
	got, err := b64urlDecode(parts[2])
	if err != nil || len(want) != len(got) || subtle.ConstantTimeCompare(want, got) != 1 {
		return Claims{}, ErrTokenInvalid
	}

	pb, err := b64urlDecode(parts[1])
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	var c Claims
	if err := json.Unmarshal(pb, &c); err != nil {
		return Claims{}, ErrTokenInvalid
	}
	if c.UserID == "" || !c.Role.Valid() {
		return Claims{}, ErrTokenInvalid
	}
	if time.Now().Unix() > c.Exp {
		return Claims{}, ErrTokenExpired
	}
	return c, nil
}

func b64url(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
