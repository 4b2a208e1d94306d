// Package crypto provides the AEAD encryption, HMAC key derivation, password
// hashing, and random token primitives shared by every component that
// handles sensitive data.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidFormat is returned when ciphertext does not have the
	// expected three colon-delimited, base64-encoded segments.
	ErrInvalidFormat = errors.New("crypto: invalid ciphertext format")
	// ErrAuthFailed is returned when the AEAD authentication tag does not
	// verify, i.e. the ciphertext was tampered with or decrypted under the
	// wrong context key.
	ErrAuthFailed = errors.New("crypto: authentication failed")
)

const nonceSize = 12 // 96 bits

// DeriveKey derives a per-context 256-bit key from masterKey using
// HMAC-SHA256, so that compromise of one context's derived key does not
// cascade to any other context.
func DeriveKey(masterKey []byte, contextID string) []byte {
	m := hmac.New(sha256.New, masterKey)
	_, _ = m.Write([]byte(contextID))
	return m.Sum(nil)
}

// Encrypt seals plaintext under the key derived for contextID, producing the
// wire form base64(nonce):base64(tag):base64(body).
func Encrypt(masterKey []byte, contextID string, plaintext []byte) (string, error) {
	key := DeriveKey(masterKey, contextID)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	tagSize := gcm.Overhead()
	body := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(body),
	}, ":"), nil
}

// Decrypt opens ciphertext under the key derived for contextID. Fewer than
// three colon-delimited segments yields ErrInvalidFormat; a tag mismatch
// (including decryption under the wrong contextID) yields ErrAuthFailed.
func Decrypt(masterKey []byte, contextID string, ciphertext string) ([]byte, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 3 {
		return nil, ErrInvalidFormat
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidFormat
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidFormat
	}
	body, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidFormat
	}
	if len(nonce) != nonceSize {
		return nil, ErrInvalidFormat
	}

	key := DeriveKey(masterKey, contextID)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, body...), tag...)
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plain, nil
}

// argon2 parameters chosen to satisfy a memory-hard scheme with a time-cost
// of at least 12.
const (
	argonTime    = 12
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword returns an argon2id hash encoded as
// "cost:base64(salt):base64(hash)".
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return strings.Join([]string{
		"12",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	}, ":"), nil
}

// VerifyPassword reports whether password matches encoded, in constant time.
func VerifyPassword(encoded, password string) bool {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1
}

// RandomToken returns n bytes of OS entropy, hex-encoded.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ConstantTimeEqualFold compares a and b case-insensitively, trimmed, in
// constant time with respect to the content (not the length) of the inputs.
func ConstantTimeEqualFold(a, b string) bool {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HMACSHA256 computes HMAC-SHA256(key, data).
func HMACSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(data)
	return m.Sum(nil)
}

// SHA256Hex returns the hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
