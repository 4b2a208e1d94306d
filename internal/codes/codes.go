// Package codes generates and validates the deterministic, themed hand-off
// codes drivers and recipients exchange at delivery time.
package codes

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lastmile/courier-core/internal/crypto"
)

//go:embed themes.yaml
var themesYAML []byte

const defaultTheme = "default"

var themes map[string][]string

func init() {
	var parsed map[string][]string
	if err := yaml.Unmarshal(themesYAML, &parsed); err != nil {
		panic(fmt.Sprintf("codes: invalid embedded theme asset: %v", err))
	}
	themes = parsed
}

const (
	minTTL     = 5 * time.Minute
	maxTTL     = 24 * time.Hour
	defaultTTL = 24 * time.Hour
)

// Code is a generated hand-off code.
type Code struct {
	DeliveryID string
	UserID     string
	Theme      string
	Value      string
	ExpiresAt  time.Time
}

// ClampTTL clamps ttl to the supported band [5m, 24h]; zero means "use the
// default" (24h).
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

// Generate deterministically derives a hand-off code from
// (deliveryID, userID, theme, hmacSecret). Identical inputs always produce
// identical output strings.
func Generate(hmacSecret []byte, deliveryID, userID, theme string, ttl time.Duration) Code {
	words, ok := themes[theme]
	if !ok || len(words) == 0 {
		theme = defaultTheme
		words = themes[defaultTheme]
	}

	h := crypto.HMACSHA256(hmacSecret, []byte(deliveryID+":"+userID))
	idx1 := (int(h[0])<<8 | int(h[1])) % len(words)
	idx2 := (int(h[2])<<8 | int(h[3])) % len(words)
	w1 := words[idx1]
	w2 := words[idx2]
	suffix := strings.ToLower(hex.EncodeToString(h[4:6]))

	return Code{
		DeliveryID: deliveryID,
		UserID:     userID,
		Theme:      theme,
		Value:      w1 + "-" + w2 + "-" + suffix,
		ExpiresAt:  time.Now().Add(ClampTTL(ttl)),
	}
}

// Validate reports whether a and b are the same code, using a
// case-insensitive, trimmed, constant-time comparison.
func Validate(a, b string) bool {
	return crypto.ConstantTimeEqualFold(a, b)
}
