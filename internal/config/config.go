// Package config loads the courier core's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const minSecretLen = 32

// Config is the fully resolved, validated process configuration.
type Config struct {
	Env  string // "production" or anything else
	Port int
	Host string

	JWTSecret      string
	EncryptionKey  string
	HMACSecret     string

	LocationGridSizeMeters int
	CodeTTL                time.Duration
	CodeMaxAttempts        int
	OTPTTL                 time.Duration
	OTPLength              int

	RetentionLocation time.Duration
	RetentionDelivery time.Duration
	RetentionAudit    time.Duration

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	CORSOrigin           string

	DatabaseURL string
}

// IsProduction reports whether the process is running in production mode.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads configuration from the process environment and validates it.
// It refuses to return a Config if any secret is missing or shorter than 32
// characters; in production mode it also refuses any secret containing the
// literal CHANGE_ME.
func Load() (Config, error) {
	c := Config{
		Env:  getenv("NODE_ENV", "development"),
		Port: atoiDefault(getenv("PORT", ""), 3001),
		Host: getenv("HOST", "0.0.0.0"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		HMACSecret:    os.Getenv("HMAC_SECRET"),

		LocationGridSizeMeters: atoiDefault(getenv("LOCATION_GRID_SIZE_METERS", ""), 500),
		CodeTTL:                parseMinutes(getenv("CODE_TTL_MINUTES", ""), 30*time.Minute),
		CodeMaxAttempts:        atoiDefault(getenv("CODE_MAX_ATTEMPTS", ""), 5),
		OTPTTL:                 parseSeconds(getenv("OTP_TTL_SECONDS", ""), 300*time.Second),
		OTPLength:              atoiDefault(getenv("OTP_LENGTH", ""), 6),

		RetentionLocation: parseDays(getenv("RETENTION_DAYS_LOCATION", ""), 30*24*time.Hour),
		RetentionDelivery: parseDays(getenv("RETENTION_DAYS_DELIVERY", ""), 365*24*time.Hour),
		RetentionAudit:    parseDays(getenv("RETENTION_DAYS_AUDIT", ""), 2555*24*time.Hour),

		RateLimitWindow:      parseMillis(getenv("RATE_LIMIT_WINDOW_MS", ""), 60000*time.Millisecond),
		RateLimitMaxRequests: atoiDefault(getenv("RATE_LIMIT_MAX_REQUESTS", ""), 100),
		CORSOrigin:           os.Getenv("CORS_ORIGIN"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
	}

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	secrets := map[string]string{
		"JWT_SECRET":     c.JWTSecret,
		"ENCRYPTION_KEY": c.EncryptionKey,
		"HMAC_SECRET":    c.HMACSecret,
	}
	for name, v := range secrets {
		if v == "" {
			return fmt.Errorf("config: %s is required", name)
		}
		if len(v) < minSecretLen {
			return fmt.Errorf("config: %s must be at least %d characters", name, minSecretLen)
		}
	}
	if c.IsProduction() {
		for name, v := range secrets {
			if strings.Contains(v, "CHANGE_ME") {
				return fmt.Errorf("config: %s must not contain CHANGE_ME in production", name)
			}
		}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseMinutes(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Minute
}

func parseSeconds(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

func parseMillis(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func parseDays(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return time.Duration(n) * 24 * time.Hour
}
