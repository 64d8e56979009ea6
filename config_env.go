package authcore

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// FromEnv builds a Config from environment variables, loading a .env file
// first when one exists. Unset variables keep their defaults; SECRET_KEY is
// the only variable without one, and Validate reports it when missing.
//
// Recognized variables:
//
//	AUTHCORE_SECRET_KEY        signing secret (required)
//	AUTHCORE_ENVIRONMENT       "development" or "production"
//	AUTHCORE_ACCESS_TTL        e.g. "10m"
//	AUTHCORE_REFRESH_TTL       e.g. "336h"
//	AUTHCORE_ISSUER            JWT issuer claim
//	AUTHCORE_LEEWAY            verification clock-skew allowance
//	AUTHCORE_COOKIE_PATH       cookie scope path
//	AUTHCORE_COOKIE_DOMAIN     cookie domain
//	AUTHCORE_THROTTLE_ENABLED  "true" to enable Redis throttles
//	AUTHCORE_AUDIT_ENABLED     "true" to enable the audit trail
func FromEnv() Config {
	// Missing .env is fine; real env vars still apply.
	_ = godotenv.Load()

	cfg := defaultConfig()
	cfg.SecretKey = []byte(getEnv("AUTHCORE_SECRET_KEY", ""))
	if env := getEnv("AUTHCORE_ENVIRONMENT", ""); env != "" {
		cfg.Environment = Environment(env)
	}
	cfg.AccessTokenTTL = getDuration("AUTHCORE_ACCESS_TTL", cfg.AccessTokenTTL)
	cfg.RefreshTokenTTL = getDuration("AUTHCORE_REFRESH_TTL", cfg.RefreshTokenTTL)
	cfg.Issuer = getEnv("AUTHCORE_ISSUER", cfg.Issuer)
	cfg.Leeway = getDuration("AUTHCORE_LEEWAY", cfg.Leeway)
	cfg.Cookie.Path = getEnv("AUTHCORE_COOKIE_PATH", cfg.Cookie.Path)
	cfg.Cookie.Domain = getEnv("AUTHCORE_COOKIE_DOMAIN", cfg.Cookie.Domain)
	cfg.Throttle.Enabled = getBool("AUTHCORE_THROTTLE_ENABLED", cfg.Throttle.Enabled)
	cfg.Audit.Enabled = getBool("AUTHCORE_AUDIT_ENABLED", cfg.Audit.Enabled)
	return cfg
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
