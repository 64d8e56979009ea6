package authcore

import (
	"errors"
	"net/http"
	"time"

	"github.com/corvak/authcore/password"
	"github.com/corvak/authcore/token"
)

// Environment selects the strictness profile. Production tightens secret and
// cookie requirements; development relaxes them for local work.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Reserved endpoints. Transport glue must route these two paths into the
// engine and application code must not reassign them: the refresh endpoint
// rotates the session, the sign-out endpoint revokes it.
const (
	RefreshEndpoint = "/auth/refresh"
	SignOutEndpoint = "/auth/signout"
)

// CookieConfig shapes the cookie pair attached to every SessionResult. The
// Secure attribute is not configurable: it follows Environment.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	// Path scopes both cookies. Defaults to "/"; deployments that serve the
	// auth endpoints under a prefix should narrow it.
	Path     string
	Domain   string
	SameSite http.SameSite
}

// ThrottleConfig tunes the optional Redis-backed login and refresh throttles.
// It only takes effect when the builder was given a Redis client.
type ThrottleConfig struct {
	Enabled               bool
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	MaxRefreshAttempts    int
	RefreshCooldown       time.Duration
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events when the buffer is full instead of blocking the
	// calling operation.
	DropIfFull bool
}

// MetricsConfig tunes the in-process metric store.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Config is the process-wide immutable configuration. Build it once at
// startup, hand it to the builder, and do not mutate it afterwards.
type Config struct {
	// SecretKey signs tokens. HS256 uses it directly; ed25519 treats it as the
	// private key (raw or PEM).
	SecretKey     []byte
	SigningMethod token.SigningMethod
	Environment   Environment

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	// Leeway is the clock-skew allowance applied during verification. Zero
	// means exact expiry.
	Leeway time.Duration

	Cookie   CookieConfig
	Password password.Config
	Throttle ThrottleConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// DefaultConfig returns the development baseline. Set SecretKey and call
// Validate before use; FromEnv does both wirings from the environment.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		SigningMethod:   token.MethodHS256,
		Environment:     EnvDevelopment,
		AccessTokenTTL:  10 * time.Minute,
		RefreshTokenTTL: 14 * 24 * time.Hour,
		Leeway:          0,
		Cookie: CookieConfig{
			AccessName:  "ac_access",
			RefreshName: "ac_refresh",
			Path:        "/",
			SameSite:    http.SameSiteLaxMode,
		},
		Password: password.Default(),
		Throttle: ThrottleConfig{
			Enabled:               false,
			EnableIPThrottle:      true,
			EnableRefreshThrottle: true,
			MaxLoginAttempts:      10,
			LoginCooldown:         15 * time.Minute,
			MaxRefreshAttempts:    30,
			RefreshCooldown:       time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate checks the config for internal consistency. Production mode
// enforces the stricter limits.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return errors.New("environment must be development or production")
	}

	if len(c.SecretKey) == 0 {
		return errors.New("secret key is required")
	}
	if c.Environment == EnvProduction && c.SigningMethod == token.MethodHS256 && len(c.SecretKey) < 32 {
		return errors.New("production hs256 secret must be at least 32 bytes")
	}

	if c.AccessTokenTTL <= 0 {
		return errors.New("access token TTL must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		return errors.New("refresh token TTL must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return errors.New("refresh token TTL must exceed access token TTL")
	}
	if c.Environment == EnvProduction && c.AccessTokenTTL > time.Hour {
		return errors.New("production access token TTL must not exceed 1h")
	}
	if c.Leeway < 0 || c.Leeway > 2*time.Minute {
		return errors.New("leeway must be between 0 and 2m")
	}

	if c.Cookie.AccessName == "" || c.Cookie.RefreshName == "" {
		return errors.New("cookie names are required")
	}
	if c.Cookie.AccessName == c.Cookie.RefreshName {
		return errors.New("cookie names must differ")
	}
	if c.Cookie.Path == "" {
		return errors.New("cookie path is required")
	}
	switch c.Cookie.SameSite {
	case http.SameSiteLaxMode, http.SameSiteStrictMode:
	case http.SameSiteNoneMode, http.SameSiteDefaultMode:
		return errors.New("cookie SameSite must be Lax or stricter")
	default:
		return errors.New("invalid cookie SameSite")
	}

	if c.Throttle.Enabled {
		if c.Throttle.MaxLoginAttempts <= 0 {
			return errors.New("throttle max login attempts must be positive")
		}
		if c.Throttle.LoginCooldown <= 0 {
			return errors.New("throttle login cooldown must be positive")
		}
		if c.Throttle.EnableRefreshThrottle {
			if c.Throttle.MaxRefreshAttempts <= 0 {
				return errors.New("throttle max refresh attempts must be positive")
			}
			if c.Throttle.RefreshCooldown <= 0 {
				return errors.New("throttle refresh cooldown must be positive")
			}
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive")
	}

	return nil
}

// CookieSecure reports whether issued cookies carry the Secure attribute.
func (c *Config) CookieSecure() bool {
	return c.Environment == EnvProduction
}

func cloneConfig(c Config) Config {
	out := c
	out.SecretKey = cloneBytes(c.SecretKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
