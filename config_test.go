package authcore

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValidWithSecret(t *testing.T) {
	cfg := defaultConfig()
	cfg.SecretKey = []byte("dev-secret")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default development config: %v", err)
	}
}

func TestValidateCatchesBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			"missing secret",
			func(c *Config) { c.SecretKey = nil },
			"secret key",
		},
		{
			"unknown environment",
			func(c *Config) { c.Environment = "staging" },
			"environment",
		},
		{
			"short production secret",
			func(c *Config) {
				c.Environment = EnvProduction
				c.SecretKey = []byte("short")
			},
			"32 bytes",
		},
		{
			"long production access TTL",
			func(c *Config) {
				c.Environment = EnvProduction
				c.SecretKey = []byte("0123456789abcdef0123456789abcdef")
				c.AccessTokenTTL = 2 * time.Hour
			},
			"1h",
		},
		{
			"zero access TTL",
			func(c *Config) { c.AccessTokenTTL = 0 },
			"access token TTL",
		},
		{
			"refresh TTL not above access TTL",
			func(c *Config) { c.RefreshTokenTTL = c.AccessTokenTTL },
			"exceed",
		},
		{
			"oversized leeway",
			func(c *Config) { c.Leeway = 5 * time.Minute },
			"leeway",
		},
		{
			"colliding cookie names",
			func(c *Config) { c.Cookie.RefreshName = c.Cookie.AccessName },
			"differ",
		},
		{
			"SameSite none",
			func(c *Config) { c.Cookie.SameSite = http.SameSiteNoneMode },
			"SameSite",
		},
		{
			"throttle without limits",
			func(c *Config) {
				c.Throttle.Enabled = true
				c.Throttle.MaxLoginAttempts = 0
			},
			"login attempts",
		},
		{
			"audit without buffer",
			func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			"buffer",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.SecretKey = []byte("dev-secret")
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestCookieSecureFollowsEnvironment(t *testing.T) {
	cfg := defaultConfig()
	if cfg.CookieSecure() {
		t.Fatal("development cookies must not be Secure")
	}
	cfg.Environment = EnvProduction
	if !cfg.CookieSecure() {
		t.Fatal("production cookies must be Secure")
	}
}

func TestCloneConfigDetachesSecret(t *testing.T) {
	cfg := defaultConfig()
	cfg.SecretKey = []byte("dev-secret")
	clone := cloneConfig(cfg)
	clone.SecretKey[0] = 'X'
	if cfg.SecretKey[0] == 'X' {
		t.Fatal("clone shares the secret key backing array")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("AUTHCORE_SECRET_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("AUTHCORE_ENVIRONMENT", "production")
	t.Setenv("AUTHCORE_ACCESS_TTL", "15m")
	t.Setenv("AUTHCORE_REFRESH_TTL", "168h")
	t.Setenv("AUTHCORE_ISSUER", "api.example.com")
	t.Setenv("AUTHCORE_COOKIE_DOMAIN", "example.com")
	t.Setenv("AUTHCORE_THROTTLE_ENABLED", "true")
	t.Setenv("AUTHCORE_AUDIT_ENABLED", "1")

	cfg := FromEnv()
	if string(cfg.SecretKey) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("secret key: %q", cfg.SecretKey)
	}
	if cfg.Environment != EnvProduction {
		t.Fatalf("environment: %q", cfg.Environment)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("access TTL: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 168*time.Hour {
		t.Fatalf("refresh TTL: %v", cfg.RefreshTokenTTL)
	}
	if cfg.Issuer != "api.example.com" {
		t.Fatalf("issuer: %q", cfg.Issuer)
	}
	if cfg.Cookie.Domain != "example.com" {
		t.Fatalf("cookie domain: %q", cfg.Cookie.Domain)
	}
	if !cfg.Throttle.Enabled || !cfg.Audit.Enabled {
		t.Fatal("throttle/audit flags not picked up")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("env config should validate: %v", err)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"AUTHCORE_SECRET_KEY", "AUTHCORE_ENVIRONMENT", "AUTHCORE_ACCESS_TTL",
		"AUTHCORE_REFRESH_TTL", "AUTHCORE_ISSUER", "AUTHCORE_LEEWAY",
		"AUTHCORE_COOKIE_PATH", "AUTHCORE_COOKIE_DOMAIN",
		"AUTHCORE_THROTTLE_ENABLED", "AUTHCORE_AUDIT_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	base := defaultConfig()
	if cfg.Environment != base.Environment ||
		cfg.AccessTokenTTL != base.AccessTokenTTL ||
		cfg.RefreshTokenTTL != base.RefreshTokenTTL ||
		cfg.Cookie.Path != base.Cookie.Path {
		t.Fatalf("unset env vars should keep defaults: %+v", cfg)
	}
	if len(cfg.SecretKey) != 0 {
		t.Fatalf("secret key should be empty, got %q", cfg.SecretKey)
	}
	// And a config without a secret must not validate.
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing-secret error")
	}
}
