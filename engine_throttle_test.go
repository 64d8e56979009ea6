package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newThrottledEngine(t *testing.T, mutate func(*Config)) (*Engine, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	cfg.Throttle.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := New().
		WithConfig(cfg).
		WithAdapter(newFakeAdapter()).
		WithRedis(client).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, srv
}

func TestLoginThrottleRejectsOverBudget(t *testing.T) {
	engine, _ := newThrottledEngine(t, func(cfg *Config) {
		cfg.Throttle.MaxLoginAttempts = 1
		cfg.Throttle.LoginCooldown = time.Minute
	})
	ctx := context.Background()
	signup(t, engine, "alice@example.com", "correct-horse-battery")

	if _, err := engine.AuthenticateUser(ctx, "email", "alice@example.com", "wrong-password-one"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("first failure: got %v, want ErrInvalidCredentials", err)
	}
	// The second failure blows the budget at record time, the third is cut off
	// before credentials are even read.
	if _, err := engine.AuthenticateUser(ctx, "email", "alice@example.com", "wrong-password-two"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("second failure: got %v, want ErrLoginRateLimited", err)
	}
	if _, err := engine.AuthenticateUser(ctx, "email", "alice@example.com", "correct-horse-battery"); !errors.Is(err, ErrLoginRateLimited) {
		t.Fatalf("throttled login: got %v, want ErrLoginRateLimited", err)
	}
}

func TestRefreshThrottleRejectsOverBudget(t *testing.T) {
	engine, _ := newThrottledEngine(t, func(cfg *Config) {
		cfg.Throttle.MaxRefreshAttempts = 1
		cfg.Throttle.RefreshCooldown = time.Minute
	})
	ctx := context.Background()
	result := signup(t, engine, "alice@example.com", "correct-horse-battery")

	if _, err := engine.RefreshSession(ctx, result.RefreshToken); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	// Hammering the same record id again trips the throttle before the reuse
	// check runs.
	if _, err := engine.RefreshSession(ctx, result.RefreshToken); !errors.Is(err, ErrRefreshRateLimited) {
		t.Fatalf("second refresh: got %v, want ErrRefreshRateLimited", err)
	}
}

// A dead throttle backend degrades to no throttling. Mapping transport
// failures to rate-limit errors would turn a Redis outage into a total
// lockout of logins and refreshes.
func TestThrottleOutageFailsOpen(t *testing.T) {
	engine, srv := newThrottledEngine(t, nil)
	ctx := context.Background()
	result := signup(t, engine, "alice@example.com", "correct-horse-battery")

	srv.Close()

	login, err := engine.AuthenticateUser(ctx, "email", "alice@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("login during throttle outage: %v", err)
	}
	if _, err := engine.RefreshSession(ctx, login.RefreshToken); err != nil {
		t.Fatalf("refresh during throttle outage: %v", err)
	}
	if _, err := engine.RefreshSession(ctx, result.RefreshToken); err != nil {
		t.Fatalf("refresh of signup session during outage: %v", err)
	}
}
