// Package rate implements the Redis-backed fixed-window throttles guarding
// login and refresh. Counters use INCR plus a conditional EXPIRE on the first
// hit of the window; keys are prefixed per concern:
//
//   - al:  — login per (method, identifier)
//   - ali: — login per client IP
//   - arl: — refresh per record id
//
// The prefixes are disjoint from the Redis adapter's key namespace so one
// client can back both the store and the throttles.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited means the counter exceeded its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config holds throttle tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	EnableRefreshThrottle bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	MaxRefreshAttempts    int
	RefreshCooldown       time.Duration
}

// Limiter enforces login and refresh budgets with Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

// CheckLogin reports whether the (method, identifier) pair — and the IP, when
// IP throttling is on — is still inside its attempt budget.
func (l *Limiter) CheckLogin(ctx context.Context, method, identifier, ip string) error {
	if err := l.checkCounter(ctx, loginKey(method, identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, loginIPKey(ip), l.config.MaxLoginAttempts); err != nil {
			return err
		}
	}
	return nil
}

// RecordLoginFailure counts a failed attempt against the identifier and IP.
func (l *Limiter) RecordLoginFailure(ctx context.Context, method, identifier, ip string) error {
	count, err := l.incrementWithTTL(ctx, loginKey(method, identifier), l.config.LoginCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.LoginCooldown)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetLogin clears failure counters after a successful authentication or a
// password change.
func (l *Limiter) ResetLogin(ctx context.Context, method, identifier, ip string) error {
	keys := []string{loginKey(method, identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckRefresh counts a rotation attempt against the record's family and
// rejects once the window budget is spent.
func (l *Limiter) CheckRefresh(ctx context.Context, recordID string) error {
	if !l.config.EnableRefreshThrottle {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, refreshKey(recordID), l.config.RefreshCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

// LoginAttempts returns the current counter for an identifier. Missing keys
// read as zero so the probe cannot reveal account existence.
func (l *Limiter) LoginAttempts(ctx context.Context, method, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, loginKey(method, identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// Fixed-window semantics: TTL is set only on the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

func loginKey(method, identifier string) string {
	return "al:" + method + ":" + identifier
}

func loginIPKey(ip string) string {
	return "ali:" + ip
}

func refreshKey(recordID string) string {
	return "arl:" + recordID
}
