package authcore

import (
	"errors"
	"time"

	"github.com/corvak/authcore/internal/rate"
	"github.com/corvak/authcore/password"
	"github.com/corvak/authcore/token"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Use it once: configure, then Build.
type Builder struct {
	config    Config
	adapter   Adapter
	redis     redis.UniversalClient
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a builder preloaded with defaults. At minimum an adapter and a
// secret key must be supplied before Build.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration. The config is cloned; later
// mutations of the caller's copy do not reach the engine.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithAdapter sets the persistence backend. Required.
func (b *Builder) WithAdapter(a Adapter) *Builder {
	b.adapter = a
	return b
}

// WithRedis supplies the Redis client backing the login and refresh
// throttles. Without it, Throttle.Enabled is rejected at Build time.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets the destination for audit events. Ignored unless
// Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source. Tests use it to walk tokens
// across their expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process metric store.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles validate-path latency sampling.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. A builder can only
// build once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.adapter == nil {
		return nil, errors.New("adapter is required")
	}
	if cfg.Throttle.Enabled && b.redis == nil {
		return nil, errors.New("throttling requires a redis client")
	}

	codec, err := token.New(token.Config{
		SigningMethod: cfg.SigningMethod,
		Key:           cfg.SecretKey,
		Issuer:        cfg.Issuer,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Leeway:        cfg.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(cfg.Password)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:  cfg,
		adapter: b.adapter,
		codec:   codec,
		hasher:  hasher,
		metrics: NewMetrics(cfg.Metrics),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		now:     b.now,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if cfg.Throttle.Enabled {
		e.limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.Throttle.EnableIPThrottle,
			EnableRefreshThrottle: cfg.Throttle.EnableRefreshThrottle,
			MaxLoginAttempts:      cfg.Throttle.MaxLoginAttempts,
			LoginCooldown:         cfg.Throttle.LoginCooldown,
			MaxRefreshAttempts:    cfg.Throttle.MaxRefreshAttempts,
			RefreshCooldown:       cfg.Throttle.RefreshCooldown,
		})
	}

	b.built = true
	return e, nil
}
