package authcore

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/corvak/authcore/token"
)

// ValidateBearer authenticates a request from its Authorization header. Only
// the access token's signature and expiry are checked — deliberately no store
// lookup, so a revoked-but-unexpired access token still passes until its TTL
// runs out. That staleness window is bounded by AccessTokenTTL.
func (e *Engine) ValidateBearer(ctx context.Context, authorization string) (*Identity, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	tok, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrMissingToken
	}
	return e.verifyAccess(tok)
}

// ValidateCookies authenticates a request from its cookie pair. Any non-GET
// method is rejected with ErrMethodNotAllowed before the token is even read:
// cross-site forms can carry cookies but cannot set an Authorization header,
// so state-changing requests must use the bearer path. This entry point is
// intentionally separate from ValidateBearer so callers cannot silently
// downgrade that guard.
func (e *Engine) ValidateCookies(ctx context.Context, cookies []*http.Cookie, httpMethod string) (*Identity, error) {
	if e == nil || e.codec == nil {
		return nil, ErrEngineNotReady
	}
	if !strings.EqualFold(httpMethod, http.MethodGet) {
		return nil, ErrMethodNotAllowed
	}

	var access string
	for _, c := range cookies {
		if c != nil && c.Name == e.config.Cookie.AccessName {
			access = c.Value
			break
		}
	}
	if access == "" {
		return nil, ErrMissingToken
	}
	return e.verifyAccess(access)
}

func (e *Engine) verifyAccess(tok string) (*Identity, error) {
	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
	}

	claims, err := e.codec.Verify(tok, token.UseAccess, e.now())

	if !start.IsZero() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, ErrExpired
		default:
			return nil, ErrInvalidToken
		}
	}

	identity := &Identity{UserID: claims.UID}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// bearerToken splits "Bearer <token>" case-insensitively.
func bearerToken(authorization string) (string, bool) {
	const prefix = "bearer "
	if len(authorization) <= len(prefix) {
		return "", false
	}
	if !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(authorization[len(prefix):])
	return tok, tok != ""
}
