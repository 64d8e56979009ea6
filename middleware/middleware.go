// Package middleware adapts the engine's validation entry points to net/http.
// The guards are deliberately separate: BearerGuard for APIs, CookieGuard for
// GET-only browser reads. There is no combined guard — picking one is what
// keeps the CSRF posture explicit.
package middleware

import (
	"context"
	"errors"
	"net/http"

	authcore "github.com/corvak/authcore"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity a guard attached to the request.
func IdentityFromContext(ctx context.Context) (*authcore.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authcore.Identity)
	return id, ok
}

// BearerGuard authenticates requests by their Authorization header and
// attaches the resulting identity to the request context.
func BearerGuard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			identity, err := engine.ValidateBearer(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				writeValidationError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CookieGuard authenticates GET requests by their access-token cookie. Any
// other method is refused outright; route state-changing traffic through
// BearerGuard instead.
func CookieGuard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			identity, err := engine.ValidateCookies(r.Context(), r.Cookies(), r.Method)
			if err != nil {
				writeValidationError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RefreshHandler rotates the session named by the refresh-token cookie and
// re-emits the cookie pair. Mount it on [authcore.RefreshEndpoint].
func RefreshHandler(engine *authcore.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		refresh := refreshCookie(engine, r)
		if refresh == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		result, err := engine.RefreshSession(r.Context(), refresh)
		if err != nil {
			writeValidationError(w, err)
			return
		}
		for _, c := range result.Cookies {
			http.SetCookie(w, c)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// SignOutHandler revokes the session named by the refresh-token cookie and
// clears the pair. Mount it on [authcore.SignOutEndpoint].
func SignOutHandler(engine *authcore.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if refresh := refreshCookie(engine, r); refresh != "" {
			// Sign-out with a dead token still clears the cookies.
			_ = engine.InvalidateSession(r.Context(), refresh)
		}
		for _, c := range engine.ClearSessionCookies() {
			http.SetCookie(w, c)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func refreshCookie(engine *authcore.Engine, r *http.Request) string {
	if engine == nil {
		return ""
	}
	c, err := r.Cookie(engine.RefreshCookieName())
	if err != nil {
		return ""
	}
	return c.Value
}

// writeValidationError maps the error taxonomy to HTTP statuses. The mapping
// mirrors what API documentation promises callers: credential and token
// failures are 401, the cookie-path method guard is 403.
func writeValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authcore.ErrMethodNotAllowed):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, authcore.ErrLoginRateLimited), errors.Is(err, authcore.ErrRefreshRateLimited):
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	case errors.Is(err, authcore.ErrAdapterFailure):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}
