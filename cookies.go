package authcore

import (
	"net/http"
	"time"
)

// sessionCookies builds the ordered cookie pair for a freshly issued token
// pair. Both cookies are HttpOnly; Secure follows the environment. MaxAge
// mirrors each token's TTL so the browser drops them together with validity.
func (e *Engine) sessionCookies(accessToken, refreshToken string) []*http.Cookie {
	return []*http.Cookie{
		e.tokenCookie(e.config.Cookie.AccessName, accessToken, e.config.AccessTokenTTL),
		e.tokenCookie(e.config.Cookie.RefreshName, refreshToken, e.config.RefreshTokenTTL),
	}
}

// ClearSessionCookies returns expired cookies that remove the pair from the
// browser. Transport glue sets them on sign-out responses.
func (e *Engine) ClearSessionCookies() []*http.Cookie {
	access := e.tokenCookie(e.config.Cookie.AccessName, "", 0)
	refresh := e.tokenCookie(e.config.Cookie.RefreshName, "", 0)
	access.MaxAge = -1
	refresh.MaxAge = -1
	return []*http.Cookie{access, refresh}
}

// AccessCookieName returns the configured access-token cookie name.
func (e *Engine) AccessCookieName() string { return e.config.Cookie.AccessName }

// RefreshCookieName returns the configured refresh-token cookie name.
func (e *Engine) RefreshCookieName() string { return e.config.Cookie.RefreshName }

func (e *Engine) tokenCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     e.config.Cookie.Path,
		Domain:   e.config.Cookie.Domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   e.config.CookieSecure(),
		SameSite: e.config.Cookie.SameSite,
	}
}
