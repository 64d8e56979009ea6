package authcore

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestValidateBearerHeaderParsing(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	result := signup(t, engine, "alice@example.com", "correct-horse-battery")

	cases := []struct {
		name   string
		header string
		err    error
	}{
		{"empty", "", ErrMissingToken},
		{"no scheme", result.AccessToken, ErrMissingToken},
		{"wrong scheme", "Basic " + result.AccessToken, ErrMissingToken},
		{"bare scheme", "Bearer ", ErrMissingToken},
		{"ok", "Bearer " + result.AccessToken, nil},
		{"case insensitive scheme", "bearer " + result.AccessToken, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.ValidateBearer(context.Background(), tc.header)
			if !errors.Is(err, tc.err) {
				t.Fatalf("header %q: got %v, want %v", tc.header, err, tc.err)
			}
		})
	}
}

func TestValidateBearerRejectsTamperedToken(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	result := signup(t, engine, "alice@example.com", "correct-horse-battery")

	tampered := result.AccessToken[:len(result.AccessToken)-2] + "xx"
	if _, err := engine.ValidateBearer(context.Background(), "Bearer "+tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token: got %v, want ErrInvalidToken", err)
	}
}

func TestValidateBearerRejectsRefreshToken(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	result := signup(t, engine, "alice@example.com", "correct-horse-battery")

	if _, err := engine.ValidateBearer(context.Background(), "Bearer "+result.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token on bearer path: got %v, want ErrInvalidToken", err)
	}
}

func TestValidateBearerExpiry(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	result := signup(t, engine, "alice@example.com", "correct-horse-battery")

	clock.Advance(9 * time.Minute)
	if _, err := engine.ValidateBearer(context.Background(), "Bearer "+result.AccessToken); err != nil {
		t.Fatalf("inside TTL: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := engine.ValidateBearer(context.Background(), "Bearer "+result.AccessToken); !errors.Is(err, ErrExpired) {
		t.Fatalf("past TTL: got %v, want ErrExpired", err)
	}
}

func TestValidateCookiesMethodGuard(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	result := signup(t, engine, "alice@example.com", "correct-horse-battery")

	// A structurally valid cookie pair must not bypass the method guard.
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead} {
		if _, err := engine.ValidateCookies(context.Background(), result.Cookies, method); !errors.Is(err, ErrMethodNotAllowed) {
			t.Fatalf("%s with cookies: got %v, want ErrMethodNotAllowed", method, err)
		}
	}

	identity, err := engine.ValidateCookies(context.Background(), result.Cookies, http.MethodGet)
	if err != nil {
		t.Fatalf("GET with cookies: %v", err)
	}
	if identity.UserID != result.User.ID {
		t.Fatalf("identity user %s, want %s", identity.UserID, result.User.ID)
	}
}

func TestValidateCookiesMissingAccessCookie(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.ValidateCookies(context.Background(), nil, http.MethodGet)
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("no cookies: got %v, want ErrMissingToken", err)
	}

	stray := []*http.Cookie{{Name: "unrelated", Value: "x"}}
	if _, err := engine.ValidateCookies(context.Background(), stray, http.MethodGet); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("unrelated cookies: got %v, want ErrMissingToken", err)
	}
}

func TestSessionCookieAttributes(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	result := signup(t, engine, "alice@example.com", "correct-horse-battery")

	if len(result.Cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(result.Cookies))
	}
	access, refresh := result.Cookies[0], result.Cookies[1]
	if access.Name != engine.AccessCookieName() || refresh.Name != engine.RefreshCookieName() {
		t.Fatalf("cookie order/names wrong: %q, %q", access.Name, refresh.Name)
	}
	for _, c := range result.Cookies {
		if !c.HttpOnly {
			t.Fatalf("cookie %s must be HttpOnly", c.Name)
		}
		if c.Secure {
			t.Fatalf("cookie %s must not be Secure in development", c.Name)
		}
		if c.SameSite != http.SameSiteLaxMode {
			t.Fatalf("cookie %s SameSite = %v, want Lax", c.Name, c.SameSite)
		}
		if c.Path != "/" {
			t.Fatalf("cookie %s path = %q", c.Name, c.Path)
		}
	}
	if access.MaxAge != int((10 * time.Minute).Seconds()) {
		t.Fatalf("access cookie MaxAge = %d", access.MaxAge)
	}
	if refresh.MaxAge != int((14 * 24 * time.Hour).Seconds()) {
		t.Fatalf("refresh cookie MaxAge = %d", refresh.MaxAge)
	}
}

func TestProductionCookiesAreSecure(t *testing.T) {
	adapter := newFakeAdapter()
	cfg := testConfig()
	cfg.Environment = EnvProduction
	engine, err := New().WithConfig(cfg).WithAdapter(adapter).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	defer engine.Close()

	result := signup(t, engine, "alice@example.com", "correct-horse-battery")
	for _, c := range result.Cookies {
		if !c.Secure {
			t.Fatalf("cookie %s must be Secure in production", c.Name)
		}
	}
}

func TestClearSessionCookies(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	cleared := engine.ClearSessionCookies()
	if len(cleared) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cleared))
	}
	for _, c := range cleared {
		if c.MaxAge != -1 || c.Value != "" {
			t.Fatalf("cookie %s not cleared: MaxAge=%d Value=%q", c.Name, c.MaxAge, c.Value)
		}
	}
}
