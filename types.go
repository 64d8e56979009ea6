package authcore

import (
	"context"
	"net/http"
	"time"
)

// RecordState is the lifecycle state of a refresh record. ROTATED and REVOKED
// are absorbing: once a record leaves ACTIVE it never becomes usable again.
type RecordState string

const (
	StateActive  RecordState = "ACTIVE"
	StateRotated RecordState = "ROTATED"
	StateRevoked RecordState = "REVOKED"
)

// AuthBinding ties one authentication method to a user. A user may carry
// several bindings (email, username, an external provider subject) but a
// (Method, Identifier) pair is unique across the whole store.
type AuthBinding struct {
	Method       string `json:"method"`
	Identifier   string `json:"identifier"`
	PasswordHash string `json:"password_hash,omitempty"`
}

// User is the stored identity record. Data is opaque to the engine and is
// round-tripped through the adapter untouched.
type User struct {
	ID       string         `json:"id"`
	Bindings []AuthBinding  `json:"bindings"`
	Data     map[string]any `json:"data,omitempty"`
}

// Binding returns the binding for the given method, if present.
func (u *User) Binding(method string) (AuthBinding, bool) {
	for _, b := range u.Bindings {
		if b.Method == method {
			return b, true
		}
	}
	return AuthBinding{}, false
}

// Sanitized returns a copy of the user with password hashes stripped, suitable
// for returning to callers.
func (u *User) Sanitized() User {
	out := User{ID: u.ID, Data: u.Data}
	if len(u.Bindings) > 0 {
		out.Bindings = make([]AuthBinding, len(u.Bindings))
		for i, b := range u.Bindings {
			b.PasswordHash = ""
			out.Bindings[i] = b
		}
	}
	return out
}

// RefreshRecord is one link in a token family. Each successful refresh marks
// the current record ROTATED and persists a fresh ACTIVE one, so at most one
// ACTIVE record exists per family at any time.
type RefreshRecord struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	State     RecordState `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// SessionResult is the client-visible view of a freshly issued session. It is
// derived, never stored; cookies carry the same tokens for browser transports.
type SessionResult struct {
	User         User
	AccessToken  string
	RefreshToken string
	Cookies      []*http.Cookie
}

// Identity is what request validation yields: the subject of a verified access
// token. No store lookup backs it, so revocation only takes effect once the
// access token expires.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// CreateUserInput describes a sign-up request. Password is optional; methods
// that authenticate externally may bind an identifier without one.
type CreateUserInput struct {
	Method     string
	Identifier string
	Password   string
	Data       map[string]any
}

// Adapter is the persistence contract the engine runs over. Implementations
// hold no session logic; they provide linearizable data access.
//
// Lookup methods return (nil, nil) when the row is absent — the engine owns
// the decision of what a miss means. TransitionRefreshRecord is the one
// concurrency-sensitive call: it must compare-and-set the record state
// atomically and report false when the record was not in the expected state,
// so that exactly one of two racing refreshes wins.
type Adapter interface {
	// GetUserByIdentifier resolves a (method, identifier) binding to its user.
	GetUserByIdentifier(ctx context.Context, method, identifier string) (*User, error)
	// CreateUser persists a new user together with its initial refresh record.
	// It fails if any of the user's bindings collides with an existing one.
	CreateUser(ctx context.Context, user User, initial RefreshRecord) (string, error)
	// GetRefreshRecord fetches a refresh record by id.
	GetRefreshRecord(ctx context.Context, id string) (*RefreshRecord, error)
	// CreateRefreshRecord mints and persists a new ACTIVE record for the user.
	CreateRefreshRecord(ctx context.Context, userID string, expiresAt time.Time) (RefreshRecord, error)
	// TransitionRefreshRecord atomically moves a record from expected to next.
	// A false return means the record was absent or no longer in expected.
	TransitionRefreshRecord(ctx context.Context, id string, expected, next RecordState) (bool, error)
	// RevokeAllForUser marks every record owned by the user REVOKED.
	RevokeAllForUser(ctx context.Context, userID string) error
	// DeleteUser removes the user and revokes all of their records.
	DeleteUser(ctx context.Context, userID string) error
}

// UserLookup is an optional adapter capability. When present, refresh and
// validation results carry the full user record instead of a bare id.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// CredentialUpdater is an optional adapter capability backing ChangePassword.
type CredentialUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, method, newHash string) error
}

// ExpirySweeper is an optional adapter capability that deletes refresh records
// whose expiry has passed.
type ExpirySweeper interface {
	DeleteExpiredRecords(ctx context.Context, before time.Time) (int64, error)
}
