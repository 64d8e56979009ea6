// Package memory provides an in-process adapter backed by maps. It is the
// reference implementation of the adapter contract and the default choice for
// tests and single-node development setups; nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	authcore "github.com/corvak/authcore"
	"github.com/google/uuid"
)

// Adapter implements authcore.Adapter plus the optional UserLookup,
// CredentialUpdater, and ExpirySweeper capabilities.
type Adapter struct {
	mu       sync.Mutex
	users    map[string]*authcore.User          // user id -> user
	bindings map[string]string                  // method \x00 identifier -> user id
	records  map[string]*authcore.RefreshRecord // record id -> record
}

func New() *Adapter {
	return &Adapter{
		users:    make(map[string]*authcore.User),
		bindings: make(map[string]string),
		records:  make(map[string]*authcore.RefreshRecord),
	}
}

func bindingKey(method, identifier string) string {
	return method + "\x00" + identifier
}

func (a *Adapter) GetUserByIdentifier(ctx context.Context, method, identifier string) (*authcore.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.bindings[bindingKey(method, identifier)]
	if !ok {
		return nil, nil
	}
	return copyUser(a.users[id]), nil
}

func (a *Adapter) GetUserByID(ctx context.Context, id string) (*authcore.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyUser(a.users[id]), nil
}

func (a *Adapter) CreateUser(ctx context.Context, user authcore.User, initial authcore.RefreshRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range user.Bindings {
		if _, exists := a.bindings[bindingKey(b.Method, b.Identifier)]; exists {
			return "", authcore.ErrDuplicateIdentifier
		}
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	stored := user
	a.users[user.ID] = &stored
	for _, b := range user.Bindings {
		a.bindings[bindingKey(b.Method, b.Identifier)] = user.ID
	}

	initial.UserID = user.ID
	rec := initial
	a.records[rec.ID] = &rec

	return user.ID, nil
}

func (a *Adapter) GetRefreshRecord(ctx context.Context, id string) (*authcore.RefreshRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[id]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (a *Adapter) CreateRefreshRecord(ctx context.Context, userID string, expiresAt time.Time) (authcore.RefreshRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := authcore.RefreshRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     authcore.StateActive,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	a.records[rec.ID] = &rec
	return rec, nil
}

func (a *Adapter) TransitionRefreshRecord(ctx context.Context, id string, expected, next authcore.RecordState) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[id]
	if !ok || rec.State != expected {
		return false, nil
	}
	rec.State = next
	return true, nil
}

func (a *Adapter) RevokeAllForUser(ctx context.Context, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range a.records {
		if rec.UserID == userID && rec.State == authcore.StateActive {
			rec.State = authcore.StateRevoked
		}
	}
	return nil
}

func (a *Adapter) DeleteUser(ctx context.Context, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, ok := a.users[userID]
	if ok {
		for _, b := range user.Bindings {
			delete(a.bindings, bindingKey(b.Method, b.Identifier))
		}
		delete(a.users, userID)
	}
	for id, rec := range a.records {
		if rec.UserID == userID {
			delete(a.records, id)
		}
	}
	return nil
}

func (a *Adapter) UpdatePasswordHash(ctx context.Context, userID, method, newHash string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, ok := a.users[userID]
	if !ok {
		return nil
	}
	for i := range user.Bindings {
		if user.Bindings[i].Method == method {
			user.Bindings[i].PasswordHash = newHash
		}
	}
	return nil
}

func (a *Adapter) DeleteExpiredRecords(ctx context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var n int64
	for id, rec := range a.records {
		if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(before) {
			delete(a.records, id)
			n++
		}
	}
	return n, nil
}

func copyUser(u *authcore.User) *authcore.User {
	if u == nil {
		return nil
	}
	out := *u
	if len(u.Bindings) > 0 {
		out.Bindings = append([]authcore.AuthBinding(nil), u.Bindings...)
	}
	return &out
}
