// Package adaptertest is the conformance suite for adapter implementations.
// Every backend must pass it; run it from the backend's own test package:
//
//	func TestConformance(t *testing.T) {
//		adaptertest.Run(t, func(t *testing.T) authcore.Adapter {
//			return memory.New()
//		})
//	}
//
// The factory is called once per subtest and must return an empty store.
package adaptertest

import (
	"context"
	"sync"
	"testing"
	"time"

	authcore "github.com/corvak/authcore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the conformance suite against adapters built by factory.
func Run(t *testing.T, factory func(t *testing.T) authcore.Adapter) {
	t.Run("UserLifecycle", func(t *testing.T) { testUserLifecycle(t, factory(t)) })
	t.Run("DuplicateIdentifier", func(t *testing.T) { testDuplicateIdentifier(t, factory(t)) })
	t.Run("RecordLifecycle", func(t *testing.T) { testRecordLifecycle(t, factory(t)) })
	t.Run("TransitionIsCompareAndSet", func(t *testing.T) { testTransitionCAS(t, factory(t)) })
	t.Run("ConcurrentTransitionSingleWinner", func(t *testing.T) { testConcurrentTransition(t, factory(t)) })
	t.Run("RevokeAllForUser", func(t *testing.T) { testRevokeAll(t, factory(t)) })
	t.Run("DeleteUserCascades", func(t *testing.T) { testDeleteUser(t, factory(t)) })
	t.Run("OptionalCapabilities", func(t *testing.T) { testOptionalCapabilities(t, factory(t)) })
}

func seedUser(t *testing.T, a authcore.Adapter, identifier string) (string, authcore.RefreshRecord) {
	t.Helper()
	rec := authcore.RefreshRecord{
		ID:        uuid.NewString(),
		State:     authcore.StateActive,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}
	userID, err := a.CreateUser(context.Background(), authcore.User{
		ID: uuid.NewString(),
		Bindings: []authcore.AuthBinding{
			{Method: "email", Identifier: identifier, PasswordHash: "$argon2id$stub"},
		},
	}, rec)
	require.NoError(t, err)
	rec.UserID = userID
	return userID, rec
}

func testUserLifecycle(t *testing.T, a authcore.Adapter) {
	ctx := context.Background()

	missing, err := a.GetUserByIdentifier(ctx, "email", "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown identifier must yield (nil, nil)")

	userID, _ := seedUser(t, a, "alice@example.com")

	user, err := a.GetUserByIdentifier(ctx, "email", "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, userID, user.ID)
	require.Len(t, user.Bindings, 1)
	assert.Equal(t, "email", user.Bindings[0].Method)
	assert.NotEmpty(t, user.Bindings[0].PasswordHash)

	wrongMethod, err := a.GetUserByIdentifier(ctx, "username", "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, wrongMethod, "identifier is scoped to its method")
}

func testDuplicateIdentifier(t *testing.T, a authcore.Adapter) {
	ctx := context.Background()
	seedUser(t, a, "bob@example.com")

	_, err := a.CreateUser(ctx, authcore.User{
		ID: uuid.NewString(),
		Bindings: []authcore.AuthBinding{
			{Method: "email", Identifier: "bob@example.com"},
		},
	}, authcore.RefreshRecord{ID: uuid.NewString(), State: authcore.StateActive, ExpiresAt: time.Now().Add(time.Hour)})
	require.ErrorIs(t, err, authcore.ErrDuplicateIdentifier)

	// The original user must be untouched.
	user, err := a.GetUserByIdentifier(ctx, "email", "bob@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "$argon2id$stub", user.Bindings[0].PasswordHash)
}

func testRecordLifecycle(t *testing.T, a authcore.Adapter) {
	ctx := context.Background()
	userID, initial := seedUser(t, a, "carol@example.com")

	missing, err := a.GetRefreshRecord(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown record must yield (nil, nil)")

	got, err := a.GetRefreshRecord(ctx, initial.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, authcore.StateActive, got.State)

	next, err := a.CreateRefreshRecord(ctx, userID, time.Now().Add(time.Hour).UTC())
	require.NoError(t, err)
	assert.NotEmpty(t, next.ID)
	assert.Equal(t, userID, next.UserID)
	assert.Equal(t, authcore.StateActive, next.State)

	reread, err := a.GetRefreshRecord(ctx, next.ID)
	require.NoError(t, err)
	require.NotNil(t, reread)
	assert.Equal(t, next.ID, reread.ID)
}

func testTransitionCAS(t *testing.T, a authcore.Adapter) {
	ctx := context.Background()
	_, rec := seedUser(t, a, "dave@example.com")

	won, err := a.TransitionRefreshRecord(ctx, rec.ID, authcore.StateActive, authcore.StateRotated)
	require.NoError(t, err)
	assert.True(t, won)

	// Second transition from ACTIVE must lose: the state moved on.
	won, err = a.TransitionRefreshRecord(ctx, rec.ID, authcore.StateActive, authcore.StateRotated)
	require.NoError(t, err)
	assert.False(t, won)

	// ROTATED is absorbing toward anything but matching expected state.
	won, err = a.TransitionRefreshRecord(ctx, rec.ID, authcore.StateRotated, authcore.StateRevoked)
	require.NoError(t, err)
	assert.True(t, won)

	// Missing records never transition.
	won, err = a.TransitionRefreshRecord(ctx, uuid.NewString(), authcore.StateActive, authcore.StateRotated)
	require.NoError(t, err)
	assert.False(t, won)
}

func testConcurrentTransition(t *testing.T, a authcore.Adapter) {
	ctx := context.Background()
	_, rec := seedUser(t, a, "erin@example.com")

	const racers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			won, err := a.TransitionRefreshRecord(ctx, rec.ID, authcore.StateActive, authcore.StateRotated)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one racer may win the transition")
}

func testRevokeAll(t *testing.T, a authcore.Adapter) {
	ctx := context.Background()
	userID, first := seedUser(t, a, "frank@example.com")
	second, err := a.CreateRefreshRecord(ctx, userID, time.Now().Add(time.Hour).UTC())
	require.NoError(t, err)

	otherID, otherRec := seedUser(t, a, "grace@example.com")

	require.NoError(t, a.RevokeAllForUser(ctx, userID))

	for _, id := range []string{first.ID, second.ID} {
		rec, err := a.GetRefreshRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, authcore.StateRevoked, rec.State)
	}

	// Another user's records stay live.
	rec, err := a.GetRefreshRecord(ctx, otherRec.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, authcore.StateActive, rec.State)
	_ = otherID
}

func testDeleteUser(t *testing.T, a authcore.Adapter) {
	ctx := context.Background()
	userID, rec := seedUser(t, a, "heidi@example.com")

	require.NoError(t, a.DeleteUser(ctx, userID))

	user, err := a.GetUserByIdentifier(ctx, "email", "heidi@example.com")
	require.NoError(t, err)
	assert.Nil(t, user, "binding must be gone after delete")

	got, err := a.GetRefreshRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got, "records must be cascade-removed")

	// The identifier is free for re-registration.
	_, err = a.CreateUser(ctx, authcore.User{
		ID:       uuid.NewString(),
		Bindings: []authcore.AuthBinding{{Method: "email", Identifier: "heidi@example.com"}},
	}, authcore.RefreshRecord{ID: uuid.NewString(), State: authcore.StateActive, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
}

func testOptionalCapabilities(t *testing.T, a authcore.Adapter) {
	ctx := context.Background()

	if lookup, ok := a.(authcore.UserLookup); ok {
		userID, _ := seedUser(t, a, "ivan@example.com")
		user, err := lookup.GetUserByID(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, userID, user.ID)

		missing, err := lookup.GetUserByID(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, missing)
	}

	if updater, ok := a.(authcore.CredentialUpdater); ok {
		userID, _ := seedUser(t, a, "judy@example.com")
		require.NoError(t, updater.UpdatePasswordHash(ctx, userID, "email", "$argon2id$new"))

		user, err := a.GetUserByIdentifier(ctx, "email", "judy@example.com")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "$argon2id$new", user.Bindings[0].PasswordHash)
	}

	if sweeper, ok := a.(authcore.ExpirySweeper); ok {
		userID, live := seedUser(t, a, "mallory@example.com")
		expired, err := a.CreateRefreshRecord(ctx, userID, time.Now().Add(-time.Hour).UTC())
		require.NoError(t, err)

		n, err := sweeper.DeleteExpiredRecords(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		gone, err := a.GetRefreshRecord(ctx, expired.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)

		kept, err := a.GetRefreshRecord(ctx, live.ID)
		require.NoError(t, err)
		assert.NotNil(t, kept, "unexpired records survive the sweep")
	}
}
