package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/corvak/authcore"
	"github.com/corvak/authcore/adaptertest"
	"github.com/corvak/authcore/password"
)

func newTestAdapter(t *testing.T) (*Adapter, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), srv
}

func TestConformance(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) authcore.Adapter {
		adapter, _ := newTestAdapter(t)
		return adapter
	})
}

func TestRecordKeysCarryTTL(t *testing.T) {
	adapter, srv := newTestAdapter(t)
	ctx := context.Background()

	userID, err := adapter.CreateUser(ctx, authcore.User{
		ID:       "user-1",
		Bindings: []authcore.AuthBinding{{Method: "email", Identifier: "alice@example.com", PasswordHash: "hash"}},
	}, authcore.RefreshRecord{
		ID:        "rec-1",
		UserID:    "user-1",
		State:     authcore.StateActive,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	rec, err := adapter.CreateRefreshRecord(ctx, userID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	// Redis reaps records itself: every record key must expire, with a grace
	// period past the record expiry so the engine sees stale records first.
	for _, id := range []string{"rec-1", rec.ID} {
		ttl := srv.TTL(recordKey(id))
		if ttl <= time.Hour || ttl > time.Hour+recordGrace {
			t.Fatalf("record %s TTL = %v, want in (1h, 1h+grace]", id, ttl)
		}
	}
}

// One Redis client commonly backs both the adapter and the engine's
// throttles. The throttle counters must stay out of the adapter's keyspace or
// the refresh counter INCR lands on the record hash and every rotation fails.
func TestSharedClientWithThrottles(t *testing.T) {
	adapter, srv := newTestAdapter(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := authcore.DefaultConfig()
	cfg.SecretKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Throttle.Enabled = true
	engine, err := authcore.New().
		WithConfig(cfg).
		WithAdapter(adapter).
		WithRedis(client).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	result, err := engine.CreateUser(context.Background(), authcore.CreateUserInput{
		Method:     "email",
		Identifier: "alice@example.com",
		Password:   "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	rotated, err := engine.RefreshSession(context.Background(), result.RefreshToken)
	if err != nil {
		t.Fatalf("first refresh on a fresh session failed: %v", err)
	}
	if _, err := engine.RefreshSession(context.Background(), rotated.RefreshToken); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
}

func TestTransitionIsAtomicUnderContention(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	if _, err := adapter.CreateUser(ctx, authcore.User{
		ID:       "user-1",
		Bindings: []authcore.AuthBinding{{Method: "email", Identifier: "alice@example.com", PasswordHash: "hash"}},
	}, authcore.RefreshRecord{
		ID:        "rec-1",
		UserID:    "user-1",
		State:     authcore.StateActive,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	const racers = 8
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		go func() {
			ok, err := adapter.TransitionRefreshRecord(ctx, "rec-1", authcore.StateActive, authcore.StateRotated)
			if err != nil {
				t.Errorf("transition: %v", err)
			}
			wins <- ok
		}()
	}

	won := 0
	for i := 0; i < racers; i++ {
		if <-wins {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("%d racers won the transition, want exactly 1", won)
	}
}

func TestDuplicateBindingClaimIsAtomic(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	mkUser := func(id string) (string, error) {
		return adapter.CreateUser(ctx, authcore.User{
			ID: id,
			Bindings: []authcore.AuthBinding{
				{Method: "email", Identifier: "alice@example.com", PasswordHash: "hash"},
				{Method: "username", Identifier: "alice", PasswordHash: "hash"},
			},
		}, authcore.RefreshRecord{
			ID:        id + "-rec",
			UserID:    id,
			State:     authcore.StateActive,
			CreatedAt: time.Now().UTC(),
			ExpiresAt: time.Now().Add(time.Hour).UTC(),
		})
	}

	if _, err := mkUser("user-1"); err != nil {
		t.Fatalf("first user: %v", err)
	}
	if _, err := mkUser("user-2"); err != authcore.ErrDuplicateIdentifier {
		t.Fatalf("second user: got %v, want ErrDuplicateIdentifier", err)
	}

	// The losing claim must not have left either binding pointing anywhere new.
	got, err := adapter.GetUserByIdentifier(ctx, "username", "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got == nil || got.ID != "user-1" {
		t.Fatalf("binding owner = %+v, want user-1", got)
	}
}

// A rejected sign-up must write nothing at all. A binding key without a user
// behind it would poison the identifier: duplicate for every later sign-up,
// invalid-credentials for every login.
func TestRejectedCreateUserLeavesNoKeys(t *testing.T) {
	adapter, srv := newTestAdapter(t)
	ctx := context.Background()

	if _, err := adapter.CreateUser(ctx, authcore.User{
		ID:       "user-1",
		Bindings: []authcore.AuthBinding{{Method: "email", Identifier: "alice@example.com", PasswordHash: "hash"}},
	}, authcore.RefreshRecord{
		ID:        "rec-1",
		UserID:    "user-1",
		State:     authcore.StateActive,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}); err != nil {
		t.Fatalf("first user: %v", err)
	}

	// One colliding binding, one fresh one. The whole sign-up is rejected and
	// neither the fresh binding nor any other key for user-2 may exist.
	_, err := adapter.CreateUser(ctx, authcore.User{
		ID: "user-2",
		Bindings: []authcore.AuthBinding{
			{Method: "email", Identifier: "alice@example.com", PasswordHash: "hash"},
			{Method: "username", Identifier: "bob", PasswordHash: "hash"},
		},
	}, authcore.RefreshRecord{
		ID:        "rec-2",
		UserID:    "user-2",
		State:     authcore.StateActive,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	})
	if err != authcore.ErrDuplicateIdentifier {
		t.Fatalf("second user: got %v, want ErrDuplicateIdentifier", err)
	}

	for _, key := range []string{"au:user-2", "ab:username:bob", "ar:rec-2", "aur:user-2"} {
		if srv.Exists(key) {
			t.Fatalf("rejected sign-up left %s behind", key)
		}
	}
}
