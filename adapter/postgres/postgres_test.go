//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corvak/authcore"
	"github.com/corvak/authcore/adaptertest"
)

// The test applies schema.sql itself so a throwaway database can run the
// suite with nothing but a DSN.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("AUTHCORE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUTHCORE_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("schema.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return pool
}

func resetTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(),
		`TRUNCATE auth_users, auth_bindings, refresh_records CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestConformance(t *testing.T) {
	pool := testPool(t)
	adaptertest.Run(t, func(t *testing.T) authcore.Adapter {
		resetTables(t, pool)
		return New(pool)
	})
}

func TestDeleteExpiredRecords(t *testing.T) {
	pool := testPool(t)
	resetTables(t, pool)
	adapter := New(pool)
	ctx := context.Background()
	now := time.Now()

	userID, err := adapter.CreateUser(ctx, authcore.User{
		Bindings: []authcore.AuthBinding{{Method: "email", Identifier: "alice@example.com", PasswordHash: "hash"}},
	}, authcore.RefreshRecord{
		ID:        uuid.NewString(),
		State:     authcore.StateActive,
		CreatedAt: now.Add(-48 * time.Hour),
		ExpiresAt: now.Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	live, err := adapter.CreateRefreshRecord(ctx, userID, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	deleted, err := adapter.DeleteExpiredRecords(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted %d records, want 1", deleted)
	}
	if rec, err := adapter.GetRefreshRecord(ctx, live.ID); err != nil || rec == nil {
		t.Fatalf("live record swept: rec=%v err=%v", rec, err)
	}
}
