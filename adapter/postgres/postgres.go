// Package postgres provides a pgx-backed adapter. The compare-and-set that
// serializes concurrent rotations is a conditional UPDATE: the row only moves
// out of its expected state when it is still in it, and RowsAffected tells
// the engine whether it won.
//
// Schema is in schema.sql. Bindings carry a unique (method, identifier)
// constraint; user deletion cascades to bindings and refresh records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	authcore "github.com/corvak/authcore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Adapter implements authcore.Adapter plus UserLookup, CredentialUpdater,
// and ExpirySweeper.
type Adapter struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Adapter {
	return &Adapter{pool: pool}
}

func (a *Adapter) GetUserByIdentifier(ctx context.Context, method, identifier string) (*authcore.User, error) {
	var userID string
	err := a.pool.QueryRow(ctx,
		`SELECT user_id FROM auth_bindings WHERE method = $1 AND identifier = $2`,
		method, identifier,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres adapter: %w", err)
	}
	return a.GetUserByID(ctx, userID)
}

func (a *Adapter) GetUserByID(ctx context.Context, id string) (*authcore.User, error) {
	var (
		user authcore.User
		data []byte
	)
	err := a.pool.QueryRow(ctx,
		`SELECT id, data FROM auth_users WHERE id = $1`, id,
	).Scan(&user.ID, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres adapter: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &user.Data); err != nil {
			return nil, fmt.Errorf("postgres adapter: decode user data: %w", err)
		}
	}

	rows, err := a.pool.Query(ctx,
		`SELECT method, identifier, COALESCE(password_hash, '') FROM auth_bindings WHERE user_id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres adapter: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b authcore.AuthBinding
		if err := rows.Scan(&b.Method, &b.Identifier, &b.PasswordHash); err != nil {
			return nil, fmt.Errorf("postgres adapter: %w", err)
		}
		user.Bindings = append(user.Bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres adapter: %w", err)
	}
	return &user, nil
}

func (a *Adapter) CreateUser(ctx context.Context, user authcore.User, initial authcore.RefreshRecord) (string, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	initial.UserID = user.ID

	data, err := json.Marshal(user.Data)
	if err != nil {
		return "", fmt.Errorf("postgres adapter: encode user data: %w", err)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres adapter: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO auth_users (id, data) VALUES ($1, $2)`,
		user.ID, data,
	); err != nil {
		return "", wrapPg(err)
	}
	for _, b := range user.Bindings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO auth_bindings (user_id, method, identifier, password_hash) VALUES ($1, $2, $3, NULLIF($4, ''))`,
			user.ID, b.Method, b.Identifier, b.PasswordHash,
		); err != nil {
			return "", wrapPg(err)
		}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO refresh_records (id, user_id, state, created_at, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		initial.ID, initial.UserID, string(initial.State), initial.CreatedAt, initial.ExpiresAt,
	); err != nil {
		return "", wrapPg(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", wrapPg(err)
	}
	return user.ID, nil
}

func (a *Adapter) GetRefreshRecord(ctx context.Context, id string) (*authcore.RefreshRecord, error) {
	var (
		rec   authcore.RefreshRecord
		state string
	)
	err := a.pool.QueryRow(ctx,
		`SELECT id, user_id, state, created_at, expires_at FROM refresh_records WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.UserID, &state, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres adapter: %w", err)
	}
	rec.State = authcore.RecordState(state)
	return &rec, nil
}

func (a *Adapter) CreateRefreshRecord(ctx context.Context, userID string, expiresAt time.Time) (authcore.RefreshRecord, error) {
	rec := authcore.RefreshRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     authcore.StateActive,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	if _, err := a.pool.Exec(ctx,
		`INSERT INTO refresh_records (id, user_id, state, created_at, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, string(rec.State), rec.CreatedAt, rec.ExpiresAt,
	); err != nil {
		return authcore.RefreshRecord{}, fmt.Errorf("postgres adapter: %w", err)
	}
	return rec, nil
}

func (a *Adapter) TransitionRefreshRecord(ctx context.Context, id string, expected, next authcore.RecordState) (bool, error) {
	tag, err := a.pool.Exec(ctx,
		`UPDATE refresh_records SET state = $3 WHERE id = $1 AND state = $2`,
		id, string(expected), string(next),
	)
	if err != nil {
		return false, fmt.Errorf("postgres adapter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (a *Adapter) RevokeAllForUser(ctx context.Context, userID string) error {
	if _, err := a.pool.Exec(ctx,
		`UPDATE refresh_records SET state = $2 WHERE user_id = $1 AND state = $3`,
		userID, string(authcore.StateRevoked), string(authcore.StateActive),
	); err != nil {
		return fmt.Errorf("postgres adapter: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteUser(ctx context.Context, userID string) error {
	// Bindings and refresh records go with the user via ON DELETE CASCADE.
	if _, err := a.pool.Exec(ctx,
		`DELETE FROM auth_users WHERE id = $1`, userID,
	); err != nil {
		return fmt.Errorf("postgres adapter: %w", err)
	}
	return nil
}

func (a *Adapter) UpdatePasswordHash(ctx context.Context, userID, method, newHash string) error {
	if _, err := a.pool.Exec(ctx,
		`UPDATE auth_bindings SET password_hash = $3 WHERE user_id = $1 AND method = $2`,
		userID, method, newHash,
	); err != nil {
		return fmt.Errorf("postgres adapter: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteExpiredRecords(ctx context.Context, before time.Time) (int64, error) {
	tag, err := a.pool.Exec(ctx,
		`DELETE FROM refresh_records WHERE expires_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres adapter: %w", err)
	}
	return tag.RowsAffected(), nil
}

func wrapPg(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return authcore.ErrDuplicateIdentifier
	}
	return fmt.Errorf("postgres adapter: %w", err)
}
