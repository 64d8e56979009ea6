// Package redis provides a Redis-backed adapter. Refresh records are hashes
// carrying a state field mutated only through a Lua compare-and-set, which is
// what makes concurrent rotations on one family yield exactly one winner.
//
// Key namespace:
//
//	au:<user id>                user JSON
//	ab:<method>:<identifier>    binding index -> user id
//	ar:<record id>              refresh record hash
//	aur:<user id>               set of the user's record ids
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	authcore "github.com/corvak/authcore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Records outlive their expiry by this much so the engine, not Redis, decides
// what an expired-but-presented token means.
const recordGrace = time.Hour

const transitionScript = `
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  return 0
end
if state ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "state", ARGV[2])
return 1
`

// Claiming the bindings and writing the user plus its first record happen in
// one script: a partial failure must never leave a binding key pointing at a
// user that was never stored.
//
// KEYS: [1] user, [2] record, [3] user record set, [4..] bindings.
// ARGV: [1] user id, [2] user JSON, [3] state, [4] created_at, [5] expires_at,
// [6] record key expiry, [7] record id.
const createUserScript = `
for i = 4, #KEYS do
  if redis.call("EXISTS", KEYS[i]) == 1 then
    return 0
  end
end
for i = 4, #KEYS do
  redis.call("SET", KEYS[i], ARGV[1])
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("HSET", KEYS[2], "user_id", ARGV[1], "state", ARGV[3], "created_at", ARGV[4], "expires_at", ARGV[5])
redis.call("EXPIREAT", KEYS[2], ARGV[6])
redis.call("SADD", KEYS[3], ARGV[7])
return 1
`

const revokeAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for i = 1, #ids do
  local key = ARGV[1] .. ids[i]
  if redis.call("HGET", key, "state") == "ACTIVE" then
    redis.call("HSET", key, "state", "REVOKED")
    revoked = revoked + 1
  end
end
return revoked
`

var (
	transitionLua = redis.NewScript(transitionScript)
	createUserLua = redis.NewScript(createUserScript)
	revokeAllLua  = redis.NewScript(revokeAllScript)
)

// Adapter implements authcore.Adapter plus UserLookup and CredentialUpdater.
// Expired records are reaped by Redis TTLs, so it deliberately does not
// implement ExpirySweeper.
type Adapter struct {
	redis redis.UniversalClient
}

func New(client redis.UniversalClient) *Adapter {
	return &Adapter{redis: client}
}

func userKey(id string) string { return "au:" + id }

func bindingKey(method, ident string) string { return "ab:" + method + ":" + ident }

func recordKey(id string) string { return "ar:" + id }

func userRecordsKey(userID string) string { return "aur:" + userID }

func (a *Adapter) GetUserByIdentifier(ctx context.Context, method, identifier string) (*authcore.User, error) {
	id, err := a.redis.Get(ctx, bindingKey(method, identifier)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis adapter: %w", err)
	}
	return a.GetUserByID(ctx, id)
}

func (a *Adapter) GetUserByID(ctx context.Context, id string) (*authcore.User, error) {
	data, err := a.redis.Get(ctx, userKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis adapter: %w", err)
	}
	var user authcore.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("redis adapter: decode user %s: %w", id, err)
	}
	return &user, nil
}

func (a *Adapter) CreateUser(ctx context.Context, user authcore.User, initial authcore.RefreshRecord) (string, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	initial.UserID = user.ID

	data, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("redis adapter: encode user: %w", err)
	}

	keys := []string{userKey(user.ID), recordKey(initial.ID), userRecordsKey(user.ID)}
	for _, b := range user.Bindings {
		keys = append(keys, bindingKey(b.Method, b.Identifier))
	}
	created, err := createUserLua.Run(ctx, a.redis, keys,
		user.ID,
		data,
		string(initial.State),
		strconv.FormatInt(initial.CreatedAt.Unix(), 10),
		strconv.FormatInt(initial.ExpiresAt.Unix(), 10),
		strconv.FormatInt(initial.ExpiresAt.Add(recordGrace).Unix(), 10),
		initial.ID,
	).Int()
	if err != nil {
		return "", fmt.Errorf("redis adapter: %w", err)
	}
	if created == 0 {
		return "", authcore.ErrDuplicateIdentifier
	}
	return user.ID, nil
}

func (a *Adapter) GetRefreshRecord(ctx context.Context, id string) (*authcore.RefreshRecord, error) {
	fields, err := a.redis.HGetAll(ctx, recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis adapter: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return recordFromFields(id, fields)
}

func (a *Adapter) CreateRefreshRecord(ctx context.Context, userID string, expiresAt time.Time) (authcore.RefreshRecord, error) {
	rec := authcore.RefreshRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     authcore.StateActive,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeRecord(ctx, pipe, rec)
		return nil
	})
	if err != nil {
		return authcore.RefreshRecord{}, fmt.Errorf("redis adapter: %w", err)
	}
	return rec, nil
}

func (a *Adapter) TransitionRefreshRecord(ctx context.Context, id string, expected, next authcore.RecordState) (bool, error) {
	won, err := transitionLua.Run(ctx, a.redis, []string{recordKey(id)}, string(expected), string(next)).Int()
	if err != nil {
		return false, fmt.Errorf("redis adapter: %w", err)
	}
	return won == 1, nil
}

func (a *Adapter) RevokeAllForUser(ctx context.Context, userID string) error {
	err := revokeAllLua.Run(ctx, a.redis, []string{userRecordsKey(userID)}, "ar:").Err()
	if err != nil {
		return fmt.Errorf("redis adapter: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteUser(ctx context.Context, userID string) error {
	user, err := a.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	recordIDs, err := a.redis.SMembers(ctx, userRecordsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis adapter: %w", err)
	}

	keys := []string{userKey(userID), userRecordsKey(userID)}
	if user != nil {
		for _, b := range user.Bindings {
			keys = append(keys, bindingKey(b.Method, b.Identifier))
		}
	}
	for _, id := range recordIDs {
		keys = append(keys, recordKey(id))
	}

	if err := a.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis adapter: %w", err)
	}
	return nil
}

func (a *Adapter) UpdatePasswordHash(ctx context.Context, userID, method, newHash string) error {
	user, err := a.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	for i := range user.Bindings {
		if user.Bindings[i].Method == method {
			user.Bindings[i].PasswordHash = newHash
		}
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("redis adapter: encode user: %w", err)
	}
	if err := a.redis.Set(ctx, userKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis adapter: %w", err)
	}
	return nil
}

func writeRecord(ctx context.Context, pipe redis.Pipeliner, rec authcore.RefreshRecord) {
	key := recordKey(rec.ID)
	pipe.HSet(ctx, key,
		"user_id", rec.UserID,
		"state", string(rec.State),
		"created_at", strconv.FormatInt(rec.CreatedAt.Unix(), 10),
		"expires_at", strconv.FormatInt(rec.ExpiresAt.Unix(), 10),
	)
	pipe.ExpireAt(ctx, key, rec.ExpiresAt.Add(recordGrace))
	pipe.SAdd(ctx, userRecordsKey(rec.UserID), rec.ID)
}

func recordFromFields(id string, fields map[string]string) (*authcore.RefreshRecord, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: record %s: bad created_at", id)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: record %s: bad expires_at", id)
	}
	return &authcore.RefreshRecord{
		ID:        id,
		UserID:    fields["user_id"],
		State:     authcore.RecordState(fields["state"]),
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		ExpiresAt: time.Unix(expiresAt, 0).UTC(),
	}, nil
}
