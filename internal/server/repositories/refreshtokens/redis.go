package refreshtokens

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// Every write is a Lua script, so Redis applies it atomically. The scripts
// touch per-token keys derived from the identity set inside the script,
// which requires a standalone (non-cluster) deployment.

const createScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "token_id", ARGV[1], "user_id", ARGV[2], "created_at", ARGV[3], "expires_at", ARGV[4], "used", "0", "invalidated", "0")
redis.call("SADD", KEYS[2], ARGV[5])
return 1
`

const setFlagScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], "1")
return 1
`

const invalidateAllScript = `
local tokens = redis.call("SMEMBERS", KEYS[1])
for _, t in ipairs(tokens) do
  local k = ARGV[1] .. t
  if redis.call("EXISTS", k) == 1 then
    redis.call("HSET", k, "invalidated", "1")
  end
end
return #tokens
`

const (
	rotateNotLive   int64 = 0
	rotateRotated   int64 = 1
	rotateCollision int64 = -1
)

const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local f = redis.call("HMGET", KEYS[1], "user_id", "expires_at", "used", "invalidated")
if f[1] ~= ARGV[1] then
  return 0
end
if tonumber(f[2]) < tonumber(ARGV[2]) then
  return 0
end
if f[3] == "1" or f[4] == "1" then
  return 0
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return -1
end
redis.call("HSET", KEYS[1], "used", "1")
redis.call("HSET", KEYS[2], "token_id", ARGV[4], "user_id", ARGV[1], "created_at", ARGV[5], "expires_at", ARGV[6], "used", "0", "invalidated", "0")
redis.call("SADD", KEYS[3], ARGV[3])
return 1
`

var (
	createLua        = redis.NewScript(createScript)
	setFlagLua       = redis.NewScript(setFlagScript)
	invalidateAllLua = redis.NewScript(invalidateAllScript)
	rotateLua        = redis.NewScript(rotateScript)
)

// RedisRepository stores each record as a hash at <prefix>:rt:tok:<token> and
// indexes tokens per user in the set <prefix>:rt:uid:<userID>. The two
// namespaces never overlap, whatever string a caller presents as a token.
// Timestamps are unix milliseconds.
type RedisRepository struct {
	settings
	client redis.UniversalClient
	prefix string
}

func NewRedisRepository(client redis.UniversalClient, prefix string, opts ...Option) *RedisRepository {
	return &RedisRepository{settings: newSettings(opts), client: client, prefix: prefix}
}

func (r *RedisRepository) tokenKeyPrefix() string { return r.prefix + ":rt:tok:" }

func (r *RedisRepository) tokenKey(token string) string { return r.tokenKeyPrefix() + token }

func (r *RedisRepository) userKey(userID string) string { return r.prefix + ":rt:uid:" + userID }

func (r *RedisRepository) Create(ctx context.Context, userID string, tokenID string) (*models.RefreshToken, error) {
	rec, err := r.newRecord(userID, tokenID)
	if err != nil {
		return nil, err
	}

	res, err := createLua.Run(ctx, r.client,
		[]string{r.tokenKey(rec.Token), r.userKey(userID)},
		tokenID, userID, rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli(), rec.Token,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if res != 1 {
		return nil, errTokenCollision
	}
	return rec, nil
}

func (r *RedisRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	fields, err := r.client.HGetAll(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if len(fields) == 0 {
		return nil, common.ErrorNotFound
	}

	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis error: corrupt created_at: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis error: corrupt expires_at: %w", err)
	}

	return &models.RefreshToken{
		Token:       token,
		TokenID:     fields["token_id"],
		UserID:      fields["user_id"],
		CreatedAt:   time.UnixMilli(created).UTC(),
		ExpiresAt:   time.UnixMilli(expires).UTC(),
		Used:        fields["used"] == "1",
		Invalidated: fields["invalidated"] == "1",
	}, nil
}

func (r *RedisRepository) MarkUsed(ctx context.Context, token string) (bool, error) {
	return r.setFlag(ctx, token, "used")
}

func (r *RedisRepository) Invalidate(ctx context.Context, token string) (bool, error) {
	return r.setFlag(ctx, token, "invalidated")
}

func (r *RedisRepository) InvalidateAllForIdentity(ctx context.Context, userID string) error {
	err := invalidateAllLua.Run(ctx, r.client, []string{r.userKey(userID)}, r.tokenKeyPrefix()).Err()
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) Rotate(ctx context.Context, token string, userID string, tokenID string) (*models.RefreshToken, error) {
	next, err := r.newRecord(userID, tokenID)
	if err != nil {
		return nil, err
	}

	res, err := rotateLua.Run(ctx, r.client,
		[]string{r.tokenKey(token), r.tokenKey(next.Token), r.userKey(userID)},
		userID, r.now().UnixMilli(), next.Token, tokenID, next.CreatedAt.UnixMilli(), next.ExpiresAt.UnixMilli(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	switch res {
	case rotateRotated:
		return next, nil
	case rotateCollision:
		return nil, errTokenCollision
	default:
		return nil, common.ErrRefreshTokenNotLive
	}
}

func (r *RedisRepository) setFlag(ctx context.Context, token string, field string) (bool, error) {
	res, err := setFlagLua.Run(ctx, r.client, []string{r.tokenKey(token)}, field).Int64()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return res == 1, nil
}
