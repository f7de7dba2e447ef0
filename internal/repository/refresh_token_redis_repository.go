package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/storefront-auth/internal/models"
	appErrors "github.com/noah-isme/storefront-auth/pkg/errors"
)

const defaultRedisKeyPrefix = "storefront:refresh:"

// Records are hashes under <prefix>token:<token>; each principal has a set of
// its token values under <prefix>principal:<kind>:<id>. Timestamps are unix
// milliseconds and an empty revoked_at means active. The scripts derive record
// keys from the index set, so the store assumes a single Redis node.

const createRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1], "token", ARGV[2], "kind", ARGV[3], "principal_id", ARGV[4],
  "expires_at", ARGV[5], "revoked_at", "", "user_agent", ARGV[6],
  "ip_address", ARGV[7], "created_at", ARGV[8])
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`

const consumeRefreshScript = `
local fields = redis.call("HMGET", KEYS[1], "revoked_at", "expires_at")
if not fields[2] then
  return false
end
if fields[1] ~= "" then
  return false
end
if tonumber(fields[2]) <= tonumber(ARGV[1]) then
  return false
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
return redis.call("HGETALL", KEYS[1])
`

const revokeRefreshScript = `
local revoked = redis.call("HGET", KEYS[1], "revoked_at")
if revoked ~= "" then
  return 0
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
return 1
`

const revokeAllRefreshScript = `
local now = tonumber(ARGV[1])
local count = 0
for _, token in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[2] .. token
  local fields = redis.call("HMGET", key, "revoked_at", "expires_at")
  if fields[1] == "" and tonumber(fields[2]) > now then
    redis.call("HSET", key, "revoked_at", ARGV[1])
    count = count + 1
  end
  redis.call("SREM", KEYS[1], token)
end
return count
`

var (
	createRefreshLua    = redis.NewScript(createRefreshScript)
	consumeRefreshLua   = redis.NewScript(consumeRefreshScript)
	revokeRefreshLua    = redis.NewScript(revokeRefreshScript)
	revokeAllRefreshLua = redis.NewScript(revokeAllRefreshScript)
)

// RedisRefreshTokenRepository persists refresh tokens in Redis. Revoked records
// are kept; only the per-principal index shrinks.
type RedisRefreshTokenRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRefreshTokenRepository builds the store; an empty prefix selects the default.
func NewRedisRefreshTokenRepository(client *redis.Client, prefix string) *RedisRefreshTokenRepository {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisRefreshTokenRepository{client: client, prefix: prefix}
}

func (r *RedisRefreshTokenRepository) tokenKeyPrefix() string {
	return r.prefix + "token:"
}

func (r *RedisRefreshTokenRepository) tokenKey(token string) string {
	return r.tokenKeyPrefix() + token
}

func (r *RedisRefreshTokenRepository) principalKey(ref models.PrincipalRef) string {
	return r.prefix + "principal:" + string(ref.Kind()) + ":" + ref.ID()
}

// Create stores a new refresh token and indexes it under its principal.
func (r *RedisRefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.Principal.IsZero() {
		return errors.New("create refresh token: missing principal binding")
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	created, err := createRefreshLua.Run(ctx, r.client,
		[]string{r.tokenKey(token.Token), r.principalKey(token.Principal)},
		token.ID,
		token.Token,
		string(token.Principal.Kind()),
		token.Principal.ID(),
		token.ExpiresAt.UnixMilli(),
		token.UserAgent,
		token.IPAddress,
		token.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	if created == 0 {
		return appErrors.Clone(appErrors.ErrConflict, "refresh token already exists")
	}
	return nil
}

// Consume atomically revokes and returns the token if it was valid at now.
func (r *RedisRefreshTokenRepository) Consume(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	raw, err := consumeRefreshLua.Run(ctx, r.client, []string{r.tokenKey(token)}, now.UnixMilli()).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	return decodeRedisRecord(raw)
}

// FindByToken returns a refresh token regardless of its state.
func (r *RedisRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	fields, err := r.client.HGetAll(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if len(fields) == 0 {
		return nil, appErrors.ErrNotFound
	}
	return recordFromFields(fields)
}

// Revoke marks the token revoked if it exists and is not already revoked.
func (r *RedisRefreshTokenRepository) Revoke(ctx context.Context, token string, now time.Time) (bool, error) {
	changed, err := revokeRefreshLua.Run(ctx, r.client, []string{r.tokenKey(token)}, now.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return changed == 1, nil
}

// RevokeAllForPrincipal revokes every token of ref still valid at now.
func (r *RedisRefreshTokenRepository) RevokeAllForPrincipal(ctx context.Context, ref models.PrincipalRef, now time.Time) (int64, error) {
	if ref.IsZero() {
		return 0, errors.New("revoke refresh tokens: missing principal")
	}
	count, err := revokeAllRefreshLua.Run(ctx, r.client,
		[]string{r.principalKey(ref)},
		now.UnixMilli(),
		r.tokenKeyPrefix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("revoke principal refresh tokens: %w", err)
	}
	return count, nil
}

// Ping checks Redis connectivity.
func (r *RedisRefreshTokenRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func decodeRedisRecord(flat []string) (*models.RefreshToken, error) {
	if len(flat)%2 != 0 {
		return nil, errors.New("decode refresh token: odd field count")
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		fields[flat[i]] = flat[i+1]
	}
	return recordFromFields(fields)
}

func recordFromFields(fields map[string]string) (*models.RefreshToken, error) {
	kind, err := models.ParsePrincipalKind(fields["kind"])
	if err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	ref, err := models.NewPrincipalRef(kind, fields["principal_id"])
	if err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	expiresAt, err := parseMillis(fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("decode refresh token expires_at: %w", err)
	}
	createdAt, err := parseMillis(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decode refresh token created_at: %w", err)
	}

	token := &models.RefreshToken{
		ID:        fields["id"],
		Token:     fields["token"],
		Principal: ref,
		ExpiresAt: expiresAt,
		UserAgent: fields["user_agent"],
		IPAddress: fields["ip_address"],
		CreatedAt: createdAt,
	}
	if raw := fields["revoked_at"]; raw != "" {
		revokedAt, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("decode refresh token revoked_at: %w", err)
		}
		token.RevokedAt = &revokedAt
	}
	return token, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
