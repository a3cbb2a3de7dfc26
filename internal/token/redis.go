package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kchenfs/PrepDeck/internal/domain"
)

// RedisStore shares the token record between processes. The record is a hash
// with access_token and expires_at (unix millis) that Redis expires on its own
// at ExpiresAt.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "prepdeck:token:"}
}

func (s *RedisStore) tokenKey(provider string) string { return s.prefix + provider }
func (s *RedisStore) leaseKey(provider string) string { return s.prefix + provider + ":lease" }

func (s *RedisStore) Load(ctx context.Context, provider string) (domain.AccessToken, bool, error) {
	data, err := s.client.HGetAll(ctx, s.tokenKey(provider)).Result()
	if err != nil {
		return domain.AccessToken{}, false, err
	}
	if len(data) == 0 || data["access_token"] == "" {
		return domain.AccessToken{}, false, nil
	}
	ms, err := strconv.ParseInt(data["expires_at"], 10, 64)
	if err != nil {
		return domain.AccessToken{}, false, fmt.Errorf("parse expires_at: %w", err)
	}
	return domain.AccessToken{
		Provider:  provider,
		Token:     data["access_token"],
		ExpiresAt: time.UnixMilli(ms),
	}, true, nil
}

func (s *RedisStore) Save(ctx context.Context, tok domain.AccessToken) error {
	key := s.tokenKey(tok.Provider)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, map[string]any{
			"access_token": tok.Token,
			"expires_at":   strconv.FormatInt(tok.ExpiresAt.UnixMilli(), 10),
		})
		p.PExpireAt(ctx, key, tok.ExpiresAt)
		return nil
	})
	return err
}

var deleteIfMatchScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'access_token') == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

func (s *RedisStore) DeleteIfMatch(ctx context.Context, provider, token string) error {
	err := deleteIfMatchScript.Run(ctx, s.client, []string{s.tokenKey(provider)}, token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLease takes the refresh lease with SET NX PX. release only deletes
// the lease if this holder still owns it.
func (s *RedisStore) AcquireLease(ctx context.Context, provider string, ttl time.Duration) (func(context.Context), bool, error) {
	key := s.leaseKey(provider)
	owner := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) {
		_ = releaseLeaseScript.Run(ctx, s.client, []string{key}, owner).Err()
	}
	return release, true, nil
}
