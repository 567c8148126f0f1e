package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Compare-and-delete / compare-and-expire scripts. Release and Extend must
// check ownership and act in one round trip, otherwise an expired holder
// could free a lock someone else reacquired.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// redisManager is the shared backend for multi-instance deployments.
// SET NX PX gives atomic acquire-with-TTL; a crashed holder's lock simply
// expires.
type redisManager struct {
	client *redis.Client
}

// NewRedisManager creates a Redis-backed lock manager.
func NewRedisManager(client *redis.Client) Manager {
	if client == nil {
		panic("redis client is required")
	}
	return &redisManager{client: client}
}

func (m *redisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotAcquired
	}
	return token, nil
}

func (m *redisManager) Release(ctx context.Context, key, token string) bool {
	n, err := releaseScript.Run(ctx, m.client, []string{keyPrefix + key}, token).Int()
	return err == nil && n == 1
}

func (m *redisManager) Extend(ctx context.Context, key, token string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	n, err := extendScript.Run(ctx, m.client, []string{keyPrefix + key}, token, ttl.Milliseconds()).Int()
	return err == nil && n == 1
}

func (m *redisManager) IsLocked(ctx context.Context, key string) bool {
	n, err := m.client.Exists(ctx, keyPrefix+key).Result()
	return err == nil && n > 0
}
