package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore is the durable, fleet-shared backend. Counters are stored as
// JSON values with a TTL slightly past their reset so Redis reclaims them.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client *redis.Client) CounterStore {
	if client == nil {
		panic("redis client is required")
	}
	return &redisStore{client: client}
}

func (s *redisStore) GetWindow(ctx context.Context, key string) (*WindowCounter, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var w WindowCounter
	if err := json.Unmarshal([]byte(val), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *redisStore) SetWindow(ctx context.Context, key string, w *WindowCounter, ttl time.Duration) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *redisStore) DeleteWindow(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *redisStore) GetBlock(ctx context.Context, userID uint) (*BlockRecord, error) {
	val, err := s.client.Get(ctx, blockKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var b BlockRecord
	if err := json.Unmarshal([]byte(val), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *redisStore) SetBlock(ctx context.Context, b *BlockRecord, ttl time.Duration) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, blockKey(b.UserID), data, ttl).Err()
}

func blockKey(userID uint) string {
	return fmt.Sprintf("ratelimit:block:%d", userID)
}
