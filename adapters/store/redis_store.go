package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces warden keys in a shared Redis
const DefaultRedisPrefix = "warden:"

// RedisKV is a Redis implementation of the KV interface
type RedisKV struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisKV creates a new Redis KV. An empty prefix uses DefaultRedisPrefix.
func NewRedisKV(client redis.UniversalClient, prefix string) *RedisKV {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisKV{
		client: client,
		prefix: prefix,
	}
}

var _ ports.KV = (*RedisKV)(nil)

// Get retrieves a value from Redis
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}

	return val, nil
}

// Set stores a value in Redis without expiration
func (s *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}

	return nil
}

// Delete removes a key from Redis
func (s *RedisKV) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}

	return nil
}
