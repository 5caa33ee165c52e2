package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a shared Redis instance. Multi-instance
// deployments use it so cached claimable amounts and detection results stay
// consistent across replicas.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis constructs a Redis-backed cache. Keys are namespaced with prefix
// to keep distinct caches from colliding on one instance.
func NewRedis[V any](client *redis.Client, prefix string, ttl time.Duration) (*Redis[V], error) {
	if client == nil {
		return nil, fmt.Errorf("cache: redis client required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, fmt.Errorf("cache: key prefix required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis[V]{client: client, prefix: prefix, ttl: ttl}, nil
}

func (r *Redis[V]) key(key string) string {
	return r.prefix + ":" + key
}

// Get fetches and decodes the cached value for key.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("cache: redis get: %w", err)
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	return value, true, nil
}

// Set encodes and stores the value under key with the configured TTL.
func (r *Redis[V]) Set(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Delete removes the entry for key.
func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}
