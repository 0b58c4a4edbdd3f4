// Package redisstore implements cache.Store on top of Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/equipment-manuals/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// Client is the subset of the go-redis client the store needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store keeps JSON-encoded values in Redis and lets Redis expire them.
type Store[V any] struct {
	client    Client
	prefix    string
	namespace string
}

// New wraps client; keys are stored as prefix+namespace+":"+key.
func New[V any](client Client, prefix, namespace string) *Store[V] {
	return &Store[V]{client: client, prefix: prefix, namespace: namespace}
}

func (s *Store[V]) key(k string) string {
	return s.prefix + s.namespace + ":" + k
}

// Put stores value for ttl. A non-positive ttl is never live, so nothing is written.
func (s *Store[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Invalidate(ctx, key)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get returns the value for key; redis.Nil is a miss.
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveCacheLookup(s.namespace, false)
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, fmt.Errorf("decode %s: %w", key, err)
	}
	metrics.ObserveCacheLookup(s.namespace, true)
	return value, true, nil
}

// Invalidate deletes key.
func (s *Store[V]) Invalidate(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
