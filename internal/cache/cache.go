// Package cache provides the TTL key-value store every other component caches through.
package cache

import (
	"context"
	"time"
)

// Store is a TTL key-value store. Get reports false for missing or expired keys.
type Store[V any] interface {
	Put(ctx context.Context, key string, value V, ttl time.Duration) error
	Get(ctx context.Context, key string) (V, bool, error)
	Invalidate(ctx context.Context, key string) error
}

// Entry is a cached value with its creation time and TTL.
type Entry[V any] struct {
	Value   V             `json:"value"`
	Created time.Time     `json:"created"`
	TTL     time.Duration `json:"ttl"`
}

// Live reports whether the entry may still be served at now.
func (e Entry[V]) Live(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.Created) < e.TTL
}
