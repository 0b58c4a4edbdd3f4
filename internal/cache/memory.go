package cache

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/equipment-manuals/internal/metrics"
	"go.uber.org/zap"
)

// Option configures a Memory store.
type Option func(*options)

type options struct {
	now       func() time.Time
	namespace string
	logger    *zap.Logger
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNamespace labels hit/miss metrics.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithLogger sets the logger used by the janitor.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Memory is an in-process Store with lazy expiry.
// Expired entries stay in the map until Sweep reclaims them.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
	opts    options
}

// NewMemory builds an empty in-memory store.
func NewMemory[V any](opts ...Option) *Memory[V] {
	o := options{now: time.Now, namespace: "default", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory[V]{entries: make(map[string]Entry[V]), opts: o}
}

// Put stores value under key for ttl.
func (m *Memory[V]) Put(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = Entry[V]{Value: value, Created: m.opts.now(), TTL: ttl}
	m.mu.Unlock()
	return nil
}

// Get returns the live value for key.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !entry.Live(m.opts.now()) {
		metrics.ObserveCacheLookup(m.opts.namespace, false)
		var zero V
		return zero, false, nil
	}
	metrics.ObserveCacheLookup(m.opts.namespace, true)
	return entry.Value, true, nil
}

// Invalidate removes key.
func (m *Memory[V]) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live entries.
func (m *Memory[V]) Len() int {
	now := m.opts.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.Live(now) {
			n++
		}
	}
	return n
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory[V]) Sweep() int {
	now := m.opts.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if !e.Live(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is canceled.
func (m *Memory[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.opts.logger.Debug("cache sweep",
					zap.String("namespace", m.opts.namespace),
					zap.Int("removed", n),
				)
			}
		}
	}
}
