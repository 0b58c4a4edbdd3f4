package resolver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/equipment-manuals/internal/cache"
	"github.com/JakeFAU/equipment-manuals/internal/catalog"
)

// PatternStore persists learned rules keyed by manufacturer id.
type PatternStore interface {
	Load(ctx context.Context, manufacturer string) (PatternRule, bool, error)
	Save(ctx context.Context, rule PatternRule) error
}

const patternsSnapshot = "patterns.json"

// FileStore keeps rules in memory and mirrors them to a JSON snapshot.
type FileStore struct {
	mu        sync.Mutex
	rules     map[string]PatternRule
	snapshots catalog.SnapshotStore
}

// NewFileStore loads any existing snapshot. snapshots may be nil for memory-only use.
func NewFileStore(snapshots catalog.SnapshotStore) (*FileStore, error) {
	s := &FileStore{rules: make(map[string]PatternRule), snapshots: snapshots}
	if snapshots == nil {
		return s, nil
	}
	if err := snapshots.ReadJSON(patternsSnapshot, &s.rules); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	if s.rules == nil {
		s.rules = make(map[string]PatternRule)
	}
	return s, nil
}

// Load returns the rule for manufacturer.
func (s *FileStore) Load(_ context.Context, manufacturer string) (PatternRule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[strings.ToLower(manufacturer)]
	return rule.Clone(), ok, nil
}

// Save upserts rule and rewrites the snapshot.
func (s *FileStore) Save(_ context.Context, rule PatternRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[strings.ToLower(rule.Manufacturer)] = rule.Clone()
	if s.snapshots == nil {
		return nil
	}
	if err := s.snapshots.WriteJSON(patternsSnapshot, s.rules); err != nil {
		return fmt.Errorf("save patterns: %w", err)
	}
	return nil
}

// CachedStore fronts a PatternStore with the backing cache.
type CachedStore struct {
	backend PatternStore
	cache   cache.Store[PatternRule]
	ttl     time.Duration
}

// NewCachedStore wraps backend with a read-through cache.
func NewCachedStore(backend PatternStore, c cache.Store[PatternRule], ttl time.Duration) *CachedStore {
	return &CachedStore{backend: backend, cache: c, ttl: ttl}
}

// Load reads through the cache.
func (s *CachedStore) Load(ctx context.Context, manufacturer string) (PatternRule, bool, error) {
	key := strings.ToLower(manufacturer)
	if rule, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		return rule.Clone(), true, nil
	}
	rule, ok, err := s.backend.Load(ctx, key)
	if err != nil || !ok {
		return rule, ok, err
	}
	if err := s.cache.Put(ctx, key, rule.Clone(), s.ttl); err != nil {
		return rule, true, fmt.Errorf("cache pattern: %w", err)
	}
	return rule, true, nil
}

// Save writes through to the backend, then refreshes the cache.
func (s *CachedStore) Save(ctx context.Context, rule PatternRule) error {
	if err := s.backend.Save(ctx, rule); err != nil {
		return err
	}
	if err := s.cache.Put(ctx, strings.ToLower(rule.Manufacturer), rule.Clone(), s.ttl); err != nil {
		return fmt.Errorf("cache pattern: %w", err)
	}
	return nil
}
