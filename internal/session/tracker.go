// Package session tracks which browser sessions hold which cached assets.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/equipment-manuals/internal/assets"
	"github.com/JakeFAU/equipment-manuals/internal/catalog"
	"github.com/JakeFAU/equipment-manuals/internal/logging"
	"go.uber.org/zap"
)

// AssetStore is the reference-counting surface of the asset cache.
type AssetStore interface {
	GetOrFetch(ctx context.Context, rawURL string) (assets.Result, error)
	Retain(key string) error
	Release(ctx context.Context, key string) (bool, error)
}

// Tracker maps session ids to the asset keys they registered. Each key counts
// once per session against the asset's reference count.
// Lock order is tracker then asset store.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]map[string]struct{}
	assets   AssetStore
	logger   *zap.Logger
}

// NewTracker returns an empty tracker over store.
func NewTracker(store AssetStore, logger *zap.Logger) *Tracker {
	logger = logging.OrNop(logger)
	return &Tracker{
		sessions: make(map[string]map[string]struct{}),
		assets:   store,
		logger:   logger.Named("session"),
	}
}

// Fetch downloads (or reuses) rawURL and registers the asset with sessionID.
func (t *Tracker) Fetch(ctx context.Context, sessionID, rawURL string) (assets.Result, error) {
	var lastErr error
	for range 2 {
		res, err := t.assets.GetOrFetch(ctx, rawURL)
		if err != nil {
			return assets.Result{}, err
		}
		err = t.Register(sessionID, res.Key)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return assets.Result{}, err
		}
		// Evicted between fetch and register; fetch again.
		lastErr = err
	}
	return assets.Result{}, lastErr
}

// Register adds key to the session. Repeat registrations are no-ops.
func (t *Tracker) Register(sessionID, key string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	keys, ok := t.sessions[sessionID]
	if ok {
		if _, dup := keys[key]; dup {
			return nil
		}
	}
	if err := t.assets.Retain(key); err != nil {
		return fmt.Errorf("register %s: %w", key, err)
	}
	if !ok {
		keys = make(map[string]struct{})
		t.sessions[sessionID] = keys
	}
	keys[key] = struct{}{}
	return nil
}

// Clear releases every asset the session holds and forgets the session.
// Clearing an unknown or already cleared session returns 0. Releases finish
// even if ctx is canceled, since the session entry is already gone.
func (t *Tracker) Clear(ctx context.Context, sessionID string) (int, error) {
	ctx = context.WithoutCancel(ctx)
	t.mu.Lock()
	keys := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()

	var errs []error
	removed := 0
	for key := range keys {
		deleted, err := t.assets.Release(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if deleted {
			removed++
		}
	}
	t.logger.Debug("session cleared",
		zap.String("session", sessionID),
		zap.Int("released", len(keys)),
		zap.Int("deleted", removed),
	)
	if err := errors.Join(errs...); err != nil {
		return len(keys), fmt.Errorf("clear session: %w", err)
	}
	return len(keys), nil
}

// Release drops a single asset from the session. It reports whether the
// session held the key.
func (t *Tracker) Release(ctx context.Context, sessionID, key string) (bool, error) {
	t.mu.Lock()
	keys, ok := t.sessions[sessionID]
	if ok {
		_, ok = keys[key]
		delete(keys, key)
		if len(keys) == 0 {
			delete(t.sessions, sessionID)
		}
	}
	t.mu.Unlock()
	if !ok {
		return false, nil
	}
	if _, err := t.assets.Release(context.WithoutCancel(ctx), key); err != nil {
		return true, fmt.Errorf("release %s: %w", key, err)
	}
	return true, nil
}

// Assets lists the session's keys in sorted order.
func (t *Tracker) Assets(sessionID string) []string {
	t.mu.Lock()
	keys := make([]string, 0, len(t.sessions[sessionID]))
	for k := range t.sessions[sessionID] {
		keys = append(keys, k)
	}
	t.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Count returns the number of sessions holding at least one asset.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
