package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/equipment-manuals/internal/cache"
	"github.com/JakeFAU/equipment-manuals/internal/logging"
	"github.com/JakeFAU/equipment-manuals/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	manufacturersKey       = "manufacturers"
	manufacturersSnapshot  = "manufacturers.json"
	staleStreakLimit       = 2
	defaultCatalogTTL      = 5 * time.Minute
	defaultPageSize        = 100
	defaultMaxPageRequests = 6
)

// FetcherConfig tunes catalog caching and pagination.
type FetcherConfig struct {
	TTL             time.Duration
	PageSize        int
	MaxAttempts     int
	EscalatedLimits []int
	// KnownLimits are page sizes the upstream silently caps at; a page of exactly
	// one of these sizes is treated as truncated even if smaller than requested.
	KnownLimits []int
}

// DefaultFetcherConfig returns the limits observed on the upstream catalog.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		TTL:             defaultCatalogTTL,
		PageSize:        defaultPageSize,
		MaxAttempts:     defaultMaxPageRequests,
		EscalatedLimits: []int{500, 1000},
		KnownLimits:     []int{50, 100, 104},
	}
}

// Fetcher lists manufacturers and models through the backing cache.
type Fetcher struct {
	scraper       Scraper
	manufacturers cache.Store[[]Manufacturer]
	models        cache.Store[ModelList]
	snapshots     SnapshotStore
	cfg           FetcherConfig
	logger        *zap.Logger
	group         singleflight.Group
}

// NewFetcher wires a Fetcher. snapshots may be nil to disable warm starts.
func NewFetcher(
	scraper Scraper,
	manufacturers cache.Store[[]Manufacturer],
	models cache.Store[ModelList],
	snapshots SnapshotStore,
	cfg FetcherConfig,
	logger *zap.Logger,
) *Fetcher {
	def := DefaultFetcherConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.KnownLimits == nil {
		cfg.KnownLimits = def.KnownLimits
	}
	logger = logging.OrNop(logger)
	return &Fetcher{
		scraper:       scraper,
		manufacturers: manufacturers,
		models:        models,
		snapshots:     snapshots,
		cfg:           cfg,
		logger:        logger.Named("catalog"),
	}
}

// ListManufacturers returns manufacturers with at least one model, filtered by a
// case-insensitive name substring and capped at limit when limit > 0.
func (f *Fetcher) ListManufacturers(ctx context.Context, search string, limit int) ([]Manufacturer, error) {
	all, err := f.allManufacturers(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]Manufacturer, 0, len(all))
	for _, m := range all {
		if needle != "" && !strings.Contains(strings.ToLower(m.Name), needle) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Manufacturer finds a manufacturer by id or URI slug.
func (f *Fetcher) Manufacturer(ctx context.Context, id string) (Manufacturer, error) {
	all, err := f.allManufacturers(ctx)
	if err != nil {
		return Manufacturer{}, err
	}
	for _, m := range all {
		if strings.EqualFold(m.ID, id) || strings.EqualFold(m.URI, id) {
			return m, nil
		}
	}
	return Manufacturer{}, fmt.Errorf("manufacturer %q: %w", id, ErrNotFound)
}

// ListModels returns the manufacturer's models filtered by name or description.
// The Partial flag carries over from pagination.
func (f *Fetcher) ListModels(ctx context.Context, manufacturerID, search string, limit int) (ModelList, error) {
	mfr, err := f.Manufacturer(ctx, manufacturerID)
	if err != nil {
		return ModelList{}, err
	}
	list, err := f.allModels(ctx, mfr)
	if err != nil {
		return ModelList{}, err
	}
	needle := strings.ToLower(strings.TrimSpace(search))
	out := ModelList{Partial: list.Partial, Requests: list.Requests, Models: make([]Model, 0, len(list.Models))}
	for _, m := range list.Models {
		if needle != "" &&
			!strings.Contains(strings.ToLower(m.Name), needle) &&
			!strings.Contains(strings.ToLower(m.Description), needle) &&
			!strings.Contains(strings.ToLower(m.ID), needle) {
			continue
		}
		out.Models = append(out.Models, m)
		if limit > 0 && len(out.Models) == limit {
			break
		}
	}
	return out, nil
}

// Model finds one model by id, name, or slugified name.
func (f *Fetcher) Model(ctx context.Context, manufacturerID, modelID string) (Model, error) {
	list, err := f.ListModels(ctx, manufacturerID, "", 0)
	if err != nil {
		return Model{}, err
	}
	slug := Slugify(modelID)
	for _, m := range list.Models {
		if strings.EqualFold(m.ID, modelID) || strings.EqualFold(m.Name, modelID) || Slugify(m.Name) == slug {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("model %q of %q: %w", modelID, manufacturerID, ErrNotFound)
}

// CachedModelLists reports how many manufacturers currently have a live model list.
func (f *Fetcher) CachedModelLists(ctx context.Context, ids []string) int {
	n := 0
	for _, id := range ids {
		if _, ok, err := f.models.Get(ctx, strings.ToLower(id)); err == nil && ok {
			n++
		}
	}
	return n
}

// CachedManufacturers returns the cached manufacturer list without touching upstream.
func (f *Fetcher) CachedManufacturers(ctx context.Context) ([]Manufacturer, bool) {
	list, ok, err := f.manufacturers.Get(ctx, manufacturersKey)
	if err != nil || !ok {
		return nil, false
	}
	return list, true
}

func (f *Fetcher) allManufacturers(ctx context.Context) ([]Manufacturer, error) {
	if list, ok, err := f.manufacturers.Get(ctx, manufacturersKey); err == nil && ok {
		return list, nil
	}
	return shared(ctx, &f.group, manufacturersKey, func(ctx context.Context) ([]Manufacturer, error) {
		if list, ok, err := f.manufacturers.Get(ctx, manufacturersKey); err == nil && ok {
			return list, nil
		}
		fetched, err := f.scraper.FetchManufacturers(ctx)
		metrics.ObserveScrape("manufacturers", err)
		if err != nil {
			var snap []Manufacturer
			if f.readSnapshot(manufacturersSnapshot, &snap) {
				f.logger.Warn("serving manufacturer snapshot", zap.Error(err), zap.Int("count", len(snap)))
				putCache(ctx, f, f.manufacturers, manufacturersKey, snap)
				return snap, nil
			}
			return nil, fmt.Errorf("fetch manufacturers: %w", err)
		}
		list := make([]Manufacturer, 0, len(fetched))
		for _, m := range fetched {
			if m.ModelCount > 0 {
				list = append(list, m)
			}
		}
		putCache(ctx, f, f.manufacturers, manufacturersKey, list)
		f.writeSnapshot(manufacturersSnapshot, list)
		f.logger.Info("manufacturers fetched", zap.Int("count", len(list)), zap.Int("dropped_empty", len(fetched)-len(list)))
		return list, nil
	})
}

func (f *Fetcher) allModels(ctx context.Context, mfr Manufacturer) (ModelList, error) {
	key := strings.ToLower(mfr.ID)
	if list, ok, err := f.models.Get(ctx, key); err == nil && ok {
		return list, nil
	}
	return shared(ctx, &f.group, "models:"+key, func(ctx context.Context) (ModelList, error) {
		if list, ok, err := f.models.Get(ctx, key); err == nil && ok {
			return list, nil
		}
		snapshot := "models/" + Slugify(mfr.ID) + ".json"
		list, err := f.paginate(ctx, mfr)
		if err != nil {
			var snap ModelList
			if f.readSnapshot(snapshot, &snap) {
				f.logger.Warn("serving model snapshot", zap.String("manufacturer", mfr.ID), zap.Error(err))
				putCache(ctx, f, f.models, key, snap)
				return snap, nil
			}
			return ModelList{}, err
		}
		if list.Partial {
			f.logger.Warn("model list may be incomplete",
				zap.String("manufacturer", mfr.ID),
				zap.Int("models", len(list.Models)),
				zap.Int("requests", list.Requests),
				zap.Error(ErrPaginationIncomplete),
			)
		}
		putCache(ctx, f, f.models, key, list)
		f.writeSnapshot(snapshot, list)
		return list, nil
	})
}

// paginate pages through the upstream model list. It stops on a short page, after
// two consecutive pages with no new ids, or at the request cap.
func (f *Fetcher) paginate(ctx context.Context, mfr Manufacturer) (ModelList, error) {
	var (
		models    []Model
		seen      = make(map[string]struct{})
		requests  int
		offset    int
		stale     int
		complete  bool
		escalated bool
	)

	// add merges a page and reports how many ids were new.
	add := func(page []Model) int {
		added := 0
		for _, m := range page {
			id := modelKey(m)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if m.ID == "" {
				m.ID = m.Name
			}
			models = append(models, m)
			added++
		}
		return added
	}

	fetch := func(offset, limit int) ([]Model, error) {
		requests++
		page, err := f.scraper.FetchModelsPage(ctx, mfr.URI, offset, limit)
		metrics.ObserveScrape("models_page", err)
		return page, err
	}

	for requests < f.cfg.MaxAttempts {
		page, err := fetch(offset, f.cfg.PageSize)
		if err != nil {
			metrics.ObserveCatalogPage("error")
			if requests == 1 {
				return ModelList{}, fmt.Errorf("fetch models for %s: %w", mfr.ID, err)
			}
			f.logger.Warn("model page failed", zap.String("manufacturer", mfr.ID), zap.Int("offset", offset), zap.Error(err))
			break
		}
		offset += len(page)
		newIDs := add(page)
		// A short page ends the list even when it adds nothing new.
		if !f.truncated(len(page), f.cfg.PageSize) {
			metrics.ObserveCatalogPage("complete")
			complete = true
			break
		}
		if f.track(newIDs, &stale) {
			metrics.ObserveCatalogPage("stale")
			break
		}
		metrics.ObserveCatalogPage("truncated")

		if escalated {
			continue
		}
		escalated = true
		for _, limit := range f.cfg.EscalatedLimits {
			if requests >= f.cfg.MaxAttempts {
				break
			}
			big, err := fetch(0, limit)
			if err != nil {
				f.logger.Debug("escalated page failed", zap.String("manufacturer", mfr.ID), zap.Int("limit", limit), zap.Error(err))
				break
			}
			offset = max(offset, len(big))
			newIDs := add(big)
			if !f.truncated(len(big), limit) {
				complete = true
				break
			}
			if f.track(newIDs, &stale) {
				break
			}
			if newIDs == 0 {
				break
			}
		}
		if complete || stale >= staleStreakLimit {
			break
		}
	}

	return ModelList{Models: models, Partial: !complete, Requests: requests}, nil
}

// track updates the stale streak and reports whether the cycle guard tripped.
func (f *Fetcher) track(newIDs int, stale *int) bool {
	if newIDs > 0 {
		*stale = 0
		return false
	}
	*stale++
	return *stale >= staleStreakLimit
}

func (f *Fetcher) truncated(n, requested int) bool {
	if n == 0 {
		return false
	}
	return n >= requested || slices.Contains(f.cfg.KnownLimits, n)
}

func (f *Fetcher) readSnapshot(name string, v any) bool {
	if f.snapshots == nil {
		return false
	}
	if err := f.snapshots.ReadJSON(name, v); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("snapshot unreadable", zap.String("name", name), zap.Error(err))
		}
		return false
	}
	return true
}

func (f *Fetcher) writeSnapshot(name string, v any) {
	if f.snapshots == nil {
		return
	}
	if err := f.snapshots.WriteJSON(name, v); err != nil {
		f.logger.Warn("snapshot write failed", zap.String("name", name), zap.Error(err))
	}
}

func putCache[V any](ctx context.Context, f *Fetcher, store cache.Store[V], key string, v V) {
	if err := store.Put(ctx, key, v, f.cfg.TTL); err != nil {
		f.logger.Warn("cache put failed", zap.String("key", key), zap.Error(err))
	}
}

// shared runs fn once per key across concurrent callers. The flight runs detached
// from the first caller's cancellation so other waiters still get a result.
func shared[V any](ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (V, error)) (V, error) {
	ch := group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		var zero V
		return zero, fmt.Errorf("await %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses runs of non-alphanumerics into single hyphens.
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func modelKey(m Model) string {
	if id := strings.TrimSpace(m.ID); id != "" {
		return strings.ToLower(id)
	}
	return strings.ToLower(strings.TrimSpace(m.Name))
}
