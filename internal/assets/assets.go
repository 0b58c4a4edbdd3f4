// Package assets caches downloaded manual PDFs and their first-page previews on
// disk, keyed by a hash of the canonical manual URL, with reference-counted eviction.
package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/equipment-manuals/internal/catalog"
	"github.com/JakeFAU/equipment-manuals/internal/clock/system"
	"github.com/JakeFAU/equipment-manuals/internal/hash/sha256"
	"github.com/JakeFAU/equipment-manuals/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const previewSuffix = "_preview.png"

// Config tunes the asset cache.
type Config struct {
	Dir             string
	BaseURL         string
	MaxAge          time.Duration
	DownloadTimeout time.Duration
	RenderTimeout   time.Duration
}

// Record is the index entry for one cached asset.
type Record struct {
	Key                string
	URL                string
	FilePath           string
	PreviewPath        string
	Title              string
	Size               int64
	Pages              int
	PreviewUnavailable bool
	Created            time.Time
	LastAccess         time.Time
	Refs               int
}

// Result describes a cached asset to callers.
type Result struct {
	Key                string
	URL                string
	FilePath           string
	FileName           string
	PreviewPath        string
	PreviewName        string
	Title              string
	Size               int64
	Pages              int
	PreviewUnavailable bool
}

// Cache owns the asset directory and its index.
type Cache struct {
	cfg        Config
	downloader catalog.Downloader
	renderers  []catalog.Renderer
	pages      catalog.PageCounter
	clock      catalog.Clock
	logger     *zap.Logger

	mu      sync.Mutex
	records map[string]*Record
	locks   *keyLocks
	group   singleflight.Group
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the clock.
func WithClock(c catalog.Clock) Option {
	return func(a *Cache) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Cache) { a.logger = l }
}

// WithPageCounter sets the page counter; without one every PDF reports one page.
func WithPageCounter(p catalog.PageCounter) Option {
	return func(a *Cache) { a.pages = p }
}

// New creates the asset directory if needed. Renderers are tried in order.
func New(cfg Config, downloader catalog.Downloader, renderers []catalog.Renderer, opts ...Option) (*Cache, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("asset directory is required")
	}
	if downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 30 * time.Second
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}
	c := &Cache{
		cfg:        cfg,
		downloader: downloader,
		renderers:  renderers,
		clock:      system.New(),
		logger:     zap.NewNop(),
		records:    make(map[string]*Record),
		locks:      newKeyLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("assets")
	return c, nil
}

// Dir returns the directory assets are written to.
func (c *Cache) Dir() string { return c.cfg.Dir }

// KeyFor derives the cache key for a manual URL.
func (c *Cache) KeyFor(rawURL string) (string, error) {
	canonical, err := catalog.CanonicalURL(c.cfg.BaseURL, rawURL)
	if err != nil {
		return "", err
	}
	return sha256.Key(canonical), nil
}

// GetOrFetch returns the cached asset for rawURL, downloading it once if needed.
// Concurrent callers for the same URL share one download; a caller that gives up
// early leaves the download running for the others.
func (c *Cache) GetOrFetch(ctx context.Context, rawURL string) (Result, error) {
	canonical, err := catalog.CanonicalURL(c.cfg.BaseURL, rawURL)
	if err != nil {
		return Result{}, err
	}
	key := sha256.Key(canonical)
	if res, ok := c.touch(key); ok {
		return c.withPages(ctx, res), nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), key, canonical)
	})
	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("await download %s: %w", key, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		res, _ := r.Val.(Result)
		return res, nil
	}
}

func (c *Cache) fetch(ctx context.Context, key, canonical string) (Result, error) {
	release, err := c.locks.acquire(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("lock asset %s: %w", key, err)
	}
	defer release()

	if res, ok := c.touch(key); ok {
		return res, nil
	}

	ctx, span := otel.Tracer("assets").Start(ctx, "assets.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", canonical), attribute.String("key", key))

	title := safeName(catalog.FileName(canonical))
	pdfPath := filepath.Join(c.cfg.Dir, key+"_"+title)

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	size, err := c.downloader.Download(dctx, canonical, pdfPath)
	cancel()
	if err == nil && size <= 0 {
		err = errors.New("empty response body")
	}
	metrics.ObserveDownload(size, err)
	if err != nil {
		_ = os.Remove(pdfPath)
		c.logger.Warn("download failed", zap.String("url", canonical), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %s: %w", catalog.ErrDownloadFailed, canonical, err)
	}

	rec := &Record{
		Key:      key,
		URL:      canonical,
		FilePath: pdfPath,
		Title:    title,
		Size:     size,
		Pages:    c.countPages(ctx, pdfPath),
	}
	rec.PreviewPath, rec.PreviewUnavailable = c.renderPreview(ctx, key, pdfPath)

	now := c.clock.Now()
	c.mu.Lock()
	if prev, ok := c.records[key]; ok {
		rec.Refs = prev.Refs
	}
	rec.Created, rec.LastAccess = now, now
	c.records[key] = rec
	count := len(c.records)
	res := rec.result()
	c.mu.Unlock()
	metrics.SetAssetsCached(count)

	c.logger.Info("asset cached",
		zap.String("key", key),
		zap.Int64("bytes", size),
		zap.Int("pages", rec.Pages),
		zap.Bool("preview", !rec.PreviewUnavailable),
	)
	return res, nil
}

// renderPreview tries each renderer in order; failure of all is non-fatal.
func (c *Cache) renderPreview(ctx context.Context, key, pdfPath string) (string, bool) {
	previewPath := filepath.Join(c.cfg.Dir, key+previewSuffix)
	for _, r := range c.renderers {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.RenderTimeout)
		img, err := r.RenderFirstPage(rctx, pdfPath)
		cancel()
		if err == nil && len(img) == 0 {
			err = errors.New("empty image")
		}
		metrics.ObservePreview(r.Name(), err)
		if err != nil {
			c.logger.Debug("preview renderer failed", zap.String("renderer", r.Name()), zap.Error(err))
			continue
		}
		if err := os.WriteFile(previewPath, img, 0o600); err != nil {
			c.logger.Warn("preview write failed", zap.String("path", previewPath), zap.Error(err))
			continue
		}
		return previewPath, false
	}
	c.logger.Info("preview unavailable", zap.String("key", key), zap.Error(catalog.ErrPreviewUnavailable))
	return "", true
}

func (c *Cache) countPages(ctx context.Context, pdfPath string) int {
	if c.pages == nil {
		return 1
	}
	n, err := c.pages.CountPages(ctx, pdfPath)
	if err != nil || n <= 0 {
		c.logger.Debug("page count unavailable", zap.String("path", pdfPath), zap.Error(err))
		return 1
	}
	return n
}

// withPages fills in a page count for records restored from disk.
func (c *Cache) withPages(ctx context.Context, res Result) Result {
	if res.Pages > 0 {
		return res
	}
	res.Pages = c.countPages(ctx, res.FilePath)
	c.mu.Lock()
	if rec, ok := c.records[res.Key]; ok {
		rec.Pages = res.Pages
	}
	c.mu.Unlock()
	return res
}

// touch returns the record if its PDF is still on disk, bumping last access.
func (c *Cache) touch(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	if !ok {
		return Result{}, false
	}
	if _, err := os.Stat(rec.FilePath); err != nil {
		return Result{}, false
	}
	rec.LastAccess = c.clock.Now()
	return rec.result(), true
}

// Lookup returns the record for key without touching it.
func (c *Cache) Lookup(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Retain adds a reference to key.
func (c *Cache) Retain(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	if !ok {
		return fmt.Errorf("asset %s: %w", key, catalog.ErrNotFound)
	}
	rec.Refs++
	rec.LastAccess = c.clock.Now()
	return nil
}

// Release drops a reference to key. The asset is deleted as soon as no
// reference remains. It reports whether the files were removed.
func (c *Cache) Release(ctx context.Context, key string) (bool, error) {
	unlock, err := c.locks.acquire(ctx, key)
	if err != nil {
		return false, fmt.Errorf("lock asset %s: %w", key, err)
	}
	defer unlock()

	c.mu.Lock()
	rec, ok := c.records[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	if rec.Refs > 0 {
		rec.Refs--
	}
	if rec.Refs > 0 {
		c.mu.Unlock()
		return false, nil
	}
	delete(c.records, key)
	count := len(c.records)
	c.mu.Unlock()

	c.removeFiles(rec)
	metrics.ObserveEvictions(1)
	metrics.SetAssetsCached(count)
	c.logger.Debug("asset released", zap.String("key", key))
	return true, nil
}

// Sweep evicts unreferenced assets idle for longer than MaxAge. Assets whose
// lock is held are skipped until the next sweep.
func (c *Cache) Sweep() int {
	now := c.clock.Now()
	c.mu.Lock()
	var candidates []string
	for key, rec := range c.records {
		if c.evictable(rec, now) {
			candidates = append(candidates, key)
		}
	}
	c.mu.Unlock()

	removed := 0
	for _, key := range candidates {
		unlock, ok := c.locks.tryAcquire(key)
		if !ok {
			continue
		}
		c.mu.Lock()
		rec, exists := c.records[key]
		if !exists || !c.evictable(rec, now) {
			c.mu.Unlock()
			unlock()
			continue
		}
		delete(c.records, key)
		c.mu.Unlock()
		c.removeFiles(rec)
		unlock()
		removed++
	}

	if removed > 0 {
		metrics.ObserveEvictions(removed)
		metrics.SetAssetsCached(c.Count())
		c.logger.Info("asset sweep", zap.Int("removed", removed))
	}
	return removed
}

func (c *Cache) evictable(rec *Record, now time.Time) bool {
	return rec.Refs == 0 && now.Sub(rec.LastAccess) > c.cfg.MaxAge
}

// Run sweeps every interval until ctx is canceled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
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
			c.Sweep()
		}
	}
}

// Count returns the number of indexed assets.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Keys returns the indexed keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.records))
	for k := range c.records {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

var assetFileRe = regexp.MustCompile(`^([0-9a-f]{16})_(.+\.(?i:pdf))$`)

// Load rebuilds the index from files already in the directory. Restored assets
// start unreferenced and age from their modification time.
func (c *Cache) Load() (int, error) {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("read asset directory: %w", err)
	}
	loaded := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".part") {
			_ = os.Remove(filepath.Join(c.cfg.Dir, e.Name()))
			continue
		}
		m := assetFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key := m[1]
		if _, ok := c.records[key]; ok {
			continue
		}
		rec := &Record{
			Key:        key,
			FilePath:   filepath.Join(c.cfg.Dir, e.Name()),
			Title:      m[2],
			Size:       info.Size(),
			Created:    info.ModTime(),
			LastAccess: info.ModTime(),
		}
		preview := filepath.Join(c.cfg.Dir, key+previewSuffix)
		if _, err := os.Stat(preview); err == nil {
			rec.PreviewPath = preview
		} else {
			rec.PreviewUnavailable = true
		}
		c.records[key] = rec
		loaded++
	}
	metrics.SetAssetsCached(len(c.records))
	return loaded, nil
}

func (c *Cache) removeFiles(rec *Record) {
	for _, p := range []string{rec.FilePath, rec.PreviewPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("asset remove failed", zap.String("path", p), zap.Error(err))
		}
	}
}

func (r *Record) result() Result {
	res := Result{
		Key:                r.Key,
		URL:                r.URL,
		FilePath:           r.FilePath,
		FileName:           filepath.Base(r.FilePath),
		PreviewPath:        r.PreviewPath,
		Title:              r.Title,
		Size:               r.Size,
		Pages:              r.Pages,
		PreviewUnavailable: r.PreviewUnavailable,
	}
	if r.PreviewPath != "" {
		res.PreviewName = filepath.Base(r.PreviewPath)
	}
	return res
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(name string) string {
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "manual"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
