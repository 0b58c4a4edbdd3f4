// Package resolver turns a (manufacturer, model) pair into manual references:
// cache first, then guessed URLs validated by probing, then a browser scrape
// whose results teach the manufacturer's filename pattern.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/equipment-manuals/internal/cache"
	"github.com/JakeFAU/equipment-manuals/internal/catalog"
	"github.com/JakeFAU/equipment-manuals/internal/logging"
	"github.com/JakeFAU/equipment-manuals/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Resolution sources reported in metrics and logs.
const (
	SourceCache   = "cache"
	SourcePattern = "pattern"
	SourceScrape  = "scrape"
	SourceFailed  = "failed"
)

// Config tunes resolution.
type Config struct {
	BaseURL          string
	ManualPath       string
	TTL              time.Duration
	ProbeConcurrency int
	ProbeTimeout     time.Duration
	ScrapeTimeout    time.Duration
}

// DefaultConfig targets the PartsTown manual layout.
func DefaultConfig() Config {
	return Config{
		BaseURL:          "https://www.partstown.com",
		ManualPath:       "/modelManual/",
		TTL:              24 * time.Hour,
		ProbeConcurrency: 8,
		ProbeTimeout:     5 * time.Second,
		ScrapeTimeout:    30 * time.Second,
	}
}

// Resolver resolves manuals with single-flight per (manufacturer, model) key.
type Resolver struct {
	cfg      Config
	cache    cache.Store[[]catalog.ManualReference]
	patterns PatternStore
	prober   catalog.Prober
	scraper  catalog.Scraper
	logger   *zap.Logger
	group    singleflight.Group
	learnMu  sync.Mutex
}

// New wires a Resolver. Zero config fields take DefaultConfig values.
func New(
	cfg Config,
	c cache.Store[[]catalog.ManualReference],
	patterns PatternStore,
	prober catalog.Prober,
	scraper catalog.Scraper,
	logger *zap.Logger,
) *Resolver {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.ManualPath == "" {
		cfg.ManualPath = def.ManualPath
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = def.ProbeConcurrency
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = def.ScrapeTimeout
	}
	logger = logging.OrNop(logger)
	return &Resolver{
		cfg:      cfg,
		cache:    c,
		patterns: patterns,
		prober:   prober,
		scraper:  scraper,
		logger:   logger.Named("resolver"),
	}
}

// Key is the cache and single-flight key for a resolution.
func Key(manufacturerID, modelCode string) string {
	return strings.ToLower(strings.TrimSpace(manufacturerID)) + ":" + strings.ToLower(strings.TrimSpace(modelCode))
}

// Resolve returns the manuals for modelCode, sorted by type priority then title.
// A caller that gives up early does not cancel the shared resolution.
func (r *Resolver) Resolve(ctx context.Context, mfr catalog.Manufacturer, modelCode string) ([]catalog.ManualReference, error) {
	modelCode = strings.TrimSpace(modelCode)
	if modelCode == "" {
		return nil, fmt.Errorf("model code is required")
	}
	key := Key(mfr.ID, modelCode)
	if manuals, ok := r.cached(ctx, key); ok {
		metrics.ObserveResolution(SourceCache)
		return manuals, nil
	}

	ch := r.group.DoChan(key, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), key, mfr, modelCode)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("await resolution %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		manuals, _ := res.Val.([]catalog.ManualReference)
		return cloneManuals(manuals), nil
	}
}

// Invalidate drops a cached resolution.
func (r *Resolver) Invalidate(ctx context.Context, manufacturerID, modelCode string) error {
	if err := r.cache.Invalidate(ctx, Key(manufacturerID, modelCode)); err != nil {
		return fmt.Errorf("invalidate resolution: %w", err)
	}
	return nil
}

func (r *Resolver) cached(ctx context.Context, key string) ([]catalog.ManualReference, bool) {
	manuals, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("resolution cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return cloneManuals(manuals), true
}

func (r *Resolver) resolve(ctx context.Context, key string, mfr catalog.Manufacturer, code string) ([]catalog.ManualReference, error) {
	ctx, span := otel.Tracer("resolver").Start(ctx, "resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("manufacturer", mfr.ID), attribute.String("model", code))

	if manuals, ok := r.cached(ctx, key); ok {
		return manuals, nil
	}

	rule := r.rule(ctx, mfr)
	source := SourcePattern
	manuals := r.validate(ctx, Candidates(r.cfg.BaseURL, r.cfg.ManualPath, code, rule))

	if len(manuals) == 0 {
		source = SourceScrape
		scraped, err := r.scrape(ctx, mfr, code)
		if err != nil || len(scraped) == 0 {
			metrics.ObserveResolution(SourceFailed)
			span.SetStatus(codes.Error, "resolution failed")
			r.logger.Warn("resolution failed", zap.String("key", key), zap.Error(err))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", catalog.ErrResolutionFailed, key, err)
			}
			return nil, fmt.Errorf("%w: %s: no manuals found", catalog.ErrResolutionFailed, key)
		}
		manuals = scraped
		r.learn(ctx, mfr, code, scraped)
	}

	SortManuals(manuals)
	if err := r.cache.Put(ctx, key, manuals, r.cfg.TTL); err != nil {
		r.logger.Warn("resolution cache write failed", zap.String("key", key), zap.Error(err))
	}
	metrics.ObserveResolution(source)
	span.SetAttributes(attribute.String("source", source), attribute.Int("manuals", len(manuals)))
	r.logger.Info("manuals resolved",
		zap.String("key", key),
		zap.String("source", source),
		zap.Int("count", len(manuals)),
	)
	return manuals, nil
}

func (r *Resolver) rule(ctx context.Context, mfr catalog.Manufacturer) PatternRule {
	def := DefaultRule(mfr)
	if r.patterns == nil {
		return def
	}
	rule, ok, err := r.patterns.Load(ctx, strings.ToLower(mfr.ID))
	if err != nil {
		r.logger.Warn("pattern load failed", zap.String("manufacturer", mfr.ID), zap.Error(err))
		return def
	}
	if !ok {
		return def
	}
	if rule.Prefix == "" {
		rule.Prefix = def.Prefix
	}
	if len(rule.Transforms) == 0 {
		rule.Transforms = def.Transforms
	}
	if len(rule.Suffixes) == 0 {
		rule.Suffixes = def.Suffixes
	}
	return rule
}

// validate probes candidates with bounded concurrency. Probe failures only drop the candidate.
func (r *Resolver) validate(ctx context.Context, candidates []Candidate) []catalog.ManualReference {
	if r.prober == nil || len(candidates) == 0 {
		return nil
	}
	found := make([]bool, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ProbeConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, r.cfg.ProbeTimeout)
			defer cancel()
			ok, err := r.prober.Exists(pctx, c.URL)
			switch {
			case err != nil:
				metrics.ObserveProbe("error")
				r.logger.Debug("probe failed", zap.String("url", c.URL), zap.Error(err))
			case ok:
				metrics.ObserveProbe("found")
				found[i] = true
			default:
				metrics.ObserveProbe("missing")
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []catalog.ManualReference
	for i, c := range candidates {
		if !found[i] {
			continue
		}
		out = append(out, catalog.ManualReference{
			Type:   c.Type,
			Title:  catalog.ManualTitle(c.Type),
			URL:    c.URL,
			Format: "pdf",
		})
	}
	return out
}

func (r *Resolver) scrape(ctx context.Context, mfr catalog.Manufacturer, code string) ([]catalog.ManualReference, error) {
	if r.scraper == nil {
		return nil, catalog.ErrScraperUnavailable
	}
	sctx, cancel := context.WithTimeout(ctx, r.cfg.ScrapeTimeout)
	defer cancel()
	uri := mfr.URI
	if uri == "" {
		uri = mfr.ID
	}
	raw, err := r.scraper.FetchManualsForModel(sctx, uri, code)
	metrics.ObserveScrape("manuals", err)
	if err != nil {
		return nil, fmt.Errorf("scrape manuals: %w", err)
	}
	return r.normalize(raw), nil
}

// normalize canonicalizes scraped URLs, fills missing type and title, and drops duplicates.
func (r *Resolver) normalize(raw []catalog.ManualReference) []catalog.ManualReference {
	seen := make(map[string]struct{}, len(raw))
	out := make([]catalog.ManualReference, 0, len(raw))
	for _, m := range raw {
		u, err := catalog.CanonicalURL(r.cfg.BaseURL, m.URL)
		if err != nil {
			r.logger.Debug("dropping scraped manual", zap.String("url", m.URL), zap.Error(err))
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		m.URL = u
		if m.Type == "" {
			if d, ok := Decompose(catalog.FileName(u)); ok {
				m.Type = d.Suffix
			}
		}
		m.Type = strings.ToLower(m.Type)
		if strings.TrimSpace(m.Title) == "" {
			m.Title = catalog.ManualTitle(m.Type)
		}
		if m.Format == "" {
			m.Format = "pdf"
		}
		out = append(out, m)
	}
	return out
}

// learn is best-effort; failures are logged and never reach the caller.
func (r *Resolver) learn(ctx context.Context, mfr catalog.Manufacturer, code string, manuals []catalog.ManualReference) {
	if r.patterns == nil {
		return
	}
	r.learnMu.Lock()
	defer r.learnMu.Unlock()
	updated, changed := Learn(r.rule(ctx, mfr), code, manuals)
	if !changed {
		return
	}
	updated.Manufacturer = strings.ToLower(mfr.ID)
	updated.UpdatedAt = time.Now().UTC()
	if err := r.patterns.Save(ctx, updated); err != nil {
		r.logger.Warn("pattern save failed", zap.String("manufacturer", mfr.ID), zap.Error(err))
		return
	}
	r.logger.Info("pattern learned",
		zap.String("manufacturer", mfr.ID),
		zap.String("prefix", updated.Prefix),
		zap.Strings("series", updated.Series),
	)
}

// SortManuals orders by manual type priority, then title, then URL.
func SortManuals(manuals []catalog.ManualReference) {
	sort.SliceStable(manuals, func(i, j int) bool {
		pi, pj := catalog.ManualPriority(manuals[i].Type), catalog.ManualPriority(manuals[j].Type)
		if pi != pj {
			return pi < pj
		}
		if manuals[i].Title != manuals[j].Title {
			return manuals[i].Title < manuals[j].Title
		}
		return manuals[i].URL < manuals[j].URL
	})
}

func cloneManuals(in []catalog.ManualReference) []catalog.ManualReference {
	if in == nil {
		return nil
	}
	out := make([]catalog.ManualReference, len(in))
	copy(out, in)
	return out
}

// IsResolutionFailure reports whether err is a resolution dead end.
func IsResolutionFailure(err error) bool {
	return errors.Is(err, catalog.ErrResolutionFailed)
}
