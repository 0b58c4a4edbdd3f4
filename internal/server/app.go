// Package server builds the service's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/equipment-manuals/internal/api"
	"github.com/JakeFAU/equipment-manuals/internal/assets"
	"github.com/JakeFAU/equipment-manuals/internal/cache"
	"github.com/JakeFAU/equipment-manuals/internal/cache/redisstore"
	"github.com/JakeFAU/equipment-manuals/internal/catalog"
	"github.com/JakeFAU/equipment-manuals/internal/config"
	collyfetcher "github.com/JakeFAU/equipment-manuals/internal/fetcher/colly"
	"github.com/JakeFAU/equipment-manuals/internal/fetcher/download"
	"github.com/JakeFAU/equipment-manuals/internal/fetcher/headless"
	"github.com/JakeFAU/equipment-manuals/internal/id/uuid"
	"github.com/JakeFAU/equipment-manuals/internal/logging"
	"github.com/JakeFAU/equipment-manuals/internal/policy/ratelimit"
	"github.com/JakeFAU/equipment-manuals/internal/preview"
	"github.com/JakeFAU/equipment-manuals/internal/resolver"
	"github.com/JakeFAU/equipment-manuals/internal/session"
	"github.com/JakeFAU/equipment-manuals/internal/storage/local"
	pgstore "github.com/JakeFAU/equipment-manuals/internal/storage/postgres"
	"github.com/JakeFAU/equipment-manuals/internal/telemetry"
)

const serviceName = "equipment-manuals"

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	assets         *assets.Cache
	scraper        catalog.Scraper
	browser        *headless.Browser
	rod            *preview.Rod
	redis          *redis.Client
	patternDB      *pgstore.PatternStore
	sweepers       []func(context.Context)
	tracerShutdown func(context.Context) error
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts background work and the HTTP server, blocking until ctx is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.startBackground(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

func (a *App) startBackground(ctx context.Context) {
	for _, sweep := range a.sweepers {
		go sweep(ctx)
	}
	go a.assets.Run(ctx, a.cfg.Assets.SweepInterval)

	if warm, ok := a.scraper.(*headless.Scraper); ok {
		go func() {
			if err := warm.Warmup(ctx); err != nil {
				a.logger.Warn("scraper warmup failed", zap.Error(err))
			}
		}()
	}
}

// Close releases browsers, pools, and telemetry. Cached files stay on disk
// so the next start can reuse them.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.rod != nil {
		if err := a.rod.Close(); err != nil {
			a.logger.Warn("rod browser close failed", zap.Error(err))
		}
	}
	if a.patternDB != nil {
		a.patternDB.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		SampleRatio: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if err := app.wire(ctx); err != nil {
		if shutdownErr := tp.Shutdown(ctx); shutdownErr != nil {
			logger.Warn("tracer shutdown failed", zap.Error(shutdownErr))
		}
		return nil, err
	}
	return app, nil
}

// wire builds every component. Clients opened before a failure are closed
// before the error is returned.
func (a *App) wire(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			a.closeInfrastructure()
		}
	}()
	cfg, logger, app := a.cfg, a.logger, a

	logger.Info("building application dependencies",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("pattern_backend", cfg.Patterns.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	snapshots, err := local.New(local.Config{BaseDir: cfg.Cache.SnapshotDir})
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	if cfg.Cache.Backend == config.BackendRedis {
		app.redis = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	}

	app.scraper = setupScraper(app)
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Upstream.ProbeRPS,
		DefaultBurst: cfg.Upstream.ProbeBurst,
	})

	fetcher := catalog.NewFetcher(
		app.scraper,
		newStore[[]catalog.Manufacturer](app, "manufacturers"),
		newStore[catalog.ModelList](app, "models"),
		snapshots,
		catalog.FetcherConfig{
			TTL:             cfg.Catalog.TTL,
			PageSize:        cfg.Catalog.DefaultPageSize,
			MaxAttempts:     cfg.Catalog.MaxAttempts,
			EscalatedLimits: cfg.Catalog.EscalatedLimits,
		},
		logger,
	)

	patterns, err := setupPatterns(ctx, app, snapshots)
	if err != nil {
		return err
	}

	prober := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.Upstream.ProbeTimeout,
	}, limiter)

	res := resolver.New(
		resolver.Config{
			BaseURL:          cfg.Upstream.BaseURL,
			ManualPath:       cfg.Resolver.ManualPath,
			TTL:              cfg.Resolver.TTL,
			ProbeConcurrency: cfg.Resolver.ProbeConcurrency,
			ProbeTimeout:     cfg.Upstream.ProbeTimeout,
			ScrapeTimeout:    cfg.Upstream.ScrapeTimeout,
		},
		newStore[[]catalog.ManualReference](app, "manuals"),
		patterns,
		prober,
		app.scraper,
		logger,
	)

	if err = setupAssets(app, limiter); err != nil {
		return err
	}

	sessions := session.NewTracker(app.assets, logger)

	app.apiServer = api.NewServer(api.Deps{
		Catalog:  fetcher,
		Resolver: res,
		Sessions: sessions,
		Assets:   app.assets,
		Scraper:  app.scraper,
		IDs:      uuid.New(),
	}, cfg.Server, logger.Named("api"))
	return nil
}

// newStore returns a cache namespace on the configured backend. Memory
// namespaces register a sweeper that Run starts.
func newStore[V any](app *App, namespace string) cache.Store[V] {
	if app.redis != nil {
		return redisstore.New[V](app.redis, app.cfg.Cache.RedisPrefix, namespace)
	}
	mem := cache.NewMemory[V](cache.WithNamespace(namespace), cache.WithLogger(app.logger))
	interval := app.cfg.Cache.SweepInterval
	app.sweepers = append(app.sweepers, func(ctx context.Context) { mem.Run(ctx, interval) })
	return mem
}

func setupScraper(app *App) catalog.Scraper {
	cfg := app.cfg
	if !cfg.Headless.Enabled {
		app.logger.Info("headless scraper disabled; catalog listings are unavailable")
		return headless.Noop{}
	}
	app.browser = headless.NewBrowser(headless.Config{
		UserAgent:         cfg.Upstream.UserAgent,
		NavigationTimeout: cfg.Headless.NavTimeout,
		ExecPath:          cfg.Headless.ExecPath,
	})
	return headless.NewScraper(app.browser, cfg.Upstream.BaseURL, app.logger)
}

func setupPatterns(ctx context.Context, app *App, snapshots catalog.SnapshotStore) (resolver.PatternStore, error) {
	cfg := app.cfg
	var backend resolver.PatternStore
	switch cfg.Patterns.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewPatternStore(ctx, pgstore.PatternStoreConfig{
			DSN:   cfg.Patterns.DSN,
			Table: cfg.Patterns.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("pattern store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("pattern schema: %w", err)
		}
		app.patternDB = store
		backend = store
	default:
		store, err := resolver.NewFileStore(snapshots)
		if err != nil {
			return nil, fmt.Errorf("pattern store: %w", err)
		}
		backend = store
	}
	return resolver.NewCachedStore(backend, newStore[resolver.PatternRule](app, "patterns"), cfg.Resolver.TTL), nil
}

func setupAssets(app *App, limiter *ratelimit.Limiter) error {
	cfg := app.cfg
	dl := download.New(download.Config{
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.Upstream.DownloadTimeout,
		MaxBytes:  cfg.Assets.MaxFileBytes,
	}, download.WithLimiter(limiter))

	renderers := []catalog.Renderer{preview.NewPdftoppm(cfg.Preview.PdftoppmBin, cfg.Assets.PreviewDPI)}
	if cfg.Preview.RodEnabled {
		app.rod = preview.NewRod(cfg.Preview.RodBin, cfg.Preview.RenderTimeout)
		renderers = append(renderers, app.rod)
	}
	counter := preview.FallbackCounter{
		Primary:   preview.NewPdfinfo(cfg.Preview.PdfinfoBin),
		Secondary: preview.ScanCounter{},
	}

	ac, err := assets.New(assets.Config{
		Dir:             cfg.Assets.Dir,
		BaseURL:         cfg.Upstream.BaseURL,
		MaxAge:          cfg.Assets.MaxAge,
		DownloadTimeout: cfg.Upstream.DownloadTimeout,
		RenderTimeout:   cfg.Preview.RenderTimeout,
	}, dl, renderers, assets.WithLogger(app.logger), assets.WithPageCounter(counter))
	if err != nil {
		return fmt.Errorf("asset cache: %w", err)
	}
	restored, err := ac.Load()
	if err != nil {
		app.logger.Warn("asset index restore failed", zap.Error(err))
	}
	app.logger.Info("asset cache ready", zap.String("dir", cfg.Assets.Dir), zap.Int("restored", restored))
	app.assets = ac
	return nil
}
