// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MANUALS_SERVER_PORT.
const EnvPrefix = "MANUALS"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Assets   AssetsConfig   `mapstructure:"assets"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Patterns PatternsConfig `mapstructure:"patterns"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Preview  PreviewConfig  `mapstructure:"preview"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CookieName      string        `mapstructure:"cookie_name"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// UpstreamConfig describes the catalog site and how hard to hit it.
type UpstreamConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	UserAgent       string        `mapstructure:"user_agent"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	ScrapeTimeout   time.Duration `mapstructure:"scrape_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	ProbeRPS        float64       `mapstructure:"probe_rps"`
	ProbeBurst      int           `mapstructure:"probe_burst"`
}

// CatalogConfig tunes manufacturer and model listing.
type CatalogConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	EscalatedLimits []int         `mapstructure:"escalated_limits"`
}

// ResolverConfig tunes manual resolution.
type ResolverConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	ProbeConcurrency int           `mapstructure:"probe_concurrency"`
	ManualPath       string        `mapstructure:"manual_path"`
}

// AssetsConfig controls the on-disk PDF cache.
type AssetsConfig struct {
	Dir           string        `mapstructure:"dir"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxFileBytes  int64         `mapstructure:"max_file_bytes"`
	PreviewDPI    int           `mapstructure:"preview_dpi"`
}

// CacheConfig selects the backing store for catalog and resolver caches.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SnapshotDir   string        `mapstructure:"snapshot_dir"`
}

// PatternsConfig selects where learned URL patterns live.
type PatternsConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// HeadlessConfig configures the browser-driven scraper.
type HeadlessConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
	ExecPath   string        `mapstructure:"exec_path"`
}

// PreviewConfig locates the poppler binaries and the fallback browser.
type PreviewConfig struct {
	PdftoppmBin   string        `mapstructure:"pdftoppm_bin"`
	PdfinfoBin    string        `mapstructure:"pdfinfo_bin"`
	RodBin        string        `mapstructure:"rod_bin"`
	RodEnabled    bool          `mapstructure:"rod_enabled"`
	RenderTimeout time.Duration `mapstructure:"render_timeout"`
}

// Cache and pattern backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8888)
	v.SetDefault("server.cookie_name", "manuals_session")
	v.SetDefault("server.cookie_secure", false)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("upstream.base_url", "https://www.partstown.com")
	v.SetDefault("upstream.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	v.SetDefault("upstream.probe_timeout", "5s")
	v.SetDefault("upstream.scrape_timeout", "30s")
	v.SetDefault("upstream.download_timeout", "60s")
	v.SetDefault("upstream.probe_rps", 10)
	v.SetDefault("upstream.probe_burst", 8)
	v.SetDefault("catalog.ttl", "5m")
	v.SetDefault("catalog.default_page_size", 100)
	v.SetDefault("catalog.max_attempts", 6)
	v.SetDefault("catalog.escalated_limits", []int{500, 1000})
	v.SetDefault("resolver.ttl", "24h")
	v.SetDefault("resolver.probe_concurrency", 8)
	v.SetDefault("resolver.manual_path", "/modelManual/")
	v.SetDefault("assets.dir", "public/temp-pdfs")
	v.SetDefault("assets.max_age", "24h")
	v.SetDefault("assets.sweep_interval", "1h")
	v.SetDefault("assets.max_file_bytes", 200<<20)
	v.SetDefault("assets.preview_dpi", 72)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_prefix", "manuals:")
	v.SetDefault("cache.sweep_interval", "10m")
	v.SetDefault("cache.snapshot_dir", "cache")
	v.SetDefault("patterns.backend", BackendFile)
	v.SetDefault("patterns.dsn", "")
	v.SetDefault("patterns.table", "manual_patterns")
	// Needs a local Chrome; enable it where one is installed.
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout", "30s")
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("preview.pdftoppm_bin", "pdftoppm")
	v.SetDefault("preview.pdfinfo_bin", "pdfinfo")
	v.SetDefault("preview.rod_bin", "")
	v.SetDefault("preview.rod_enabled", true)
	v.SetDefault("preview.render_timeout", "30s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.CookieName == "" {
		return fmt.Errorf("server.cookie_name must be set")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute http(s) url")
	}
	if c.Upstream.ProbeTimeout <= 0 || c.Upstream.ScrapeTimeout <= 0 || c.Upstream.DownloadTimeout <= 0 {
		return fmt.Errorf("upstream timeouts must be > 0")
	}
	if c.Catalog.TTL <= 0 {
		return fmt.Errorf("catalog.ttl must be > 0")
	}
	if c.Catalog.DefaultPageSize <= 0 {
		return fmt.Errorf("catalog.default_page_size must be > 0")
	}
	if c.Catalog.MaxAttempts <= 0 {
		return fmt.Errorf("catalog.max_attempts must be > 0")
	}
	if c.Resolver.TTL <= 0 {
		return fmt.Errorf("resolver.ttl must be > 0")
	}
	if c.Resolver.ProbeConcurrency <= 0 {
		return fmt.Errorf("resolver.probe_concurrency must be > 0")
	}
	if c.Assets.Dir == "" {
		return fmt.Errorf("assets.dir must be set")
	}
	if c.Assets.MaxAge <= 0 {
		return fmt.Errorf("assets.max_age must be > 0")
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr must be set when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be %q or %q", BackendMemory, BackendRedis)
	}
	switch c.Patterns.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.Patterns.DSN == "" {
			return fmt.Errorf("patterns.dsn must be set when patterns.backend is postgres")
		}
	default:
		return fmt.Errorf("patterns.backend must be %q or %q", BackendFile, BackendPostgres)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
