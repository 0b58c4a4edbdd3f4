package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, ":8888", cfg.Addr())
	assert.Equal(t, "manuals_session", cfg.Server.CookieName)
	assert.Equal(t, "https://www.partstown.com", cfg.Upstream.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Upstream.ProbeTimeout)
	assert.Equal(t, 30*time.Second, cfg.Upstream.ScrapeTimeout)
	assert.Equal(t, time.Minute, cfg.Upstream.DownloadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.TTL)
	assert.Equal(t, 6, cfg.Catalog.MaxAttempts)
	assert.Equal(t, []int{500, 1000}, cfg.Catalog.EscalatedLimits)
	assert.Equal(t, 24*time.Hour, cfg.Resolver.TTL)
	assert.Equal(t, 8, cfg.Resolver.ProbeConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.Assets.MaxAge)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, BackendFile, cfg.Patterns.Backend)
	assert.False(t, cfg.Headless.Enabled)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
server:
  port: 9090
  cookie_secure: true
logging:
  development: false
upstream:
  base_url: https://catalog.example.com
  probe_timeout: 2s
catalog:
  default_page_size: 50
  escalated_limits: [250]
resolver:
  ttl: 48h
assets:
  dir: /var/cache/manuals
  preview_dpi: 110
cache:
  backend: redis
  redis_addr: redis:6379
patterns:
  backend: postgres
  dsn: postgres://manuals@db/manuals
headless:
  enabled: true
  nav_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.CookieSecure)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "https://catalog.example.com", cfg.Upstream.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Upstream.ProbeTimeout)
	assert.Equal(t, 50, cfg.Catalog.DefaultPageSize)
	assert.Equal(t, []int{250}, cfg.Catalog.EscalatedLimits)
	assert.Equal(t, 48*time.Hour, cfg.Resolver.TTL)
	assert.Equal(t, "/var/cache/manuals", cfg.Assets.Dir)
	assert.Equal(t, 110, cfg.Assets.PreviewDPI)
	assert.Equal(t, BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, BackendPostgres, cfg.Patterns.Backend)
	assert.True(t, cfg.Headless.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Headless.NavTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"cookie", func(c *Config) { c.Server.CookieName = "" }},
		{"base url", func(c *Config) { c.Upstream.BaseURL = "partstown.com" }},
		{"probe timeout", func(c *Config) { c.Upstream.ProbeTimeout = 0 }},
		{"catalog ttl", func(c *Config) { c.Catalog.TTL = 0 }},
		{"page size", func(c *Config) { c.Catalog.DefaultPageSize = 0 }},
		{"attempts", func(c *Config) { c.Catalog.MaxAttempts = 0 }},
		{"resolver ttl", func(c *Config) { c.Resolver.TTL = 0 }},
		{"probe concurrency", func(c *Config) { c.Resolver.ProbeConcurrency = 0 }},
		{"assets dir", func(c *Config) { c.Assets.Dir = "" }},
		{"assets age", func(c *Config) { c.Assets.MaxAge = 0 }},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis addr", func(c *Config) { c.Cache.Backend = BackendRedis; c.Cache.RedisAddr = "" }},
		{"patterns backend", func(c *Config) { c.Patterns.Backend = "s3" }},
		{"postgres dsn", func(c *Config) { c.Patterns.Backend = BackendPostgres; c.Patterns.DSN = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}
