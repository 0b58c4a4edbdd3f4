// Package metrics exposes Prometheus collectors for the manuals service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheLookupsTotal          *prometheus.CounterVec
	resolutionsTotal           *prometheus.CounterVec
	scrapeCallsTotal           *prometheus.CounterVec
	probesTotal                *prometheus.CounterVec
	catalogPageRequestsTotal   *prometheus.CounterVec
	assetDownloadsTotal        *prometheus.CounterVec
	assetBytesTotal            prometheus.Counter
	previewRendersTotal        *prometheus.CounterVec
	assetEvictionsTotal        prometheus.Counter
	assetsCached               prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manuals_cache_lookups_total",
				Help: "Backing cache lookups, labeled by namespace and result (hit|miss).",
			},
			[]string{"namespace", "result"},
		)

		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manuals_resolutions_total",
				Help: "Manual resolutions, labeled by the source that produced the answer.",
			},
			[]string{"source"},
		)

		scrapeCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manuals_scrape_calls_total",
				Help: "Browser scrape calls, labeled by operation and status.",
			},
			[]string{"operation", "status"},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manuals_probes_total",
				Help: "Candidate URL existence probes, labeled by result.",
			},
			[]string{"result"},
		)

		catalogPageRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manuals_catalog_page_requests_total",
				Help: "Upstream model page requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		assetDownloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manuals_asset_downloads_total",
				Help: "Manual PDF downloads, labeled by result.",
			},
			[]string{"result"},
		)

		assetBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "manuals_asset_bytes_total",
				Help: "Total bytes of manual PDFs downloaded.",
			},
		)

		previewRendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manuals_preview_renders_total",
				Help: "Preview render attempts, labeled by renderer and result.",
			},
			[]string{"renderer", "result"},
		)

		assetEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "manuals_asset_evictions_total",
				Help: "Cached assets removed from disk.",
			},
		)

		assetsCached = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "manuals_assets_cached",
				Help: "Number of assets currently held in the on-disk cache.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "manuals_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// ObserveCacheLookup counts a cache hit or miss for a namespace.
func ObserveCacheLookup(namespace string, hit bool) {
	Init()
	cacheLookupsTotal.WithLabelValues(namespace, outcome(hit, "hit", "miss")).Inc()
}

// ObserveResolution counts a resolution by source (cache, pattern, scrape, failed).
func ObserveResolution(source string) {
	Init()
	resolutionsTotal.WithLabelValues(source).Inc()
}

// ObserveScrape counts a browser scrape call.
func ObserveScrape(operation string, err error) {
	Init()
	scrapeCallsTotal.WithLabelValues(operation, outcome(err == nil, "success", "error")).Inc()
}

// ObserveProbe counts a candidate probe result (found, missing, error).
func ObserveProbe(result string) {
	Init()
	probesTotal.WithLabelValues(result).Inc()
}

// ObserveCatalogPage counts an upstream model page request.
func ObserveCatalogPage(outcome string) {
	Init()
	catalogPageRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDownload counts a download and the bytes it wrote.
func ObserveDownload(bytes int64, err error) {
	Init()
	assetDownloadsTotal.WithLabelValues(outcome(err == nil, "success", "error")).Inc()
	if err == nil && bytes > 0 {
		assetBytesTotal.Add(float64(bytes))
	}
}

// ObservePreview counts a preview render attempt.
func ObservePreview(renderer string, err error) {
	Init()
	previewRendersTotal.WithLabelValues(renderer, outcome(err == nil, "success", "error")).Inc()
}

// ObserveEvictions adds n evicted assets.
func ObserveEvictions(n int) {
	Init()
	if n > 0 {
		assetEvictionsTotal.Add(float64(n))
	}
}

// SetAssetsCached records the current number of cached assets.
func SetAssetsCached(n int) {
	Init()
	assetsCached.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
