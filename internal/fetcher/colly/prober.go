// Package collyfetcher probes candidate manual URLs with HEAD requests through gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Prober implements catalog.Prober. A candidate exists when a HEAD request
// answers 2xx with a non-HTML body; the catalog serves HTML for missing files.
type Prober struct {
	cfg           Config
	limiter       Waiter
	baseCollector *colly.Collector
}

// New builds a Prober. limiter may be nil.
func New(cfg Config, limiter Waiter) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Timeout and transport live on the shared backend, so they are set once here.
	c.WithTransport(otelhttp.NewTransport(newHTTPTransport()))
	c.SetRequestTimeout(cfg.Timeout)
	return &Prober{cfg: cfg, limiter: limiter, baseCollector: c}
}

type probeResult struct {
	status      int
	contentType string
}

// Exists reports whether url resolves to a document. HTTP error statuses are a
// plain "no"; only transport failures return an error.
func (p *Prober) Exists(ctx context.Context, url string) (bool, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			return false, err
		}
	}

	var res probeResult
	collector := p.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		if r.Headers != nil {
			res.contentType = r.Headers.Get("Content-Type")
		}
	})
	collector.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			res.status = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Head(url)
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if res.status == 0 && err != nil {
			return false, fmt.Errorf("probe %s: %w", url, err)
		}
		return exists(res), nil
	}
}

func exists(res probeResult) bool {
	if res.status < 200 || res.status >= 300 {
		return false
	}
	return !strings.HasPrefix(strings.ToLower(res.contentType), "text/html")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
