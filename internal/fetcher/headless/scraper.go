package headless

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/equipment-manuals/internal/catalog"
	"github.com/JakeFAU/equipment-manuals/internal/logging"
)

// Session runs actions against the shared browser tab.
type Session interface {
	Do(ctx context.Context, fn func(tab context.Context) error) error
}

// Scraper implements catalog.Scraper against the catalog site.
type Scraper struct {
	session Session
	base    string
	setup   chromedp.Action
	settle  time.Duration
	logger  *zap.Logger
	ready   atomic.Bool
}

// NewScraper wraps the browser. baseURL is the catalog origin.
func NewScraper(b *Browser, baseURL string, logger *zap.Logger) *Scraper {
	logger = logging.OrNop(logger)
	return &Scraper{
		session: b,
		base:    strings.TrimRight(baseURL, "/"),
		setup:   b.setupAction(),
		settle:  500 * time.Millisecond,
		logger:  logger.Named("scraper"),
	}
}

// Ready reports whether the browser has loaded the catalog at least once.
func (s *Scraper) Ready() bool { return s.ready.Load() }

// Warmup opens the catalog home page to establish the session cookies.
func (s *Scraper) Warmup(ctx context.Context) error {
	err := s.session.Do(ctx, func(tab context.Context) error {
		return chromedp.Run(tab,
			s.setup,
			chromedp.Navigate(s.base+"/"),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	})
	if err != nil {
		return fmt.Errorf("warm up browser: %w", err)
	}
	s.ready.Store(true)
	s.logger.Info("browser session ready", zap.String("base", s.base))
	return nil
}

// FetchManufacturers reads the manufacturer directory feed.
func (s *Scraper) FetchManufacturers(ctx context.Context) ([]catalog.Manufacturer, error) {
	body, err := s.text(ctx, s.base+"/part-predictor/manufacturers")
	if err != nil {
		return nil, err
	}
	return parseManufacturers(body)
}

// FetchModelsPage reads one page of the part-predictor model feed.
func (s *Scraper) FetchModelsPage(ctx context.Context, manufacturerURI string, offset, limit int) ([]catalog.Model, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	target := fmt.Sprintf("%s/part-predictor/%s/models?%s", s.base, url.PathEscape(manufacturerURI), q.Encode())
	body, err := s.text(ctx, target)
	if err != nil {
		return nil, err
	}
	return parseModels(body, manufacturerURI)
}

// FetchManualsForModel opens the model's manuals tab and collects manual links.
func (s *Scraper) FetchManualsForModel(ctx context.Context, manufacturerURI, modelCode string) ([]catalog.ManualReference, error) {
	target := fmt.Sprintf("%s/%s/%s/parts#id=mdptabmanuals", s.base, url.PathEscape(manufacturerURI), url.PathEscape(modelCode))
	var html string
	err := s.session.Do(ctx, func(tab context.Context) error {
		return chromedp.Run(tab,
			s.setup,
			chromedp.Navigate(target),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(s.settle),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("scrape manuals %s/%s: %w", manufacturerURI, modelCode, err)
	}
	s.ready.Store(true)
	return parseManuals(html)
}

func (s *Scraper) text(ctx context.Context, target string) (string, error) {
	var body string
	err := s.session.Do(ctx, func(tab context.Context) error {
		return chromedp.Run(tab,
			s.setup,
			chromedp.Navigate(target),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Text("body", &body, chromedp.ByQuery),
		)
	})
	if err != nil {
		return "", fmt.Errorf("load %s: %w", target, err)
	}
	s.ready.Store(true)
	return body, nil
}

// Noop stands in when no browser is configured.
type Noop struct{}

// Ready is always false.
func (Noop) Ready() bool { return false }

// FetchManufacturers always fails.
func (Noop) FetchManufacturers(context.Context) ([]catalog.Manufacturer, error) {
	return nil, catalog.ErrScraperUnavailable
}

// FetchModelsPage always fails.
func (Noop) FetchModelsPage(context.Context, string, int, int) ([]catalog.Model, error) {
	return nil, catalog.ErrScraperUnavailable
}

// FetchManualsForModel always fails.
func (Noop) FetchManualsForModel(context.Context, string, string) ([]catalog.ManualReference, error) {
	return nil, catalog.ErrScraperUnavailable
}

var errNoJSON = errors.New("no JSON payload in page")
