// Package download streams manual PDFs from the catalog to local files.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxBytes caps a single manual download.
const DefaultMaxBytes int64 = 200 << 20

var pdfMagic = []byte("%PDF")

// Errors returned for rejected bodies.
var (
	ErrTooLarge  = errors.New("download exceeds size limit")
	ErrTruncated = errors.New("download truncated")
	ErrEmpty     = errors.New("empty response body")
	ErrNotPDF    = errors.New("response is not a PDF")
)

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls the HTTP client.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
}

// Downloader implements catalog.Downloader over net/http.
type Downloader struct {
	cfg     Config
	client  *http.Client
	limiter Waiter
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithHTTPClient overrides the client. Tests use this to point at httptest servers.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithLimiter throttles downloads per host.
func WithLimiter(w Waiter) Option {
	return func(d *Downloader) { d.limiter = w }
}

// New builds a Downloader.
func New(cfg Config, opts ...Option) *Downloader {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	d := &Downloader{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download writes url to dest through a temporary ".part" file that is renamed
// only after the body has been fully received and looks like a PDF.
func (d *Downloader) Download(ctx context.Context, url, dest string) (int64, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, url); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}
	if resp.ContentLength > d.cfg.MaxBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	part := dest + ".part"
	n, err := d.write(resp, part)
	if err != nil {
		_ = os.Remove(part)
		return n, err
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return n, fmt.Errorf("rename: %w", err)
	}
	return n, nil
}

func (d *Downloader) write(resp *http.Response, part string) (int64, error) {
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}

	body := io.LimitReader(resp.Body, d.cfg.MaxBytes+1)
	head := make([]byte, len(pdfMagic))
	hn, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		_ = f.Close()
		return 0, fmt.Errorf("read: %w", err)
	}
	if hn == 0 {
		_ = f.Close()
		return 0, ErrEmpty
	}
	if !bytes.Equal(head[:hn], pdfMagic) {
		_ = f.Close()
		return int64(hn), ErrNotPDF
	}

	if _, err := f.Write(head[:hn]); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("write: %w", err)
	}
	rest, err := io.Copy(f, body)
	n := int64(hn) + rest
	if err != nil {
		_ = f.Close()
		return n, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("close: %w", err)
	}

	switch {
	case n > d.cfg.MaxBytes:
		return n, ErrTooLarge
	case resp.ContentLength >= 0 && n != resp.ContentLength:
		return n, fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, n, resp.ContentLength)
	}
	return n, nil
}
