// Package headless drives the catalog site through one authenticated Chrome session.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Config controls the browser.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	ExecPath          string
}

// Browser is an exclusive handle to a single Chrome tab. Its cookies carry the
// catalog session, so at most one action runs against it at a time.
type Browser struct {
	cfg         Config
	slot        chan struct{}
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
}

// NewBrowser allocates Chrome lazily; the process starts on the first Do.
func NewBrowser(cfg Config) *Browser {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	return &Browser{
		cfg:         cfg,
		slot:        make(chan struct{}, 1),
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
	}
}

// Close shuts the tab and the browser process down.
func (b *Browser) Close() {
	b.tabCancel()
	b.allocCancel()
}

// Do runs fn with exclusive use of the tab. The context passed to fn is bound
// to the tab, limited by the navigation timeout and canceled with ctx.
func (b *Browser) Do(ctx context.Context, fn func(tab context.Context) error) error {
	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("browser wait canceled: %w", ctx.Err())
	}
	defer func() { <-b.slot }()

	taskCtx, cancel := context.WithTimeout(b.tab, b.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return fn(taskCtx)
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}
