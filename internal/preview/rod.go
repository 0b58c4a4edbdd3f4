package preview

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Rod screenshots the first page as shown by the browser's PDF viewer.
type Rod struct {
	bin     string
	timeout time.Duration

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRod returns a lazily launched renderer. bin may be empty to let rod find
// or download a browser.
func NewRod(bin string, timeout time.Duration) *Rod {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Rod{bin: bin, timeout: timeout}
}

// Name identifies the renderer in metrics and logs.
func (r *Rod) Name() string { return "rod" }

func (r *Rod) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().Headless(true).NoSandbox(true)
	if r.bin != "" {
		l = l.Bin(r.bin)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	r.browser = b
	return b, nil
}

// RenderFirstPage opens the file and captures the viewport as PNG.
func (r *Rod) RenderFirstPage(ctx context.Context, pdfPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(pdfPath)
	if err != nil {
		return nil, err
	}
	b, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "file://" + abs})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	page = page.Context(ctx).Timeout(timeout)
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}

	img, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return img, nil
}

// Close shuts down the browser if it was launched.
func (r *Rod) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}
