package preview

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmgilman/go/exec"
)

// DefaultDPI is the preview resolution when none is configured.
const DefaultDPI = 72

// Pdftoppm renders page one with poppler's pdftoppm.
type Pdftoppm struct {
	Bin string
	DPI int
}

// NewPdftoppm returns a renderer using bin (default "pdftoppm").
func NewPdftoppm(bin string, dpi int) *Pdftoppm {
	if bin == "" {
		bin = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Pdftoppm{Bin: bin, DPI: dpi}
}

// Name identifies the renderer in metrics and logs.
func (p *Pdftoppm) Name() string { return "pdftoppm" }

// RenderFirstPage returns PNG bytes of the first page.
func (p *Pdftoppm) RenderFirstPage(ctx context.Context, pdfPath string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "manual-preview-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "page")
	res, err := exec.New(exec.WithInheritEnv()).WithContext(ctx).Run(
		p.Bin, "-f", "1", "-l", "1", "-png", "-singlefile",
		"-r", strconv.Itoa(p.DPI), pdfPath, out,
	)
	if err != nil {
		return nil, commandError("pdftoppm", res, err)
	}

	img, err := os.ReadFile(out + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no image: %w", err)
	}
	if len(img) == 0 {
		return nil, errors.New("pdftoppm produced an empty image")
	}
	return img, nil
}

// Pdfinfo counts pages with poppler's pdfinfo.
type Pdfinfo struct {
	Bin string
}

// NewPdfinfo returns a counter using bin (default "pdfinfo").
func NewPdfinfo(bin string) *Pdfinfo {
	if bin == "" {
		bin = "pdfinfo"
	}
	return &Pdfinfo{Bin: bin}
}

// CountPages runs pdfinfo and parses its "Pages:" line.
func (p *Pdfinfo) CountPages(ctx context.Context, pdfPath string) (int, error) {
	res, err := exec.New(exec.WithInheritEnv()).WithContext(ctx).Run(p.Bin, pdfPath)
	if err != nil {
		return 0, commandError("pdfinfo", res, err)
	}
	return parsePages(res.Stdout)
}

func parsePages(out string) (int, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), ":")
		if !ok || strings.TrimSpace(key) != "Pages" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("parse page count %q: %w", val, err)
		}
		return n, nil
	}
	return 0, errors.New("pdfinfo output has no page count")
}

func commandError(name string, res *exec.Result, err error) error {
	if res != nil {
		if msg := strings.TrimSpace(res.Stderr); msg != "" {
			return fmt.Errorf("%s exit %d: %s: %w", name, res.ExitCode, msg, err)
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
