package preview

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/JakeFAU/equipment-manuals/internal/catalog"
)

// Page objects, excluding the "/Type /Pages" tree nodes.
var pageObject = regexp.MustCompile(`/Type\s*/Page([^s]|$)`)

// ScanCounter counts page objects in the raw file. It is a rough fallback for
// hosts without poppler and misses pages inside compressed object streams.
type ScanCounter struct{}

// CountPages implements catalog.PageCounter.
func (ScanCounter) CountPages(ctx context.Context, pdfPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	n := len(pageObject.FindAllIndex(data, -1))
	if n == 0 {
		return 0, errors.New("no page objects found")
	}
	return n, nil
}

// FallbackCounter asks Primary and falls back to Secondary on error.
type FallbackCounter struct {
	Primary   catalog.PageCounter
	Secondary catalog.PageCounter
}

// CountPages implements catalog.PageCounter.
func (f FallbackCounter) CountPages(ctx context.Context, pdfPath string) (int, error) {
	n, err := f.Primary.CountPages(ctx, pdfPath)
	if err == nil || f.Secondary == nil {
		return n, err
	}
	n, err2 := f.Secondary.CountPages(ctx, pdfPath)
	if err2 != nil {
		return 0, errors.Join(err, err2)
	}
	return n, nil
}
