package catalog

import "errors"

var (
	// ErrNotFound reports an unknown manufacturer, model or asset.
	ErrNotFound = errors.New("not found")
	// ErrPaginationIncomplete marks a model list that may be missing entries.
	ErrPaginationIncomplete = errors.New("pagination incomplete")
	// ErrResolutionFailed means neither pattern validation nor scraping found a manual.
	ErrResolutionFailed = errors.New("manual resolution failed")
	// ErrDownloadFailed covers empty, truncated or non-PDF downloads.
	ErrDownloadFailed = errors.New("download failed")
	// ErrPreviewUnavailable is non-fatal: the PDF is usable but no preview exists.
	ErrPreviewUnavailable = errors.New("preview unavailable")
	// ErrScraperUnavailable is returned when no browser session is configured.
	ErrScraperUnavailable = errors.New("scraper unavailable")
)
