package catalog

import (
	"context"
	"time"
)

// Scraper drives the authenticated browser session against the catalog site.
type Scraper interface {
	FetchManufacturers(ctx context.Context) ([]Manufacturer, error)
	FetchModelsPage(ctx context.Context, manufacturerURI string, offset, limit int) ([]Model, error)
	FetchManualsForModel(ctx context.Context, manufacturerURI, modelCode string) ([]ManualReference, error)
	Ready() bool
}

// Prober checks whether a candidate URL resolves to content without downloading it.
type Prober interface {
	Exists(ctx context.Context, url string) (bool, error)
}

// Downloader streams a URL to a local file and returns the bytes written.
type Downloader interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}

// Renderer renders the first page of a PDF to image bytes.
type Renderer interface {
	Name() string
	RenderFirstPage(ctx context.Context, pdfPath string) ([]byte, error)
}

// PageCounter reports the number of pages in a PDF.
type PageCounter interface {
	CountPages(ctx context.Context, pdfPath string) (int, error)
}

// SnapshotStore persists JSON documents between runs.
type SnapshotStore interface {
	ReadJSON(name string, v any) error
	WriteJSON(name string, v any) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
