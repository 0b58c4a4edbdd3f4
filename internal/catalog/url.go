package catalog

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// CanonicalURL resolves raw against base and drops the fragment and the "v"
// cache-busting query parameter, so the same manual always maps to one URL.
func CanonicalURL(base, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty manual url")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse manual url: %w", err)
	}
	if !ref.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		ref = b.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", ref.Scheme)
	}
	q := ref.Query()
	q.Del("v")
	ref.RawQuery = q.Encode()
	ref.Fragment = ""
	ref.Host = strings.ToLower(ref.Host)
	return ref.String(), nil
}

// FileName returns the last path segment of a manual URL.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}
	return path.Base(u.Path)
}
