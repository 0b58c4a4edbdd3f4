package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://www.PartsTown.com/modelManual/x.pdf", "www.partstown.com"},
		{"no scheme", "partstown.com/path", "partstown.com"},
		{"host with port", "localhost:8080", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	t.Parallel()

	Init()
	Init()
	require.NotNil(t, cacheLookupsTotal)
	require.NotNil(t, resolutionsTotal)
	require.NotNil(t, httpRequestDurationSeconds)
}

func TestObserveHelpers(t *testing.T) {
	t.Parallel()

	ObserveCacheLookup("test-ns", true)
	ObserveCacheLookup("test-ns", false)
	ObserveCacheLookup("test-ns", false)
	assert.InDelta(t, 1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("test-ns", "hit")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("test-ns", "miss")), 0)

	ObservePreview("test-renderer", errors.New("boom"))
	ObservePreview("test-renderer", nil)
	assert.InDelta(t, 1, testutil.ToFloat64(previewRendersTotal.WithLabelValues("test-renderer", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(previewRendersTotal.WithLabelValues("test-renderer", "success")), 0)

	SetAssetsCached(7)
	assert.InDelta(t, 7, testutil.ToFloat64(assetsCached), 0)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://www.partstown.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
