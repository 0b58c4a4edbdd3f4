package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePDF = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte(samplePDF))
	})
	mux.HandleFunc("/empty.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/page.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not found</html>"))
	})
	mux.HandleFunc("/short.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(samplePDF)+100))
		_, _ = w.Write([]byte(samplePDF))
	})
	mux.HandleFunc("/big.pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(samplePDF + samplePDF))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadWritesFile(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	d := New(Config{UserAgent: "manuals-test"}, WithHTTPClient(srv.Client()))
	dest := filepath.Join(t.TempDir(), "manual.pdf")

	n, err := d.Download(context.Background(), srv.URL+"/ok.pdf", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(samplePDF)), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, samplePDF, string(data))
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadRejects(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	tests := []struct {
		name     string
		path     string
		maxBytes int64
		want     error
	}{
		{name: "empty", path: "/empty.pdf", want: ErrEmpty},
		{name: "html", path: "/page.pdf", want: ErrNotPDF},
		{name: "truncated", path: "/short.pdf", want: ErrTruncated},
		{name: "too large", path: "/big.pdf", maxBytes: int64(len(samplePDF)), want: ErrTooLarge},
		{name: "missing", path: "/missing.pdf"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := New(Config{MaxBytes: tc.maxBytes}, WithHTTPClient(srv.Client()))
			dest := filepath.Join(t.TempDir(), "manual.pdf")

			_, err := d.Download(context.Background(), srv.URL+tc.path, dest)
			require.Error(t, err)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}
			_, statErr := os.Stat(dest)
			assert.True(t, os.IsNotExist(statErr))
			_, statErr = os.Stat(dest + ".part")
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

type recordingWaiter struct{ urls []string }

func (w *recordingWaiter) Wait(_ context.Context, url string) error {
	w.urls = append(w.urls, url)
	return nil
}

func TestDownloadWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	w := &recordingWaiter{}
	d := New(Config{}, WithHTTPClient(srv.Client()), WithLimiter(w))
	_, err := d.Download(context.Background(), srv.URL+"/ok.pdf", filepath.Join(t.TempDir(), "m.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/ok.pdf"}, w.urls)
}
