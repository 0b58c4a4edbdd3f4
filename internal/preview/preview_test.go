package preview

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript installs a fake poppler binary. Tests that exec scripts do not
// run in parallel so no forked child holds the file open for writing.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestPdftoppmRendersFirstPage(t *testing.T) {
	bin := writeScript(t, "pdftoppm", `for a; do last=$a; done
printf 'PNGDATA' > "$last.png"
`)
	r := NewPdftoppm(bin, 0)
	assert.Equal(t, "pdftoppm", r.Name())
	assert.Equal(t, DefaultDPI, r.DPI)

	img, err := r.RenderFirstPage(context.Background(), "/tmp/manual.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("PNGDATA"), img)
}

func TestPdftoppmFailure(t *testing.T) {
	bin := writeScript(t, "pdftoppm", `echo "Syntax Error: Couldn't read xref table" >&2
exit 1
`)
	_, err := NewPdftoppm(bin, 100).RenderFirstPage(context.Background(), "/tmp/broken.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xref")

	silent := writeScript(t, "pdftoppm-silent", "exit 0\n")
	_, err = NewPdftoppm(silent, 100).RenderFirstPage(context.Background(), "/tmp/broken.pdf")
	require.Error(t, err)
}

func TestPdfinfoCountsPages(t *testing.T) {
	bin := writeScript(t, "pdfinfo", `cat <<'OUT'
Title:          Fryer Parts Manual
Producer:       Acrobat
Pages:          42
Encrypted:      no
OUT
`)
	n, err := NewPdfinfo(bin).CountPages(context.Background(), "/tmp/manual.pdf")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestParsePages(t *testing.T) {
	t.Parallel()

	n, err := parsePages("Creator: x\nPages: 7\n")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = parsePages("Creator: x\n")
	require.Error(t, err)
	_, err = parsePages("Pages: many\n")
	require.Error(t, err)
}

func TestScanCounter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "m.pdf")
	body := "%PDF-1.4\n1 0 obj << /Type /Pages /Count 2 >> endobj\n" +
		"2 0 obj << /Type /Page >> endobj\n3 0 obj << /Type/Page /Parent 1 0 R >> endobj\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	n, err := ScanCounter{}.CountPages(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	empty := filepath.Join(dir, "e.pdf")
	require.NoError(t, os.WriteFile(empty, []byte("%PDF-1.4\n"), 0o644))
	_, err = ScanCounter{}.CountPages(context.Background(), empty)
	require.Error(t, err)
}

type stubCounter struct {
	n   int
	err error
}

func (s stubCounter) CountPages(context.Context, string) (int, error) { return s.n, s.err }

func TestFallbackCounter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	n, err := FallbackCounter{Primary: stubCounter{n: 3}, Secondary: stubCounter{n: 9}}.CountPages(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = FallbackCounter{Primary: stubCounter{err: errors.New("no poppler")}, Secondary: stubCounter{n: 9}}.CountPages(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	_, err = FallbackCounter{Primary: stubCounter{err: errors.New("a")}, Secondary: stubCounter{err: errors.New("b")}}.CountPages(ctx, "x")
	require.Error(t, err)
}

func TestRodCloseWithoutLaunch(t *testing.T) {
	t.Parallel()

	r := NewRod("", 0)
	assert.Equal(t, "rod", r.Name())
	require.NoError(t, r.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.RenderFirstPage(ctx, "/tmp/manual.pdf")
	require.ErrorIs(t, err, context.Canceled)
}
