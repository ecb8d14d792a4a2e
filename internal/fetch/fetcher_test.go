package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/geosdi/radar-archiver/internal/domain"
	"github.com/geosdi/radar-archiver/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher(t *testing.T) (*Fetcher, string) {
	t.Helper()
	root := t.TempDir()
	paths := store.NewPathResolver(root)
	return NewFetcher(paths, 5*time.Second, discardLogger()), root
}

func location(url string) domain.ResolvedLocation {
	return domain.ResolvedLocation{
		Bucket:         "dpc-radar",
		Key:            "VMI/22-09-2025-11-40.tif",
		URL:            url,
		ExpiresSeconds: 300,
	}
}

// assertNoTempFiles verifies no .part files linger in the destination
// directory after a fetch, successful or not.
func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return
	}
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".part-", "leftover temp file %s", e.Name())
	}
}

func TestFetcher_Fetch_Success(t *testing.T) {
	payload := []byte("radar image bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f, root := newTestFetcher(t)
	dest := filepath.Join(root, "VMI", "22-09-2025-11-40.tif")

	written, err := f.Fetch(context.Background(), location(srv.URL), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), written)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assertNoTempFiles(t, filepath.Dir(dest))
}

func TestFetcher_Fetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden) // expired presigned URL
	}))
	defer srv.Close()

	f, root := newTestFetcher(t)
	dest := filepath.Join(root, "VMI", "a.tif")

	_, err := f.Fetch(context.Background(), location(srv.URL), dest)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindHTTP, fetchErr.Kind)
	assert.Equal(t, http.StatusForbidden, fetchErr.Status)
	assert.NoFileExists(t, dest)
	assertNoTempFiles(t, filepath.Dir(dest))
}

func TestFetcher_Fetch_EmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, root := newTestFetcher(t)
	dest := filepath.Join(root, "VMI", "a.tif")

	_, err := f.Fetch(context.Background(), location(srv.URL), dest)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindEmptyPayload, fetchErr.Kind)
	assert.NoFileExists(t, dest)
	assertNoTempFiles(t, filepath.Dir(dest))
}

func TestFetcher_Fetch_InterruptedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Promise more bytes than we send, then return: the client sees an
		// unexpected EOF mid-body.
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write([]byte("truncated"))
	}))
	defer srv.Close()

	f, root := newTestFetcher(t)
	dest := filepath.Join(root, "VMI", "a.tif")

	_, err := f.Fetch(context.Background(), location(srv.URL), dest)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindStream, fetchErr.Kind)
	assert.NoFileExists(t, dest)
	assertNoTempFiles(t, filepath.Dir(dest))
}

func TestFetcher_Fetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	root := t.TempDir()
	f := NewFetcher(store.NewPathResolver(root), 50*time.Millisecond, discardLogger())
	dest := filepath.Join(root, "VMI", "a.tif")

	_, err := f.Fetch(context.Background(), location(srv.URL), dest)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindTimeout, fetchErr.Kind)
	assert.NoFileExists(t, dest)
}

func TestFetcher_Fetch_ConnectError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	f, root := newTestFetcher(t)
	dest := filepath.Join(root, "VMI", "a.tif")

	_, err := f.Fetch(context.Background(), location(srv.URL), dest)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, KindConnect, fetchErr.Kind)
}

func TestFetcher_Fetch_KeepsCompleteArtifact(t *testing.T) {
	existing := []byte("already archived")

	f, root := newTestFetcher(t)
	dest := filepath.Join(root, "VMI", "a.tif")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, existing, 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("different bytes, longer than the artifact"))
	}))
	defer srv.Close()

	written, err := f.Fetch(context.Background(), location(srv.URL), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(existing)), written, "reported bytes are those of the file kept on disk, not the discarded download")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, existing, got, "existing complete artifact must not be overwritten")
	assertNoTempFiles(t, filepath.Dir(dest))
}

func TestFetcher_Fetch_OverwritesEmptyFile(t *testing.T) {
	f, root := newTestFetcher(t)
	dest := filepath.Join(root, "VMI", "a.tif")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, nil, 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("real bytes"))
	}))
	defer srv.Close()

	_, err := f.Fetch(context.Background(), location(srv.URL), dest)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("real bytes"), got, "zero-length files are incomplete and replaceable")
}
