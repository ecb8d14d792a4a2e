// Package fetch streams a presigned download URL to its final place in the
// archive.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/geosdi/radar-archiver/internal/domain"
	"github.com/geosdi/radar-archiver/internal/store"
)

// Kind classifies a fetch failure.
type Kind string

const (
	// KindTimeout is a download that exceeded the fetch deadline.
	KindTimeout Kind = "fetch_timeout"
	// KindConnect is a transport failure before any body bytes arrived.
	KindConnect Kind = "fetch_connect"
	// KindHTTP is a non-success status from the download URL.
	KindHTTP Kind = "fetch_http"
	// KindStream is a body interrupted mid-transfer.
	KindStream Kind = "fetch_stream"
	// KindEmptyPayload is a completed transfer of zero bytes.
	KindEmptyPayload Kind = "fetch_empty"
	// KindFilesystem is a temp-file, directory, or rename failure.
	KindFilesystem Kind = "fetch_fs"
)

// Error is a failed fetch attempt. Status is set for KindHTTP.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("%s: status %d", e.Kind, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher downloads resolved locations into the archive tree. Writes go to a
// temp file in the destination's directory so the final publish is a single
// same-volume rename; a partially written artifact is never visible at the
// final path.
type Fetcher struct {
	paths      *store.PathResolver
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a fetcher with a bounded per-download timeout.
func NewFetcher(paths *store.PathResolver, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		paths: paths,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch downloads loc to destPath. A file already complete at destPath wins
// over the download: the fetched bytes are discarded and Fetch reports
// success, since the artifact exists. Returns the number of bytes published.
func (f *Fetcher) Fetch(ctx context.Context, loc domain.ResolvedLocation, destPath string) (int64, error) {
	if err := f.paths.EnsureParentDir(destPath); err != nil {
		return 0, &Error{Kind: KindFilesystem, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return 0, &Error{Kind: KindConnect, Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, &Error{Kind: transportKind(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &Error{Kind: KindHTTP, Status: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".part-")
	if err != nil {
		return 0, &Error{Kind: KindFilesystem, Err: fmt.Errorf("create temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return 0, &Error{Kind: streamKind(err), Err: fmt.Errorf("stream body: %w", err)}
	}
	if written == 0 {
		return 0, &Error{Kind: KindEmptyPayload, Err: errors.New("empty payload")}
	}

	// Re-check right before publishing: an external writer may have completed
	// the artifact while we were downloading. Narrows the race, does not
	// eliminate it; concurrent internal writers are excluded by dedup
	// admission. The fetched bytes are discarded, so report the size of the
	// file that actually stays on disk.
	if size, ok := store.ArtifactSize(destPath); ok {
		f.logger.Info("artifact appeared during fetch, keeping existing file", "path", destPath)
		return size, nil
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, &Error{Kind: KindFilesystem, Err: fmt.Errorf("publish artifact: %w", err)}
	}

	return written, nil
}

func transportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnect
}

// streamKind classifies an error that happened after headers were received:
// disk errors are filesystem failures, everything else is an interrupted
// body.
func streamKind(err error) Kind {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return KindFilesystem
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindStream
}
