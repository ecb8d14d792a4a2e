// Package resolve exchanges a product identity for a short-lived download
// location through the downloadProduct API.
package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/geosdi/radar-archiver/internal/domain"
)

// Kind classifies a resolution failure.
type Kind string

const (
	// KindTimeout is a request that exceeded the resolution deadline.
	KindTimeout Kind = "resolve_timeout"
	// KindConnect is a transport failure other than a timeout.
	KindConnect Kind = "resolve_connect"
	// KindHTTP is a non-success status from the API.
	KindHTTP Kind = "resolve_http"
	// KindParse is a response body that does not look like a resolved
	// location.
	KindParse Kind = "resolve_parse"
)

// Error is a failed resolution attempt. Status is set for KindHTTP.
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

// Client calls the downloadProduct endpoint. A failed resolution is never
// retried here; the caller decides whether the task dies or comes back via
// a re-sent notification.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a resolution client with a bounded per-call timeout.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// request is the downloadProduct API request body.
type request struct {
	ProductType string `json:"productType"`
	ProductDate int64  `json:"productDate"`
}

// Resolve issues one resolution request for key and returns the presigned
// download location. Every failure is an *Error with a distinct Kind.
func (c *Client) Resolve(ctx context.Context, key domain.DownloadKey) (domain.ResolvedLocation, error) {
	body, err := json.Marshal(request{ProductType: key.ProductType, ProductDate: key.TimeMs})
	if err != nil {
		return domain.ResolvedLocation{}, &Error{Kind: KindParse, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.ResolvedLocation{}, &Error{Kind: KindConnect, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ResolvedLocation{}, &Error{Kind: transportKind(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the log line, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		c.logger.Warn("resolution API error",
			"key", key.String(),
			"status", resp.StatusCode,
			"body", string(snippet),
		)
		return domain.ResolvedLocation{}, &Error{Kind: KindHTTP, Status: resp.StatusCode}
	}

	var loc domain.ResolvedLocation
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return domain.ResolvedLocation{}, &Error{Kind: KindParse, Err: fmt.Errorf("decode response: %w", err)}
	}
	if loc.Key == "" || loc.URL == "" {
		return domain.ResolvedLocation{}, &Error{Kind: KindParse, Err: errors.New("response missing key or url")}
	}

	return loc, nil
}

// transportKind separates deadline overruns from other dial/transport
// failures.
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
