// Command backfill downloads a single radar product without the stream: it
// resolves and fetches one (product, time) pair and prints the archived path.
// Useful for filling gaps after an outage or for verifying API credentials.
//
// Usage:
//
//	go run ./cmd/backfill \
//	  -product VMI \
//	  -time 2025-09-25T10:00:00Z \
//	  -output ./downloads
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/geosdi/radar-archiver/internal/domain"
	"github.com/geosdi/radar-archiver/internal/fetch"
	"github.com/geosdi/radar-archiver/internal/resolve"
	"github.com/geosdi/radar-archiver/internal/store"
)

func main() {
	product := flag.String("product", "", "product type code, e.g. VMI")
	productTime := flag.String("time", "", "product instant, RFC3339 or epoch milliseconds")
	output := flag.String("output", "./downloads", "archive root directory")
	endpoint := flag.String("api-endpoint", "https://radar-api-v2.protezionecivile.it/downloadProduct", "downloadProduct API endpoint")
	resolveTimeout := flag.Duration("resolve-timeout", 10*time.Second, "resolution request timeout")
	fetchTimeout := flag.Duration("fetch-timeout", 30*time.Second, "artifact download timeout")
	verbose := flag.Bool("v", false, "log request details to stderr")
	flag.Parse()

	if *product == "" || *productTime == "" {
		flag.Usage()
		os.Exit(1)
	}

	ms, err := parseProductTime(*productTime)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	path, err := run(*product, ms, *output, *endpoint, *resolveTimeout, *fetchTimeout, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(path)
}

func run(product string, ms int64, output, endpoint string, resolveTimeout, fetchTimeout time.Duration, logger *slog.Logger) (string, error) {
	if err := os.MkdirAll(output, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	key := domain.DownloadKey{ProductType: product, TimeMs: ms}
	paths := store.NewPathResolver(output)

	ctx := context.Background()
	loc, err := resolve.NewClient(endpoint, resolveTimeout, logger).Resolve(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", key.String(), err)
	}

	dest := paths.SanitizedPath(loc.Key)
	written, err := fetch.NewFetcher(paths, fetchTimeout, logger).Fetch(ctx, loc, dest)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", key.String(), err)
	}

	logger.Info("product archived", "key", key.String(), "path", dest, "bytes", written)
	return dest, nil
}

// parseProductTime accepts RFC3339 or raw epoch milliseconds.
func parseProductTime(raw string) (int64, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("-time must be RFC3339 or epoch milliseconds, got %q", raw)
	}
	return t.UnixMilli(), nil
}
