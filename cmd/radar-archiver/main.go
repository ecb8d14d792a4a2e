package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/geosdi/radar-archiver/internal/adapter/httpserver"
	kafkaadapter "github.com/geosdi/radar-archiver/internal/adapter/kafka"
	"github.com/geosdi/radar-archiver/internal/config"
	"github.com/geosdi/radar-archiver/internal/dispatch"
	"github.com/geosdi/radar-archiver/internal/domain"
	"github.com/geosdi/radar-archiver/internal/fetch"
	"github.com/geosdi/radar-archiver/internal/observability"
	"github.com/geosdi/radar-archiver/internal/pool"
	"github.com/geosdi/radar-archiver/internal/resolve"
	"github.com/geosdi/radar-archiver/internal/store"
	"github.com/geosdi/radar-archiver/internal/stream"
	"github.com/joho/godotenv"
)

func main() {
	// Local development convenience; the file is optional.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		logger.Error("output directory is not writable", "dir", cfg.OutputRoot, "error", err)
		os.Exit(1)
	}

	paths := store.NewPathResolver(cfg.OutputRoot)
	dedup := store.NewDedupIndex()
	resolver := resolve.NewClient(cfg.APIEndpoint, cfg.ResolveTimeout, logger)
	fetcher := fetch.NewFetcher(paths, cfg.FetchTimeout, logger)

	// Completion-record publishing is feature-flagged via KAFKA_BROKERS.
	var recorder pool.Recorder
	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled() {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		recorder = publisher
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	workers := pool.New(pool.Options{
		Resolver:      resolver,
		Fetcher:       fetcher,
		Paths:         paths,
		Dedup:         dedup,
		Recorder:      recorder,
		Logger:        logger,
		Metrics:       metrics,
		Workers:       cfg.Workers,
		QueueCapacity: cfg.QueueCapacity,
		Grace:         cfg.ShutdownTimeout,
	})

	dispatcher := dispatch.New(cfg.Products, dedup, paths, workers, logger, metrics)

	listener := stream.NewListener(stream.Options{
		URL:              cfg.StreamURL,
		SubscribePayload: cfg.SubscribePayload,
		Origin:           cfg.WSOrigin,
		UserAgent:        cfg.WSUserAgent,
		PingInterval:     cfg.PingInterval,
		PongTimeout:      cfg.PongTimeout,
		BackoffBase:      cfg.BackoffBase,
		BackoffCap:       cfg.BackoffCap,
		Logger:           logger,
		Metrics:          metrics,
	}, func(ctx context.Context, n domain.ProductNotification) {
		dispatcher.Accept(ctx, n)
	})

	srv := httpserver.NewServer(cfg.HTTPAddr, listener, dedup, cfg.OutputRoot, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("radar archiver starting",
		"stream_url", cfg.StreamURL,
		"products", cfg.Products,
		"output_root", cfg.OutputRoot,
		"workers", cfg.Workers,
	)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		if err := workers.Run(ctx); err != nil {
			logger.Error("worker pool error", "error", err)
		}
	}()

	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error("stream listener error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker pool did not drain before the shutdown deadline")
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
