// Package pool runs download tasks on a fixed set of workers fed by a
// bounded queue.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geosdi/radar-archiver/internal/domain"
	"github.com/geosdi/radar-archiver/internal/fetch"
	"github.com/geosdi/radar-archiver/internal/observability"
	"github.com/geosdi/radar-archiver/internal/resolve"
	"github.com/geosdi/radar-archiver/internal/store"
	"golang.org/x/sync/errgroup"
)

// Resolver turns a download key into a presigned location.
type Resolver interface {
	Resolve(ctx context.Context, key domain.DownloadKey) (domain.ResolvedLocation, error)
}

// Fetcher materializes a resolved location at a local path.
type Fetcher interface {
	Fetch(ctx context.Context, loc domain.ResolvedLocation, destPath string) (int64, error)
}

// Recorder receives a record for every archived product. Optional; publish
// failures never fail the task.
type Recorder interface {
	Publish(ctx context.Context, rec domain.DownloadRecord) error
}

// Options wires a Pool. Recorder may be nil.
type Options struct {
	Resolver Resolver
	Fetcher  Fetcher
	Paths    *store.PathResolver
	Dedup    *store.DedupIndex
	Recorder Recorder
	Logger   *slog.Logger
	Metrics  *observability.Metrics

	Workers       int
	QueueCapacity int
	// Grace bounds how long an in-flight task may keep running after
	// shutdown begins.
	Grace time.Duration
}

// Pool executes resolve-then-fetch for queued tasks. The queue is bounded;
// Submit blocks when it is full, which backpressures the dispatcher instead
// of dropping decoded notifications.
type Pool struct {
	opts  Options
	queue chan domain.DownloadTask
}

// New creates a Pool. It does nothing until Run is called.
func New(opts Options) *Pool {
	return &Pool{
		opts:  opts,
		queue: make(chan domain.DownloadTask, opts.QueueCapacity),
	}
}

// Submit enqueues a task, blocking while the queue is full. Returns the
// context error if ctx is cancelled first.
func (p *Pool) Submit(ctx context.Context, task domain.DownloadTask) error {
	select {
	case p.queue <- task:
		p.opts.Metrics.QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight task has finished or hit the grace deadline.
func (p *Pool) Run(ctx context.Context) error {
	p.opts.Logger.Info("worker pool started",
		"workers", p.opts.Workers,
		"queue_capacity", p.opts.QueueCapacity,
	)

	g, gctx := errgroup.WithContext(ctx)
	for range p.opts.Workers {
		g.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.queue:
			p.opts.Metrics.QueueDepth.Dec()
			p.process(ctx, task)
		}
	}
}

// taskContext detaches the task from immediate cancellation: while ctx is
// live the task runs normally; once ctx is cancelled the task gets Grace to
// finish before it is aborted.
func (p *Pool) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(p.opts.Grace, cancel)
	})
	return taskCtx, func() {
		stop()
		cancel()
	}
}

func (p *Pool) process(ctx context.Context, task domain.DownloadTask) {
	taskCtx, cancel := p.taskContext(ctx)
	defer cancel()

	start := time.Now()

	loc, err := p.opts.Resolver.Resolve(taskCtx, task.Key)
	if err != nil {
		p.fail(task, err)
		return
	}

	destPath := p.opts.Paths.SanitizedPath(loc.Key)

	// The dispatcher's pre-admission check uses a predicted key; the resolved
	// key is authoritative. An artifact already complete at the resolved path
	// means the product was archived before (typically by a previous run), so
	// there is nothing to fetch.
	if store.ArtifactComplete(destPath) {
		p.opts.Dedup.Complete(task.Key)
		p.opts.Metrics.NotificationsSkipped.WithLabelValues("exists").Inc()
		p.opts.Logger.Info("artifact already on disk, skipping fetch",
			"task_id", task.ID,
			"key", task.Key.String(),
			"path", destPath,
		)
		return
	}

	written, err := p.opts.Fetcher.Fetch(taskCtx, loc, destPath)
	if err != nil {
		p.fail(task, err)
		return
	}

	p.opts.Dedup.Complete(task.Key)
	p.opts.Metrics.DownloadsSucceeded.Inc()
	p.opts.Metrics.DownloadBytes.Add(float64(written))
	p.opts.Metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	p.opts.Logger.Info("product archived",
		"task_id", task.ID,
		"key", task.Key.String(),
		"path", destPath,
		"bytes", written,
		"duration", time.Since(start),
	)

	if p.opts.Recorder != nil {
		rec := domain.NewDownloadRecord(task.Key, loc, destPath, written)
		if err := p.opts.Recorder.Publish(taskCtx, rec); err != nil {
			p.opts.Logger.Warn("publish download record failed",
				"key", task.Key.String(),
				"error", err,
			)
		}
	}
}

// fail marks the task failed and forgets its dedup entry, so a future
// notification for the same key is the retry.
func (p *Pool) fail(task domain.DownloadTask, err error) {
	p.opts.Dedup.Release(task.Key)
	p.opts.Metrics.DownloadsFailed.WithLabelValues(failureKind(err)).Inc()
	p.opts.Logger.Error("download failed",
		"task_id", task.ID,
		"key", task.Key.String(),
		"error", err,
	)
}

func failureKind(err error) string {
	var resolveErr *resolve.Error
	if errors.As(err, &resolveErr) {
		return string(resolveErr.Kind)
	}
	var fetchErr *fetch.Error
	if errors.As(err, &fetchErr) {
		return string(fetchErr.Kind)
	}
	return "other"
}
