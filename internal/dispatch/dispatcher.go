// Package dispatch decides which notifications become download tasks.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/geosdi/radar-archiver/internal/domain"
	"github.com/geosdi/radar-archiver/internal/observability"
	"github.com/geosdi/radar-archiver/internal/store"
	"github.com/google/uuid"
)

// Submitter accepts admitted tasks. Submit blocks while the queue is full.
type Submitter interface {
	Submit(ctx context.Context, task domain.DownloadTask) error
}

// Dispatcher filters notifications against the product allow-list, admits
// each new key through the dedup index, skips work already on disk, and
// enqueues the rest. Admission through DedupIndex.Acquire is the single
// serialization point, so at most one task per key ever reaches the queue
// even if Accept were called concurrently.
type Dispatcher struct {
	allowed map[string]struct{}
	dedup   *store.DedupIndex
	paths   *store.PathResolver
	pool    Submitter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Dispatcher for the given product allow-list. Matching is
// exact; the configuration layer owns any case normalization.
func New(products []string, dedup *store.DedupIndex, paths *store.PathResolver, pool Submitter, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	allowed := make(map[string]struct{}, len(products))
	for _, p := range products {
		allowed[p] = struct{}{}
	}
	return &Dispatcher{
		allowed: allowed,
		dedup:   dedup,
		paths:   paths,
		pool:    pool,
		logger:  logger,
		metrics: metrics,
	}
}

// Accept inspects one notification and returns true if it was enqueued for
// download. Rejections have no side effect except that a key whose artifact
// is already on disk is recorded as done, so later repeats skip the
// filesystem check.
func (d *Dispatcher) Accept(ctx context.Context, n domain.ProductNotification) bool {
	if _, ok := d.allowed[n.ProductType]; !ok {
		d.metrics.NotificationsSkipped.WithLabelValues("filtered").Inc()
		d.logger.Debug("ignoring product outside allow-list", "product_type", n.ProductType)
		return false
	}

	key := n.Key()
	if !d.dedup.Acquire(key) {
		d.metrics.NotificationsSkipped.WithLabelValues("duplicate").Inc()
		d.logger.Debug("duplicate notification", "key", key.String())
		return false
	}

	if store.ArtifactComplete(d.paths.SanitizedPath(key.RemoteKey())) {
		d.dedup.Complete(key)
		d.metrics.NotificationsSkipped.WithLabelValues("exists").Inc()
		d.logger.Debug("artifact already on disk", "key", key.String())
		return false
	}

	task := domain.DownloadTask{ID: uuid.NewString(), Key: key}
	if err := d.pool.Submit(ctx, task); err != nil {
		// Shutdown while blocked on a full queue; re-admit the key so a
		// restart can pick it up from a fresh notification.
		d.dedup.Release(key)
		d.logger.Warn("submit aborted", "key", key.String(), "error", err)
		return false
	}

	d.logger.Debug("enqueued download",
		"task_id", task.ID,
		"key", key.String(),
		"product_time", key.Time(),
	)
	return true
}
