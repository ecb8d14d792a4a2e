package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// archiver pipeline.
type Metrics struct {
	NotificationsReceived prometheus.Counter
	NotificationsSkipped  *prometheus.CounterVec // labels: reason={filtered,duplicate,exists,malformed}
	DownloadsSucceeded    prometheus.Counter
	DownloadsFailed       *prometheus.CounterVec // labels: kind (resolve/fetch error kind)
	DownloadBytes         prometheus.Counter
	DownloadDuration      prometheus.Histogram

	QueueDepth       prometheus.Gauge
	StreamConnected  prometheus.Gauge
	StreamReconnects prometheus.Counter
}

// NewMetrics creates and registers all archiver metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		NotificationsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_archiver",
			Name:      "notifications_received_total",
			Help:      "Total notifications decoded from the stream.",
		}),
		NotificationsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radar_archiver",
			Name:      "notifications_skipped_total",
			Help:      "Notifications that produced no download, by reason.",
		}, []string{"reason"}),
		DownloadsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_archiver",
			Name:      "downloads_succeeded_total",
			Help:      "Products archived to local storage.",
		}),
		DownloadsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radar_archiver",
			Name:      "downloads_failed_total",
			Help:      "Download tasks that failed, by error kind.",
		}, []string{"kind"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_archiver",
			Name:      "download_bytes_total",
			Help:      "Total artifact bytes written to local storage.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_archiver",
			Name:      "download_duration_seconds",
			Help:      "Duration of a complete resolve-and-fetch cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radar_archiver",
			Name:      "queue_depth",
			Help:      "Download tasks waiting for a worker.",
		}),
		StreamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radar_archiver",
			Name:      "stream_connected",
			Help:      "1 while the websocket is connected, 0 otherwise.",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_archiver",
			Name:      "stream_reconnects_total",
			Help:      "Connection attempts after the initial connect.",
		}),
	}

	prometheus.MustRegister(
		m.NotificationsReceived,
		m.NotificationsSkipped,
		m.DownloadsSucceeded,
		m.DownloadsFailed,
		m.DownloadBytes,
		m.DownloadDuration,
		m.QueueDepth,
		m.StreamConnected,
		m.StreamReconnects,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		NotificationsReceived: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_archiver", Name: "notifications_received_total"}),
		NotificationsSkipped:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "radar_archiver", Name: "notifications_skipped_total"}, []string{"reason"}),
		DownloadsSucceeded:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_archiver", Name: "downloads_succeeded_total"}),
		DownloadsFailed:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "radar_archiver", Name: "downloads_failed_total"}, []string{"kind"}),
		DownloadBytes:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_archiver", Name: "download_bytes_total"}),
		DownloadDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_archiver", Name: "download_duration_seconds"}),
		QueueDepth:            prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "radar_archiver", Name: "queue_depth"}),
		StreamConnected:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "radar_archiver", Name: "stream_connected"}),
		StreamReconnects:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_archiver", Name: "stream_reconnects_total"}),
	}
}
