package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medindex_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medindex_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Mirror API metrics
	MirrorFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medindex_mirror_fetch_duration_seconds",
			Help:    "Mirror API page fetch latency",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"topic"},
	)

	MirrorFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medindex_mirror_fetch_errors_total",
			Help: "Failed mirror API page fetches",
		},
		[]string{"topic"},
	)

	// Indexing metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medindex_messages_processed_total",
			Help: "Messages handled by the index engine",
		},
		[]string{"topic", "outcome"}, // "indexed", "duplicate", "skipped", "error"
	)

	CursorSequence = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medindex_cursor_sequence",
			Help: "Last persisted sequence number per topic",
		},
		[]string{"topic"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medindex_sync_runs_total",
			Help: "Historical sync runs per topic",
		},
		[]string{"topic", "status"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medindex_active_subscriptions",
			Help: "Realtime polling loops currently running",
		},
	)

	// Stats metrics
	StatsRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medindex_stats_runs_total",
			Help: "Stats aggregation runs",
		},
		[]string{"kind", "status"}, // kind: "daily" or "historical"
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medindex_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medindex_store_latency_seconds",
			Help:    "Record store query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"backend", "op"},
	)
)
