package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Persistence metrics
	DocumentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_documents_total",
			Help: "Approximate number of non-deleted documents by tablet",
		},
		[]string{"tablet"},
	)

	MaxCommitTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_max_commit_timestamp",
			Help: "The highest commit timestamp ever durably written",
		},
	)

	RetentionPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_retention_purged_total",
			Help: "Total number of document/index log rows purged by retention",
		},
	)

	RetentionSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_retention_sweep_duration_seconds",
			Help:    "Time taken for one retention sweep cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Client sync / HTTP API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	WebsocketConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_websocket_connections_active",
			Help: "Number of currently open client sync websocket connections",
		},
	)

	// Committer / OCC metrics
	CommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_commit_duration_seconds",
			Help:    "Time taken to commit a mutation, by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	OCCConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_occ_conflicts_total",
			Help: "Total number of OCC conflicts detected at commit time",
		},
	)

	OCCRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_occ_retries_total",
			Help: "Total number of façade-level retries after an OCC conflict",
		},
	)

	// Subscription metrics
	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscriptions_active",
			Help: "Number of currently registered reactive subscriptions",
		},
	)

	SubscriptionInvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_subscription_invalidations_total",
			Help: "Total number of subscription invalidations pushed after a commit",
		},
	)

	// Sandbox metrics
	FunctionExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_function_executions_total",
			Help: "Total number of function executions by udf type and outcome",
		},
		[]string{"udf_type", "outcome"},
	)

	FunctionExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_function_execution_duration_seconds",
			Help:    "Function execution duration in seconds by udf type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"udf_type"},
	)

	IsolatePoolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_isolate_pool_in_use",
			Help: "Number of query/mutation isolates currently checked out",
		},
	)

	// Query cache metrics
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_cache_hits_total",
			Help: "Total number of query cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_cache_misses_total",
			Help: "Total number of query cache misses",
		},
	)

	CacheEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_cache_entries_total",
			Help: "Number of entries currently held in the query cache",
		},
	)

	// Search index metrics
	SearchFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_search_flush_duration_seconds",
			Help:    "Time taken to flush the in-memory search delta to a segment",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchCompactDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_search_compact_duration_seconds",
			Help:    "Time taken for a search segment compaction cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchSegmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_search_segments_total",
			Help: "Number of immutable search segments currently on disk",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DocumentsTotal,
		MaxCommitTimestamp,
		RetentionPurgedTotal,
		RetentionSweepDuration,
		RaftLeader,
		RaftPeers,
		RaftLogIndex,
		RaftAppliedIndex,
		RaftApplyDuration,
		APIRequestsTotal,
		APIRequestDuration,
		WebsocketConnectionsActive,
		CommitDuration,
		OCCConflictsTotal,
		OCCRetriesTotal,
		SubscriptionsActive,
		SubscriptionInvalidationsTotal,
		FunctionExecutionsTotal,
		FunctionExecutionDuration,
		IsolatePoolInUse,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEntriesTotal,
		SearchFlushDuration,
		SearchCompactDuration,
		SearchSegmentsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
