package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_op_duration_seconds",
			Help:    "Duration of remote store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	StoreOpRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_op_retries_total",
			Help: "Total number of retried remote store operations",
		},
		[]string{"op"},
	)

	SnapshotsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_snapshots_processed_total",
			Help: "Total number of snapshots materialized per target kind",
		},
		[]string{"kind"},
	)

	MaterializationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_materialization_failures_total",
			Help: "Records skipped or snapshots failed during materialization",
		},
		[]string{"kind"},
	)

	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_subscriptions_active",
			Help: "Current number of live subscriptions",
		},
		[]string{"kind"},
	)
)
