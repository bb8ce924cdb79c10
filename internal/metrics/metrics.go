// Package metrics exposes Prometheus instrumentation for the sync
// pipeline: sync height, per-batch duration, reorg counts, and RPC
// error rate. The Sync Engine, Reorg Controller, RPC client and supply
// verifier update these directly; cmd/fluxsyncd serves them on its own
// metrics listener at /metrics via promhttp. The /metrics route of
// cmd/fluxapid serves that separate process's own registry, which does
// not carry the sync pipeline's values.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncHeight is the indexer's current indexed height.
	SyncHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fluxindexer",
		Name:      "sync_height",
		Help:      "Current height indexed by the sync engine.",
	})

	// ChainHeight is the daemon's reported header height.
	ChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fluxindexer",
		Name:      "chain_height",
		Help:      "Daemon-reported chain header height, as last observed.",
	})

	// BatchDuration observes wall-clock time spent fetching, indexing,
	// and persisting one batch.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fluxindexer",
		Name:      "batch_duration_seconds",
		Help:      "Time spent processing one sync batch, end to end.",
		Buckets:   prometheus.DefBuckets,
	})

	// ReorgsTotal counts reorg events handled since process start.
	ReorgsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluxindexer",
		Name:      "reorgs_total",
		Help:      "Total number of chain reorganizations handled.",
	})

	// ReorgDepth observes the depth (in blocks) of each handled reorg.
	ReorgDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fluxindexer",
		Name:      "reorg_depth_blocks",
		Help:      "Depth, in blocks, of each handled chain reorganization.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
	})

	// RPCErrorsTotal counts RPC call failures, labeled by method.
	RPCErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fluxindexer",
		Name:      "rpc_errors_total",
		Help:      "Total RPC call failures, by method.",
	}, []string{"method"})

	// SupplyDriftMinorUnits records the most recently observed drift
	// between the daemon's valuePools and the indexer's own accounting.
	SupplyDriftMinorUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fluxindexer",
		Name:      "supply_drift_minor_units",
		Help:      "Most recently observed drift between daemon-reported and indexed transparent supply.",
	})
)
