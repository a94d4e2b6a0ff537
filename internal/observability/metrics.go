package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for BasketLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreOpsApplied   *prometheus.CounterVec
	CoreOpsRejected  *prometheus.CounterVec
	CoreOpDuration   *prometheus.HistogramVec
	CoreStateHashDur prometheus.Histogram
	CoreSequence     prometheus.Gauge

	// --- Domain ---
	AuctionBids        *prometheus.CounterVec
	AuctionsOpened     prometheus.Counter
	AuctionsClosed     *prometheus.CounterVec
	RebalancesStarted  prometheus.Counter
	FeesAccrued        prometheus.Counter
	FeesDistributed    *prometheus.CounterVec
	BasketSupply       *prometheus.GaugeVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter

	// --- Persistence ---
	PersistNotesWritten prometheus.Counter
	PersistBatchDur     prometheus.Histogram
	PersistBatchSize    prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistRetry        prometheus.Counter
	PersistLastSequence prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayNotesTotal  prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreOpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_core_ops_applied_total",
			Help: "Operations successfully applied by core",
		}, []string{"op_type"}),

		CoreOpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_core_ops_rejected_total",
			Help: "Operations rejected (dedup, authorization, validation)",
		}, []string{"op_type", "reason"}),

		CoreOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "basket_core_op_apply_duration_seconds",
			Help:    "Time to apply a single operation in core",
			Buckets: latencyBuckets,
		}, []string{"op_type"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "basket_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basket_core_sequence",
			Help: "Current global sequence number",
		}),

		// Domain
		AuctionBids: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_auction_bids_total",
			Help: "Bids settled",
		}, []string{"basket"}),

		AuctionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_auctions_opened_total",
			Help: "Auctions opened",
		}),

		AuctionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_auctions_closed_total",
			Help: "Auctions closed (explicit/exhausted)",
		}, []string{"reason"}),

		RebalancesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_rebalances_started_total",
			Help: "Rebalances with complete details",
		}),

		FeesAccrued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_fees_accrued_total",
			Help: "Fee units accrued by pokes",
		}),

		FeesDistributed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_fees_distributed_total",
			Help: "Fee units paid out (protocol/recipient)",
		}, []string{"share"}),

		BasketSupply: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "basket_supply",
			Help: "Outstanding basket token supply",
		}, []string{"basket"}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "basket_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "basket_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "basket_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_projection_drops_total",
			Help: "Notifications dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_publish_drops_total",
			Help: "Notifications dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"op_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basket_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		// Persistence
		PersistNotesWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_persist_notifications_written_total",
			Help: "Notifications written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "basket_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "basket_persist_batch_size",
			Help:    "Notifications per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basket_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "basket_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basket_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayNotesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "basket_replay_notifications_total",
			Help: "Notifications replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "basket_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "basket_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "basket_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
