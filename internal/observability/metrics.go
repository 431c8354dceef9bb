package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for StableLedger.
type Metrics struct {
	// --- Core ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// --- Economics ---
	HealthFactor       *prometheus.HistogramVec
	TokensMinted       prometheus.Counter
	TokensBurned       prometheus.Counter
	CollateralIn       prometheus.Counter
	CollateralOut      prometheus.Counter
	Liquidations       prometheus.Counter
	LiquidationSeized  prometheus.Counter
	CirculatingSupply  prometheus.Gauge
	TotalCollateral    prometheus.Gauge
	PositionsTotal     prometheus.Gauge

	// --- Oracle ---
	OracleFetchDuration *prometheus.HistogramVec
	OracleErrors        *prometheus.CounterVec
	OracleStaleRejected prometheus.Counter
	OracleLastPrice     *prometheus.GaugeVec
	OraclePriceGaps     *prometheus.CounterVec

	// --- Channels ---
	ProjectionDrops     prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec
	PublishErrors  prometheus.Counter

	// --- Projection ---
	ProjectionApplied      prometheus.Counter
	ProjectionErrors       prometheus.Counter
	ProjectionLastSequence prometheus.Gauge

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupTier2Errors      prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- API ---
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	fetchBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_core_events_rejected_total",
			Help: "Events rejected (dedup, validation, risk)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core, oracle fetch included",
			Buckets: fetchBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_core_sequence",
			Help: "Last assigned global sequence number",
		}),

		HealthFactor: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_health_factor",
			Help:    "Health factor computed during operations (debt-free positions excluded)",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 25, 100},
		}, []string{"operation"}),

		TokensMinted: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_tokens_minted_total",
			Help: "Debt-token units minted",
		}),

		TokensBurned: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_tokens_burned_total",
			Help: "Debt-token units burned",
		}),

		CollateralIn: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_collateral_in_lamports_total",
			Help: "Collateral moved into custody",
		}),

		CollateralOut: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_collateral_out_lamports_total",
			Help: "Collateral released from custody (withdrawals and seizures)",
		}),

		Liquidations: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_liquidations_total",
			Help: "Successful liquidations",
		}),

		LiquidationSeized: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_liquidation_seized_lamports_total",
			Help: "Collateral seized by liquidators, bonus included",
		}),

		CirculatingSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_circulating_supply",
			Help: "Outstanding debt-token units",
		}),

		TotalCollateral: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_total_collateral_lamports",
			Help: "Collateral held in custody across all positions",
		}),

		PositionsTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_positions",
			Help: "Number of positions",
		}),

		OracleFetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_oracle_fetch_duration_seconds",
			Help:    "Price fetch latency by source",
			Buckets: fetchBuckets,
		}, []string{"source"}),

		OracleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_oracle_errors_total",
			Help: "Price fetch failures by source",
		}, []string{"source"}),

		OracleStaleRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_oracle_stale_rejected_total",
			Help: "Operations rejected for stale quotes",
		}),

		OracleLastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stable_oracle_last_price",
			Help: "Last normalized price seen per feed",
		}, []string{"feed_id"}),

		OraclePriceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_oracle_price_sequence_gaps_total",
			Help: "Gaps in pushed price sequences",
		}, []string{"feed_id"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),

		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_ingest_messages_total",
			Help: "Inbound messages by event type and outcome",
		}, []string{"event_type", "outcome"}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_outbound_publish_errors_total",
			Help: "Committed events that failed to publish",
		}),

		ProjectionApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_projection_applied_total",
			Help: "Outputs applied to read models",
		}),

		ProjectionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_projection_errors_total",
			Help: "Read model updates that failed",
		}),

		ProjectionLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_projection_last_sequence",
			Help: "Last sequence applied to read models",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_idempotency_duplicates_total",
			Help: "Duplicate events detected",
		}, []string{"event_type", "tier"}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_events_written_total",
			Help: "Event log rows written",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_journals_written_total",
			Help: "Journal rows written",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_persist_batch_size",
			Help:    "Outputs per persistence transaction",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_persist_errors_total",
			Help: "Persistence errors by kind",
		}, []string{"kind"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_retries_total",
			Help: "Persistence flush retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_snapshots_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_replay_events_total",
			Help: "Events replayed on startup",
		}),

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_api_requests_total",
			Help: "API requests by method and status code",
		}, []string{"method", "code"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: append(latencyBuckets, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
		}, []string{"method"}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_api_rate_limited_total",
			Help: "Requests rejected by the per-principal rate limiter",
		}),
	}
}
