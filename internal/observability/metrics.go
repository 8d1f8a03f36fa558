// Package observability provides Prometheus metrics and logger construction.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Processing metrics
	EventsProcessed        prometheus.Counter
	EventsSkipped          prometheus.Counter
	OutOfOrderEvents       prometheus.Counter
	MalformedEvents        prometheus.Counter
	StorageFaults          prometheus.Counter
	InvariantViolations    *prometheus.CounterVec
	ContractEventsRecorded *prometheus.CounterVec
	EventProcessingLatency prometheus.Histogram
	LastProcessedBlock     prometheus.Gauge

	// Ingestion metrics
	LogsReceived       *prometheus.CounterVec
	RemovedLogsDropped prometheus.Counter
	BufferSize         prometheus.Gauge
	HighestBlockSeen   prometheus.Gauge
	RPCCallLatency     *prometheus.HistogramVec
	WSReconnects       prometheus.Counter

	// Archive sink metrics
	SinkWrites *prometheus.CounterVec
	SinkErrors *prometheus.CounterVec

	// Verification metrics
	ReplayDivergences prometheus.Gauge

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered against reg.
// A nil reg registers against the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "token_rollup"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Processing metrics
		EventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "events_processed_total",
			Help:      "Total number of transfer events applied",
		}),
		EventsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "events_skipped_total",
			Help:      "Total number of transfer events at or behind the watermark",
		}),
		OutOfOrderEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "out_of_order_events_total",
			Help:      "Total number of transfer events behind the watermark that were never applied",
		}),
		MalformedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "malformed_events_total",
			Help:      "Total number of transfer events rejected as malformed",
		}),
		StorageFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "storage_faults_total",
			Help:      "Total number of events aborted by a storage fault",
		}),
		InvariantViolations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "invariant_violations_total",
			Help:      "Total number of advisory invariant violations",
		}, []string{"kind"}),
		ContractEventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "contract_events_recorded_total",
			Help:      "Total number of non-Transfer contract events recorded",
		}, []string{"kind"}),
		EventProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "event_processing_latency_seconds",
			Help:      "Latency of applying one transfer event",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		LastProcessedBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "last_processed_block",
			Help:      "Block number of the last applied transfer event",
		}),

		// Ingestion metrics
		LogsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "logs_received_total",
			Help:      "Total number of logs received from sources",
		}, []string{"source"}),
		RemovedLogsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "removed_logs_dropped_total",
			Help:      "Total number of logs dropped because they were removed by a reorg",
		}),
		BufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "buffer_blocks",
			Help:      "Number of blocks held in the confirmation buffer",
		}),
		HighestBlockSeen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_block_seen",
			Help:      "Highest block number seen from live feed",
		}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Latency of JSON-RPC calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "ws_reconnects_total",
			Help:      "Total number of WebSocket reconnects",
		}),

		// Archive sink metrics
		SinkWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "rows_written_total",
			Help:      "Total number of rows written to the archive",
		}, []string{"table"}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "errors_total",
			Help:      "Total number of failed archive writes",
		}, []string{"table"}),

		// Verification metrics
		ReplayDivergences: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "replay_divergences",
			Help:      "Number of divergences found by the last replay verification",
		}),

		// Health metrics
		LastSuccessfulIngestion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint of the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler for the /metrics endpoint of a custom registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
