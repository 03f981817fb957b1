// Package obsmetrics is the Prometheus metrics registry shared by the
// collector, aggregator, backfill engine, and API servers, grounded on the
// teacher's interfaces/http/metrics.go registry pattern.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds every metric the service exposes on /metrics.
type Registry struct {
	CollectorState     *prometheus.GaugeVec
	CollectorFrames    *prometheus.CounterVec
	CollectorReconnect *prometheus.CounterVec

	AggregatorFlushDuration prometheus.Histogram
	AggregatorFlushRows     *prometheus.CounterVec
	AggregatorFlushErrors   prometheus.Counter

	StorageOpDuration *prometheus.HistogramVec
	StorageOpErrors   *prometheus.CounterVec

	BackfillRowsWritten *prometheus.CounterVec
	BackfillChunks      *prometheus.CounterVec

	WSConnections  prometheus.Gauge
	WSSubscribers  *prometheus.GaugeVec
	WSFramesSent   prometheus.Counter
	WSEvictions    *prometheus.CounterVec

	CircuitBreakerState *prometheus.GaugeVec
}

// New builds and registers every metric against prometheus's default
// registry. Call once at process startup.
func New() *Registry {
	r := &Registry{
		CollectorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptopulse_collector_state",
			Help: "Collector state machine value per exchange (0=idle,1=connecting,2=subscribing,3=running)",
		}, []string{"exchange"}),

		CollectorFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptopulse_collector_frames_total",
			Help: "Frames processed by the collector, by exchange and frame kind",
		}, []string{"exchange", "kind"}),

		CollectorReconnect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptopulse_collector_reconnects_total",
			Help: "Reconnect attempts by exchange",
		}, []string{"exchange"}),

		AggregatorFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cryptopulse_aggregator_flush_duration_seconds",
			Help:    "Wall time to drain and persist one minute-boundary flush",
			Buckets: prometheus.DefBuckets,
		}),

		AggregatorFlushRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptopulse_aggregator_flush_rows_total",
			Help: "Rows submitted per flush, by kind",
		}, []string{"kind"}),

		AggregatorFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptopulse_aggregator_flush_errors_total",
			Help: "Per-market upsert failures encountered during a flush",
		}),

		StorageOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cryptopulse_storage_op_duration_seconds",
			Help:    "Gateway operation duration by operation name",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),

		StorageOpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptopulse_storage_op_errors_total",
			Help: "Gateway operation failures by operation name and error kind",
		}, []string{"op", "kind"}),

		BackfillRowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptopulse_backfill_rows_written_total",
			Help: "Rows written by the backfill engine, by exchange and kind",
		}, []string{"exchange", "kind"}),

		BackfillChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptopulse_backfill_chunks_total",
			Help: "Backfill chunks processed, by exchange and outcome",
		}, []string{"exchange", "outcome"}),

		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cryptopulse_ws_connections",
			Help: "Currently open client WebSocket connections",
		}),

		WSSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptopulse_ws_subscribers",
			Help: "Number of client sessions subscribed per series/market key",
		}, []string{"key"}),

		WSFramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cryptopulse_ws_frames_sent_total",
			Help: "Outbound frames sent to clients",
		}),

		WSEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptopulse_ws_evictions_total",
			Help: "Client sessions evicted, by reason",
		}, []string{"reason"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptopulse_circuit_breaker_state",
			Help: "Circuit breaker state by name (0=closed,1=half-open,2=open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		r.CollectorState, r.CollectorFrames, r.CollectorReconnect,
		r.AggregatorFlushDuration, r.AggregatorFlushRows, r.AggregatorFlushErrors,
		r.StorageOpDuration, r.StorageOpErrors,
		r.BackfillRowsWritten, r.BackfillChunks,
		r.WSConnections, r.WSSubscribers, r.WSFramesSent, r.WSEvictions,
		r.CircuitBreakerState,
	)

	log.Info().Msg("metrics registry initialized")
	return r
}

// Handler returns the HTTP handler to mount at /metrics.
func (r *Registry) Handler() http.Handler { return promhttp.Handler() }

// OpTimer times one storage gateway call.
type OpTimer struct {
	registry *Registry
	op       string
	start    time.Time
}

// StartOp begins timing a gateway operation named op.
func (r *Registry) StartOp(op string) *OpTimer {
	return &OpTimer{registry: r, op: op, start: time.Now()}
}

// Stop records the elapsed duration and, if err is non-nil, an error count
// tagged with its taxonomy kind.
func (t *OpTimer) Stop(errKind string) {
	t.registry.StorageOpDuration.WithLabelValues(t.op).Observe(time.Since(t.start).Seconds())
	if errKind != "" {
		t.registry.StorageOpErrors.WithLabelValues(t.op, errKind).Inc()
	}
}
