package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	structureEvents *prometheus.CounterVec
	zoneTransitions *prometheus.CounterVec
	entriesTotal    *prometheus.CounterVec
	exitsTotal      *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	equity          prometheus.Gauge
	latency         *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		structureEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obflow_structure_events_total",
				Help: "Market structure events by kind (bos, choch)",
			},
			[]string{"symbol", "kind"},
		),
		zoneTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obflow_zone_transitions_total",
				Help: "Order block lifecycle transitions by resulting status",
			},
			[]string{"symbol", "status"},
		),
		entriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obflow_entries_total",
				Help: "Filled entries by execution mode and zone kind",
			},
			[]string{"symbol", "mode", "zone_kind"},
		),
		exitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obflow_exits_total",
				Help: "Closed positions by outcome",
			},
			[]string{"symbol", "outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "obflow_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "obflow_last_price",
				Help: "Last recorded mark price for a symbol",
			},
			[]string{"symbol"},
		),
		equity: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "obflow_account_equity",
				Help: "Current account equity",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "obflow_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordStructureEvent(symbol, kind string) {
	r.structureEvents.WithLabelValues(symbol, kind).Inc()
}

func (r *Recorder) RecordZoneTransition(symbol, status string) {
	r.zoneTransitions.WithLabelValues(symbol, status).Inc()
}

func (r *Recorder) RecordEntry(symbol, mode, zoneKind string) {
	r.entriesTotal.WithLabelValues(symbol, mode, zoneKind).Inc()
}

func (r *Recorder) RecordExit(symbol, outcome string) {
	r.exitsTotal.WithLabelValues(symbol, outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last mark price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordEquity records current account equity.
func (r *Recorder) RecordEquity(equity float64) {
	r.equity.Set(equity)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
