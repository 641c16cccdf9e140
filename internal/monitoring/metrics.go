package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes used as the "outcome" label on csi_records_total.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
)

// Metrics holds the prometheus collectors for one pipeline. All methods are
// safe to call on a nil *Metrics so callers never need to guard them.
type Metrics struct {
	registry *prometheus.Registry

	records       *prometheus.CounterVec   // raw records by parse/reduce outcome
	sourceErrors  *prometheus.CounterVec   // transient source errors by source kind
	windowLength  prometheus.Gauge         // samples currently held
	threshold     *prometheus.GaugeVec     // last threshold by mode
	active        prometheus.Gauge         // 1 while any sample is above threshold
	activeSamples prometheus.Gauge         // samples above threshold in last tick
	tickDuration  *prometheus.HistogramVec // conditioning + detection time by mode
}

// NewMetrics registers the pipeline collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "csi_records_total",
			Help: "Raw CSI records seen by the pipeline, by outcome.",
		}, []string{"outcome"}),
		sourceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "csi_source_errors_total",
			Help: "Transient frame source read errors, by source kind.",
		}, []string{"source"}),
		windowLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "csi_window_samples",
			Help: "Samples currently held in the sliding window.",
		}),
		threshold: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "csi_threshold",
			Help: "Most recent adaptive threshold, by operating mode.",
		}, []string{"mode"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "csi_activity",
			Help: "1 when the last evaluation marked any sample active.",
		}),
		activeSamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "csi_active_samples",
			Help: "Samples above threshold in the last evaluation.",
		}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "csi_tick_duration_seconds",
			Help:    "Time spent conditioning and detecting per evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}, []string{"mode"}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SourceError(source string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) SetWindowLength(n int) {
	if m == nil {
		return
	}
	m.windowLength.Set(float64(n))
}

// ObserveEvaluation records the outcome of one threshold evaluation.
func (m *Metrics) ObserveEvaluation(mode string, threshold float64, activeCount int, took time.Duration) {
	if m == nil {
		return
	}
	m.threshold.WithLabelValues(mode).Set(threshold)
	m.activeSamples.Set(float64(activeCount))
	if activeCount > 0 {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
	m.tickDuration.WithLabelValues(mode).Observe(took.Seconds())
}
