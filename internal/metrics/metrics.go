// Package metrics provides Prometheus metrics for the streaming detector.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every series the detector reports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ChunksDispatched  prometheus.Counter
	ChunksSkipped     *prometheus.CounterVec
	InferenceErrors   *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	Results           *prometheus.CounterVec
	Alerts            *prometheus.CounterVec
	InFlight          prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the metrics and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.init()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register voiceguard metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) init() {
	m.ChunksDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voiceguard_chunks_dispatched_total",
		Help: "Audio windows submitted to the classifier.",
	})
	m.ChunksSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceguard_chunks_skipped_total",
		Help: "Scheduler ticks that did not dispatch, by reason.",
	}, []string{"reason"})
	m.InferenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceguard_inference_errors_total",
		Help: "Failed classifier round trips, by protocol phase.",
	}, []string{"phase"})
	m.InferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceguard_inference_duration_seconds",
		Help:    "Upload to result latency of a classifier round trip.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})
	m.Results = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceguard_detection_results_total",
		Help: "Completed chunk classifications, by verdict.",
	}, []string{"verdict"})
	m.Alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceguard_alerts_total",
		Help: "Detection event transitions, by edge.",
	}, []string{"edge"})
	m.InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voiceguard_inflight_jobs",
		Help: "Classifier jobs currently in flight.",
	})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.ChunksDispatched.Describe(ch)
	m.ChunksSkipped.Describe(ch)
	m.InferenceErrors.Describe(ch)
	m.InferenceDuration.Describe(ch)
	m.Results.Describe(ch)
	m.Alerts.Describe(ch)
	m.InFlight.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.ChunksDispatched.Collect(ch)
	m.ChunksSkipped.Collect(ch)
	m.InferenceErrors.Collect(ch)
	m.InferenceDuration.Collect(ch)
	m.Results.Collect(ch)
	m.Alerts.Collect(ch)
	m.InFlight.Collect(ch)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Dispatched() {
	if m == nil {
		return
	}
	m.ChunksDispatched.Inc()
	m.InFlight.Inc()
}

// Completed records the end of a round trip. phase is empty on success.
func (m *Metrics) Completed(d time.Duration, phase string) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	if phase != "" {
		m.InferenceErrors.WithLabelValues(phase).Inc()
		return
	}
	m.InferenceDuration.Observe(d.Seconds())
}

func (m *Metrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.ChunksSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Result(isAI bool) {
	if m == nil {
		return
	}
	verdict := "real"
	if isAI {
		verdict = "ai"
	}
	m.Results.WithLabelValues(verdict).Inc()
}

func (m *Metrics) Alert(edge string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(edge).Inc()
}
