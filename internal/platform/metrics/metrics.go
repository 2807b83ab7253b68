package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for an encode session hub.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	statsAppendedTotal prometheus.Counter
	statsConsumedTotal prometheus.Counter
	rcAdvancesTotal    prometheus.Counter
	constructFailures  *prometheus.CounterVec
	liveContexts       prometheus.Gauge
	statsPending       prometheus.Gauge
	rcHead             prometheus.Gauge
	reconFrames        prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "encctx_http_requests_total",
			Help: "Total number of introspection HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "encctx_http_errors_total",
			Help: "Total number of introspection responses with error status (4xx or 5xx)",
		}),
		statsAppendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "encctx_stats_appended_total",
			Help: "First-pass statistics records appended to the stats log",
		}),
		statsConsumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "encctx_stats_consumed_total",
			Help: "First-pass statistics records consumed by rate control",
		}),
		rcAdvancesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "encctx_rc_ring_advances_total",
			Help: "Number of times the rate-control parameter ring head advanced",
		}),
		constructFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encctx_construct_failures_total",
			Help: "Encode context constructions that failed, by allocation step",
		}, []string{"step"}),
		liveContexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encctx_live_contexts",
			Help: "Encode contexts constructed and not yet destroyed",
		}),
		statsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encctx_stats_pending",
			Help: "Statistics records appended but not yet consumed",
		}),
		rcHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encctx_rc_ring_head",
			Help: "Index of the active rate-control parameter slot",
		}),
		reconFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "encctx_recon_frames",
			Help: "Total number of reconstructed frames reported by the encoder",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.statsAppendedTotal,
		m.statsConsumedTotal,
		m.rcAdvancesTotal,
		m.constructFailures,
		m.liveContexts,
		m.statsPending,
		m.rcHead,
		m.reconFrames,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncStatsAppended counts one appended statistics record.
func (m *Metrics) IncStatsAppended() {
	m.statsAppendedTotal.Inc()
}

// AddStatsConsumed counts n consumed statistics records.
func (m *Metrics) AddStatsConsumed(n int) {
	m.statsConsumedTotal.Add(float64(n))
}

// IncRCAdvances counts one rate-control ring advance.
func (m *Metrics) IncRCAdvances() {
	m.rcAdvancesTotal.Inc()
}

// IncConstructFailures counts a failed construction at the given step.
func (m *Metrics) IncConstructFailures(step string) {
	m.constructFailures.WithLabelValues(step).Inc()
}

// ContextBuilt increments the live context gauge.
func (m *Metrics) ContextBuilt() {
	m.liveContexts.Inc()
}

// ContextDestroyed decrements the live context gauge.
func (m *Metrics) ContextDestroyed() {
	m.liveContexts.Dec()
}

// SetStatsPending sets the pending statistics gauge.
func (m *Metrics) SetStatsPending(n int) {
	m.statsPending.Set(float64(n))
}

// SetRCHead sets the rate-control ring head gauge.
func (m *Metrics) SetRCHead(n int) {
	m.rcHead.Set(float64(n))
}

// SetReconFrames sets the reconstructed frames gauge.
func (m *Metrics) SetReconFrames(n uint64) {
	m.reconFrames.Set(float64(n))
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh sampled gauges.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
