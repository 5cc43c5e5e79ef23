// Package metrics exposes Prometheus instrumentation for renders.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds Prometheus collectors for the render orchestrator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	rendersTotal        *prometheus.CounterVec
	renderFailuresTotal *prometheus.CounterVec
	chunksTotal         *prometheus.CounterVec
	chunkRenderSeconds  prometheus.Histogram
	pollAttemptsTotal   prometheus.Counter
	activeRenders       prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	rendersTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "longrender_renders_total",
		Help: "Total number of finished renders by outcome",
	}, []string{"outcome"})
	renderFailuresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "longrender_render_failures_total",
		Help: "Total number of failed renders by the phase that failed",
	}, []string{"phase"})
	chunksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "longrender_chunks_total",
		Help: "Total number of chunk renders by terminal outcome",
	}, []string{"outcome"})
	chunkRenderSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "longrender_chunk_render_seconds",
		Help:    "Wall-clock time from chunk submission to terminal result",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	})
	pollAttemptsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "longrender_poll_attempts_total",
		Help: "Total number of remote status checks",
	})
	activeRenders := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "longrender_active_renders",
		Help: "Number of renders currently in progress",
	})
	httpRequestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "longrender_http_requests_total",
		Help: "Total number of HTTP requests by status code",
	}, []string{"code"})

	registry.MustRegister(
		rendersTotal,
		renderFailuresTotal,
		chunksTotal,
		chunkRenderSeconds,
		pollAttemptsTotal,
		activeRenders,
		httpRequestsTotal,
	)

	return &Metrics{
		registry:            registry,
		rendersTotal:        rendersTotal,
		renderFailuresTotal: renderFailuresTotal,
		chunksTotal:         chunksTotal,
		chunkRenderSeconds:  chunkRenderSeconds,
		pollAttemptsTotal:   pollAttemptsTotal,
		activeRenders:       activeRenders,
		httpRequestsTotal:   httpRequestsTotal,
	}
}

// RenderStarted increments the active renders gauge.
func (m *Metrics) RenderStarted() {
	if m == nil {
		return
	}
	m.activeRenders.Inc()
}

// RenderFinished records a finished render. failedPhase is ignored on success.
func (m *Metrics) RenderFinished(success bool, failedPhase string) {
	if m == nil {
		return
	}
	m.activeRenders.Dec()
	if success {
		m.rendersTotal.WithLabelValues(OutcomeSuccess).Inc()
		return
	}
	m.rendersTotal.WithLabelValues(OutcomeFailure).Inc()
	m.renderFailuresTotal.WithLabelValues(failedPhase).Inc()
}

// ChunkFinished records a chunk's terminal outcome and its render duration.
func (m *Metrics) ChunkFinished(success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
		m.chunkRenderSeconds.Observe(elapsed.Seconds())
	}
	m.chunksTotal.WithLabelValues(outcome).Inc()
}

// IncPollAttempts increments the poll attempt counter.
func (m *Metrics) IncPollAttempts() {
	if m == nil {
		return
	}
	m.pollAttemptsTotal.Inc()
}

// ObserveHTTPStatus counts one HTTP response with the given status code.
func (m *Metrics) ObserveHTTPStatus(code int) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
