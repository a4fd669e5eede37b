// Package metrics provides Prometheus metrics for the backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream relay metrics
	UpstreamRequestsTotal *prometheus.CounterVec
	UpstreamInFlight      prometheus.Gauge
	RelayFramesTotal      *prometheus.CounterVec
	RelayStreamDuration   *prometheus.HistogramVec

	// OCR metrics
	OCRRequestsTotal *prometheus.CounterVec
}

// New creates collectors on a private registry so that tests can build
// several instances side by side.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mathqa_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mathqa_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds, streams included",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),
		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mathqa_upstream_requests_total",
				Help: "Upstream LLM calls by outcome",
			},
			[]string{"upstream", "outcome"},
		),
		UpstreamInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mathqa_upstream_streams_in_flight",
				Help: "Number of upstream streams currently open",
			},
		),
		RelayFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mathqa_relay_frames_total",
				Help: "SSE frames emitted by the relay",
			},
			[]string{"upstream", "kind"},
		),
		RelayStreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mathqa_relay_stream_duration_seconds",
				Help:    "Lifetime of upstream streams in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 20, 30, 45, 60},
			},
			[]string{"upstream"},
		),
		OCRRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mathqa_ocr_requests_total",
				Help: "OCR recognitions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// StreamStarted marks an upstream stream as open and returns the function
// that closes it.
func (m *Metrics) StreamStarted(upstream string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.UpstreamInFlight.Inc()
	return func(outcome string) {
		m.UpstreamInFlight.Dec()
		m.UpstreamRequestsTotal.WithLabelValues(upstream, outcome).Inc()
		m.RelayStreamDuration.WithLabelValues(upstream).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) RecordFrame(upstream, kind string) {
	if m == nil {
		return
	}
	m.RelayFramesTotal.WithLabelValues(upstream, kind).Inc()
}

func (m *Metrics) RecordOCR(outcome string) {
	if m == nil {
		return
	}
	m.OCRRequestsTotal.WithLabelValues(outcome).Inc()
}
