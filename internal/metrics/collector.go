// Package metrics collects Prometheus metrics for the HTTP surface, voice store
// operations and synthesis calls.
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

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "plomtts"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector owns a private registry so several instances can coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	voiceOperations     *prometheus.CounterVec
	synthesisTotal      *prometheus.CounterVec
	synthesisDuration   prometheus.Histogram
	audioDuration       prometheus.Histogram
}

// NewCollector registers the service metrics and the Go runtime collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		voiceOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "voice_operations_total",
				Help:      "Voice create and delete operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		synthesisTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "synthesis_requests_total",
				Help:      "Synthesis requests by outcome",
			},
			[]string{"outcome"},
		),
		synthesisDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_duration_seconds",
				Help:      "Wall time spent waiting on the synthesis backend",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		audioDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generated_audio_seconds",
				Help:      "Duration of generated audio in seconds",
				Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordHTTPRequest records one completed request. route is the matched route
// pattern, not the raw path.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordVoiceOperation counts a create or delete.
func (c *Collector) RecordVoiceOperation(operation string, success bool) {
	c.voiceOperations.WithLabelValues(operation, outcome(success)).Inc()
}

// RecordSynthesis records a synthesis call and, on success, the generated audio length.
func (c *Collector) RecordSynthesis(success bool, duration time.Duration, audioSeconds float64) {
	c.synthesisTotal.WithLabelValues(outcome(success)).Inc()
	c.synthesisDuration.Observe(duration.Seconds())

	if success && audioSeconds > 0 {
		c.audioDuration.Observe(audioSeconds)
	}
}

func outcome(success bool) string {
	if success {
		return OutcomeSuccess
	}

	return OutcomeFailure
}
