// Package telemetry wires Prometheus metrics collectors against the session
// registry: chunk/byte/partial/final/error totals and the reaper sweep
// count, exposed as gauges sampled from the registry on every /metrics scrape.
// Distributed tracing lives in internal/tracing, kept separate so that
// internal/session and internal/registry (which this package depends on for
// its collectors) can still call StartSpan without an import cycle.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yueh-ai/voice-to-text/internal/registry"
)

// RegistryStats is the subset of *registry.Registry telemetry depends on,
// kept narrow so collectors can be tested against a fake.
type RegistryStats interface {
	AggregateMetrics() registry.AggregateMetrics
	ReaperSweeps() int64
}

// Collectors holds the Prometheus instruments sampled from the registry on
// every scrape.
type Collectors struct {
	activeSessions   prometheus.Gauge
	totalSessions    prometheus.Gauge
	totalAudioBytes  prometheus.Gauge
	totalChunks      prometheus.Gauge
	totalTranscripts prometheus.Gauge
	totalPartials    prometheus.Gauge
	totalFinals      prometheus.Gauge
	totalErrors      prometheus.Gauge
	reaperSweeps     prometheus.Gauge

	registry RegistryStats
	gatherer prometheus.Gatherer
}

// NewCollectors registers the session-registry gauges/counters against reg
// (or the default global registry if reg is nil) and returns a Collectors
// bound to src for periodic sampling.
func NewCollectors(src RegistryStats, reg prometheus.Registerer) *Collectors {
	gatherer := prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Collectors{
		registry: src,
		gatherer: gatherer,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "active_sessions",
			Help:      "Number of sessions currently in CREATED or ACTIVE state.",
		}),
		totalSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "total_sessions",
			Help:      "Number of sessions currently tracked by the registry.",
		}),
		totalAudioBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "audio_bytes_total",
			Help:      "Cumulative audio bytes received across all tracked sessions, as of last sample.",
		}),
		totalChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "audio_chunks_total",
			Help:      "Cumulative audio chunks received across all tracked sessions, as of last sample.",
		}),
		totalTranscripts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "transcripts_total",
			Help:      "Cumulative transcripts emitted across all tracked sessions, as of last sample.",
		}),
		totalPartials: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "partials_total",
			Help:      "Cumulative partial results emitted across all tracked sessions, as of last sample.",
		}),
		totalFinals: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "finals_total",
			Help:      "Cumulative final results emitted across all tracked sessions, as of last sample.",
		}),
		totalErrors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "errors_total",
			Help:      "Cumulative transcription errors across all tracked sessions, as of last sample.",
		}),
		reaperSweeps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "transcription",
			Name:      "reaper_sweeps_total",
			Help:      "Cumulative number of reaper sweep passes run by the registry.",
		}),
	}
}

// Sample pulls the latest aggregate metrics from the registry and updates
// the gauges. These are running totals across currently-tracked sessions
// (not lifetime counters independent of session teardown), hence gauges
// rather than monotonic counters.
func (c *Collectors) Sample() {
	agg := c.registry.AggregateMetrics()
	c.activeSessions.Set(float64(agg.ActiveSessions))
	c.totalSessions.Set(float64(agg.TotalSessions))
	c.totalAudioBytes.Set(float64(agg.TotalAudioBytes))
	c.totalChunks.Set(float64(agg.TotalChunks))
	c.totalTranscripts.Set(float64(agg.TotalTranscripts))
	c.totalPartials.Set(float64(agg.TotalPartials))
	c.totalFinals.Set(float64(agg.TotalFinals))
	c.totalErrors.Set(float64(agg.TotalErrors))
	c.reaperSweeps.Set(float64(c.registry.ReaperSweeps()))
}

// Handler returns the HTTP handler that serves the Prometheus exposition
// format, sampling the registry immediately before responding.
func (c *Collectors) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Sample()
		promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
