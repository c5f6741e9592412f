// Package metrics exposes Prometheus counters and histograms for uploads and questions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultReplaced = "replaced"
	ResultInvalid  = "invalid"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	uploads        *prometheus.CounterVec
	asks           *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	askDuration    prometheus.Histogram
	chunks         prometheus.Counter
	sessions       prometheus.Gauge
}

// New creates the collectors and registers them with a fresh registry,
// together with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiku_uploads_total",
			Help: "PDF uploads by result.",
		}, []string{"result"}),
		asks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kiku_asks_total",
			Help: "Questions by result.",
		}, []string{"result"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiku_ingest_duration_seconds",
			Help:    "Time to extract, chunk, embed and index an upload.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		askDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiku_ask_duration_seconds",
			Help:    "Time to retrieve context and generate an answer.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kiku_chunks_created_total",
			Help: "Chunks created from uploaded documents.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kiku_sessions",
			Help: "Sessions currently registered.",
		}),
	}
	m.registry.MustRegister(
		m.uploads, m.asks, m.ingestDuration, m.askDuration, m.chunks, m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveUpload records one upload attempt.
func (m *Metrics) ObserveUpload(result string, chunks int, took time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
	if result == ResultOK || result == ResultReplaced {
		m.chunks.Add(float64(chunks))
		m.ingestDuration.Observe(took.Seconds())
	}
}

// ObserveAsk records one question.
func (m *Metrics) ObserveAsk(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.asks.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.askDuration.Observe(took.Seconds())
	}
}

// SetSessions sets the registered session gauge.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
