// Package observability exposes Prometheus instruments for the voice core.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	RecordingSessions *prometheus.CounterVec
	RecordingActive   prometheus.Gauge
	Transcripts       *prometheus.CounterVec
	SynthesisRequests *prometheus.CounterVec
	SynthesisLatency  prometheus.Histogram
	PlaybackItems     *prometheus.CounterVec
	QueueLength       prometheus.Gauge
	Errors            *prometheus.CounterVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordingSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_sessions_total",
			Help:      "Recording start attempts by result.",
		}, []string{"result"}),
		RecordingActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_active",
			Help:      "1 while a recording session is live.",
		}),
		Transcripts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Recognition results relayed, by finality.",
		}, []string{"final"}),
		SynthesisRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_requests_total",
			Help:      "Synthesis calls by result.",
		}, []string{"result"}),
		SynthesisLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Latency of backend synthesis calls in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 800, 1200, 2000, 4000},
		}),
		PlaybackItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_items_total",
			Help:      "Queued audio items by outcome.",
		}, []string{"outcome"}),
		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_length",
			Help:      "Items waiting in or playing from the playback queue.",
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors announced on the event bus, by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) RecordingStarted(result string) {
	if m == nil {
		return
	}
	m.RecordingSessions.WithLabelValues(result).Inc()
}

func (m *Metrics) SetRecording(active bool) {
	if m == nil {
		return
	}
	if active {
		m.RecordingActive.Set(1)
	} else {
		m.RecordingActive.Set(0)
	}
}

func (m *Metrics) Transcript(final bool) {
	if m == nil {
		return
	}
	m.Transcripts.WithLabelValues(strconv.FormatBool(final)).Inc()
}

func (m *Metrics) ObserveSynthesis(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.SynthesisRequests.WithLabelValues(result).Inc()
	if took > 0 {
		m.SynthesisLatency.Observe(float64(took.Milliseconds()))
	}
}

func (m *Metrics) Playback(outcome string) {
	if m == nil {
		return
	}
	m.PlaybackItems.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(n))
}

func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
