// Package metrics holds the Prometheus collectors for inference calls,
// recordings and the history feed.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nudge"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	inferenceRequests *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	historyItems      prometheus.Gauge
	recordings        *prometheus.CounterVec
	recordingDuration prometheus.Histogram
}

// MustNew registers the collectors with reg and panics on a registration
// conflict. Tests should pass a fresh prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		inferenceRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inference_requests_total",
				Help:      "Inference calls by provider, input kind and outcome.",
			},
			[]string{"provider", "input", "outcome"},
		),
		inferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Wall time of inference calls.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"provider", "input"},
		),
		historyItems: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "history_items",
				Help:      "Number of reminders in the in-memory feed.",
			},
		),
		recordings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recordings_total",
				Help:      "Recording attempts by outcome.",
			},
			[]string{"outcome"},
		),
		recordingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recording_duration_seconds",
				Help:      "Length of completed recordings.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),
	}
	reg.MustRegister(m.inferenceRequests, m.inferenceDuration, m.historyItems, m.recordings, m.recordingDuration)
	return m
}

// ObserveInference records one provider call. outcome is "ok" or an error class.
func (m *Metrics) ObserveInference(provider, input, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceRequests.WithLabelValues(provider, input, outcome).Inc()
	m.inferenceDuration.WithLabelValues(provider, input).Observe(d.Seconds())
}

func (m *Metrics) SetHistory(n int) {
	if m == nil {
		return
	}
	m.historyItems.Set(float64(n))
}

// ObserveRecording counts a recording; the duration is only observed for
// completed ones.
func (m *Metrics) ObserveRecording(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.recordings.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.recordingDuration.Observe(d.Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
