// Package metrics exposes the relay's latency and volume instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// SpeechForward measures decode-to-forward latency for caller
	// speech reaching the model session.
	SpeechForward prometheus.Histogram

	// FirstChunk measures caller-speech-to-first-model-chunk latency.
	FirstChunk prometheus.Histogram

	CommandsDetected *prometheus.CounterVec
	CommandsFailed   *prometheus.CounterVec
	Overrides        *prometheus.CounterVec
	FramesDropped    prometheus.Counter
	ActiveCalls      prometheus.Gauge
	SuppressedChunks prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SpeechForward: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_speech_forward_seconds",
			Help:    "Latency from telephony frame decode to model forward.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		FirstChunk: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_model_first_chunk_seconds",
			Help:    "Latency from caller speech forward to first model chunk.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		CommandsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commands_detected_total",
			Help: "Directives detected in model output, by action.",
		}, []string{"action"}),
		CommandsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_commands_failed_total",
			Help: "Command executions that failed at the provider, by action.",
		}, []string{"action"}),
		Overrides: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_overrides_total",
			Help: "Supervisor override operations, by kind.",
		}, []string{"kind"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Malformed frames dropped from either socket.",
		}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_calls",
			Help: "Calls currently registered.",
		}),
		SuppressedChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_suppressed_chunks_total",
			Help: "Model output chunks withheld from the caller.",
		}),
	}
}
