package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Audio metrics
	AudioChunksReceived prometheus.Counter
	AudioBytesReceived  prometheus.Counter
	AudioChunksDropped  *prometheus.CounterVec

	// Transcription metrics
	TranscriptEvents       *prometheus.CounterVec
	SessionsActive         prometheus.Gauge
	SessionDuration        prometheus.Histogram
	ConnectRetries         prometheus.Counter
	ConnectFailures        prometheus.Counter

	// Analysis metrics
	AnalysisRequests *prometheus.CounterVec
	AnalysisLatency  *prometheus.HistogramVec
	ParseFallbacks   *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		AudioChunksReceived = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scribe_audio_chunks_received_total",
				Help: "Total number of audio chunks received from clients",
			},
		)

		AudioBytesReceived = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scribe_audio_bytes_received_total",
				Help: "Total number of decoded audio bytes received",
			},
		)

		AudioChunksDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_audio_chunks_dropped_total",
				Help: "Total number of audio chunks dropped, by reason",
			},
			[]string{"reason"},
		)

		TranscriptEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_transcript_events_total",
				Help: "Total number of transcript events, by finality",
			},
			[]string{"finality"},
		)

		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scribe_sessions_active",
				Help: "Number of currently active transcription sessions",
			},
		)

		SessionDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scribe_session_duration_seconds",
				Help:    "Duration of transcription sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		)

		ConnectRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scribe_provider_connect_retries_total",
				Help: "Total number of speech provider connection retries",
			},
		)

		ConnectFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scribe_provider_connect_failures_total",
				Help: "Total number of exhausted provider connection attempts",
			},
		)

		AnalysisRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_analysis_requests_total",
				Help: "Total number of analysis requests, by variant and outcome",
			},
			[]string{"variant", "outcome"},
		)

		AnalysisLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scribe_analysis_latency_seconds",
				Help:    "Latency of analysis requests",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"variant"},
		)

		ParseFallbacks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_parse_fallbacks_total",
				Help: "Total number of model responses needing a fallback parse stage",
			},
			[]string{"stage"},
		)

		CacheHits = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_cache_hits_total",
				Help: "Total number of cache hits, by cache",
			},
			[]string{"cache"},
		)

		CacheMisses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scribe_cache_misses_total",
				Help: "Total number of cache misses, by cache",
			},
			[]string{"cache"},
		)

		registry.MustRegister(
			AudioChunksReceived,
			AudioBytesReceived,
			AudioChunksDropped,
			TranscriptEvents,
			SessionsActive,
			SessionDuration,
			ConnectRetries,
			ConnectFailures,
			AnalysisRequests,
			AnalysisLatency,
			ParseFallbacks,
			CacheHits,
			CacheMisses,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for the metrics endpoint.
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// EnableMetrics enables or disables metrics collection.
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler.
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled && registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// RecordAudioChunk records a received audio chunk.
func RecordAudioChunk(bytes int) {
	if metricsEnabled && AudioChunksReceived != nil {
		AudioChunksReceived.Inc()
		AudioBytesReceived.Add(float64(bytes))
	}
}

// RecordDroppedChunk records an audio chunk dropped for the given reason.
func RecordDroppedChunk(reason string) {
	if metricsEnabled && AudioChunksDropped != nil {
		AudioChunksDropped.WithLabelValues(reason).Inc()
	}
}

// RecordTranscript records a transcript event.
func RecordTranscript(isFinal bool) {
	if metricsEnabled && TranscriptEvents != nil {
		finality := "interim"
		if isFinal {
			finality = "final"
		}
		TranscriptEvents.WithLabelValues(finality).Inc()
	}
}

// RecordAnalysis records a completed analysis request.
func RecordAnalysis(variant, outcome string, elapsed time.Duration) {
	if metricsEnabled && AnalysisRequests != nil {
		AnalysisRequests.WithLabelValues(variant, outcome).Inc()
		AnalysisLatency.WithLabelValues(variant).Observe(elapsed.Seconds())
	}
}

// RecordParseFallback records a model response that needed the named
// fallback parse stage.
func RecordParseFallback(stage string) {
	if metricsEnabled && ParseFallbacks != nil {
		ParseFallbacks.WithLabelValues(stage).Inc()
	}
}

// SessionStarted records a transcription session becoming active.
func SessionStarted() {
	if metricsEnabled && SessionsActive != nil {
		SessionsActive.Inc()
	}
}

// SessionStopped records a session ending after the given duration.
func SessionStopped(duration time.Duration) {
	if metricsEnabled && SessionsActive != nil {
		SessionsActive.Dec()
		SessionDuration.Observe(duration.Seconds())
	}
}

// ConnectRetriesInc records a failed provider connection attempt.
func ConnectRetriesInc() {
	if metricsEnabled && ConnectRetries != nil {
		ConnectRetries.Inc()
	}
}

// ConnectFailuresInc records a connection given up after all retries.
func ConnectFailuresInc() {
	if metricsEnabled && ConnectFailures != nil {
		ConnectFailures.Inc()
	}
}

// RecordCacheLookup records a cache hit or miss for the named cache.
func RecordCacheLookup(cacheName string, hit bool) {
	if !metricsEnabled || CacheHits == nil {
		return
	}
	if hit {
		CacheHits.WithLabelValues(cacheName).Inc()
	} else {
		CacheMisses.WithLabelValues(cacheName).Inc()
	}
}
