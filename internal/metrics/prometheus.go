package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for scribe. All recording
// helpers are safe on a nil receiver, so components can run without a
// registry in tests.
type Metrics struct {
	// Chunk lifecycle metrics
	ChunksFinalized     prometheus.Counter
	ChunksCompleted     *prometheus.CounterVec
	ChunkProcessingTime prometheus.Histogram
	QueueDepth          prometheus.Gauge
	PipelineState       prometheus.Gauge

	// Transcription metrics
	TranscriptionCalls   *prometheus.CounterVec
	TranscriptionRetries prometheus.Counter
	TranscriptionTime    prometheus.Histogram
	SilenceSkips         *prometheus.CounterVec

	// Mixer metrics
	MixerBacklog  *prometheus.GaugeVec
	SilenceFilled *prometheus.CounterVec

	// Merge metrics
	BleedWordsRemoved    prometheus.Counter
	BleedSegmentsDropped prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Chunk lifecycle metrics
		ChunksFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_chunks_finalized_total",
			Help: "Total number of chunks cut from the session timeline",
		}),
		ChunksCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_chunks_completed_total",
			Help: "Total number of chunks written to the session, by status",
		}, []string{"status"}),
		ChunkProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_chunk_processing_seconds",
			Help:    "Time from chunk dispatch to written outcome",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_queue_depth",
			Help: "Current number of chunks waiting for a worker",
		}),
		PipelineState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_pipeline_state",
			Help: "Pipeline lifecycle state (0=running, 1=draining, 2=stopped)",
		}),

		// Transcription metrics
		TranscriptionCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_transcription_calls_total",
			Help: "Total number of transcription backend calls, by lane and status",
		}, []string{"lane", "status"}),
		TranscriptionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcription_retries_total",
			Help: "Total number of transcription call retries",
		}),
		TranscriptionTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_transcription_call_seconds",
			Help:    "Duration of individual transcription backend calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		SilenceSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_silence_skips_total",
			Help: "Total number of lane transcriptions skipped as silence",
		}, []string{"lane"}),

		// Mixer metrics
		MixerBacklog: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scribe_mixer_backlog_seconds",
			Help: "Current unconsumed audio buffered per source",
		}, []string{"source"}),
		SilenceFilled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_mixer_silence_filled_samples_total",
			Help: "Total silence samples inserted to keep lanes aligned",
		}, []string{"source"}),

		// Merge metrics
		BleedWordsRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_bleed_words_removed_total",
			Help: "Total mic words removed as acoustic bleed from the system lane",
		}),
		BleedSegmentsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_bleed_segments_dropped_total",
			Help: "Total mic segments dropped as mostly acoustic bleed",
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunkFinalized increments the finalized chunk counter
func (m *Metrics) RecordChunkFinalized() {
	if m == nil {
		return
	}
	m.ChunksFinalized.Inc()
}

// RecordChunkCompleted records a written chunk outcome and its latency
func (m *Metrics) RecordChunkCompleted(status string, processingSeconds float64) {
	if m == nil {
		return
	}
	m.ChunksCompleted.WithLabelValues(status).Inc()
	m.ChunkProcessingTime.Observe(processingSeconds)
}

// SetQueueDepth sets the current dispatch queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// SetPipelineState sets the pipeline lifecycle gauge
func (m *Metrics) SetPipelineState(state int) {
	if m == nil {
		return
	}
	m.PipelineState.Set(float64(state))
}

// RecordTranscriptionCall records one backend call for a lane
func (m *Metrics) RecordTranscriptionCall(lane, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionCalls.WithLabelValues(lane, status).Inc()
	m.TranscriptionTime.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordSilenceSkip records a lane skipped without a backend call
func (m *Metrics) RecordSilenceSkip(lane string) {
	if m == nil {
		return
	}
	m.SilenceSkips.WithLabelValues(lane).Inc()
}

// SetMixerBacklog sets the buffered audio gauge for a source
func (m *Metrics) SetMixerBacklog(source string, seconds float64) {
	if m == nil {
		return
	}
	m.MixerBacklog.WithLabelValues(source).Set(seconds)
}

// RecordSilenceFilled adds inserted alignment silence for a source
func (m *Metrics) RecordSilenceFilled(source string, samples int) {
	if m == nil {
		return
	}
	m.SilenceFilled.WithLabelValues(source).Add(float64(samples))
}

// RecordBleedRemoved records dedup results for one merged chunk
func (m *Metrics) RecordBleedRemoved(words, segments int) {
	if m == nil {
		return
	}
	m.BleedWordsRemoved.Add(float64(words))
	m.BleedSegmentsDropped.Add(float64(segments))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
