package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the turn segmenter.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// VAD metrics
	FramesProcessed    prometheus.Counter
	VoicedFrames       prometheus.Counter
	ClassifierFailures prometheus.Counter
	VADProcessingTime  prometheus.Histogram

	// Segmenter metrics
	Capturing      prometheus.Gauge
	SegmentsOpened prometheus.Counter
	TurnsEmitted   *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	StaleResults   prometheus.Counter

	// Transcription metrics
	JobsSubmitted          prometheus.Counter
	JobsRejected           prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Recorder metrics
	TurnsRecorded  prometheus.Counter
	RecorderErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// VAD metrics
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_frames_processed_total",
			Help: "Total number of 100ms frames classified",
		}),
		VoicedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_voiced_frames_total",
			Help: "Total number of frames classified as voiced",
		}),
		ClassifierFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_classifier_failures_total",
			Help: "Total number of frames forced unvoiced by a classifier failure",
		}),
		VADProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "segmenter_vad_processing_duration_seconds",
			Help:    "Time spent classifying one frame",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us to ~160ms
		}),

		// Segmenter metrics
		Capturing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "segmenter_capturing",
			Help: "1 while a segment is being captured, 0 when idle",
		}),
		SegmentsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_segments_opened_total",
			Help: "Total number of Idle to Capturing transitions",
		}),
		TurnsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "segmenter_turns_emitted_total",
			Help: "Total number of turns emitted by close reason",
		}, []string{"reason"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "segmenter_turn_duration_seconds",
			Help:    "Captured audio duration of emitted turns",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 12), // 0.5s to 6s
		}),
		StaleResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_stale_results_total",
			Help: "Worker results discarded because their segment already closed",
		}),

		// Transcription metrics
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_transcription_jobs_submitted_total",
			Help: "Total number of snapshots submitted to the worker pool",
		}),
		JobsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_transcription_jobs_rejected_total",
			Help: "Total number of submissions refused by a full or closed pool",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_transcription_successes_total",
			Help: "Total number of successful transcription jobs",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_transcription_failures_total",
			Help: "Total number of failed transcription jobs",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "segmenter_transcription_duration_seconds",
			Help:    "Duration of transcription jobs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		// Recorder metrics
		TurnsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_turns_recorded_total",
			Help: "Total number of turns written to disk",
		}),
		RecorderErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "segmenter_recorder_errors_total",
			Help: "Total number of turns that failed to record",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "segmenter_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "segmenter_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "segmenter_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrame records one VAD decision
func (m *Metrics) RecordFrame(voiced, failed bool, processingTime time.Duration) {
	if m == nil {
		return
	}
	m.FramesProcessed.Inc()
	if voiced {
		m.VoicedFrames.Inc()
	}
	if failed {
		m.ClassifierFailures.Inc()
	}
	m.VADProcessingTime.Observe(processingTime.Seconds())
}

// RecordSegmentOpened records an Idle to Capturing transition
func (m *Metrics) RecordSegmentOpened() {
	if m == nil {
		return
	}
	m.SegmentsOpened.Inc()
	m.Capturing.Set(1)
}

// RecordTurn records an emitted turn and marks the segmenter idle
func (m *Metrics) RecordTurn(reason string, audioDuration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsEmitted.WithLabelValues(reason).Inc()
	m.TurnDuration.Observe(audioDuration.Seconds())
	m.Capturing.Set(0)
}

// RecordStaleResult increments the stale result counter
func (m *Metrics) RecordStaleResult() {
	if m == nil {
		return
	}
	m.StaleResults.Inc()
}

// RecordJobSubmitted increments the submitted jobs counter
func (m *Metrics) RecordJobSubmitted() {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
}

// RecordJobRejected increments the rejected jobs counter
func (m *Metrics) RecordJobRejected() {
	if m == nil {
		return
	}
	m.JobsRejected.Inc()
}

// RecordTranscription records the outcome and duration of one job
func (m *Metrics) RecordTranscription(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	if success {
		m.TranscriptionSuccesses.Inc()
	} else {
		m.TranscriptionFailures.Inc()
	}
	m.TranscriptionDuration.Observe(duration.Seconds())
}

// RecordTurnSaved records the outcome of writing a turn to disk
func (m *Metrics) RecordTurnSaved(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RecorderErrors.Inc()
		return
	}
	m.TurnsRecorded.Inc()
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
