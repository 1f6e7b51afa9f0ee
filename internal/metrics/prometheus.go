package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// captureStates are the values of the insights_capture_state label.
var captureStates = []string{"idle", "starting", "active", "stopping", "failed"}

// Metrics contains all Prometheus metrics for the insights service
type Metrics struct {
	// Capture metrics
	SessionsStarted prometheus.Counter
	SessionsFailed  prometheus.Counter
	CaptureState    *prometheus.GaugeVec
	SessionDuration prometheus.Histogram

	// Transcript metrics
	SegmentsInterim   prometheus.Counter
	SegmentsFinal     prometheus.Counter
	SegmentsLate      prometheus.Counter
	InvalidSegments   prometheus.Counter
	Interruptions     prometheus.Counter
	TranscriptLength  prometheus.Gauge
	SegmentsAbandoned prometheus.Counter

	// Alert metrics
	AlertRules     prometheus.Gauge
	AlertMatches   *prometheus.CounterVec
	AlertTriggers  *prometheus.CounterVec
	DispatchDrops  *prometheus.CounterVec
	DispatchErrors *prometheus.CounterVec

	// Transcription backend metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	// Summary metrics
	Summaries *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	EventClients        prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Capture metrics
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_capture_sessions_started_total",
			Help: "Total number of capture sessions that reached active",
		}),
		SessionsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_capture_sessions_failed_total",
			Help: "Total number of capture sessions that moved to failed",
		}),
		CaptureState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "insights_capture_state",
			Help: "Current capture session state (1 for the current state)",
		}, []string{"state"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "insights_capture_session_duration_seconds",
			Help:    "Duration of capture sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),

		// Transcript metrics
		SegmentsInterim: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_segments_interim_total",
			Help: "Total number of interim segment updates",
		}),
		SegmentsFinal: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_segments_final_total",
			Help: "Total number of final segments appended to the transcript",
		}),
		SegmentsLate: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_segments_late_total",
			Help: "Total number of final segments released after the reorder window",
		}),
		InvalidSegments: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_segments_invalid_total",
			Help: "Total number of segments rejected by the transcript log",
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_transcription_interruptions_total",
			Help: "Total number of transcription streams interrupted by the backend",
		}),
		TranscriptLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "insights_transcript_segments",
			Help: "Current number of segments in the transcript log",
		}),
		SegmentsAbandoned: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_segments_abandoned_total",
			Help: "Total number of utterances discarded without a final on stop",
		}),

		// Alert metrics
		AlertRules: f.NewGauge(prometheus.GaugeOpts{
			Name: "insights_alert_rules",
			Help: "Current number of alert rules",
		}),
		AlertMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_alert_matches_total",
			Help: "Total number of rule matches in final segments",
		}, []string{"priority"}),
		AlertTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_alert_triggers_total",
			Help: "Total number of sound triggers fired",
		}, []string{"priority"}),
		DispatchDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_alert_dispatch_dropped_total",
			Help: "Total number of evaluations dropped because a sink queue was full",
		}, []string{"sink"}),
		DispatchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_alert_dispatch_errors_total",
			Help: "Total number of evaluations a sink failed to handle",
		}, []string{"sink"}),

		// Transcription backend metrics
		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "insights_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "insights_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Summary metrics
		Summaries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_summaries_total",
			Help: "Total number of minutes generated",
		}, []string{"backend", "outcome"}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insights_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insights_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		EventClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "insights_event_clients",
			Help: "Current number of connected WebSocket event clients",
		}),
	}
}

// SetCaptureState marks state as the current capture state
func (m *Metrics) SetCaptureState(state string) {
	for _, s := range captureStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.CaptureState.WithLabelValues(s).Set(v)
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionFailed increments the sessions failed counter
func (m *Metrics) RecordSessionFailed() {
	m.SessionsFailed.Inc()
}

// RecordSessionEnded records the duration of a finished session
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.SessionDuration.Observe(durationSeconds)
}

// RecordInterim increments the interim updates counter
func (m *Metrics) RecordInterim() {
	m.SegmentsInterim.Inc()
}

// RecordFinal records a final segment and the new transcript length
func (m *Metrics) RecordFinal(late bool, transcriptLength int) {
	m.SegmentsFinal.Inc()
	if late {
		m.SegmentsLate.Inc()
	}
	m.TranscriptLength.Set(float64(transcriptLength))
}

// RecordAbandoned increments the abandoned utterances counter
func (m *Metrics) RecordAbandoned() {
	m.SegmentsAbandoned.Inc()
}

// RecordInvalidSegment increments the invalid segments counter
func (m *Metrics) RecordInvalidSegment() {
	m.InvalidSegments.Inc()
}

// RecordInterruption increments the interruptions counter
func (m *Metrics) RecordInterruption() {
	m.Interruptions.Inc()
}

// SetTranscriptLength sets the transcript length gauge
func (m *Metrics) SetTranscriptLength(n int) {
	m.TranscriptLength.Set(float64(n))
}

// SetAlertRules sets the number of alert rules
func (m *Metrics) SetAlertRules(n int) {
	m.AlertRules.Set(float64(n))
}

// RecordAlertMatch increments the matches counter for a priority
func (m *Metrics) RecordAlertMatch(priority string) {
	m.AlertMatches.WithLabelValues(priority).Inc()
}

// RecordAlertTrigger increments the triggers counter for a priority
func (m *Metrics) RecordAlertTrigger(priority string) {
	m.AlertTriggers.WithLabelValues(priority).Inc()
}

// RecordDispatchDrop increments the dropped evaluations counter for a sink
func (m *Metrics) RecordDispatchDrop(sink string) {
	m.DispatchDrops.WithLabelValues(sink).Inc()
}

// RecordDispatchError increments the sink failures counter
func (m *Metrics) RecordDispatchError(sink string) {
	m.DispatchErrors.WithLabelValues(sink).Inc()
}

// RecordTranscriptionRequest records one backend request and its outcome
func (m *Metrics) RecordTranscriptionRequest(durationSeconds float64, failed bool) {
	m.TranscriptionRequests.Inc()
	if failed {
		m.TranscriptionFailures.Inc()
	}
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordSummary records a minutes generation attempt
func (m *Metrics) RecordSummary(backend string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.Summaries.WithLabelValues(backend, outcome).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// SetEventClients sets the number of connected event clients
func (m *Metrics) SetEventClients(n int) {
	m.EventClients.Set(float64(n))
}
