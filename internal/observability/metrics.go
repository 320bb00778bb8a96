package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_streamer_active_sessions",
		Help: "Number of active capture sessions",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_streamer_session_duration_seconds",
		Help:    "Duration of capture sessions in seconds",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600},
	})

	// Capture metrics
	chunksCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_streamer_chunks_captured_total",
		Help: "Total audio chunks read from the capture source",
	}, []string{"source"})

	chunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_streamer_chunks_dropped_total",
		Help: "Chunks dropped because the hand-off queue was full",
	})

	captureLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_streamer_capture_latency_seconds",
		Help:    "Time spent reading and analyzing one chunk",
		Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25},
	})

	captureActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_streamer_capture_active",
		Help: "Whether capture is running (1) or not (0)",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_streamer_queue_depth",
		Help: "Chunks waiting in the hand-off queue",
	})

	// VAD metrics
	vadDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_streamer_vad_decisions_total",
		Help: "Voice activity decisions",
	}, []string{"result"}) // result: "voice" or "silence"

	vadThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_streamer_vad_threshold",
		Help: "Current adaptive RMS threshold",
	})

	vadCalibrating = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_streamer_vad_calibrating",
		Help: "Whether the detector is calibrating (1) or active (0)",
	})

	// Streaming metrics
	chunksDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_streamer_chunks_discarded_total",
		Help: "Chunks below the voice confidence threshold",
	})

	batchesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_streamer_batches_sent_total",
		Help: "Batches delivered to the transport",
	})

	batchBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_streamer_batch_bytes",
		Help:    "PCM bytes per delivered batch",
		Buckets: prometheus.ExponentialBuckets(1024, 2, 8),
	})

	sendAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_streamer_send_attempts_total",
		Help: "Transport send attempts",
	}, []string{"status"})

	batchesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_streamer_batches_dropped_total",
		Help: "Batches dropped after exhausting retries",
	})

	// Transcription metrics
	transcripts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_streamer_transcripts_total",
		Help: "Transcripts received from the transcription tap",
	}, []string{"kind"}) // kind: "final" or "interim"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_streamer_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audio_streamer_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	transportConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audio_streamer_transport_connected",
		Help: "Whether a transport is connected (1) or not (0)",
	}, []string{"transport"})
)

// Metrics records metrics for one capture session.
type Metrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics recorder for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordChunkCaptured records one analyzed chunk.
func (m *Metrics) RecordChunkCaptured(source string, latency time.Duration, voice bool) {
	chunksCaptured.WithLabelValues(source).Inc()
	captureLatency.Observe(latency.Seconds())

	result := "silence"
	if voice {
		result = "voice"
	}
	vadDecisions.WithLabelValues(result).Inc()
}

// RecordChunkDropped records a chunk lost to a full queue.
func (m *Metrics) RecordChunkDropped() {
	chunksDropped.Inc()
}

// SetCaptureActive updates the capture running gauge.
func (m *Metrics) SetCaptureActive(active bool) {
	captureActive.Set(boolToFloat(active))
}

// UpdateQueueDepth sets the hand-off queue depth gauge.
func (m *Metrics) UpdateQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// UpdateVAD records the detector threshold and calibration flag.
func (m *Metrics) UpdateVAD(threshold float64, calibrating bool) {
	vadThreshold.Set(threshold)
	vadCalibrating.Set(boolToFloat(calibrating))
}

// RecordChunkDiscarded records a chunk rejected by the eligibility filter.
func (m *Metrics) RecordChunkDiscarded() {
	chunksDiscarded.Inc()
}

// RecordSendAttempt records one transport send attempt.
func (m *Metrics) RecordSendAttempt(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	sendAttempts.WithLabelValues(status).Inc()
}

// RecordBatchSent records a delivered batch.
func (m *Metrics) RecordBatchSent(bytes int) {
	batchesSent.Inc()
	batchBytes.Observe(float64(bytes))
}

// RecordBatchDropped records a batch abandoned after retries.
func (m *Metrics) RecordBatchDropped() {
	batchesDropped.Inc()
}

// RecordTranscript records a transcript from the transcription tap.
func (m *Metrics) RecordTranscript(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	transcripts.WithLabelValues(kind).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordError records an error outside a session.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// SetTransportConnected updates the connection gauge for a transport.
func SetTransportConnected(transport string, connected bool) {
	transportConnected.WithLabelValues(transport).Set(boolToFloat(connected))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
