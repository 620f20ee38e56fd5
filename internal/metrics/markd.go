package metrics

import "time"

// MarkdMetrics holds all markd-specific metrics.
type MarkdMetrics struct {
	registry *Registry

	// Counters
	RequestsTotal        *Counter
	StreamRequestsTotal  *Counter
	StreamFramesTotal    *Counter
	MarkersEmbeddedTotal *Counter
	VerificationsTotal   *Counter
	VerificationsValid   *Counter
	UpstreamErrorsTotal  *Counter
	SchemaRejectsTotal   *Counter

	// Gauges
	ActiveStreams *Gauge
	UptimeSeconds *Gauge

	// Histograms
	UpstreamLatency      *Histogram
	VerificationDuration *Histogram
}

var startTime = time.Now()

// NewMarkdMetrics creates and registers all markd metrics.
func NewMarkdMetrics(registry *Registry) *MarkdMetrics {
	if registry == nil {
		registry = Default()
	}

	return &MarkdMetrics{
		registry: registry,

		RequestsTotal: registry.RegisterCounter(
			"requests_total",
			"Total number of chat-completions requests proxied",
			nil,
		),
		StreamRequestsTotal: registry.RegisterCounter(
			"stream_requests_total",
			"Total number of streaming chat-completions requests proxied",
			nil,
		),
		StreamFramesTotal: registry.RegisterCounter(
			"stream_frames_total",
			"Total number of SSE data frames processed",
			nil,
		),
		MarkersEmbeddedTotal: registry.RegisterCounter(
			"markers_embedded_total",
			"Total number of zero-width marker characters embedded",
			nil,
		),
		VerificationsTotal: registry.RegisterCounter(
			"verifications_total",
			"Total number of watermark verifications performed",
			nil,
		),
		VerificationsValid: registry.RegisterCounter(
			"verifications_valid_total",
			"Total number of verifications that returned a valid watermark",
			nil,
		),
		UpstreamErrorsTotal: registry.RegisterCounter(
			"upstream_errors_total",
			"Total number of failed upstream requests",
			nil,
		),
		SchemaRejectsTotal: registry.RegisterCounter(
			"schema_rejects_total",
			"Total number of requests rejected by schema validation",
			nil,
		),

		ActiveStreams: registry.RegisterGauge(
			"active_streams",
			"Number of streaming responses currently in flight",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the proxy has been running",
			nil,
		),

		UpstreamLatency: registry.RegisterHistogram(
			"upstream_latency_seconds",
			"Time to first upstream response byte in seconds",
			nil,
			DurationBuckets,
		),
		VerificationDuration: registry.RegisterHistogram(
			"verification_duration_seconds",
			"Duration of verification operations in seconds",
			nil,
			DurationBuckets,
		),
	}
}

// Registry returns the registry the metrics are registered in.
func (m *MarkdMetrics) Registry() *Registry {
	return m.registry
}

// RecordRequest records a proxied request.
func (m *MarkdMetrics) RecordRequest(streaming bool) {
	m.RequestsTotal.Inc()
	if streaming {
		m.StreamRequestsTotal.Inc()
	}
}

// StreamStarted marks a streaming response as in flight.
func (m *MarkdMetrics) StreamStarted() {
	m.ActiveStreams.Inc()
}

// StreamEnded marks a streaming response as finished.
func (m *MarkdMetrics) StreamEnded() {
	m.ActiveStreams.Dec()
}

// RecordFrame records a processed SSE frame.
func (m *MarkdMetrics) RecordFrame() {
	m.StreamFramesTotal.Inc()
}

// RecordMarkers records embedded marker characters.
func (m *MarkdMetrics) RecordMarkers(n int) {
	if n > 0 {
		m.MarkersEmbeddedTotal.Add(uint64(n))
	}
}

// RecordVerification records a verification outcome.
func (m *MarkdMetrics) RecordVerification(duration time.Duration, valid bool) {
	m.VerificationsTotal.Inc()
	m.VerificationDuration.ObserveDuration(duration)
	if valid {
		m.VerificationsValid.Inc()
	}
}

// RecordUpstreamError records a failed upstream request.
func (m *MarkdMetrics) RecordUpstreamError() {
	m.UpstreamErrorsTotal.Inc()
}

// RecordSchemaReject records a request rejected by schema validation.
func (m *MarkdMetrics) RecordSchemaReject() {
	m.SchemaRejectsTotal.Inc()
}

// UpdateUptime updates the uptime metric.
func (m *MarkdMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Global markd metrics instance.
var defaultMarkdMetrics *MarkdMetrics

// GetMetrics returns the global markd metrics instance.
func GetMetrics() *MarkdMetrics {
	if defaultMarkdMetrics == nil {
		defaultMarkdMetrics = NewMarkdMetrics(Default())
	}
	return defaultMarkdMetrics
}
