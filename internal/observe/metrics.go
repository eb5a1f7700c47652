// Package observe provides application-wide observability primitives for
// voicecore: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicecore metrics.
const meterName = "github.com/paraguayconcierge/voicecore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// SessionDuration tracks the wall-clock lifetime of a voice session
	// from start to closed. Use with attribute:
	//   attribute.String("outcome", "closed"|"error")
	SessionDuration metric.Float64Histogram

	// PlaybackBacklog tracks how far ahead of the output clock each chunk is
	// scheduled; zero means the schedule has drained and playback restarts
	// at "now".
	PlaybackBacklog metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// FramesCaptured counts microphone frames delivered by the capture
	// pipeline.
	FramesCaptured metric.Int64Counter

	// ChunksSent counts encoded chunks sent to the backend.
	ChunksSent metric.Int64Counter

	// ChunksReceived counts synthesized chunks received from the backend.
	ChunksReceived metric.Int64Counter

	// MalformedChunks counts inbound chunks dropped because they failed to
	// decode.
	MalformedChunks metric.Int64Counter

	// Interruptions counts barge-in events that cut off model playback.
	Interruptions metric.Int64Counter

	// SessionErrors counts terminal session errors. Use with attribute:
	//   attribute.String("reason", ...)
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline timings.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("voicecore.session.duration",
		metric.WithDescription("Wall-clock lifetime of a voice session."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBacklog, err = m.Float64Histogram("voicecore.playback.backlog",
		metric.WithDescription("Scheduled lead of each playback chunk over the output clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicecore.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("voicecore.capture.frames",
		metric.WithDescription("Total microphone frames delivered by the capture pipeline."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSent, err = m.Int64Counter("voicecore.transport.chunks_sent",
		metric.WithDescription("Total encoded chunks sent to the backend."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("voicecore.transport.chunks_received",
		metric.WithDescription("Total synthesized chunks received from the backend."),
	); err != nil {
		return nil, err
	}
	if met.MalformedChunks, err = m.Int64Counter("voicecore.transport.malformed_chunks",
		metric.WithDescription("Total inbound chunks dropped due to decode failure."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voicecore.session.interruptions",
		metric.WithDescription("Total barge-in events that cut off model playback."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voicecore.session.errors",
		metric.WithDescription("Total terminal session errors by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicecore.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSessionError is a convenience method that records a terminal session
// error with the standard attribute set.
func (m *Metrics) RecordSessionError(ctx context.Context, reason string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
