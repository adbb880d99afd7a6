// Package observe provides application-wide observability primitives for
// Parleo: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Parleo metrics.
const meterName = "github.com/parleo-app/parleo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TurnDuration tracks the time from a submitted utterance to the
	// terminal reply chunk.
	TurnDuration metric.Float64Histogram

	// GenerationDuration tracks generation service latency per transport stage.
	GenerationDuration metric.Float64Histogram

	// TranscriptionDuration tracks chunked-fallback transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// PlaybackDuration tracks how long reply playback takes.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// TransportStageResults counts transport stage outcomes. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	TransportStageResults metric.Int64Counter

	// CaptureRestarts counts capture session restarts. Use with attribute:
	//   attribute.String("reason", ...)
	CaptureRestarts metric.Int64Counter

	// CaptureFallbacks counts transitions to chunked capture fallback.
	CaptureFallbacks metric.Int64Counter

	// Utterances counts finalized utterances submitted to the transport.
	// Use with attribute: attribute.String("language", ...)
	Utterances metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks the number of connected gateway clients.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.TurnDuration, err = m.Float64Histogram("parleo.turn.duration",
		metric.WithDescription("Latency from finalized utterance to terminal reply chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("parleo.generation.duration",
		metric.WithDescription("Latency of the generation service by transport stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("parleo.transcription.duration",
		metric.WithDescription("Latency of chunked-fallback transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("parleo.playback.duration",
		metric.WithDescription("Duration of reply playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TransportStageResults, err = m.Int64Counter("parleo.transport.stage.results",
		metric.WithDescription("Total transport stage outcomes by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.CaptureRestarts, err = m.Int64Counter("parleo.capture.restarts",
		metric.WithDescription("Total capture session restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFallbacks, err = m.Int64Counter("parleo.capture.fallbacks",
		metric.WithDescription("Total transitions to chunked capture fallback."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("parleo.utterances",
		metric.WithDescription("Total finalized utterances by language."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("parleo.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("parleo.active_connections",
		metric.WithDescription("Number of connected gateway clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parleo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordTransportStage records a transport stage outcome with the standard
// attribute set.
func (m *Metrics) RecordTransportStage(ctx context.Context, stage, status string) {
	m.TransportStageResults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordCaptureRestart records a capture restart counter increment.
func (m *Metrics) RecordCaptureRestart(ctx context.Context, reason string) {
	m.CaptureRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordUtterance records a finalized utterance counter increment.
func (m *Metrics) RecordUtterance(ctx context.Context, language string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("language", language)),
	)
}
