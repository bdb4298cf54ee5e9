// Package observe provides application-wide observability primitives for
// raisehand: OpenTelemetry metrics, tracing, trace-correlated logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all raisehand metrics.
const meterName = "github.com/MrWong99/raisehand"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long opening a live session takes, from dial
	// to the server's setup acknowledgement.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed conversational turns.
	Turns metric.Int64Counter

	// ChunksSent counts microphone chunks delivered to the live session.
	ChunksSent metric.Int64Counter

	// ChunksReceived counts speech payloads received from the live session.
	// Use with attribute:
	//   attribute.String("result", "scheduled"|"malformed")
	ChunksReceived metric.Int64Counter

	// StatusTransitions counts assistant status changes. Use with attribute:
	//   attribute.String("status", ...)
	StatusTransitions metric.Int64Counter

	// --- Error counters ---

	// TransportErrors counts fatal live-session failures. Use with attribute:
	//   attribute.String("stage", "connect"|"stream"|"device")
	TransportErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open assistant sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// session setup latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("raisehand.session.connect.duration",
		metric.WithDescription("Latency of opening a live session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("raisehand.turns",
		metric.WithDescription("Total completed conversational turns."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSent, err = m.Int64Counter("raisehand.audio.chunks_sent",
		metric.WithDescription("Total microphone chunks sent to the live session."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("raisehand.audio.chunks_received",
		metric.WithDescription("Total speech payloads received by result."),
	); err != nil {
		return nil, err
	}
	if met.StatusTransitions, err = m.Int64Counter("raisehand.status.transitions",
		metric.WithDescription("Total assistant status transitions by target status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TransportErrors, err = m.Int64Counter("raisehand.transport.errors",
		metric.WithDescription("Total fatal session errors by stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("raisehand.sessions.active",
		metric.WithDescription("Number of open assistant sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("raisehand.http.request.duration",
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

// RecordStatus records a status transition to status.
func (m *Metrics) RecordStatus(ctx context.Context, status string) {
	m.StatusTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordChunkReceived records one inbound speech payload with its outcome.
func (m *Metrics) RecordChunkReceived(ctx context.Context, result string) {
	m.ChunksReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordTransportError records a fatal session failure at stage.
func (m *Metrics) RecordTransportError(ctx context.Context, stage string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
