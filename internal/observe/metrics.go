// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all receptionist
// metrics.
const meterName = "github.com/SandilyaSub/Receptionist"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AnalysisDuration tracks transcript analysis latency.
	AnalysisDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end post-call pipeline latency.
	PipelineDuration metric.Float64Histogram

	// CallDuration tracks the wall-clock length of finished calls.
	CallDuration metric.Float64Histogram

	// --- Counters ---

	// TelephonyFrames counts inbound media-stream frames. Use with attribute:
	//   attribute.String("event", ...)
	TelephonyFrames metric.Int64Counter

	// FlushedChunks counts outbound media+mark pairs emitted to the caller.
	FlushedChunks metric.Int64Counter

	// Notifications counts WhatsApp dispatch outcomes. Use with attributes:
	//   attribute.String("recipient_type", ...), attribute.String("status", ...)
	Notifications metric.Int64Counter

	// TokensUsed counts AI tokens by operation. Use with attribute:
	//   attribute.String("operation", ...)
	TokensUsed metric.Int64Counter

	// --- Error counters ---

	// ModelErrors counts realtime and generation model failures. Use with
	// attribute: attribute.String("kind", ...)
	ModelErrors metric.Int64Counter

	// KeepAliveFailures counts failed keep-alive sends on the media stream.
	KeepAliveFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live bridged calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// the post-call pipeline's model and REST latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callDurationBuckets covers call lengths up to the 600 s hard cap.
var callDurationBuckets = []float64{
	5, 15, 30, 60, 120, 240, 360, 480, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AnalysisDuration, err = m.Float64Histogram("receptionist.analysis.duration",
		metric.WithDescription("Latency of transcript analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("receptionist.pipeline.duration",
		metric.WithDescription("End-to-end post-call pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("receptionist.call.duration",
		metric.WithDescription("Wall-clock length of finished calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callDurationBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TelephonyFrames, err = m.Int64Counter("receptionist.telephony.frames",
		metric.WithDescription("Inbound media-stream frames by event type."),
	); err != nil {
		return nil, err
	}
	if met.FlushedChunks, err = m.Int64Counter("receptionist.audio.flushed_chunks",
		metric.WithDescription("Outbound media+mark pairs emitted to callers."),
	); err != nil {
		return nil, err
	}
	if met.Notifications, err = m.Int64Counter("receptionist.notifications",
		metric.WithDescription("WhatsApp dispatch outcomes by recipient type and status."),
	); err != nil {
		return nil, err
	}
	if met.TokensUsed, err = m.Int64Counter("receptionist.tokens.used",
		metric.WithDescription("AI tokens consumed by operation."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ModelErrors, err = m.Int64Counter("receptionist.model.errors",
		metric.WithDescription("Realtime and generation model failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.KeepAliveFailures, err = m.Int64Counter("receptionist.keepalive.failures",
		metric.WithDescription("Failed keep-alive sends on the media stream."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("receptionist.active_calls",
		metric.WithDescription("Number of live bridged calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("receptionist.http.request.duration",
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

// RecordTelephonyFrame records one inbound media-stream frame.
func (m *Metrics) RecordTelephonyFrame(ctx context.Context, event string) {
	m.TelephonyFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}

// RecordNotification records one WhatsApp dispatch outcome.
func (m *Metrics) RecordNotification(ctx context.Context, recipientType, status string) {
	m.Notifications.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("recipient_type", recipientType),
			attribute.String("status", status),
		),
	)
}

// RecordTokens records tokens consumed by one operation.
func (m *Metrics) RecordTokens(ctx context.Context, operation string, n int64) {
	m.TokensUsed.Add(ctx, n,
		metric.WithAttributes(attribute.String("operation", operation)),
	)
}

// RecordModelError records one model failure of the given kind
// ("analysis", "copywriting").
func (m *Metrics) RecordModelError(ctx context.Context, kind string) {
	m.ModelErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
