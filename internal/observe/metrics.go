// Package observe provides application-wide observability primitives for
// vellumbot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by [MetricsHandler] so
// metrics can be scraped from /metrics. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vellumbot metrics.
const meterName = "github.com/MrWong99/vellumbot"

// Line kinds recorded by [Metrics.RecordLine].
const (
	KindCommand     = "command"
	KindInteraction = "interaction"
	KindIgnored     = "ignored"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// DispatchDuration tracks how long a session takes to answer a line.
	// Use with attribute.String("kind", ...).
	DispatchDuration metric.Float64Histogram

	// Lines counts inbound chat lines. Use with attributes:
	//   attribute.String("transport", ...), attribute.String("kind", ...)
	Lines metric.Int64Counter

	// MessagesSent counts outbound lines. Use with attributes:
	//   attribute.String("transport", ...), attribute.String("status", ...)
	MessagesSent metric.Int64Counter

	// SpamBlocked counts "wtf?" replies suppressed by the spam limiter.
	SpamBlocked metric.Int64Counter

	// ActiveSessions tracks the number of channel sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Connections tracks open line-protocol connections.
	Connections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Dispatch
// is in-process, so the low end is fine grained.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DispatchDuration, err = m.Float64Histogram("vellum.dispatch.duration",
		metric.WithDescription("Latency of session command and interaction dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Lines, err = m.Int64Counter("vellum.lines",
		metric.WithDescription("Inbound chat lines by transport and kind."),
	); err != nil {
		return nil, err
	}
	if met.MessagesSent, err = m.Int64Counter("vellum.messages.sent",
		metric.WithDescription("Outbound lines by transport and status."),
	); err != nil {
		return nil, err
	}
	if met.SpamBlocked, err = m.Int64Counter("vellum.spam.blocked",
		metric.WithDescription("Unknown-command replies suppressed by the spam limiter."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("vellum.active_sessions",
		metric.WithDescription("Number of channel sessions."),
	); err != nil {
		return nil, err
	}
	if met.Connections, err = m.Int64UpDownCounter("vellum.connections",
		metric.WithDescription("Number of open line-protocol connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vellum.http.request.duration",
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

// RecordLine counts one inbound line.
func (m *Metrics) RecordLine(ctx context.Context, transport, kind string) {
	m.Lines.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("kind", kind),
		),
	)
}

// RecordSent counts one outbound line. status is "ok" or "error".
func (m *Metrics) RecordSent(ctx context.Context, transport, status string) {
	m.MessagesSent.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("status", status),
		),
	)
}

// RecordDispatch records how long answering one line took.
func (m *Metrics) RecordDispatch(ctx context.Context, kind string, seconds float64) {
	m.DispatchDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
