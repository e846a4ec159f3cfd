package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every vellumbot span.
const tracerName = "github.com/MrWong99/vellumbot"

// Span attribute keys for chat lines.
const (
	AttrTransport = attribute.Key("vellum.transport")
	AttrChannel   = attribute.Key("vellum.channel")
	AttrSpeaker   = attribute.Key("vellum.speaker")
	AttrKind      = attribute.Key("vellum.line.kind")
)

// Tracer returns the vellumbot tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span; the caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartLineSpan starts the span covering one inbound chat line. channel is
// empty for direct messages.
func StartLineSpan(ctx context.Context, transport, channel, speaker string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrTransport.String(transport), AttrSpeaker.String(speaker)}
	if channel != "" {
		attrs = append(attrs, AttrChannel.String(channel))
	}
	return StartSpan(ctx, "chat.line", trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(attrs...))
}

// Fail records err on span and marks it failed. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID is the trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithTrace adds trace_id and span_id from ctx to l. A nil l means
// slog.Default(); without an active span l is returned unchanged.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
