package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openclaw/conductor/pkg/types"
)

// TracerName is the OpenTelemetry tracer name conductor spans are
// registered under.
const TracerName = "conductor"

// RequestTracer opens one span per detected request, covering
// classification, auto-rule evaluation, and dispatch to either an
// auto-resolution or the forwarder. It satisfies orchestrator.Tracer.
type RequestTracer struct {
	tracer trace.Tracer
}

// NewRequestTracer returns a RequestTracer using the globally
// configured OTEL tracer provider.
func NewRequestTracer() *RequestTracer {
	return &RequestTracer{tracer: otel.Tracer(TracerName)}
}

// TraceRequest starts a span named "conductor.request" carrying the
// request's id/kind/url as attributes, and returns an end function that
// closes it.
func (t *RequestTracer) TraceRequest(ctx context.Context, req types.Request) (context.Context, func()) {
	attrs := []attribute.KeyValue{
		attribute.String("request.id", req.ID),
		attribute.String("request.kind", string(req.Kind)),
	}
	if req.URL != "" {
		attrs = append(attrs, attribute.String("request.url", req.URL))
	}
	if req.Service != "" {
		attrs = append(attrs, attribute.String("request.service", req.Service))
	}

	ctx, span := t.tracer.Start(ctx, "conductor.request",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func() { span.End() }
}

// RecordDecision annotates the span in ctx (if any) with the auto-rule
// or operator decision reached for a request.
func RecordDecision(ctx context.Context, decision, resolvedBy string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("decision", decision),
		attribute.String("decision.resolvedBy", resolvedBy),
	)
	if decision == "deny" {
		span.SetStatus(codes.Error, "request denied")
	}
}

// RecordError records err on the span in ctx (if any) and marks it
// failed. A nil err is a no-op.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
