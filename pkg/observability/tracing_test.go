package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/openclaw/conductor/pkg/types"
)

func init() {
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func TestRequestTracer_TraceRequest(t *testing.T) {
	tracer := NewRequestTracer()
	req := types.Request{ID: "req-1", Kind: types.KindURLVisit, URL: "https://example.com", Service: "http"}

	ctx, end := tracer.TraceRequest(context.Background(), req)
	defer end()

	if ctx == nil {
		t.Fatal("TraceRequest returned nil context")
	}
}

func TestRequestTracer_TraceRequest_MinimalFields(t *testing.T) {
	tracer := NewRequestTracer()
	req := types.Request{ID: "req-2", Kind: types.KindUnknown}

	ctx, end := tracer.TraceRequest(context.Background(), req)
	defer end()

	if ctx == nil {
		t.Fatal("TraceRequest returned nil context")
	}
}

func TestRecordDecision_DoesNotPanic(t *testing.T) {
	tracer := NewRequestTracer()
	ctx, end := tracer.TraceRequest(context.Background(), types.Request{ID: "req-3"})
	defer end()

	RecordDecision(ctx, "approve", "operator")
	RecordDecision(ctx, "deny", "auto-deny")
}

func TestRecordError_NilIsNoop(t *testing.T) {
	tracer := NewRequestTracer()
	ctx, end := tracer.TraceRequest(context.Background(), types.Request{ID: "req-4"})
	defer end()

	RecordError(ctx, nil)
}

func TestRecordError_RecordsRealError(t *testing.T) {
	tracer := NewRequestTracer()
	ctx, end := tracer.TraceRequest(context.Background(), types.Request{ID: "req-5"})
	defer end()

	RecordError(ctx, context.DeadlineExceeded)
}
