package diagnostics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingListener records a span per command batch, opened on
// BatchExecuting and ended on BatchExecuted or Error.
type TracingListener struct {
	tracer trace.Tracer
	mu     sync.Mutex
	spans  map[uint64]trace.Span
}

// NewTracingListener returns a listener using the global tracer provider
// when tp is nil.
func NewTracingListener(tp trace.TracerProvider) *TracingListener {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracingListener{
		tracer: tp.Tracer("github.com/syssam/veloxrt"),
		spans:  make(map[uint64]trace.Span),
	}
}

// OnEvent implements Listener.
func (t *TracingListener) OnEvent(ctx context.Context, e Event) {
	switch e.Kind {
	case BatchExecuting:
		_, span := t.tracer.Start(ctx, "veloxrt.batch",
			trace.WithTimestamp(e.Time),
			trace.WithAttributes(
				attribute.String("db.sql.table", e.Table),
				attribute.String("db.operation", e.Op),
				attribute.Int("veloxrt.commands", e.Commands),
			))
		t.mu.Lock()
		t.spans[e.ID] = span
		t.mu.Unlock()
	case BatchExecuted, Error:
		t.mu.Lock()
		span, ok := t.spans[e.ID]
		delete(t.spans, e.ID)
		t.mu.Unlock()
		if !ok {
			return
		}
		if e.Err != nil {
			span.RecordError(e.Err)
			span.SetStatus(codes.Error, e.Err.Error())
		} else {
			span.SetAttributes(attribute.Int64("db.rows_affected", e.Rows))
		}
		span.End(trace.WithTimestamp(e.Time))
	}
}
