package diagnostics_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/syssam/veloxrt/diagnostics"
)

func TestEmitter(t *testing.T) {
	var got []diagnostics.Kind
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	e := diagnostics.NewEmitter([]diagnostics.Listener{
		diagnostics.ListenerFunc(func(context.Context, diagnostics.Event) { panic("boom") }),
		diagnostics.ListenerFunc(func(_ context.Context, ev diagnostics.Event) {
			assert.Equal(t, now, ev.Time)
			got = append(got, ev.Kind)
		}),
	}, diagnostics.WithLogger(logger), diagnostics.WithClock(func() time.Time { return now }))

	e.Emit(context.Background(), diagnostics.Event{Kind: diagnostics.QueryCompiled})
	e.Emit(context.Background(), diagnostics.Event{Kind: diagnostics.Error})
	assert.Equal(t, []diagnostics.Kind{diagnostics.QueryCompiled, diagnostics.Error}, got)
	assert.Contains(t, buf.String(), "diagnostics listener panicked")
	assert.Equal(t, uint64(1), e.NextID())
	assert.Equal(t, uint64(2), e.NextID())

	var nilEmitter *diagnostics.Emitter
	assert.NotPanics(t, func() { nilEmitter.Emit(context.Background(), diagnostics.Event{}) })
	assert.Zero(t, nilEmitter.NextID())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "batch_executed", diagnostics.BatchExecuted.String())
	assert.Equal(t, "Kind(9)", diagnostics.Kind(9).String())
}

func TestSlogListener(t *testing.T) {
	var buf bytes.Buffer
	l := diagnostics.NewSlogListener(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.OnEvent(context.Background(), diagnostics.Event{Kind: diagnostics.BatchExecuting, Table: "ducks", Op: "insert", Commands: 2})
	l.OnEvent(context.Background(), diagnostics.Event{Kind: diagnostics.Error, Table: "ducks", Err: errors.New("bad")})
	assert.Contains(t, buf.String(), "table=ducks")
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "error=bad")
}

func TestMetricsListener(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := diagnostics.NewMetricsListener(reg)
	require.NoError(t, err)
	ctx := context.Background()
	m.OnEvent(ctx, diagnostics.Event{Kind: diagnostics.QueryCompiled})
	m.OnEvent(ctx, diagnostics.Event{Kind: diagnostics.BatchExecuted, Table: "ducks", Op: "insert", Commands: 3, Duration: time.Millisecond})
	m.OnEvent(ctx, diagnostics.Event{Kind: diagnostics.Error, Table: "ducks", Op: "update"})

	n, err := testutil.GatherAndCount(reg, "veloxrt_batches_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(reg, "veloxrt_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = diagnostics.NewMetricsListener(reg)
	assert.Error(t, err, "collectors are already registered")
}

func TestTracingListener(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	l := diagnostics.NewTracingListener(tp)
	ctx := context.Background()
	l.OnEvent(ctx, diagnostics.Event{Kind: diagnostics.BatchExecuting, ID: 1, Table: "ducks", Op: "insert", Commands: 1})
	l.OnEvent(ctx, diagnostics.Event{Kind: diagnostics.BatchExecuting, ID: 2, Table: "posts", Op: "delete", Commands: 1})
	l.OnEvent(ctx, diagnostics.Event{Kind: diagnostics.BatchExecuted, ID: 1, Rows: 1})
	l.OnEvent(ctx, diagnostics.Event{Kind: diagnostics.Error, ID: 2, Err: errors.New("fk violation")})
	l.OnEvent(ctx, diagnostics.Event{Kind: diagnostics.BatchExecuted, ID: 3})

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "veloxrt.batch", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
