package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// useSpanRecorder installs a recording provider as the global one for the
// duration of the test.
func useSpanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return tp, sr
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	tp, err := NewTracerProvider(ctx, config.TelemetryConfig{
		Enabled:       false,
		ServiceName:   "mobilesync-test",
		SamplingRatio: 1.0,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, tp.IsEnabled())
	assert.NoError(t, tp.ForceFlush(ctx))

	_, span := tp.Tracer("test").Start(ctx, "noop")
	span.End()
	assert.NoError(t, tp.Shutdown(ctx))
}

func TestSampler(t *testing.T) {
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	params := sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: traceID, Name: "sync.session"}

	tests := []struct {
		name  string
		ratio float64
		want  sdktrace.SamplingDecision
	}{
		{"always", 1.0, sdktrace.RecordAndSample},
		{"above one", 2.0, sdktrace.RecordAndSample},
		{"never", 0, sdktrace.Drop},
		{"ratio drops high trace ids", 0.5, sdktrace.Drop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Sampler(tt.ratio).ShouldSample(params)
			assert.Equal(t, tt.want, res.Decision)
		})
	}
}

func TestStartSpan(t *testing.T) {
	_, sr := useSpanRecorder(t)

	ctx, parent := StartSpan(context.Background(), "sync.session",
		WithAttribute(SpanAttrSessionID, "s-1"))
	assert.NotEmpty(t, TraceID(ctx))

	_, child := StartSpan(ctx, "sync.pull",
		WithAttribute(SpanAttrEntityType, "voucher"),
		WithAttribute(SpanAttrItems, 3),
		WithSpanKind(trace.SpanKindClient))
	child.End()
	parent.End()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	pull, session := spans[0], spans[1]

	assert.Equal(t, "sync.pull", pull.Name())
	assert.Equal(t, trace.SpanKindClient, pull.SpanKind())
	assert.Equal(t, session.SpanContext().SpanID(), pull.Parent().SpanID())
	attrs := map[string]any{}
	for _, kv := range pull.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "voucher", attrs[SpanAttrEntityType])
	assert.Equal(t, int64(3), attrs[SpanAttrItems])
	assert.Equal(t, trace.SpanKindInternal, session.SpanKind())
}

func TestRecordError(t *testing.T) {
	_, sr := useSpanRecorder(t)

	_, span := StartSpan(context.Background(), "sync.upload")
	RecordError(span, nil)
	RecordError(span, errors.New("server unavailable"))
	SetAttributes(span, SpanAttrOutcome, "retrying", 42, "ignored")
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "server unavailable", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
	require.Len(t, spans[0].Attributes(), 1)
	assert.Equal(t, "retrying", spans[0].Attributes()[0].Value.AsString())
}

func TestTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
}

type tracedRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestRegisterDBTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRow{}))

	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{
		Enabled:            true,
		DBSystem:           "sqlite",
		SlowQueryThreshold: time.Hour,
		TracerProvider:     tp,
	}, zap.NewNop()))

	ctx, parent := tp.Tracer("test").Start(context.Background(), "sync.pull")
	require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Name: "a"}).Error)
	var rows []tracedRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	parent.End()

	var queries []sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		if s.Name() != "sync.pull" {
			queries = append(queries, s)
		}
	}
	require.GreaterOrEqual(t, len(queries), 2)
	for _, q := range queries {
		assert.Equal(t, parent.SpanContext().SpanID(), q.Parent().SpanID())
		assert.Equal(t, parent.SpanContext().TraceID(), q.SpanContext().TraceID())
	}
}

func TestRegisterDBTracing_Disabled(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{Enabled: false}, nil))
	assert.Nil(t, db.Callback().Query().Get("trace_timing:after_query"))
}
