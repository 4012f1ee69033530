package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/tierroute/internal/models"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name: "with endpoint",
			config: TraceConfig{
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
				Endpoint:       "localhost:4317",
				EnableInsecure: true,
			},
		},
		{
			name:   "without endpoint (no-op)",
			config: TraceConfig{ServiceName: "test-service"},
		},
		{
			name:   "default service name",
			config: TraceConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil {
				t.Fatal("NewTracer() returned nil")
			}
			if tracer.tracer == nil {
				t.Error("tracer.tracer is nil")
			}
			if tracer.config.ServiceName == "" {
				t.Error("service name should be defaulted")
			}
		})
	}
}

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return NewTracerFromProvider(provider, "test"), recorder
}

func TestTraceProviderCall(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	ctx, span := tracer.TraceProviderCall(context.Background(), models.TierExpert, "o1")
	if GetTraceID(ctx) == "" {
		t.Error("expected trace id on context")
	}
	tracer.SetAttributes(span, "llm.input_tokens", int64(12), "llm.cache_hit", false, 42, "ignored")
	tracer.RecordError(span, errors.New("upstream failed"))
	tracer.RecordError(span, nil)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := ended[0]
	if got.Name() != "llm.request" || got.SpanKind() != trace.SpanKindClient {
		t.Errorf("span = %s kind %v", got.Name(), got.SpanKind())
	}
	if got.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", got.Status())
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range got.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["llm.tier"].AsString() != "expert" || attrs["llm.model"].AsString() != "o1" {
		t.Errorf("attributes = %v", got.Attributes())
	}
	if attrs["llm.input_tokens"].AsInt64() != 12 {
		t.Errorf("llm.input_tokens = %v", attrs["llm.input_tokens"])
	}
}

func TestTraceClassification(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.TraceClassification(context.Background(), "task")
	span.End()

	if len(recorder.Ended()) != 1 || recorder.Ended()[0].Name() != "route.classify" {
		t.Errorf("unexpected spans %v", recorder.Ended())
	}
}

func TestGetTraceIDWithoutSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() = %q, want empty", id)
	}
}
