package tracing

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSanitizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"http://collector:4317": "collector:4317",
		"https://otel.example/": "otel.example",
		"collector:4317/":       "collector:4317",
		"  localhost:4317  ":    "localhost:4317",
		"":                      "",
	}
	for in, want := range tests {
		if got := sanitizeEndpoint(in); got != want {
			t.Errorf("sanitizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInjectHeadersCarriesTraceContextOnly(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "call")
	defer span.End()

	h := http.Header{}
	InjectHeaders(ctx, h)
	traceparent := h.Get("traceparent")
	if !strings.Contains(traceparent, span.SpanContext().TraceID().String()) {
		t.Fatalf("traceparent = %q", traceparent)
	}

	// Baggage from an inbound request must not be forwarded.
	in := http.Header{}
	in.Set("baggage", "user=alice")
	ctx = defaultPropagator().Extract(ctx, propagation.HeaderCarrier(in))
	out := http.Header{}
	InjectHeaders(ctx, out)
	if out.Get("baggage") != "" {
		t.Fatalf("baggage leaked: %q", out.Get("baggage"))
	}

	InjectHeaders(ctx, nil)
}

func TestResolveFallsBackToOTELEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "pfmea-env")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "yes")

	got := resolve(Config{SampleRatio: 2})
	if got.serviceName != "pfmea-env" || got.endpoint != "collector:4317" || !got.insecure || got.sampleRatio != 1 {
		t.Fatalf("resolved %+v", got)
	}

	got = resolve(Config{ServiceName: "pfmea-web", OTLPEndpoint: "otel:4317", SampleRatio: 0.25})
	if got.serviceName != "pfmea-web" || got.endpoint != "otel:4317" || got.sampleRatio != 0.25 {
		t.Fatalf("explicit config lost: %+v", got)
	}

	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if got := resolve(Config{}); got.serviceName != "pfmea" || got.endpoint != "localhost:4317" {
		t.Fatalf("defaults = %+v", got)
	}
}

func TestSamplerKeepsSubmissions(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(newSampler(0)))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	_, submit := tracer.Start(context.Background(), "POST /submit",
		trace.WithAttributes(AttrRouteGroup.String(SubmitRouteGroup)))
	defer submit.End()
	if !submit.SpanContext().IsSampled() {
		t.Fatalf("submission span must be sampled at ratio 0")
	}

	_, poll := tracer.Start(context.Background(), "GET /state",
		trace.WithAttributes(AttrRouteGroup.String("wizard"), attribute.String("http.route", "/state")))
	defer poll.End()
	if poll.SpanContext().IsSampled() {
		t.Fatalf("poll span should follow the ratio")
	}

	if d := newSampler(0.5).Description(); !strings.Contains(d, "PFMEASubmit") {
		t.Fatalf("description = %q", d)
	}
}
