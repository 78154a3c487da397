package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

// Span attributes shared by the HTTP middleware and the session service.
const (
	AttrSessionID  = attribute.Key("pfmea.session_id")
	AttrRouteGroup = attribute.Key("pfmea.route_group")
)

// SubmitRouteGroup is the route group whose spans are always sampled.
const SubmitRouteGroup = "submit"

// Config mirrors config.TracingConfig so this package stays free of app config.
type Config struct {
	Enabled     bool
	ServiceName string
	Environment string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// exporterSettings is Config after OTEL_* environment fallbacks and defaults.
type exporterSettings struct {
	serviceName string
	endpoint    string
	insecure    bool
	sampleRatio float64
}

func resolve(cfg Config) exporterSettings {
	out := exporterSettings{
		serviceName: firstSet(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), "pfmea"),
		endpoint:    sanitizeEndpoint(firstSet(cfg.OTLPEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "localhost:4317")),
		insecure:    cfg.OTLPInsecure,
		sampleRatio: cfg.SampleRatio,
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		out.insecure = parseBool(v)
	}
	if out.sampleRatio <= 0 || out.sampleRatio > 1 {
		out.sampleRatio = 1
	}
	return out
}

// Setup installs the global tracer provider and propagator. With tracing
// disabled, or when the exporter cannot be built, only the propagator is set
// and the returned shutdown is a no-op.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(defaultPropagator())
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	st := resolve(cfg)
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(st.endpoint)}
	if st.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("otlp exporter unavailable, spans will not be exported", "endpoint", st.endpoint, "err", err)
		return noop, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(st.serviceName, cfg.Environment, logger)),
		sdktrace.WithSampler(newSampler(st.sampleRatio)),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "endpoint", st.endpoint, "sample_ratio", st.sampleRatio)
	return tp.Shutdown, nil
}

func newResource(serviceName, env string, logger *slog.Logger) *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		logger.Warn("otel resource merge failed, using default", "err", err)
		return resource.Default()
	}
	return res
}

// newSampler honours the parent decision, keeps every submission root span
// and samples the rest by ratio.
func newSampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(submitSampler{base: sdktrace.TraceIDRatioBased(ratio)})
}

type submitSampler struct {
	base sdktrace.Sampler
}

func (s submitSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, kv := range p.Attributes {
		if kv.Key == AttrRouteGroup && kv.Value.AsString() == SubmitRouteGroup {
			return sdktrace.SamplingResult{
				Decision:   sdktrace.RecordAndSample,
				Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
			}
		}
	}
	return s.base.ShouldSample(p)
}

func (s submitSampler) Description() string {
	return "PFMEASubmit{" + s.base.Description() + "}"
}

func defaultPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// backendPropagator carries only TraceContext to the analysis backend so
// baggage set by browsers never leaves the service.
func backendPropagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

// sanitizeEndpoint reduces a URL-style OTLP endpoint to the host:port the
// gRPC exporter expects.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.TrimSpace(strings.ToLower(v)) {
	case "true", "1", "yes", "y", "on":
		return true
	}
	return false
}

// InjectHeaders writes traceparent/tracestate for the span in ctx into h.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	backendPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
