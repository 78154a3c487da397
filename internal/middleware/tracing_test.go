package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/osvaldoandrade/pfmea/internal/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func tracedEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(RequestIDMiddleware(), TracingMiddleware("pfmea-test"))
	wizard := engine.Group("", SessionMiddleware(3600, false))
	wizard.POST("/submit", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	wizard.POST("/reset", func(c *gin.Context) { c.Status(http.StatusConflict) })
	wizard.GET("/download", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	engine.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracingMiddlewareRecordsSessionAndRouteGroup(t *testing.T) {
	sr := recordSpans(t)
	engine := tracedEngine()

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans=%d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name() != "POST /submit" {
		t.Fatalf("span name = %q", s.Name())
	}
	attrs := spanAttrs(s)
	if got := attrs[tracing.AttrRouteGroup].AsString(); got != RouteGroupSubmit {
		t.Fatalf("route group = %q", got)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || attrs[tracing.AttrSessionID].AsString() != cookies[0].Value {
		t.Fatalf("session id attr = %q, cookies %+v", attrs[tracing.AttrSessionID].AsString(), cookies)
	}
	if attrs["http.status_code"].AsInt64() != http.StatusAccepted {
		t.Fatalf("status attr = %v", attrs["http.status_code"])
	}
	if attrs["http.request_id"].AsString() != rec.Header().Get(HeaderRequestID) {
		t.Fatalf("request id attr = %q", attrs["http.request_id"].AsString())
	}
}

func TestTracingMiddlewareStatusAndEvents(t *testing.T) {
	sr := recordSpans(t)
	engine := tracedEngine()

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/reset", nil))
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/download", nil))
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	spans := sr.Ended()
	if len(spans) != 3 {
		t.Fatalf("spans=%d, want 3", len(spans))
	}
	reset, download, unmatched := spans[0], spans[1], spans[2]

	if ev := reset.Events(); len(ev) != 1 || ev[0].Name != "pfmea.run_in_progress" {
		t.Fatalf("reset events = %+v", ev)
	}
	if reset.Status().Code == codes.Error {
		t.Fatalf("a conflict is not a server error")
	}
	if download.Status().Code != codes.Error {
		t.Fatalf("download status = %+v, want error", download.Status())
	}
	if got := spanAttrs(download)[tracing.AttrRouteGroup].AsString(); got != RouteGroupResult {
		t.Fatalf("download route group = %q", got)
	}
	if unmatched.Name() != http.MethodGet || spanAttrs(unmatched)[tracing.AttrRouteGroup].AsString() != RouteGroupUnmatched {
		t.Fatalf("unmatched span %q %v", unmatched.Name(), spanAttrs(unmatched))
	}
	if _, ok := spanAttrs(unmatched)[tracing.AttrSessionID]; ok {
		t.Fatalf("unmatched route never reaches the session middleware")
	}
}

func TestTracingMiddlewareSkipsScrapes(t *testing.T) {
	sr := recordSpans(t)
	engine := tracedEngine()

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if n := len(sr.Ended()); n != 0 {
		t.Fatalf("metrics scrape produced %d spans", n)
	}
}

func TestRouteGroup(t *testing.T) {
	tests := map[string]string{
		"/":               RouteGroupWizard,
		"/state":          RouteGroupWizard,
		"/preview/toggle": RouteGroupWizard,
		"/submit":         RouteGroupSubmit,
		"/download":       RouteGroupResult,
		"/options":        RouteGroupOps,
		"":                RouteGroupUnmatched,
	}
	for route, want := range tests {
		if got := RouteGroup(route); got != want {
			t.Errorf("RouteGroup(%q) = %q, want %q", route, got, want)
		}
	}
}
