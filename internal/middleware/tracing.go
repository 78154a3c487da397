package middleware

import (
	"net/http"
	"strings"

	"github.com/osvaldoandrade/pfmea/internal/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Route groups recorded on request spans.
const (
	RouteGroupWizard    = "wizard"
	RouteGroupSubmit    = tracing.SubmitRouteGroup
	RouteGroupResult    = "result"
	RouteGroupOps       = "ops"
	RouteGroupUnmatched = "unmatched"
)

var routeGroups = map[string]string{
	"/":               RouteGroupWizard,
	"/state":          RouteGroupWizard,
	"/preview/toggle": RouteGroupWizard,
	"/error/dismiss":  RouteGroupWizard,
	"/reset":          RouteGroupWizard,
	"/submit":         RouteGroupSubmit,
	"/preview":        RouteGroupResult,
	"/download":       RouteGroupResult,
	"/options":        RouteGroupOps,
	"/healthz":        RouteGroupOps,
	"/metrics":        RouteGroupOps,
}

// Routes polled on a timer by metrics scrapers and health checks.
var untracedRoutes = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// RouteGroup buckets a matched gin route for span attributes.
func RouteGroup(route string) string {
	if g, ok := routeGroups[route]; ok {
		return g
	}
	if route == "" {
		return RouteGroupUnmatched
	}
	return RouteGroupWizard
}

// TracingMiddleware continues the caller's W3C trace and wraps the handler
// chain in a server span named after the matched route. The span carries the
// route group and, once the session middleware has run, the session id.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "pfmea"
	}
	tracer := otel.Tracer(serviceName + "/http")

	return func(c *gin.Context) {
		// gin resolves the route before running any handler.
		route := c.FullPath()
		if untracedRoutes[route] {
			c.Next()
			return
		}
		group := RouteGroup(route)
		name := c.Request.Method
		if route != "" {
			name += " " + route
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				tracing.AttrRouteGroup.String(group),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if sid := SessionID(c); sid != "" {
			span.SetAttributes(tracing.AttrSessionID.String(sid))
		}
		if id := c.GetString("request_id"); id != "" {
			span.SetAttributes(attribute.String("http.request_id", id))
		}
		switch {
		case status >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(status))
		case status == http.StatusConflict && group != RouteGroupOps:
			span.AddEvent("pfmea.run_in_progress")
		}
		if err := c.Errors.Last(); err != nil {
			span.RecordError(err.Err)
		}
	}
}
