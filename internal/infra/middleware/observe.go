package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"agentlink/internal/infra/tracer"
)

// HTTPRecorder receives one observation per served request.
type HTTPRecorder interface {
	RecordHTTP(ctx context.Context, route, method string, status int, d time.Duration)
}

// Observe opens a server span per request (continuing an inbound W3C trace)
// and reports the request to rec keyed by the chi route pattern, so path
// parameters do not explode label cardinality. rec may be nil.
func Observe(rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.StartSpan(ctx, "http.request",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					tracer.StringAttr("http.method", r.Method),
					tracer.StringAttr("http.target", r.URL.Path),
				),
			)
			defer span.End()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				tracer.StringAttr("http.route", route),
				tracer.IntAttr("http.status_code", status),
			)
			if status >= 500 {
				span.SetAttributes(tracer.StringAttr("error", http.StatusText(status)))
			}
			if rec != nil {
				rec.RecordHTTP(ctx, route, r.Method, status, time.Since(start))
			}
		})
	}
}

// routePattern reads the matched pattern chi filled in while routing.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
