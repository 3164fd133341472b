package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and delegates to the wrapped writer.
func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	routeLabel func(*http.Request) string
}

// WithRouteLabel sets the function that maps a request to the route label
// used for span names and the path metric attribute. The media endpoint
// carries the tenant id as a path segment, so the bridge server passes a
// labeler that collapses it to a fixed template; otherwise every tenant
// would mint its own metric series.
func WithRouteLabel(fn func(*http.Request) string) MiddlewareOption {
	return func(c *middlewareConfig) { c.routeLabel = fn }
}

// Middleware returns an [http.Handler] wrapper that traces and measures
// every request the receptionist serves: media WebSocket upgrades, health
// probes, and the metrics scrape.
//
// For each request it:
//
//  1. Extracts W3C Trace Context from incoming request headers (or starts a
//     new trace).
//  2. Starts an OTel span named after the method and route label.
//  3. Sets the X-Correlation-ID response header from the trace ID, so a call
//     can be traced from the telephony provider's logs into ours.
//  4. Records request duration to [Metrics.HTTPRequestDuration].
//  5. Logs request completion with status code, duration, and trace info.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		routeLabel: func(r *http.Request) string { return r.URL.Path },
	}
	for _, o := range opts {
		o(&cfg)
	}
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := cfg.routeLabel(r)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			// The span name uses the low-cardinality route label; the raw
			// path survives as an attribute for per-call drill-down.
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.HTTPRoute(route),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
				),
			)

			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", route),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}
