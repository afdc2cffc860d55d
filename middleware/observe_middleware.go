package middleware

import (
	"context"
	"time"
	"workspace-mcp/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MetricsMiddleware records call counts, outcomes and latency per method.
func MetricsMiddleware(m *metrics.Metrics) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			m.InFlight.Inc()
			start := time.Now()
			result, err := next(ctx, call)
			m.InFlight.Dec()

			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.Calls.WithLabelValues(call.Method, outcome).Inc()
			m.Duration.WithLabelValues(call.Method).Observe(time.Since(start).Seconds())
			return result, err
		}
	}
}

// TracingMiddleware opens one span per call. Without an installed provider the spans are no-ops.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			ctx, span := tracer.Start(ctx, call.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("rpc.system", "jsonrpc"),
					attribute.String("rpc.method", call.Method),
					attribute.String("rpc.connection", call.ConnID),
					attribute.Bool("rpc.notification", call.Notification),
				))
			defer span.End()

			result, err := next(ctx, call)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		}
	}
}
