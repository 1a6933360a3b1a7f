package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jabbala/tenantfair/request"
)

// tracerName is the instrumentation scope name for scheduler tracing.
const tracerName = "github.com/jabbala/tenantfair"

// Tracing returns middleware that wraps dispatch in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: tenantfair.request.id, tenantfair.tenant_id,
// tenantfair.tier. On error, the span status is set to codes.Error with
// the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, req *request.ScheduledRequest, next Handler) error {
		ctx, span := tracer.Start(ctx, "tenantfair.request.dispatch",
			trace.WithAttributes(
				attribute.String("tenantfair.request.id", req.ID.String()),
				attribute.String("tenantfair.tenant_id", req.TenantID),
				attribute.String("tenantfair.tier", req.Tier.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
