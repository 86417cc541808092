// Package tracing is a small dedicated tracing helper built on
// go.opentelemetry.io/otel.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation-library name every span from this
// module is grouped under.
const tracerName = "github.com/ciel-container/ciel"

// Tracer returns the package-wide tracer. Callers outside this package go
// through StartSpan rather than pulling a Tracer themselves, so the
// instrumentation name stays centralized.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named op, the one entry point lifecycle
// transitions use to record their activity. The
// returned End function records err (if non-nil) on the span before
// ending it; callers invoke it as "defer end(&err)".
func StartSpan(ctx context.Context, op string) (context.Context, func(*error)) {
	ctx, span := Tracer().Start(ctx, op)
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}
