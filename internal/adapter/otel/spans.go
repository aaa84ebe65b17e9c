package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "reviewforge"

// StartAppendSpan starts a span for appending one review action.
func StartAppendSpan(ctx context.Context, documentID, action string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "actionlog.append",
		trace.WithAttributes(
			attribute.String("document.id", documentID),
			attribute.String("review.action", action),
		),
	)
}

// StartEvaluateSpan starts a span for computing a document's lifecycles.
func StartEvaluateSpan(ctx context.Context, documentID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "consensus.evaluate",
		trace.WithAttributes(attribute.String("document.id", documentID)),
	)
}

// StartAggregateSpan starts a span for a cross-document aggregation such as
// the conflict overview or the final export.
func StartAggregateSpan(ctx context.Context, op string, documents int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "consensus."+op,
		trace.WithAttributes(attribute.Int("documents.count", documents)),
	)
}

// StartAssignSpan starts a span for an assignment request.
func StartAssignSpan(ctx context.Context, actor string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "assignment.assign",
		trace.WithAttributes(attribute.String("reviewer", actor)),
	)
}
