// Package coalescetrace wires the coalescing coordinator into an
// OpenTelemetry trace, one span per batch and one per submission.
// Follows a span-per-unit-of-work convention, trimmed to the bare
// go.opentelemetry.io/otel + go.opentelemetry.io/otel/trace API
// surface: as a library component, this package uses whatever
// TracerProvider the host application has already configured, rather
// than owning an exporter lifecycle itself.
package coalescetrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("coalesce")

// StartBatch opens a span covering one batch's dispatch, tagged with
// its id and size.
func StartBatch(ctx context.Context, batchID string, size, uniqueSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "coalesce.dispatch",
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.Int("batch.size", size),
			attribute.Int("batch.unique_size", uniqueSize),
		),
	)
}

// StartSubmit opens a span covering one caller's submission. Execute
// ends it once the sink resolves; ExecuteAsFuture and a Mono
// subscription end it as soon as the tuple has been admitted.
func StartSubmit(ctx context.Context, modality string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "coalesce.submit",
		trace.WithAttributes(attribute.String("coalesce.modality", modality)),
	)
}
