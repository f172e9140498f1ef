package otel

import (
	"context"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/trace"
)

// GetTraceID extracts the OpenTelemetry trace ID from the context
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID extracts the OpenTelemetry span ID from the context
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}

// WithCatalogBaggage attaches the catalog coordinates of a request to the
// OTel baggage so downstream spans and audit emissions can reference them.
func WithCatalogBaggage(ctx context.Context, projectID, warehouseID string) context.Context {
	bag := baggage.FromContext(ctx)

	if projectID != "" {
		if member, err := baggage.NewMember("project_id", projectID); err == nil {
			bag, _ = bag.SetMember(member)
		}
	}
	if warehouseID != "" {
		if member, err := baggage.NewMember("warehouse_id", warehouseID); err == nil {
			bag, _ = bag.SetMember(member)
		}
	}

	return baggage.ContextWithBaggage(ctx, bag)
}

// CatalogBaggage retrieves the catalog coordinates from OTel baggage.
func CatalogBaggage(ctx context.Context) (projectID, warehouseID string) {
	bag := baggage.FromContext(ctx)

	if member := bag.Member("project_id"); member.Value() != "" {
		projectID = member.Value()
	}
	if member := bag.Member("warehouse_id"); member.Value() != "" {
		warehouseID = member.Value()
	}

	return
}
