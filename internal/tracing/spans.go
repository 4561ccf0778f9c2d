package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for consistent span attributes.
const (
	AttrSourceName = "orgloop.source.name"
	AttrRouteName  = "orgloop.route.name"
	AttrEventID    = "orgloop.event.id"
	AttrEventType  = "orgloop.event.type"
	AttrHTTPTarget = "http.target"
	AttrKafkaTopic = "messaging.kafka.topic"
)

// Span names for consistent span naming.
const (
	SpanPoll      = "orgloop.source.poll"
	SpanRoute     = "orgloop.route"
	SpanTransform = "orgloop.transform"
	SpanDeliver   = "orgloop.deliver"
)

// StartSpan starts a new span with the given name and options. A nil
// tracer yields a no-op span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// SetSpanError records an error on the span and sets the status to Error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to Ok.
func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// SourceAttr returns an attribute for the source name.
func SourceAttr(name string) attribute.KeyValue {
	return attribute.String(AttrSourceName, name)
}

// RouteAttr returns an attribute for the route name.
func RouteAttr(name string) attribute.KeyValue {
	return attribute.String(AttrRouteName, name)
}

// EventIDAttr returns an attribute for the event id.
func EventIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrEventID, id)
}

// EventTypeAttr returns an attribute for the event type.
func EventTypeAttr(t string) attribute.KeyValue {
	return attribute.String(AttrEventType, t)
}
