// Package pipeline drives the flow: poll sources, route events, run
// per-route transform chains, deliver to sinks.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/OrgLoop/orgloop-sub001/internal/deadletter"
	"github.com/OrgLoop/orgloop-sub001/internal/event"
	"github.com/OrgLoop/orgloop-sub001/internal/ingest"
	"github.com/OrgLoop/orgloop-sub001/internal/observability"
	"github.com/OrgLoop/orgloop-sub001/internal/route"
	"github.com/OrgLoop/orgloop-sub001/internal/tracing"
	"github.com/OrgLoop/orgloop-sub001/internal/transform"
	"github.com/OrgLoop/orgloop-sub001/internal/transform/filter"
)

// ceSource prefixes the CloudEvents source attribute on delivered events.
const ceSource = "orgloop-router"

// SourceRunner pairs a source with its poll interval.
type SourceRunner struct {
	Source   ingest.Source
	Interval time.Duration
}

// Pipeline polls sources and pushes admitted events through the routing
// and transform stages to delivery. Poll calls for one source are
// serialized by its poll loop.
type Pipeline struct {
	registry    *Registry
	sources     []SourceRunner
	checkpoints *ingest.CheckpointStore
	deadletter  *deadletter.Handler
	metrics     *observability.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New creates a pipeline. metrics and deadletter may be nil.
func New(registry *Registry, sources []SourceRunner, checkpoints *ingest.CheckpointStore,
	dl *deadletter.Handler, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if dl == nil {
		dl = deadletter.NewHandler("")
	}
	return &Pipeline{
		registry:    registry,
		sources:     sources,
		checkpoints: checkpoints,
		deadletter:  dl,
		metrics:     metrics,
		logger:      logger,
		tracer:      noop.NewTracerProvider().Tracer("pipeline"),
	}
}

// SetTracer sets the tracer for the pipeline.
func (p *Pipeline) SetTracer(tracer trace.Tracer) {
	p.tracer = tracer
}

// Run polls every source on its interval until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, runner := range p.sources {
		wg.Add(1)
		go func(r SourceRunner) {
			defer wg.Done()
			p.pollLoop(ctx, r)
		}(runner)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pipeline) pollLoop(ctx context.Context, r SourceRunner) {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First poll happens immediately so buffered webhook events left by
	// a previous process are replayed without waiting a full interval.
	p.pollOnce(ctx, r.Source)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, r.Source)
		}
	}
}

// pollOnce performs one poll cycle: drain or synthesize events, process
// each, then persist the advanced checkpoint. Persisting after processing
// keeps admission at-least-once: a crash mid-batch replays the window.
func (p *Pipeline) pollOnce(ctx context.Context, src ingest.Source) {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanPoll,
		trace.WithAttributes(tracing.SourceAttr(src.Name())))
	defer span.End()

	cp := p.checkpoints.Load(src.Name())
	result, err := src.Poll(ctx, cp)
	if err != nil {
		tracing.SetSpanError(span, err)
		p.logger.Error("poll failed", "source", src.Name(), "error", err)
		return
	}

	if p.metrics != nil {
		p.metrics.PollDuration.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())
		p.metrics.EventsIngested.WithLabelValues(src.Name()).Add(float64(len(result.Events)))
	}

	for _, evt := range result.Events {
		p.process(ctx, evt)
	}

	if result.Checkpoint != cp {
		if err := p.checkpoints.Save(src.Name(), result.Checkpoint); err != nil {
			p.logger.Error("checkpoint persist failed", "source", src.Name(), "error", err)
		}
	}
	tracing.SetSpanOK(span)
}

// process routes one event and runs each matched route's chain.
func (p *Pipeline) process(ctx context.Context, evt *event.Envelope) {
	bindings, _ := p.registry.Snapshot()

	routes := make([]route.Route, len(bindings))
	for i, b := range bindings {
		routes[i] = b.Route
	}

	ctx, span := tracing.StartSpan(ctx, p.tracer, tracing.SpanRoute,
		trace.WithAttributes(
			tracing.EventIDAttr(evt.ID),
			tracing.EventTypeAttr(string(evt.Type)),
		))
	defer span.End()

	matched := route.Match(evt, routes)
	if len(matched) == 0 {
		p.logger.Debug("no route matched", "event_id", evt.ID, "source", evt.Source, "type", evt.Type)
		return
	}

	matchedNames := make(map[string]bool, len(matched))
	for _, r := range matched {
		matchedNames[r.Name] = true
	}

	for _, b := range bindings {
		if !matchedNames[b.Route.Name] {
			continue
		}
		if p.metrics != nil {
			p.metrics.EventsRouted.WithLabelValues(b.Route.Name).Inc()
		}
		p.deliverRoute(ctx, b, evt)
	}
}

// deliverRoute runs the transform chain on the route's own copy of the
// event and delivers the survivor.
func (p *Pipeline) deliverRoute(ctx context.Context, b Binding, evt *event.Envelope) {
	tctx, tspan := tracing.StartSpan(ctx, p.tracer, tracing.SpanTransform,
		trace.WithAttributes(tracing.RouteAttr(b.Route.Name)))
	transformed, err := transform.Chain(tctx, evt.Clone(), b.Transforms)
	if err != nil {
		tracing.SetSpanError(tspan, err)
	}
	tspan.End()
	if err != nil {
		reason := "transform_error"
		var evalErr *filter.EvaluatorError
		if errors.As(err, &evalErr) {
			reason = "evaluator_error"
		}
		if p.metrics != nil {
			p.metrics.EventsDropped.WithLabelValues(b.Route.Name, reason).Inc()
		}
		p.logger.Error("transform dropped event", "route", b.Route.Name, "event_id", evt.ID, "error", err)
		return
	}
	if transformed == nil {
		if p.metrics != nil {
			p.metrics.EventsDropped.WithLabelValues(b.Route.Name, "filtered").Inc()
		}
		return
	}

	payload, err := wrapCloudEvent(transformed)
	if err != nil {
		p.logger.Error("event serialization failed", "route", b.Route.Name, "event_id", transformed.ID, "error", err)
		return
	}

	headers := map[string]string{
		"Content-Type": cloudevents.ApplicationCloudEventsJSON,
	}
	if err := b.Sink.Deliver(ctx, payload, headers); err != nil {
		if p.metrics != nil {
			p.metrics.DeliveryErrors.WithLabelValues(b.Route.Name).Inc()
		}
		p.logger.Error("delivery failed", "route", b.Route.Name, "event_id", transformed.ID, "error", err)
		if dlErr := p.deadletter.Record(transformed, deadletter.FailureInfo{
			Route:        b.Route.Name,
			ErrorCode:    "SINK_DELIVERY_FAILED",
			ErrorMessage: err.Error(),
		}); dlErr != nil {
			p.logger.Error("dead letter record failed", "route", b.Route.Name, "error", dlErr)
		}
		return
	}

	if p.metrics != nil {
		p.metrics.EventsDelivered.WithLabelValues(b.Route.Name).Inc()
	}
}

// wrapCloudEvent builds the CloudEvents delivery envelope around the
// routed event.
func wrapCloudEvent(evt *event.Envelope) ([]byte, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(evt.ID)
	ce.SetSource(ceSource + "/" + evt.Source)
	ce.SetType(string(evt.Type))
	ce.SetTime(evt.Timestamp)
	if evt.TraceID != "" {
		ce.SetExtension("traceid", evt.TraceID)
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, evt); err != nil {
		return nil, fmt.Errorf("set cloudevent data: %w", err)
	}
	return json.Marshal(ce)
}

// Shutdown closes sources and the active bindings' transforms and sinks.
// Returns all errors joined.
func (p *Pipeline) Shutdown(context.Context) error {
	var errs []error

	for _, r := range p.sources {
		if err := r.Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("source %s close: %w", r.Source.Name(), err))
		}
	}

	bindings, _ := p.registry.Snapshot()
	errs = append(errs, CloseBindings(bindings)...)

	return errors.Join(errs...)
}

// CloseBindings closes every transform and sink in the given set. Used on
// shutdown and after a registry swap retires the previous set.
func CloseBindings(bindings []Binding) []error {
	var errs []error
	for _, b := range bindings {
		for _, t := range b.Transforms {
			if err := t.Close(); err != nil {
				errs = append(errs, fmt.Errorf("route %s transform close: %w", b.Route.Name, err))
			}
		}
		if err := b.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("route %s sink close: %w", b.Route.Name, err))
		}
	}
	return errs
}
