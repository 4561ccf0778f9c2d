package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all router Prometheus metrics.
type Metrics struct {
	EventsIngested  *prometheus.CounterVec
	EventsRouted    *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec
	EventsDelivered *prometheus.CounterVec
	DeliveryErrors  *prometheus.CounterVec
	PollDuration    *prometheus.HistogramVec
	WebhookRequests *prometheus.CounterVec
	RegistryVersion prometheus.Gauge
}

// NewMetrics creates and registers all router metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orgloop_router_events_ingested_total",
			Help: "Events admitted per source.",
		}, []string{"source"}),

		EventsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orgloop_router_events_routed_total",
			Help: "Route matches per route.",
		}, []string{"route"}),

		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orgloop_router_events_dropped_total",
			Help: "Events dropped by a transform, by reason.",
		}, []string{"route", "reason"}),

		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orgloop_router_events_delivered_total",
			Help: "Events handed to a sink successfully.",
		}, []string{"route"}),

		DeliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orgloop_router_delivery_errors_total",
			Help: "Sink delivery failures per route.",
		}, []string{"route"}),

		PollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orgloop_router_poll_duration_seconds",
			Help:    "Duration of one source poll.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),

		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orgloop_router_webhook_requests_total",
			Help: "Inbound webhook requests by response code.",
		}, []string{"source", "code"}),

		RegistryVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orgloop_router_registry_version",
			Help: "Version of the currently active route configuration.",
		}),
	}
}
