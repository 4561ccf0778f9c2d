package pipeline

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/OrgLoop/orgloop-sub001/internal/config"
	"github.com/OrgLoop/orgloop-sub001/internal/event"
	"github.com/OrgLoop/orgloop-sub001/internal/ingest"
	"github.com/OrgLoop/orgloop-sub001/internal/observability"
	"github.com/OrgLoop/orgloop-sub001/internal/route"
	"github.com/OrgLoop/orgloop-sub001/internal/sink"
	httpsink "github.com/OrgLoop/orgloop-sub001/internal/sink/http"
	kafkasink "github.com/OrgLoop/orgloop-sub001/internal/sink/kafka"
	"github.com/OrgLoop/orgloop-sub001/internal/transform"
	"github.com/OrgLoop/orgloop-sub001/internal/transform/dedup"
	"github.com/OrgLoop/orgloop-sub001/internal/transform/filter"
	"github.com/OrgLoop/orgloop-sub001/internal/upstream"
)

// BuildSources constructs the configured admission points. Webhook
// sources are also registered on mux under their configured path.
func BuildSources(cfg *config.Config, mux *http.ServeMux, metrics *observability.Metrics, logger *slog.Logger) ([]SourceRunner, error) {
	runners := make([]SourceRunner, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := buildSource(sc, mux, metrics, logger)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}
		runners = append(runners, SourceRunner{Source: src, Interval: sc.PollInterval()})
	}
	return runners, nil
}

func buildSource(sc config.SourceConfig, mux *http.ServeMux, metrics *observability.Metrics, logger *slog.Logger) (ingest.Source, error) {
	switch sc.Type {
	case "webhook":
		hook, err := ingest.NewWebhook(ingest.WebhookConfig{
			Source:     sc.Name,
			Platform:   sc.Platform,
			Secret:     sc.Secret,
			BufferPath: sc.BufferPath,
		}, logger)
		if err != nil {
			return nil, err
		}
		if mux != nil {
			path := sc.Path
			if path == "" {
				path = "/hooks/" + sc.Name
			}
			var handler http.Handler = hook
			if metrics != nil {
				handler = countRequests(metrics, sc.Name, handler)
			}
			mux.Handle(path, handler)
		}
		return hook, nil

	case "polldiff":
		client, err := upstream.New(upstream.Config{
			BaseURL: sc.URL,
			Token:   sc.Token,
		})
		if err != nil {
			return nil, err
		}
		lister := upstream.NewEntityLister(client, sc.ListPath, sc.IDField)
		return ingest.NewDiffSource(ingest.DiffConfig{
			Source:       sc.Name,
			Platform:     sc.Platform,
			SnapshotPath: sc.SnapshotPath,
			TrackFields:  sc.TrackFields,
		}, lister, logger)

	default:
		return nil, fmt.Errorf("unknown source type %q", sc.Type)
	}
}

// statusRecorder captures the response code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func countRequests(metrics *observability.Metrics, source string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.WebhookRequests.WithLabelValues(source, strconv.Itoa(rec.code)).Inc()
	})
}

// BuildBindings compiles the configured routes into bindings: route
// predicates parsed, transform chains constructed, sinks connected.
func BuildBindings(cfg *config.Config, logger *slog.Logger) ([]Binding, error) {
	bindings := make([]Binding, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		b, err := buildBinding(rc, logger)
		if err != nil {
			// Close what was already built; a partial set must not leak.
			CloseBindings(bindings)
			return nil, fmt.Errorf("route %q: %w", rc.Name, err)
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func buildBinding(rc config.RouteConfig, logger *slog.Logger) (Binding, error) {
	events := make([]event.Type, 0, len(rc.Events))
	for _, t := range rc.Events {
		events = append(events, event.Type(t))
	}
	compiled, err := route.New(rc.Name, rc.Source, events, rc.Filter)
	if err != nil {
		return Binding{}, err
	}

	transforms := make([]transform.Transformer, 0, len(rc.Transforms))
	for i, tc := range rc.Transforms {
		t, err := buildTransform(tc, logger)
		if err != nil {
			for _, built := range transforms {
				_ = built.Close()
			}
			return Binding{}, fmt.Errorf("transform %d: %w", i, err)
		}
		transforms = append(transforms, t)
	}

	sk, err := buildSink(rc.Sink)
	if err != nil {
		for _, built := range transforms {
			_ = built.Close()
		}
		return Binding{}, err
	}

	return Binding{Route: compiled, Transforms: transforms, Sink: sk}, nil
}

func buildTransform(tc config.TransformConfig, logger *slog.Logger) (transform.Transformer, error) {
	switch tc.Type {
	case "filter":
		var evaluator filter.Evaluator
		if tc.JQ != "" {
			var err error
			if tc.Evaluator == "cel" {
				evaluator, err = filter.NewCELEvaluator(tc.JQ)
			} else {
				evaluator, err = filter.NewExecEvaluator("", tc.JQ)
			}
			if err != nil {
				return nil, err
			}
		}
		return filter.New(tc.FilterConfig(), evaluator, logger)

	case "dedup":
		return dedup.New(dedup.Config{Key: tc.Key, Window: tc.DedupWindow()}, logger)

	default:
		return nil, fmt.Errorf("unknown transform type %q", tc.Type)
	}
}

func buildSink(sc config.SinkConfig) (sink.Sink, error) {
	switch sc.Type {
	case "http":
		return httpsink.NewSink(httpsink.Config{
			URL:     sc.URL,
			Method:  sc.Method,
			Headers: sc.Headers,
		})
	case "kafka":
		return kafkasink.NewSink(kafkasink.Config{
			Brokers: sc.Brokers,
			Topic:   sc.Topic,
			Auth:    sc.Auth,
		})
	default:
		return nil, fmt.Errorf("unknown sink type %q", sc.Type)
	}
}
