// Package kafka delivers routed events to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/OrgLoop/orgloop-sub001/internal/tracing"
)

// producer abstracts the kafka client for testing.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// AuthConfig defines SASL authentication for Kafka.
type AuthConfig struct {
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Config holds Kafka sink configuration.
type Config struct {
	Brokers []string   `yaml:"brokers"`
	Topic   string     `yaml:"topic"`
	Auth    AuthConfig `yaml:"auth,omitempty"`
}

// Sink delivers events to a Kafka topic.
type Sink struct {
	producer producer
	topic    string
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewSink creates a new Kafka sink.
func NewSink(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.Auth.Mechanism != "" {
		mech, err := saslMechanism(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("sasl config: %w", err)
		}
		opts = append(opts, kgo.SASL(mech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	return &Sink{
		producer: client,
		topic:    cfg.Topic,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("kafka-sink"),
	}, nil
}

// SetTracer sets the tracer for the sink.
func (s *Sink) SetTracer(tracer trace.Tracer) {
	s.tracer = tracer
}

func saslMechanism(auth AuthConfig) (sasl.Mechanism, error) {
	switch auth.Mechanism {
	case "PLAIN":
		return plain.Auth{User: auth.Username, Pass: auth.Password}.AsMechanism(), nil
	case "SCRAM-SHA-256":
		return scram.Auth{User: auth.Username, Pass: auth.Password}.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512":
		return scram.Auth{User: auth.Username, Pass: auth.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", auth.Mechanism)
	}
}

// Deliver produces the event to the configured topic.
func (s *Sink) Deliver(ctx context.Context, event []byte, headers map[string]string) error {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, s.tracer, tracing.SpanDeliver)
	defer span.End()

	record := &kgo.Record{Topic: s.topic, Value: event}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	results := s.producer.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		tracing.SetSpanError(span, err)
		return fmt.Errorf("kafka publish to %s: %w", s.topic, err)
	}

	tracing.SetSpanOK(span)
	s.logger.Debug("event delivered",
		"target", s.topic,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close shuts down the Kafka client.
func (s *Sink) Close() error {
	s.producer.Close()
	return nil
}
