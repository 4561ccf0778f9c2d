package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace/noop"
)

// fakeProducer captures produced records.
type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeProducer) Close() { f.closed = true }

func newFakeSink(p producer) *Sink {
	return &Sink{
		producer: p,
		topic:    "orgloop.events",
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("kafka-sink"),
	}
}

func TestNewSink_Validation(t *testing.T) {
	if _, err := NewSink(Config{Topic: "t"}); err == nil {
		t.Error("expected error for missing brokers")
	}
	if _, err := NewSink(Config{Brokers: []string{"b:9092"}}); err == nil {
		t.Error("expected error for missing topic")
	}
	if _, err := NewSink(Config{
		Brokers: []string{"b:9092"},
		Topic:   "t",
		Auth:    AuthConfig{Mechanism: "GSSAPI"},
	}); err == nil {
		t.Error("expected error for unsupported SASL mechanism")
	}
}

func TestSASLMechanism_SupportedVariants(t *testing.T) {
	for _, mech := range []string{"PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"} {
		if _, err := saslMechanism(AuthConfig{Mechanism: mech, Username: "u", Password: "p"}); err != nil {
			t.Errorf("%s: unexpected error: %v", mech, err)
		}
	}
}

func TestDeliver_ProducesRecordWithHeaders(t *testing.T) {
	p := &fakeProducer{}
	s := newFakeSink(p)

	err := s.Deliver(context.Background(), []byte(`{"id":"e1"}`),
		map[string]string{"Content-Type": "application/cloudevents+json"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(p.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(p.records))
	}
	rec := p.records[0]
	if rec.Topic != "orgloop.events" {
		t.Errorf("expected topic orgloop.events, got %s", rec.Topic)
	}
	if string(rec.Value) != `{"id":"e1"}` {
		t.Errorf("unexpected value: %s", rec.Value)
	}
	if len(rec.Headers) != 1 || rec.Headers[0].Key != "Content-Type" {
		t.Errorf("unexpected headers: %v", rec.Headers)
	}
}

func TestDeliver_ProduceErrorPropagates(t *testing.T) {
	p := &fakeProducer{err: fmt.Errorf("broker unreachable")}
	s := newFakeSink(p)

	if err := s.Deliver(context.Background(), []byte(`{}`), nil); err == nil {
		t.Fatal("expected produce error")
	}
}

func TestClose_ShutsDownProducer(t *testing.T) {
	p := &fakeProducer{}
	s := newFakeSink(p)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !p.closed {
		t.Error("expected producer closed")
	}
}
