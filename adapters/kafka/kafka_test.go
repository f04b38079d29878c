package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/next-trace/scg-hardbus/adapters/kafka"
	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Unified Kafka sink tests (single file).

type write struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeWriter struct {
	calls []write
	err   error
}

func (f *fakeWriter) Write(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.calls = append(f.calls, write{topic, key, value, headers})

	return f.err
}

func record(id, signal string) transport.SignalRecord {
	return transport.SignalRecord{
		ID:        id,
		Service:   "org.example.Calc",
		Path:      "/calc",
		Interface: "org.example.Calc",
		Signal:    signal,
		Args:      []string{"1"},
	}
}

func TestKafka_PublishSignal_DefaultTopic(t *testing.T) {
	fw := &fakeWriter{}
	sink := kafka.New(fw)

	opts := transport.PublishOptions{Key: "org.example.Calc", Headers: map[string]string{"h": "1"}}
	if err := sink.PublishSignal(t.Context(), record("a", "Changed"), opts); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fw.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fw.calls))
	}

	c := fw.calls[0]
	if c.topic != "org.example.Calc.Changed" || string(c.key) != "org.example.Calc" {
		t.Fatalf("topic=%s key=%s", c.topic, c.key)
	}

	if c.headers["h"] != "1" || c.headers["hardbus-signal-id"] != "a" || c.headers["hardbus-service"] != "org.example.Calc" {
		t.Fatalf("headers: %+v", c.headers)
	}

	if len(opts.Headers) != 1 {
		t.Fatalf("caller headers mutated: %+v", opts.Headers)
	}

	var got transport.SignalRecord
	if err := json.Unmarshal(c.value, &got); err != nil || got.ID != "a" || got.Signal != "Changed" {
		t.Fatalf("value: %+v %v", got, err)
	}
}

func TestKafka_TopicPrecedence(t *testing.T) {
	fw := &fakeWriter{}
	sink := kafka.New(fw)
	sink.Topic = "hardbus.signals"

	_ = sink.PublishSignal(t.Context(), record("a", "Changed"), transport.PublishOptions{})
	_ = sink.PublishSignal(t.Context(), record("b", "Changed"), transport.PublishOptions{TopicOverride: "special"})

	if fw.calls[0].topic != "hardbus.signals" || fw.calls[1].topic != "special" {
		t.Fatalf("topics: %s %s", fw.calls[0].topic, fw.calls[1].topic)
	}
}

func TestKafka_OrderPreserved(t *testing.T) {
	fw := &fakeWriter{}
	sink := kafka.New(fw)

	for _, id := range []string{"1", "2", "3"} {
		if err := sink.PublishSignal(t.Context(), record(id, "Changed"), transport.PublishOptions{}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i, id := range []string{"1", "2", "3"} {
		if fw.calls[i].headers["hardbus-signal-id"] != id {
			t.Fatalf("record %d out of order: %+v", i, fw.calls[i].headers)
		}
	}
}

func TestKafka_NilWriterError(t *testing.T) {
	err := kafka.New(nil).PublishSignal(t.Context(), record("a", "S"), transport.PublishOptions{})
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestKafka_WriteErrors(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}

	err := kafka.New(fw).PublishSignal(t.Context(), record("a", "S"), transport.PublishOptions{})
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	fw2 := &fakeWriter{err: context.DeadlineExceeded}

	err = kafka.New(fw2).PublishSignal(t.Context(), record("a", "S"), transport.PublishOptions{})
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want bare DeadlineExceeded, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	fw3 := &fakeWriter{}
	if err := kafka.New(fw3).PublishSignal(ctx, record("a", "S"), transport.PublishOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	if len(fw3.calls) != 0 {
		t.Fatalf("writer called with cancelled context")
	}
}

func TestNewWithKgo_Validation(t *testing.T) {
	if _, _, err := kafka.NewWithKgo(kafka.Config{}); !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration for missing brokers, got %v", err)
	}

	cfg := kafka.Config{Brokers: []string{"localhost:9092"}, SASL: &kafka.SASLConfig{Mechanism: "GSSAPI"}}
	if _, _, err := kafka.NewWithKgo(cfg); !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration for unsupported SASL, got %v", err)
	}
}
