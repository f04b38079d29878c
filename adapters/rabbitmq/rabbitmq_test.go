package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/next-trace/scg-hardbus/adapters/rabbitmq"
	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

type fakePublisher struct {
	calls []rabbitmq.PubMsg
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, m rabbitmq.PubMsg) error {
	_ = ctx
	f.calls = append(f.calls, m)

	return f.err
}

type stampProp struct{}

func (stampProp) Inject(_ context.Context, h map[string]string) { h["traceparent"] = "00-aa-01" }

func (stampProp) Extract(ctx context.Context, _ map[string]string) context.Context { return ctx }

func record() transport.SignalRecord {
	return transport.SignalRecord{
		ID:        "rec-1",
		Service:   "org.example.Calc",
		Path:      "/calc",
		Interface: "org.example.Calc",
		Signal:    "Changed",
		Args:      []string{"42"},
		EmittedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRabbitMQ_PublishSignal(t *testing.T) {
	fp := &fakePublisher{}
	sink := rabbitmq.NewWithPropagator(fp, stampProp{})

	callerHeaders := map[string]string{"h": "x"}
	if err := sink.PublishSignal(t.Context(), record(), transport.PublishOptions{Key: "org.example.Calc", Headers: callerHeaders}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fp.calls) != 1 {
		t.Fatalf("want 1, got %d", len(fp.calls))
	}

	c := fp.calls[0]
	if c.Exchange != rabbitmq.DefaultExchange || c.RoutingKey != "org.example.Calc.Changed" || c.MessageID != "rec-1" {
		t.Fatalf("routing: %q %q %q", c.Exchange, c.RoutingKey, c.MessageID)
	}

	if c.Headers["h"] != "x" || c.Headers["key"] != "org.example.Calc" || c.Headers["traceparent"] != "00-aa-01" {
		t.Fatalf("headers: %+v", c.Headers)
	}

	if c.Headers["hardbus-path"] != "/calc" {
		t.Fatalf("path header: %+v", c.Headers)
	}

	if len(callerHeaders) != 1 {
		t.Fatalf("caller headers mutated: %+v", callerHeaders)
	}

	var got transport.SignalRecord
	if err := json.Unmarshal(c.Body, &got); err != nil {
		t.Fatalf("body: %v", err)
	}

	if got.Signal != "Changed" || len(got.Args) != 1 || got.Args[0] != "42" {
		t.Fatalf("body mismatch: %+v", got)
	}
}

func TestRabbitMQ_TopicOverride(t *testing.T) {
	fp := &fakePublisher{}
	sink := rabbitmq.New(fp)
	sink.Exchange = "audit"

	if err := sink.PublishSignal(t.Context(), record(), transport.PublishOptions{TopicOverride: "calc.events"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if fp.calls[0].RoutingKey != "calc.events" || fp.calls[0].Exchange != "audit" {
		t.Fatalf("routing=%q exchange=%q", fp.calls[0].RoutingKey, fp.calls[0].Exchange)
	}
}

func TestRabbitMQ_NilPublisherError(t *testing.T) {
	sink := rabbitmq.New(nil)

	err := sink.PublishSignal(t.Context(), record(), transport.PublishOptions{})
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestRabbitMQ_Publish_ErrorWrapping_And_ContextCancel(t *testing.T) {
	fp := &fakePublisher{err: errors.New("boom")}

	err := rabbitmq.New(fp).PublishSignal(t.Context(), record(), transport.PublishOptions{})
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	fp2 := &fakePublisher{err: context.Canceled}

	err = rabbitmq.New(fp2).PublishSignal(t.Context(), record(), transport.PublishOptions{})
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want bare context.Canceled, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	fp3 := &fakePublisher{}
	if err := rabbitmq.New(fp3).PublishSignal(ctx, record(), transport.PublishOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}

	if len(fp3.calls) != 0 {
		t.Fatalf("publisher called with cancelled context")
	}
}
