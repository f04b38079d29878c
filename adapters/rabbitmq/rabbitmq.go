package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// DefaultExchange is the topic exchange signals are published to unless configured otherwise.
const DefaultExchange = "hardbus.signals"

type PubMsg struct {
	Exchange   string
	RoutingKey string
	MessageID  string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Sink implements transport.SignalSink on an AMQP publisher.
type Sink struct {
	Publisher  Publisher
	Exchange   string
	Propagator transport.HeaderPropagator // optional, for context propagation into headers
}

var _ transport.SignalSink = (*Sink)(nil)

func New(p Publisher) *Sink { return &Sink{Publisher: p, Exchange: DefaultExchange} }

// NewWithPropagator allows configuring a HeaderPropagator for context propagation.
func NewWithPropagator(p Publisher, hp transport.HeaderPropagator) *Sink {
	return &Sink{Publisher: p, Exchange: DefaultExchange, Propagator: hp}
}

// PublishSignal publishes rec as JSON. The routing key is the record's topic
// (interface.signal) unless opts.TopicOverride is set.
func (s *Sink) PublishSignal(ctx context.Context, rec transport.SignalRecord, opts transport.PublishOptions) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rabbitmq publish serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	msg := PubMsg{
		Exchange:   s.Exchange,
		RoutingKey: routingKey(rec, opts),
		MessageID:  rec.ID,
		Body:       body,
		Headers:    publishHeaders(rec, opts),
	}

	// Inject tracing context via configured propagator (keeps adapter decoupled)
	if s.Propagator != nil {
		s.Propagator.Inject(ctx, msg.Headers)
	}

	if err := s.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish: %w", errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (s *Sink) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.Publisher == nil {
		return fmt.Errorf("rabbitmq publish: %w", berr.ErrPublishFailed)
	}

	return nil
}

func routingKey(rec transport.SignalRecord, o transport.PublishOptions) string {
	if o.TopicOverride != "" {
		return o.TopicOverride
	}

	return rec.Topic()
}

// publishHeaders copies the caller's headers so the caller's map is never mutated.
func publishHeaders(rec transport.SignalRecord, o transport.PublishOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+4)
	maps.Copy(h, o.Headers)

	if o.Key != "" {
		h["key"] = o.Key
	}

	h["hardbus-service"] = rec.Service
	h["hardbus-path"] = rec.Path

	return h
}

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}

	t := amqp.Table{}
	for k, v := range headers {
		t[k] = v
	}

	return t
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			Headers:     toTable(m.Headers),
			MessageId:   m.MessageID,
			Body:        m.Body,
			ContentType: "application/json",
		},
	)
}

// NewWithAMQPChannel publishes on an existing channel. The exchange must already exist.
func NewWithAMQPChannel(ch *amqp.Channel, exchange string) *Sink {
	s := New(amqpChannelPublisher{ch: ch})
	if exchange != "" {
		s.Exchange = exchange
	}

	return s
}
