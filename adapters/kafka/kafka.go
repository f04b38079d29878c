package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Writer is a minimal Kafka-like writer interface.
// Users can adapt franz-go, segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Sink implements transport.SignalSink using an injected Writer.
//
// Records are keyed by PublishOptions.Key (the exporting service by default) so all
// signals of one service land on one partition and keep their order.
type Sink struct {
	Writer Writer
	// Topic, when set, receives every record. Otherwise each record goes to its own
	// interface.signal topic.
	Topic string
}

var _ transport.SignalSink = (*Sink)(nil)

// New creates a new Kafka sink with the provided writer.
func New(w Writer) *Sink { return &Sink{Writer: w} }

func (s *Sink) PublishSignal(ctx context.Context, rec transport.SignalRecord, opts transport.PublishOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.Writer == nil {
		return fmt.Errorf("kafka publish: %w", berr.ErrPublishFailed)
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kafka publish serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	topic := s.topicFor(rec, opts)

	if err = s.Writer.Write(ctx, topic, []byte(opts.Key), val, publishHeaders(rec, opts)); err != nil {
		return wrapProduceErr(topic, err)
	}

	return nil
}

func (s *Sink) topicFor(rec transport.SignalRecord, o transport.PublishOptions) string {
	switch {
	case o.TopicOverride != "":
		return o.TopicOverride
	case s.Topic != "":
		return s.Topic
	default:
		return rec.Topic()
	}
}

func publishHeaders(rec transport.SignalRecord, o transport.PublishOptions) map[string]string {
	h := make(map[string]string, len(o.Headers)+2)
	maps.Copy(h, o.Headers)

	h["hardbus-signal-id"] = rec.ID
	h["hardbus-service"] = rec.Service

	return h
}

func wrapProduceErr(topic string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("kafka publish to %q: %w", topic, errors.Join(berr.ErrPublishFailed, err))
}
