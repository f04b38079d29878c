package transport

import (
	"context"
	"time"
)

// SignalRecord is an exported signal as mirrored to an external broker.
type SignalRecord struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Path      string    `json:"path"`
	Interface string    `json:"interface"`
	Signal    string    `json:"signal"`
	Args      []string  `json:"args"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Topic is the default routing key for a record: interface and signal name.
func (r SignalRecord) Topic() string { return r.Interface + "." + r.Signal }

// PublishOptions controls signal mirroring.
type PublishOptions struct {
	TopicOverride string
	Key           string
	Headers       map[string]string
}

// SignalSink mirrors exported signals to a broker (Kafka, RabbitMQ, etc.).
// Sinks observe signals; they never take part in call dispatch.
type SignalSink interface {
	PublishSignal(ctx context.Context, rec SignalRecord, opts PublishOptions) error
}
