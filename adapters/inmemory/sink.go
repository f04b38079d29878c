package inmemory

import (
	"context"
	"sync"

	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Sink is a thread-safe in-memory transport.SignalSink.
// It records mirrored signals for testing and examples.
type Sink struct {
	mu      sync.Mutex
	Records []transport.SignalRecord
	Options []transport.PublishOptions
}

var _ transport.SignalSink = (*Sink)(nil)

// NewSink creates an empty recording sink.
func NewSink() *Sink { return &Sink{} }

func (s *Sink) PublishSignal(ctx context.Context, rec transport.SignalRecord, opts transport.PublishOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.Records = append(s.Records, rec)
	s.Options = append(s.Options, opts)
	s.mu.Unlock()

	return nil
}

// Snapshot returns a copy of the recorded signals.
func (s *Sink) Snapshot() []transport.SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]transport.SignalRecord(nil), s.Records...)
}
