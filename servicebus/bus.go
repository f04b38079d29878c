package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Bus is the set of named transports that service descriptors select by name, plus
// the signal sinks exported signals are mirrored to.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu         sync.RWMutex
	transports map[string]transport.Transport
	sinks      []transport.SignalSink
	logger     *slog.Logger
}

// Option configures a Bus instance.
type Option func(*Bus)

// WithTransport attaches t under selector.
func WithTransport(selector string, t transport.Transport) Option {
	return func(b *Bus) { b.transports[selector] = t }
}

// WithSignalSink mirrors every exported signal to the given sinks.
func WithSignalSink(sinks ...transport.SignalSink) Option {
	return func(b *Bus) { b.sinks = append(b.sinks, sinks...) }
}

// New constructs a Bus. A nil logger discards all output.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	b := &Bus{transports: make(map[string]transport.Transport), logger: logger}
	for _, o := range opts {
		o(b)
	}

	return b
}

// Attach adds t under selector. Duplicate selectors are rejected.
func (b *Bus) Attach(selector string, t transport.Transport) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.transports[selector]; exists {
		return fmt.Errorf("attach bus %q: %w", selector, berr.ErrBusExists)
	}

	b.transports[selector] = t

	return nil
}

// Transport returns the transport attached under selector.
func (b *Bus) Transport(selector string) (transport.Transport, error) { //nolint:ireturn
	b.mu.RLock()
	t, ok := b.transports[selector]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("bus %q: %w", selector, berr.ErrBusNotFound)
	}

	return t, nil
}

// Selectors returns the attached selectors in sorted order.
func (b *Bus) Selectors() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return slices.Sorted(maps.Keys(b.transports))
}

func (b *Bus) signalSinks() []transport.SignalSink {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return slices.Clone(b.sinks)
}

// IsServiceRegistered reports whether name currently has an owner on the selected bus.
func (b *Bus) IsServiceRegistered(ctx context.Context, selector, name string) (bool, error) {
	t, err := b.Transport(selector)
	if err != nil {
		return false, err
	}

	return t.NameHasOwner(ctx, name)
}

// WaitForServiceRegistration returns once name has an owner on the selected bus.
// It waits on the transport's appearance notification rather than polling. There is
// no timeout: with a context that is never done it blocks until the name appears.
func (b *Bus) WaitForServiceRegistration(ctx context.Context, selector, name string) error {
	t, err := b.Transport(selector)
	if err != nil {
		return err
	}

	registered, err := t.NameHasOwner(ctx, name)
	if err != nil || registered {
		return err
	}

	appeared, stop, err := t.WatchName(name)
	if err != nil {
		return fmt.Errorf("watch %s: %w", name, err)
	}
	defer stop()

	// the name may have appeared before the watch was installed
	if registered, err = t.NameHasOwner(ctx, name); err != nil || registered {
		return err
	}

	b.logger.Debug("waiting for service registration", "service", name, "bus", selector)

	select {
	case <-appeared:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForServiceRegistrationTimeout is WaitForServiceRegistration bounded by d.
// It fails with ErrWaitTimeout when d elapses first.
func (b *Bus) WaitForServiceRegistrationTimeout(selector, name string, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	err := b.WaitForServiceRegistration(ctx, selector, name)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("wait for %s after %s: %w", name, d, berr.ErrWaitTimeout)
	}

	return err
}

// Close closes every attached transport and aggregates the errors.
func (b *Bus) Close() error {
	b.mu.Lock()
	ts := b.transports
	b.transports = make(map[string]transport.Transport)
	b.mu.Unlock()

	var errs []error

	for _, sel := range slices.Sorted(maps.Keys(ts)) {
		if err := ts[sel].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus %q: %w", sel, err))
		}
	}

	return errors.Join(errs...)
}
