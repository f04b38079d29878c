package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// ExportAdaptor publishes one implementation on the bus. It owns the registration for
// as long as it lives; Close releases the name, unregisters the object and stops the
// signal relays.
type ExportAdaptor struct {
	id     string
	desc   *Descriptor
	t      transport.Transport
	ctx    context.Context //nolint:containedctx // relays run outside any caller's context
	sinks  []transport.SignalSink
	logger *slog.Logger

	mu      sync.Mutex
	relays  []func()
	closed  bool
	emitted uint64
}

// Export publishes impl under the service's path and name.
//
// Signal relays are installed before the object is registered so no early signal is
// lost. Any failure undoes the previous steps and returns an error wrapping
// ErrConfiguration; the export is not retried.
func (s *Service[I]) Export(ctx context.Context, b *Bus, impl I) (*ExportAdaptor, error) {
	desc := &s.desc

	t, err := b.Transport(desc.Bus)
	if err != nil {
		return nil, errConfiguration(desc.Service, "resolve bus", err)
	}

	obj, err := s.object(impl)
	if err != nil {
		return nil, errConfiguration(desc.Service, "build handler table", err)
	}

	a := &ExportAdaptor{
		id:     uuid.NewString(),
		desc:   desc,
		t:      t,
		ctx:    context.WithoutCancel(ctx),
		sinks:  b.signalSinks(),
		logger: b.logger,
	}

	if len(desc.Signals) > 0 {
		emitter, ok := any(impl).(Object)
		if !ok {
			return nil, errConfiguration(desc.Service, "relay signals",
				fmt.Errorf("%T declares signals but does not implement Object", impl))
		}

		for _, spec := range desc.Signals {
			sig := spec.base()
			a.relays = append(a.relays, emitter.Signals().connect(sig.sig.Name, func(_ string, args []any) {
				a.relay(sig, args)
			}))
		}
	}

	if err := t.RegisterObject(desc.Path, obj); err != nil {
		a.logger.Warn("cannot register object at path", "path", desc.Path, "error", err)
		a.disconnect()

		return nil, errConfiguration(desc.Service, "register object "+desc.Path, err)
	}

	if err := t.RequestName(desc.Service); err != nil {
		a.logger.Warn("cannot register service", "service", desc.Service, "error", err)
		_ = t.UnregisterObject(desc.Path, desc.Interface)
		a.disconnect()

		return nil, errConfiguration(desc.Service, "request name", err)
	}

	a.logger.Debug("service exported", "service", desc.Service, "path", desc.Path, "adaptor", a.id)

	return a, nil
}

// object builds the bus object for impl and checks it against the descriptor.
func (s *Service[I]) object(impl I) (transport.Object, error) {
	handlers := s.exports(impl)
	bound := make(map[string]Handler, len(handlers))

	for _, h := range handlers {
		if h.m == nil || !s.desc.declares(h.m) {
			return transport.Object{}, fmt.Errorf("handler %q: %w", h.Name(), berr.ErrUnknownMethod)
		}

		if _, dup := bound[h.Name()]; dup {
			return transport.Object{}, fmt.Errorf("handler %q bound twice", h.Name())
		}

		bound[h.Name()] = h
	}

	obj := transport.Object{Interface: s.desc.Interface, Methods: make([]transport.Method, 0, len(s.desc.Methods))}

	for _, spec := range s.desc.Methods {
		m := spec.base()

		h, ok := bound[m.sig.Name]
		if !ok {
			return transport.Object{}, fmt.Errorf("method %q has no handler", m.sig.Name)
		}

		obj.Methods = append(obj.Methods, transport.Method{Name: m.sig.Name, Arity: len(m.sig.Params), Call: h.call})
	}

	return obj, nil
}

func (a *ExportAdaptor) relay(sig *signal, args []any) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.emitted++
	a.mu.Unlock()

	payload := sig.encode(args)
	addr := a.desc.Address()

	if err := a.t.Emit(a.ctx, addr, sig.sig.Name, payload); err != nil {
		a.logger.Warn("signal relay failed", "service", a.desc.Service, "signal", sig.sig.Name, "error", err)
	}

	if len(a.sinks) == 0 {
		return
	}

	rec := transport.SignalRecord{
		ID:        uuid.NewString(),
		Service:   addr.Service,
		Path:      addr.Path,
		Interface: addr.Interface,
		Signal:    sig.sig.Name,
		Args:      payload,
		EmittedAt: time.Now().UTC(),
	}

	for _, sink := range a.sinks {
		if err := sink.PublishSignal(a.ctx, rec, transport.PublishOptions{Key: addr.Service}); err != nil {
			a.logger.Warn("signal sink publish failed", "service", a.desc.Service, "signal", sig.sig.Name, "error", err)
		}
	}
}

// ID returns the adaptor's instance identifier.
func (a *ExportAdaptor) ID() string { return a.id }

// Emitted returns how many signals the adaptor has relayed.
func (a *ExportAdaptor) Emitted() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.emitted
}

func (a *ExportAdaptor) disconnect() {
	a.mu.Lock()
	relays := a.relays
	a.relays = nil
	a.closed = true
	a.mu.Unlock()

	for _, d := range relays {
		d()
	}
}

// Close stops the relays, releases the service name and unregisters the object.
// Calling Close twice is a no-op.
func (a *ExportAdaptor) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	a.disconnect()

	return errors.Join(
		a.t.ReleaseName(a.desc.Service),
		a.t.UnregisterObject(a.desc.Path, a.desc.Interface),
	)
}
