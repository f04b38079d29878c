package servicebus

import (
	"context"
	"errors"
	"fmt"
	"time"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
)

// Service is the typed binding of a Descriptor to an interface I.
// It creates export adaptors for implementations of I and facades that stand in for I.
type Service[I any] struct {
	desc    Descriptor
	exports func(impl I) []Handler
	access  func(f *Facade) I
}

// Define validates d and binds it to I.
//
// exports returns the inbound handler table for an implementation; it must bind every
// declared method exactly once. access wraps a Facade into a value implementing I; the
// returned value must embed the given *Facade.
func Define[I any](d Descriptor, exports func(impl I) []Handler, access func(f *Facade) I) (*Service[I], error) {
	desc := d.clone()
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	if exports == nil || access == nil {
		return nil, fmt.Errorf("define %s: exports and access are required: %w", desc.Service, berr.ErrConfiguration)
	}

	return &Service[I]{desc: desc, exports: exports, access: access}, nil
}

// MustDefine is Define that panics on error. Intended for package-level service declarations.
func MustDefine[I any](d Descriptor, exports func(impl I) []Handler, access func(f *Facade) I) *Service[I] {
	s, err := Define(d, exports, access)
	if err != nil {
		panic(err)
	}

	return s
}

// Descriptor returns a copy of the service descriptor.
func (s *Service[I]) Descriptor() Descriptor { return s.desc.clone() }

func (s *Service[I]) ServiceName() string      { return s.desc.Service }
func (s *Service[I]) ServicePath() string      { return s.desc.Path }
func (s *Service[I]) ServiceInterface() string { return s.desc.Interface }
func (s *Service[I]) BusSelector() string      { return s.desc.Bus }

// NewFacade creates an unbound facade. Every call on it fails with ErrNotRegistered
// until Connect or WaitAndConnect succeeds.
func (s *Service[I]) NewFacade() I {
	return s.access(newFacade(&s.desc))
}

// IsRegistered reports whether the service name currently has an owner on its bus.
func (s *Service[I]) IsRegistered(ctx context.Context, b *Bus) (bool, error) {
	return b.IsServiceRegistered(ctx, s.desc.Bus, s.desc.Service)
}

// WaitForRegistration blocks until the service name has an owner or ctx is done.
func (s *Service[I]) WaitForRegistration(ctx context.Context, b *Bus) error {
	return b.WaitForServiceRegistration(ctx, s.desc.Bus, s.desc.Service)
}

// WaitForRegistrationTimeout is WaitForRegistration bounded by d.
func (s *Service[I]) WaitForRegistrationTimeout(b *Bus, d time.Duration) error {
	return b.WaitForServiceRegistrationTimeout(s.desc.Bus, s.desc.Service, d)
}

// Connect binds svc, which must be a facade created by NewFacade, to the remote service.
//
// It fails with ErrWrongInstance for any other value, with ErrDoubleConnect if the
// facade is already bound (nothing is changed), and with ErrNotRegistered if the
// service has no owner (the facade stays unbound).
func (s *Service[I]) Connect(ctx context.Context, b *Bus, svc I) error {
	f, err := s.facadeOf(b, svc)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Bound || f.state == Closed {
		b.logger.Warn("can't reconnect previously connected service", "service", s.desc.Service)
		return fmt.Errorf("connect %s: %w", s.desc.Service, berr.ErrDoubleConnect)
	}

	t, err := b.Transport(s.desc.Bus)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.desc.Service, err)
	}

	registered, err := t.NameHasOwner(ctx, s.desc.Service)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.desc.Service, err)
	}

	if !registered {
		b.logger.Warn("service is not registered", "service", s.desc.Service, "bus", s.desc.Bus)
		return fmt.Errorf("connect %s: %w", s.desc.Service, berr.ErrNotRegistered)
	}

	p, err := newProxy(&s.desc, t, f, b.logger)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.desc.Service, err)
	}

	f.proxy = p
	f.state = Bound

	return nil
}

// WaitAndConnect waits for the service to be registered and then connects svc.
// The two steps are not atomic: if the service disappears in between, Connect
// fails with ErrNotRegistered and the facade stays unbound.
func (s *Service[I]) WaitAndConnect(ctx context.Context, b *Bus, svc I) error {
	f, err := s.facadeOf(b, svc)
	if err != nil {
		return err
	}

	f.setWaiting(true)
	err = b.WaitForServiceRegistration(ctx, s.desc.Bus, s.desc.Service)
	f.setWaiting(false)

	if err != nil {
		return err
	}

	return s.Connect(ctx, b, svc)
}

// CreateAndConnect creates a facade and waits for it to connect.
// On error the unbound facade is returned alongside the error.
func (s *Service[I]) CreateAndConnect(ctx context.Context, b *Bus) (I, error) {
	svc := s.NewFacade()
	return svc, s.WaitAndConnect(ctx, b, svc)
}

func (s *Service[I]) facadeOf(b *Bus, svc I) (*Facade, error) {
	h, ok := any(svc).(facadeHolder)
	if !ok || h.facade() == nil || h.facade().desc != &s.desc {
		b.logger.Warn("wrong instance to connect to", "service", s.desc.Service, "instance", fmt.Sprintf("%T", svc))
		return nil, fmt.Errorf("connect %s with %T: %w", s.desc.Service, svc, berr.ErrWrongInstance)
	}

	return h.facade(), nil
}

// errConfiguration wraps err as a configuration failure for the given step.
func errConfiguration(service, step string, err error) error {
	return fmt.Errorf("export %s: %s: %w", service, step, errors.Join(berr.ErrConfiguration, err))
}
