package servicebus

import (
	"context"
	"fmt"
	"sync"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
)

// State is the connection state of a Facade.
type State int

const (
	Unbound State = iota
	WaitingForService
	Bound
	Closed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case WaitingForService:
		return "waiting_for_service"
	case Bound:
		return "bound"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Facade is the client-side stand-in for a remote service. Typed facades embed
// *Facade and implement the service interface by calling method descriptors on it.
//
// A Facade is bound at most once; it never rebinds.
type Facade struct {
	desc *Descriptor

	mu      sync.Mutex
	state   State
	proxy   *Proxy
	signals Emitter
}

type facadeHolder interface {
	facade() *Facade
}

func newFacade(desc *Descriptor) *Facade { return &Facade{desc: desc} }

func (f *Facade) facade() *Facade { return f }

// Signals returns the emitter on which remote signals are re-emitted once bound.
func (f *Facade) Signals() *Emitter { return &f.signals }

// State returns the current connection state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

// Close tears down the bound proxy's subscriptions. Later calls fail with ErrClosed
// and the facade can not be connected again.
func (f *Facade) Close() error {
	f.mu.Lock()
	p := f.proxy
	f.proxy = nil
	f.state = Closed
	f.mu.Unlock()

	if p == nil {
		return nil
	}

	return p.Close()
}

func (f *Facade) setWaiting(waiting bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case waiting && f.state == Unbound:
		f.state = WaitingForService
	case !waiting && f.state == WaitingForService:
		f.state = Unbound
	}
}

func (f *Facade) invoke(ctx context.Context, m *method, args ...string) (string, error) {
	f.mu.Lock()
	p, state := f.proxy, f.state
	f.mu.Unlock()

	switch {
	case state == Closed:
		return "", fmt.Errorf("call %s.%s: %w", f.desc.Interface, m.sig.Name, berr.ErrClosed)
	case p == nil:
		return "", fmt.Errorf("call %s.%s: service not registered: %w", f.desc.Interface, m.sig.Name, berr.ErrNotRegistered)
	}

	return p.call(ctx, m, args)
}
