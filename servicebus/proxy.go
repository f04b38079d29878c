package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Proxy is the import side of one live binding. It issues bus calls for the facade
// it serves and re-emits the remote object's signals onto that facade.
type Proxy struct {
	desc    *Descriptor
	t       transport.Transport
	addr    transport.Address
	logger  *slog.Logger
	signals Emitter

	mu     sync.Mutex
	unsubs []func() error
}

func newProxy(desc *Descriptor, t transport.Transport, f *Facade, logger *slog.Logger) (*Proxy, error) {
	p := &Proxy{desc: desc, t: t, addr: desc.Address(), logger: logger}

	// proxy -> facade
	p.signals.connectAll(f.signals.emit)

	// bus -> proxy
	for _, spec := range desc.Signals {
		s := spec.base()
		name, arity := s.sig.Name, len(s.sig.Params)

		unsub, err := t.Subscribe(p.addr, name, func(args []string) {
			if len(args) != arity {
				p.logger.Warn("dropping signal with wrong argument count",
					"service", desc.Service, "signal", name, "want", arity, "got", len(args))

				return
			}

			p.signals.emit(name, s.decode(args))
		})
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("subscribe %s.%s: %w", desc.Interface, name, err)
		}

		p.unsubs = append(p.unsubs, unsub)
	}

	return p, nil
}

func (p *Proxy) call(ctx context.Context, m *method, args []string) (string, error) {
	if !p.desc.declares(m) {
		return "", fmt.Errorf("call %s.%s: %w", p.desc.Interface, m.sig.Name, berr.ErrUnknownMethod)
	}

	return p.t.Call(ctx, p.addr, m.sig.Name, args, transport.CallOptions{NoReply: m.void})
}

// Close removes the proxy's signal subscriptions.
func (p *Proxy) Close() error {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	var errs []error

	for _, u := range unsubs {
		if err := u(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
