package servicebus

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Well-known bus selectors.
const (
	SessionBus = "session"
	SystemBus  = "system"
)

// Descriptor is the static description of a service: where it lives on the bus and
// which methods and signals it carries. It is shared by every adaptor, proxy and
// facade of the service and must not be changed after Define.
type Descriptor struct {
	Service   string
	Path      string
	Interface string
	// Bus selects the transport by name; empty means SessionBus.
	Bus string

	Methods []MethodSpec
	Signals []SignalSpec
}

// Address returns the bus address of the service object.
func (d *Descriptor) Address() transport.Address {
	return transport.Address{Service: d.Service, Path: d.Path, Interface: d.Interface}
}

// Validate checks the descriptor for structural errors.
func (d *Descriptor) Validate() error {
	var errs []error

	if d.Service == "" {
		errs = append(errs, errors.New("service name is empty"))
	}

	if !strings.HasPrefix(d.Path, "/") {
		errs = append(errs, fmt.Errorf("object path %q must start with /", d.Path))
	}

	if d.Interface == "" {
		errs = append(errs, errors.New("interface name is empty"))
	}

	seen := make(map[string]struct{}, len(d.Methods)+len(d.Signals))

	for _, m := range d.Methods {
		name := m.Signature().Name
		if _, dup := seen[name]; dup || name == "" {
			errs = append(errs, fmt.Errorf("method name %q is empty or duplicated", name))
		}

		seen[name] = struct{}{}
	}

	for _, s := range d.Signals {
		name := s.Signature().Name
		if _, dup := seen[name]; dup || name == "" {
			errs = append(errs, fmt.Errorf("signal name %q is empty or duplicated", name))
		}

		seen[name] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("descriptor %s: %w", d.Service, errors.Join(append([]error{berr.ErrConfiguration}, errs...)...))
	}

	return nil
}

func (d *Descriptor) declares(m *method) bool {
	return slices.ContainsFunc(d.Methods, func(spec MethodSpec) bool { return spec.base() == m })
}

func (d *Descriptor) clone() Descriptor {
	c := *d
	c.Methods = slices.Clone(d.Methods)
	c.Signals = slices.Clone(d.Signals)

	if c.Bus == "" {
		c.Bus = SessionBus
	}

	return c
}
