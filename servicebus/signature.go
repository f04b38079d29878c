package servicebus

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/next-trace/scg-hardbus/codec"
	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Signature describes a method or signal as it is declared on the bus.
// Result is nil for signals and codec.None for methods without a return value.
type Signature struct {
	Name   string
	Params []reflect.Type
	Result reflect.Type
}

// MethodSpec is implemented by every typed method descriptor.
type MethodSpec interface {
	Signature() Signature
	base() *method
}

// SignalSpec is implemented by every typed signal descriptor.
type SignalSpec interface {
	Signature() Signature
	base() *signal
}

type method struct {
	sig  Signature
	void bool
}

func newMethod(name string, result reflect.Type, params ...reflect.Type) method {
	return method{
		sig:  Signature{Name: name, Params: params, Result: result},
		void: result == reflect.TypeFor[codec.None](),
	}
}

func (m *method) Signature() Signature {
	s := m.sig
	s.Params = slices.Clone(m.sig.Params)

	return s
}

func (m *method) base() *method { return m }

// Handler is an inbound entry point: a method descriptor bound to an implementation.
// Build handlers with the Handle method of a typed descriptor.
type Handler struct {
	m    *method
	call transport.MethodFunc
}

// Name returns the bus name of the bound method.
func (h Handler) Name() string { return h.m.sig.Name }

func newHandler(m *method, fn transport.MethodFunc) Handler {
	arity := len(m.sig.Params)

	return Handler{m: m, call: func(ctx context.Context, args []string) (string, error) {
		if len(args) != arity {
			return "", fmt.Errorf("call %s: want %d arguments, got %d: %w",
				m.sig.Name, arity, len(args), berr.ErrArgumentCount)
		}

		return fn(ctx, args)
	}}
}

// mustCodec resolves the codec for T from codec.Default. A missing codec is a
// programming error in the service declaration and panics at package init.
func mustCodec[T any]() codec.Codec[T] { //nolint:ireturn
	c, err := codec.Lookup[T](codec.Default)
	if err != nil {
		panic(err)
	}

	return c
}

func typeFor[T any]() reflect.Type { return reflect.TypeFor[T]() }

// as converts a relayed argument back to its declared type. A nil interface value
// yields the zero value instead of panicking.
func as[T any](v any) T {
	t, _ := v.(T)
	return t
}
