package servicebus

import (
	"reflect"
	"slices"

	"github.com/next-trace/scg-hardbus/codec"
)

type signal struct {
	sig    Signature
	encode func(args []any) []string
	decode func(args []string) []any
}

func (s *signal) Signature() Signature {
	sig := s.sig
	sig.Params = slices.Clone(s.sig.Params)

	return sig
}

func (s *signal) base() *signal { return s }

func newSignal(name string, params ...reflect.Type) signal {
	return signal{sig: Signature{Name: name, Params: params}}
}

// Signal0 is a signal without arguments.
type Signal0 struct{ signal }

func NewSignal0(name string) *Signal0 {
	s := &Signal0{signal: newSignal(name)}
	s.encode = func([]any) []string { return nil }
	s.decode = func([]string) []any { return nil }

	return s
}

func (s *Signal0) Emit(e *Emitter) { e.emit(s.sig.Name, nil) }

func (s *Signal0) Connect(e *Emitter, fn func()) (disconnect func()) {
	return e.connect(s.sig.Name, func(string, []any) { fn() })
}

// Signal1 is a signal with one argument.
type Signal1[A any] struct {
	signal
	a codec.Codec[A]
}

// NewSignal1 declares a signal. It panics if A has no registered codec.
func NewSignal1[A any](name string) *Signal1[A] {
	s := &Signal1[A]{signal: newSignal(name, typeFor[A]()), a: mustCodec[A]()}
	s.encode = func(args []any) []string { return []string{s.a.Encode(as[A](args[0]))} }
	s.decode = func(args []string) []any { return []any{s.a.Decode(args[0])} }

	return s
}

func (s *Signal1[A]) Emit(e *Emitter, a A) { e.emit(s.sig.Name, []any{a}) }

func (s *Signal1[A]) Connect(e *Emitter, fn func(a A)) (disconnect func()) {
	return e.connect(s.sig.Name, func(_ string, args []any) { fn(as[A](args[0])) })
}

// Signal2 is a signal with two arguments.
type Signal2[A, B any] struct {
	signal
	a codec.Codec[A]
	b codec.Codec[B]
}

// NewSignal2 declares a signal. It panics if a type has no registered codec.
func NewSignal2[A, B any](name string) *Signal2[A, B] {
	s := &Signal2[A, B]{
		signal: newSignal(name, typeFor[A](), typeFor[B]()),
		a:      mustCodec[A](),
		b:      mustCodec[B](),
	}
	s.encode = func(args []any) []string {
		return []string{s.a.Encode(as[A](args[0])), s.b.Encode(as[B](args[1]))}
	}
	s.decode = func(args []string) []any {
		return []any{s.a.Decode(args[0]), s.b.Decode(args[1])}
	}

	return s
}

func (s *Signal2[A, B]) Emit(e *Emitter, a A, b B) { e.emit(s.sig.Name, []any{a, b}) }

func (s *Signal2[A, B]) Connect(e *Emitter, fn func(a A, b B)) (disconnect func()) {
	return e.connect(s.sig.Name, func(_ string, args []any) { fn(as[A](args[0]), as[B](args[1])) })
}

// Signal3 is a signal with three arguments.
type Signal3[A, B, C any] struct {
	signal
	a codec.Codec[A]
	b codec.Codec[B]
	c codec.Codec[C]
}

// NewSignal3 declares a signal. It panics if a type has no registered codec.
func NewSignal3[A, B, C any](name string) *Signal3[A, B, C] {
	s := &Signal3[A, B, C]{
		signal: newSignal(name, typeFor[A](), typeFor[B](), typeFor[C]()),
		a:      mustCodec[A](),
		b:      mustCodec[B](),
		c:      mustCodec[C](),
	}
	s.encode = func(args []any) []string {
		return []string{s.a.Encode(as[A](args[0])), s.b.Encode(as[B](args[1])), s.c.Encode(as[C](args[2]))}
	}
	s.decode = func(args []string) []any {
		return []any{s.a.Decode(args[0]), s.b.Decode(args[1]), s.c.Decode(args[2])}
	}

	return s
}

func (s *Signal3[A, B, C]) Emit(e *Emitter, a A, b B, c C) { e.emit(s.sig.Name, []any{a, b, c}) }

func (s *Signal3[A, B, C]) Connect(e *Emitter, fn func(a A, b B, c C)) (disconnect func()) {
	return e.connect(s.sig.Name, func(_ string, args []any) {
		fn(as[A](args[0]), as[B](args[1]), as[C](args[2]))
	})
}
