package servicebus

import (
	"context"

	"github.com/next-trace/scg-hardbus/codec"
)

// Procedures are methods without a return value. Their calls are dispatched without
// waiting for a reply, and the inbound side answers with an empty payload.

// Proc0 is a procedure without parameters.
type Proc0 struct{ method }

func NewProc0(name string) *Proc0 {
	return &Proc0{method: newMethod(name, typeFor[codec.None]())}
}

func (p *Proc0) Call(ctx context.Context, f *Facade) error {
	_, err := f.invoke(ctx, &p.method)
	return err
}

func (p *Proc0) Handle(fn func(ctx context.Context) error) Handler {
	return newHandler(&p.method, func(ctx context.Context, _ []string) (string, error) {
		return "", fn(ctx)
	})
}

// Proc1 is a procedure with one parameter.
type Proc1[A any] struct {
	method
	a codec.Codec[A]
}

func NewProc1[A any](name string) *Proc1[A] {
	return &Proc1[A]{method: newMethod(name, typeFor[codec.None](), typeFor[A]()), a: mustCodec[A]()}
}

func (p *Proc1[A]) Call(ctx context.Context, f *Facade, a A) error {
	_, err := f.invoke(ctx, &p.method, p.a.Encode(a))
	return err
}

func (p *Proc1[A]) Handle(fn func(ctx context.Context, a A) error) Handler {
	return newHandler(&p.method, func(ctx context.Context, args []string) (string, error) {
		return "", fn(ctx, p.a.Decode(args[0]))
	})
}

// Proc2 is a procedure with two parameters.
type Proc2[A, B any] struct {
	method
	a codec.Codec[A]
	b codec.Codec[B]
}

func NewProc2[A, B any](name string) *Proc2[A, B] {
	return &Proc2[A, B]{
		method: newMethod(name, typeFor[codec.None](), typeFor[A](), typeFor[B]()),
		a:      mustCodec[A](),
		b:      mustCodec[B](),
	}
}

func (p *Proc2[A, B]) Call(ctx context.Context, f *Facade, a A, b B) error {
	_, err := f.invoke(ctx, &p.method, p.a.Encode(a), p.b.Encode(b))
	return err
}

func (p *Proc2[A, B]) Handle(fn func(ctx context.Context, a A, b B) error) Handler {
	return newHandler(&p.method, func(ctx context.Context, args []string) (string, error) {
		return "", fn(ctx, p.a.Decode(args[0]), p.b.Decode(args[1]))
	})
}

// Proc3 is a procedure with three parameters.
type Proc3[A, B, C any] struct {
	method
	a codec.Codec[A]
	b codec.Codec[B]
	c codec.Codec[C]
}

func NewProc3[A, B, C any](name string) *Proc3[A, B, C] {
	return &Proc3[A, B, C]{
		method: newMethod(name, typeFor[codec.None](), typeFor[A](), typeFor[B](), typeFor[C]()),
		a:      mustCodec[A](),
		b:      mustCodec[B](),
		c:      mustCodec[C](),
	}
}

func (p *Proc3[A, B, C]) Call(ctx context.Context, f *Facade, a A, b B, c C) error {
	_, err := f.invoke(ctx, &p.method, p.a.Encode(a), p.b.Encode(b), p.c.Encode(c))
	return err
}

func (p *Proc3[A, B, C]) Handle(fn func(ctx context.Context, a A, b B, c C) error) Handler {
	return newHandler(&p.method, func(ctx context.Context, args []string) (string, error) {
		return "", fn(ctx, p.a.Decode(args[0]), p.b.Decode(args[1]), p.c.Decode(args[2]))
	})
}
