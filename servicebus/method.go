package servicebus

import (
	"context"

	"github.com/next-trace/scg-hardbus/codec"
)

// Method0 is a method without parameters returning R.
type Method0[R any] struct {
	method
	r codec.Codec[R]
}

// NewMethod0 declares a method. It panics if R has no registered codec.
func NewMethod0[R any](name string) *Method0[R] {
	return &Method0[R]{method: newMethod(name, typeFor[R]()), r: mustCodec[R]()}
}

func (m *Method0[R]) Call(ctx context.Context, f *Facade) (R, error) {
	reply, err := f.invoke(ctx, &m.method)
	if err != nil {
		var zero R
		return zero, err
	}

	return m.r.Decode(reply), nil
}

func (m *Method0[R]) Handle(fn func(ctx context.Context) (R, error)) Handler {
	return newHandler(&m.method, func(ctx context.Context, _ []string) (string, error) {
		r, err := fn(ctx)
		if err != nil {
			return "", err
		}

		return m.r.Encode(r), nil
	})
}

// Method1 is a method with one parameter returning R.
type Method1[A, R any] struct {
	method
	a codec.Codec[A]
	r codec.Codec[R]
}

// NewMethod1 declares a method. It panics if a type has no registered codec.
func NewMethod1[A, R any](name string) *Method1[A, R] {
	return &Method1[A, R]{
		method: newMethod(name, typeFor[R](), typeFor[A]()),
		a:      mustCodec[A](),
		r:      mustCodec[R](),
	}
}

func (m *Method1[A, R]) Call(ctx context.Context, f *Facade, a A) (R, error) {
	reply, err := f.invoke(ctx, &m.method, m.a.Encode(a))
	if err != nil {
		var zero R
		return zero, err
	}

	return m.r.Decode(reply), nil
}

func (m *Method1[A, R]) Handle(fn func(ctx context.Context, a A) (R, error)) Handler {
	return newHandler(&m.method, func(ctx context.Context, args []string) (string, error) {
		r, err := fn(ctx, m.a.Decode(args[0]))
		if err != nil {
			return "", err
		}

		return m.r.Encode(r), nil
	})
}

// Method2 is a method with two parameters returning R.
type Method2[A, B, R any] struct {
	method
	a codec.Codec[A]
	b codec.Codec[B]
	r codec.Codec[R]
}

// NewMethod2 declares a method. It panics if a type has no registered codec.
func NewMethod2[A, B, R any](name string) *Method2[A, B, R] {
	return &Method2[A, B, R]{
		method: newMethod(name, typeFor[R](), typeFor[A](), typeFor[B]()),
		a:      mustCodec[A](),
		b:      mustCodec[B](),
		r:      mustCodec[R](),
	}
}

func (m *Method2[A, B, R]) Call(ctx context.Context, f *Facade, a A, b B) (R, error) {
	reply, err := f.invoke(ctx, &m.method, m.a.Encode(a), m.b.Encode(b))
	if err != nil {
		var zero R
		return zero, err
	}

	return m.r.Decode(reply), nil
}

func (m *Method2[A, B, R]) Handle(fn func(ctx context.Context, a A, b B) (R, error)) Handler {
	return newHandler(&m.method, func(ctx context.Context, args []string) (string, error) {
		r, err := fn(ctx, m.a.Decode(args[0]), m.b.Decode(args[1]))
		if err != nil {
			return "", err
		}

		return m.r.Encode(r), nil
	})
}

// Method3 is a method with three parameters returning R.
type Method3[A, B, C, R any] struct {
	method
	a codec.Codec[A]
	b codec.Codec[B]
	c codec.Codec[C]
	r codec.Codec[R]
}

// NewMethod3 declares a method. It panics if a type has no registered codec.
func NewMethod3[A, B, C, R any](name string) *Method3[A, B, C, R] {
	return &Method3[A, B, C, R]{
		method: newMethod(name, typeFor[R](), typeFor[A](), typeFor[B](), typeFor[C]()),
		a:      mustCodec[A](),
		b:      mustCodec[B](),
		c:      mustCodec[C](),
		r:      mustCodec[R](),
	}
}

func (m *Method3[A, B, C, R]) Call(ctx context.Context, f *Facade, a A, b B, c C) (R, error) {
	reply, err := f.invoke(ctx, &m.method, m.a.Encode(a), m.b.Encode(b), m.c.Encode(c))
	if err != nil {
		var zero R
		return zero, err
	}

	return m.r.Decode(reply), nil
}

func (m *Method3[A, B, C, R]) Handle(fn func(ctx context.Context, a A, b B, c C) (R, error)) Handler {
	return newHandler(&m.method, func(ctx context.Context, args []string) (string, error) {
		r, err := fn(ctx, m.a.Decode(args[0]), m.b.Decode(args[1]), m.c.Decode(args[2]))
		if err != nil {
			return "", err
		}

		return m.r.Encode(r), nil
	})
}
