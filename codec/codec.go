package codec

import (
	"fmt"
	"reflect"
	"sync"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
)

// Codec converts values of type T to and from their bus representation.
// Implementations must satisfy Decode(Encode(v)) == v and be safe for concurrent use.
type Codec[T any] interface {
	Encode(v T) string
	Decode(s string) T
}

// None is the "no value" type. It encodes to an empty payload and decodes without reading input.
type None struct{}

// Funcs adapts a pair of functions to a Codec.
type Funcs[T any] struct {
	EncodeFunc func(T) string
	DecodeFunc func(string) T
}

func (f Funcs[T]) Encode(v T) string { return f.EncodeFunc(v) }
func (f Funcs[T]) Decode(s string) T { return f.DecodeFunc(s) }

// Registry maps value types to their codecs.
// Registry is concurrency-safe.
type Registry struct {
	mu     sync.RWMutex
	codecs map[reflect.Type]any
}

// NewRegistry returns a registry preloaded with the built-in codecs.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[reflect.Type]any)}
	registerBuiltins(r)

	return r
}

// Default is the process-wide registry used by method and signal descriptors.
var Default = NewRegistry()

// Register adds c as the codec for T. Duplicate registrations are rejected.
func Register[T any](r *Registry, c Codec[T]) error {
	t := typeOf[T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.codecs[t]; exists {
		return fmt.Errorf("register codec %s: %w", t.String(), berr.ErrCodecExists)
	}

	r.codecs[t] = c

	return nil
}

// MustRegister is Register that panics on error. Intended for package init.
func MustRegister[T any](r *Registry, c Codec[T]) {
	if err := Register(r, c); err != nil {
		panic(err)
	}
}

// Lookup returns the codec registered for T.
func Lookup[T any](r *Registry) (Codec[T], error) { //nolint:ireturn
	t := typeOf[T]()

	r.mu.RLock()
	c, ok := r.codecs[t]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("lookup codec %s: %w", t.String(), berr.ErrCodecNotFound)
	}

	typed, ok := c.(Codec[T])
	if !ok {
		return nil, fmt.Errorf("lookup codec %s: %w", t.String(), berr.ErrCodecNotFound)
	}

	return typed, nil
}

// Has reports whether a codec is registered for t.
func (r *Registry) Has(t reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.codecs[t]

	return ok
}

// Encode converts v with the codec registered for T.
func Encode[T any](r *Registry, v T) (string, error) {
	c, err := Lookup[T](r)
	if err != nil {
		return "", err
	}

	return c.Encode(v), nil
}

// Decode converts s with the codec registered for T.
func Decode[T any](r *Registry, s string) (T, error) {
	c, err := Lookup[T](r)
	if err != nil {
		var zero T
		return zero, err
	}

	return c.Decode(s), nil
}

func typeOf[T any]() reflect.Type { return reflect.TypeFor[T]() }
