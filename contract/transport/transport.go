package transport

import "context"

// Transport is the message bus client hardbus rides on. It is deliberately string-typed:
// every value crossing the bus has already been converted by a codec.
//
// Implementations must be safe for concurrent use. Signal callbacks for every
// subscription to one service are invoked one at a time, in the order the service
// emitted them, even when they belong to different signals.
type Transport interface {
	// RegisterObject makes obj callable at path. A second registration of the same
	// path and interface must fail.
	RegisterObject(path string, obj Object) error
	UnregisterObject(path, iface string) error

	// RequestName claims ownership of a well-known service name on the bus.
	RequestName(name string) error
	ReleaseName(name string) error

	// NameHasOwner reports whether name is currently owned by any connection.
	NameHasOwner(ctx context.Context, name string) (bool, error)

	// WatchName returns a channel that is closed once name gains an owner after the
	// watch was installed. stop releases the watch and must be safe to call twice.
	WatchName(name string) (appeared <-chan struct{}, stop func(), err error)

	// Call invokes method on the object at to and returns its string reply.
	Call(ctx context.Context, to Address, method string, args []string, opts CallOptions) (string, error)

	// Emit publishes a signal from the object at from.
	Emit(ctx context.Context, from Address, signal string, args []string) error

	// Subscribe delivers signals emitted by the object at from.
	Subscribe(from Address, signal string, fn SignalFunc) (unsubscribe func() error, err error)

	Close() error
}
