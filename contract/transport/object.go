package transport

import "context"

// Address identifies an object on the bus.
type Address struct {
	Service   string
	Path      string
	Interface string
}

// MethodFunc handles one inbound call with string arguments and returns the string reply.
type MethodFunc func(ctx context.Context, args []string) (string, error)

// Method is a single bus-callable entry point.
// Arity is the number of string arguments the method accepts.
type Method struct {
	Name  string
	Arity int
	Call  MethodFunc
}

// Object is the set of methods registered at one path under one interface.
type Object struct {
	Interface string
	Methods   []Method
}

// Lookup returns the method with the given name.
func (o Object) Lookup(name string) (Method, bool) {
	for _, m := range o.Methods {
		if m.Name == name {
			return m, true
		}
	}

	return Method{}, false
}

// SignalFunc receives the string arguments of a delivered signal.
type SignalFunc func(args []string)

// CallOptions controls a single call.
// NoReply dispatches the call without waiting for a reply.
type CallOptions struct {
	NoReply bool
}
