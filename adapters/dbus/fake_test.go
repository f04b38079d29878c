package dbus_test

import (
	"context"
	"reflect"
	"strconv"
	"strings"
	"sync"

	godbus "github.com/godbus/dbus/v5"
)

// fakeBus is an in-process stand-in for a D-Bus daemon shared by fake connections.
type fakeBus struct {
	mu     sync.Mutex
	owners map[string]*fakeConn
	conns  []*fakeConn
	next   int
}

func newFakeBus() *fakeBus { return &fakeBus{owners: map[string]*fakeConn{}} }

func (b *fakeBus) connect() *fakeConn {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	c := &fakeConn{bus: b, unique: ":1." + strconv.Itoa(b.next), exports: map[exportKey]map[string]any{}}
	b.conns = append(b.conns, c)

	return c
}

func (b *fakeBus) broadcast(sig *godbus.Signal) {
	b.mu.Lock()
	conns := append([]*fakeConn(nil), b.conns...)
	b.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		chans := append([]chan<- *godbus.Signal(nil), c.signals...)
		c.mu.Unlock()

		for _, ch := range chans {
			ch <- sig
		}
	}
}

type exportKey struct {
	path  godbus.ObjectPath
	iface string
}

type fakeConn struct {
	bus    *fakeBus
	unique string

	mu      sync.Mutex
	exports map[exportKey]map[string]any
	signals []chan<- *godbus.Signal
	matches int
	closed  bool
}

func (c *fakeConn) ExportMethodTable(methods map[string]any, path godbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if methods == nil {
		delete(c.exports, exportKey{path, iface})
		return nil
	}

	c.exports[exportKey{path, iface}] = methods

	return nil
}

func (c *fakeConn) RequestName(name string, _ godbus.RequestNameFlags) (godbus.RequestNameReply, error) {
	b := c.bus

	b.mu.Lock()
	if owner, ok := b.owners[name]; ok {
		b.mu.Unlock()

		if owner == c {
			return godbus.RequestNameReplyAlreadyOwner, nil
		}

		return godbus.RequestNameReplyExists, nil
	}

	b.owners[name] = c
	b.mu.Unlock()

	b.ownerChanged(name, "", c.unique)

	return godbus.RequestNameReplyPrimaryOwner, nil
}

func (b *fakeBus) ownerChanged(name, from, to string) {
	b.broadcast(&godbus.Signal{
		Sender: "org.freedesktop.DBus",
		Path:   "/org/freedesktop/DBus",
		Name:   "org.freedesktop.DBus.NameOwnerChanged",
		Body:   []any{name, from, to},
	})
}

func (c *fakeConn) ReleaseName(name string) (godbus.ReleaseNameReply, error) {
	b := c.bus

	b.mu.Lock()
	if b.owners[name] != c {
		b.mu.Unlock()
		return godbus.ReleaseNameReplyNotOwner, nil
	}

	delete(b.owners, name)
	b.mu.Unlock()

	b.ownerChanged(name, c.unique, "")

	return godbus.ReleaseNameReplyReleased, nil
}

func (c *fakeConn) BusObject() godbus.BusObject { return &fakeObject{conn: c, daemon: true} }

func (c *fakeConn) Object(dest string, path godbus.ObjectPath) godbus.BusObject {
	return &fakeObject{conn: c, dest: dest, path: path}
}

func (c *fakeConn) Emit(path godbus.ObjectPath, name string, values ...any) error {
	c.bus.broadcast(&godbus.Signal{Sender: c.unique, Path: path, Name: name, Body: values})
	return nil
}

func (c *fakeConn) AddMatchSignal(...godbus.MatchOption) error {
	c.mu.Lock()
	c.matches++
	c.mu.Unlock()

	return nil
}

func (c *fakeConn) RemoveMatchSignal(...godbus.MatchOption) error {
	c.mu.Lock()
	c.matches--
	c.mu.Unlock()

	return nil
}

func (c *fakeConn) Signal(ch chan<- *godbus.Signal) {
	c.mu.Lock()
	c.signals = append(c.signals, ch)
	c.mu.Unlock()
}

func (c *fakeConn) RemoveSignal(ch chan<- *godbus.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, x := range c.signals {
		if x == ch {
			c.signals = append(c.signals[:i:i], c.signals[i+1:]...)
			break
		}
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	b := c.bus

	b.mu.Lock()
	var released []string

	for name, owner := range b.owners {
		if owner == c {
			delete(b.owners, name)
			released = append(released, name)
		}
	}

	for i, x := range b.conns {
		if x == c {
			b.conns = append(b.conns[:i:i], b.conns[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	for _, name := range released {
		b.ownerChanged(name, c.unique, "")
	}

	return nil
}

func (c *fakeConn) matchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.matches
}

// fakeObject implements the call side of godbus.BusObject; the embedded interface
// covers the methods the transport never uses.
type fakeObject struct {
	godbus.BusObject

	conn   *fakeConn
	daemon bool
	dest   string
	path   godbus.ObjectPath
}

func (o *fakeObject) Call(method string, flags godbus.Flags, args ...any) *godbus.Call {
	return o.CallWithContext(context.Background(), method, flags, args...)
}

func dbusErr(name string) *godbus.Call {
	return &godbus.Call{Err: godbus.Error{Name: name, Body: []any{name}}}
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, _ godbus.Flags, args ...any) *godbus.Call {
	if err := ctx.Err(); err != nil {
		return &godbus.Call{Err: err}
	}

	b := o.conn.bus

	if o.daemon {
		b.mu.Lock()
		owner, owned := b.owners[args[0].(string)]
		b.mu.Unlock()

		switch method {
		case "org.freedesktop.DBus.NameHasOwner":
			return &godbus.Call{Body: []any{owned}}
		case "org.freedesktop.DBus.GetNameOwner":
			if !owned {
				return dbusErr("org.freedesktop.DBus.Error.NameHasNoOwner")
			}

			return &godbus.Call{Body: []any{owner.unique}}
		default:
			return dbusErr("org.freedesktop.DBus.Error.UnknownMethod")
		}
	}

	b.mu.Lock()
	owner, ok := b.owners[o.dest]
	b.mu.Unlock()

	if !ok {
		return dbusErr("org.freedesktop.DBus.Error.ServiceUnknown")
	}

	dot := strings.LastIndex(method, ".")
	iface, member := method[:dot], method[dot+1:]

	owner.mu.Lock()
	table, ok := owner.exports[exportKey{o.path, iface}]
	owner.mu.Unlock()

	if !ok {
		return dbusErr("org.freedesktop.DBus.Error.UnknownObject")
	}

	fn, ok := table[member]
	if !ok {
		return dbusErr("org.freedesktop.DBus.Error.UnknownMethod")
	}

	fv := reflect.ValueOf(fn)
	if fv.Type().NumIn() != len(args) {
		return dbusErr("org.freedesktop.DBus.Error.InvalidArgs")
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}

	out := fv.Call(in)
	if derr, _ := out[1].Interface().(*godbus.Error); derr != nil {
		return &godbus.Call{Err: *derr}
	}

	return &godbus.Call{Body: []any{out[0].Interface()}}
}
