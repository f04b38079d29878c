package dbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	godbus "github.com/godbus/dbus/v5"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

const (
	busName      = "org.freedesktop.DBus"
	busPath      = godbus.ObjectPath("/org/freedesktop/DBus")
	ownerChanged = busName + ".NameOwnerChanged"

	errServiceUnknown   = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNameHasNoOwner   = "org.freedesktop.DBus.Error.NameHasNoOwner"
	errUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	errUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	errInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
)

// Conn is the subset of *godbus.Conn the transport needs.
type Conn interface {
	ExportMethodTable(methods map[string]any, path godbus.ObjectPath, iface string) error
	RequestName(name string, flags godbus.RequestNameFlags) (godbus.RequestNameReply, error)
	ReleaseName(name string) (godbus.ReleaseNameReply, error)
	BusObject() godbus.BusObject
	Object(dest string, path godbus.ObjectPath) godbus.BusObject
	Emit(path godbus.ObjectPath, name string, values ...any) error
	AddMatchSignal(options ...godbus.MatchOption) error
	RemoveMatchSignal(options ...godbus.MatchOption) error
	Signal(ch chan<- *godbus.Signal)
	RemoveSignal(ch chan<- *godbus.Signal)
	Close() error
}

var _ Conn = (*godbus.Conn)(nil)

// Transport implements transport.Transport on one D-Bus connection.
//
// Incoming signals arrive on a single channel and are dispatched on one goroutine, so
// callbacks see them in bus order. A signal reaches a subscription only when its sender
// is the current unique owner of the subscribed service name; owners are resolved with
// GetNameOwner and kept current from NameOwnerChanged on that same goroutine.
type Transport struct {
	conn    Conn
	signals chan *godbus.Signal
	done    chan struct{}

	mu       sync.Mutex
	objects  map[objectKey]struct{}
	subs     map[signalKey][]*subscription
	owners   map[string]*owner
	watchers map[string][]*watcher
	nextID   uint64
	closed   bool
}

type objectKey struct{ path, iface string }

type signalKey struct {
	path godbus.ObjectPath
	name string // interface.member
}

type subscription struct {
	id      uint64
	service string
	fn      transport.SignalFunc
}

// owner tracks the unique connection name behind a subscribed well-known name.
type owner struct {
	unique string
	refs   int
	seen   bool // set once NameOwnerChanged has reported for the name
}

type watcher struct {
	ch   chan struct{}
	once sync.Once
}

func (w *watcher) fire() { w.once.Do(func() { close(w.ch) }) }

var _ transport.Transport = (*Transport)(nil)

// New wraps conn and starts the signal dispatcher.
func New(conn Conn) *Transport {
	t := &Transport{
		conn:     conn,
		signals:  make(chan *godbus.Signal, 64),
		done:     make(chan struct{}),
		objects:  make(map[objectKey]struct{}),
		subs:     make(map[signalKey][]*subscription),
		owners:   make(map[string]*owner),
		watchers: make(map[string][]*watcher),
	}

	conn.Signal(t.signals)

	go t.dispatch()

	return t
}

func (t *Transport) dispatch() {
	for {
		select {
		case <-t.done:
			return
		case sig, ok := <-t.signals:
			if !ok {
				return
			}

			t.deliver(sig)
		}
	}
}

func (t *Transport) deliver(sig *godbus.Signal) {
	if sig == nil {
		return
	}

	if sig.Name == ownerChanged {
		t.ownerChanged(sig.Body)
		return
	}

	var subs []*subscription

	t.mu.Lock()
	for _, s := range t.subs[signalKey{path: sig.Path, name: sig.Name}] {
		if t.sentBy(s.service, sig.Sender) {
			subs = append(subs, s)
		}
	}
	t.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	args, ok := stringArgs(sig.Body)
	if !ok {
		return
	}

	for _, s := range subs {
		s.fn(args)
	}
}

// sentBy reports whether sender speaks for service. Callers hold t.mu.
func (t *Transport) sentBy(service, sender string) bool {
	if sender == service {
		return true
	}

	o, ok := t.owners[service]

	return ok && o.unique != "" && o.unique == sender
}

func (t *Transport) ownerChanged(body []any) {
	if len(body) != 3 {
		return
	}

	name, _ := body[0].(string)
	unique, _ := body[2].(string)

	t.mu.Lock()
	if o, ok := t.owners[name]; ok {
		o.unique, o.seen = unique, true
	}

	if unique == "" {
		t.mu.Unlock()
		return
	}

	ws := t.watchers[name]
	delete(t.watchers, name)
	t.mu.Unlock()

	for _, w := range ws {
		w.fire()
	}
}

var (
	stringType   = reflect.TypeFor[string]()
	dbusErrType  = reflect.TypeFor[*godbus.Error]()
	nilDBusError = reflect.Zero(dbusErrType)
)

// methodFunc builds a func(string, ..., string) (string, *godbus.Error) with one string
// parameter per argument, the shape godbus exports.
func methodFunc(m transport.Method) any {
	in := make([]reflect.Type, m.Arity)
	for i := range in {
		in[i] = stringType
	}

	ft := reflect.FuncOf(in, []reflect.Type{stringType, dbusErrType}, false)

	return reflect.MakeFunc(ft, func(vals []reflect.Value) []reflect.Value {
		args := make([]string, len(vals))
		for i, v := range vals {
			args[i] = v.String()
		}

		reply, err := m.Call(context.Background(), args)
		if err != nil {
			return []reflect.Value{reflect.ValueOf(""), reflect.ValueOf(godbus.MakeFailedError(err))}
		}

		return []reflect.Value{reflect.ValueOf(reply), nilDBusError}
	}).Interface()
}

func (t *Transport) RegisterObject(path string, obj transport.Object) error {
	if err := t.ready(context.Background(), "register object"); err != nil {
		return err
	}

	key := objectKey{path: path, iface: obj.Interface}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.objects[key]; exists {
		return fmt.Errorf("dbus register object %s %s: %w", path, obj.Interface, berr.ErrPathTaken)
	}

	table := make(map[string]any, len(obj.Methods))
	for _, m := range obj.Methods {
		table[m.Name] = methodFunc(m)
	}

	if err := t.conn.ExportMethodTable(table, godbus.ObjectPath(path), obj.Interface); err != nil {
		return fmt.Errorf("dbus register object %s: %w", path, errors.Join(berr.ErrPathTaken, err))
	}

	t.objects[key] = struct{}{}

	return nil
}

func (t *Transport) UnregisterObject(path, iface string) error {
	key := objectKey{path: path, iface: iface}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.objects[key]; !ok {
		return nil
	}

	delete(t.objects, key)

	return t.conn.ExportMethodTable(nil, godbus.ObjectPath(path), iface)
}

func (t *Transport) RequestName(name string) error {
	if err := t.ready(context.Background(), "request name"); err != nil {
		return err
	}

	reply, err := t.conn.RequestName(name, godbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("dbus request name %s: %w", name, errors.Join(berr.ErrNameTaken, err))
	}

	switch reply {
	case godbus.RequestNameReplyPrimaryOwner, godbus.RequestNameReplyAlreadyOwner:
		return nil
	default:
		return fmt.Errorf("dbus request name %s: reply %d: %w", name, reply, berr.ErrNameTaken)
	}
}

func (t *Transport) ReleaseName(name string) error {
	if _, err := t.conn.ReleaseName(name); err != nil {
		return fmt.Errorf("dbus release name %s: %w", name, err)
	}

	return nil
}

func (t *Transport) NameHasOwner(ctx context.Context, name string) (bool, error) {
	if err := t.ready(ctx, "name has owner"); err != nil {
		return false, err
	}

	var has bool

	call := t.conn.BusObject().CallWithContext(ctx, busName+".NameHasOwner", 0, name)
	if call.Err != nil {
		if errors.Is(call.Err, context.Canceled) || errors.Is(call.Err, context.DeadlineExceeded) {
			return false, call.Err
		}

		return false, fmt.Errorf("dbus name has owner %s: %w", name, errors.Join(berr.ErrRemoteFailed, call.Err))
	}

	if err := call.Store(&has); err != nil {
		return false, fmt.Errorf("dbus name has owner %s: %w", name, errors.Join(berr.ErrSerializationFailed, err))
	}

	return has, nil
}

func ownerMatch(name string) []godbus.MatchOption {
	return []godbus.MatchOption{
		godbus.WithMatchSender(busName),
		godbus.WithMatchObjectPath(busPath),
		godbus.WithMatchInterface(busName),
		godbus.WithMatchMember("NameOwnerChanged"),
		godbus.WithMatchArg(0, name),
	}
}

func (t *Transport) nameOwner(name string) (string, error) {
	var unique string

	call := t.conn.BusObject().Call(busName+".GetNameOwner", 0, name)
	if call.Err != nil {
		if errorName(call.Err) == errNameHasNoOwner {
			return "", nil
		}

		return "", call.Err
	}

	if err := call.Store(&unique); err != nil {
		return "", err
	}

	return unique, nil
}

// track starts following the owner of name. The NameOwnerChanged match goes in before
// the GetNameOwner query so no change is lost in between.
func (t *Transport) track(name string) error {
	t.mu.Lock()
	if o, ok := t.owners[name]; ok {
		o.refs++
		t.mu.Unlock()

		return nil
	}

	o := &owner{refs: 1}
	t.owners[name] = o
	t.mu.Unlock()

	if err := t.conn.AddMatchSignal(ownerMatch(name)...); err != nil {
		t.untrack(name, false)
		return err
	}

	unique, err := t.nameOwner(name)
	if err != nil {
		t.untrack(name, true)
		return err
	}

	t.mu.Lock()
	if !o.seen {
		o.unique = unique
	}
	t.mu.Unlock()

	return nil
}

func (t *Transport) untrack(name string, matched bool) {
	t.mu.Lock()

	o, ok := t.owners[name]
	if !ok {
		t.mu.Unlock()
		return
	}

	if o.refs--; o.refs > 0 {
		t.mu.Unlock()
		return
	}

	delete(t.owners, name)
	t.mu.Unlock()

	if matched {
		_ = t.conn.RemoveMatchSignal(ownerMatch(name)...)
	}
}

func (t *Transport) WatchName(name string) (<-chan struct{}, func(), error) {
	if err := t.ready(context.Background(), "watch name"); err != nil {
		return nil, nil, err
	}

	if err := t.conn.AddMatchSignal(ownerMatch(name)...); err != nil {
		return nil, nil, fmt.Errorf("dbus watch %s: %w", name, err)
	}

	w := &watcher{ch: make(chan struct{})}

	t.mu.Lock()
	t.watchers[name] = append(t.watchers[name], w)
	t.mu.Unlock()

	stop := sync.OnceFunc(func() {
		t.mu.Lock()

		ws := t.watchers[name]
		for i, x := range ws {
			if x == w {
				t.watchers[name] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}

		if len(t.watchers[name]) == 0 {
			delete(t.watchers, name)
		}
		t.mu.Unlock()

		_ = t.conn.RemoveMatchSignal(ownerMatch(name)...)
	})

	return w.ch, stop, nil
}

func (t *Transport) Call(
	ctx context.Context,
	to transport.Address,
	method string,
	args []string,
	opts transport.CallOptions,
) (string, error) {
	if err := t.ready(ctx, "call"); err != nil {
		return "", err
	}

	var flags godbus.Flags
	if opts.NoReply {
		flags = godbus.FlagNoReplyExpected
	}

	call := t.conn.Object(to.Service, godbus.ObjectPath(to.Path)).
		CallWithContext(ctx, to.Interface+"."+method, flags, toAny(args)...)
	if call.Err != nil {
		return "", callError(to, method, call.Err)
	}

	if opts.NoReply {
		return "", nil
	}

	var reply string
	if err := call.Store(&reply); err != nil {
		return "", fmt.Errorf("dbus call %s.%s decode reply: %w", to.Interface, method,
			errors.Join(berr.ErrSerializationFailed, err))
	}

	return reply, nil
}

func callError(to transport.Address, method string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var code error

	switch errorName(err) {
	case errServiceUnknown, errNameHasNoOwner:
		code = berr.ErrServiceUnknown
	case errUnknownObject:
		code = berr.ErrUnknownObject
	case errUnknownInterface, errUnknownMethod:
		code = berr.ErrUnknownMethod
	case errInvalidArgs:
		code = berr.ErrArgumentCount
	default:
		code = berr.ErrRemoteFailed
	}

	return fmt.Errorf("dbus call %s %s.%s: %w", to.Service, to.Interface, method, errors.Join(code, err))
}

func errorName(err error) string {
	var v godbus.Error
	if errors.As(err, &v) {
		return v.Name
	}

	var p *godbus.Error
	if errors.As(err, &p) && p != nil {
		return p.Name
	}

	return ""
}

func (t *Transport) Emit(ctx context.Context, from transport.Address, signal string, args []string) error {
	if err := t.ready(ctx, "emit"); err != nil {
		return err
	}

	if err := t.conn.Emit(godbus.ObjectPath(from.Path), from.Interface+"."+signal, toAny(args)...); err != nil {
		return fmt.Errorf("dbus emit %s.%s: %w", from.Interface, signal, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func signalMatch(from transport.Address, signal string) []godbus.MatchOption {
	return []godbus.MatchOption{
		godbus.WithMatchSender(from.Service),
		godbus.WithMatchObjectPath(godbus.ObjectPath(from.Path)),
		godbus.WithMatchInterface(from.Interface),
		godbus.WithMatchMember(signal),
	}
}

func (t *Transport) Subscribe(from transport.Address, signal string, fn transport.SignalFunc) (func() error, error) {
	if err := t.ready(context.Background(), "subscribe"); err != nil {
		return nil, err
	}

	if err := t.track(from.Service); err != nil {
		return nil, fmt.Errorf("dbus subscribe %s: resolve owner: %w", from.Service, err)
	}

	if err := t.conn.AddMatchSignal(signalMatch(from, signal)...); err != nil {
		t.untrack(from.Service, true)
		return nil, fmt.Errorf("dbus subscribe %s.%s: %w", from.Interface, signal, err)
	}

	key := signalKey{path: godbus.ObjectPath(from.Path), name: from.Interface + "." + signal}

	t.mu.Lock()
	t.nextID++
	s := &subscription{id: t.nextID, service: from.Service, fn: fn}
	t.subs[key] = append(t.subs[key], s)
	t.mu.Unlock()

	return sync.OnceValue(func() error {
		t.mu.Lock()

		list := t.subs[key]
		for i, x := range list {
			if x.id == s.id {
				t.subs[key] = append(list[:i:i], list[i+1:]...)
				break
			}
		}

		if len(t.subs[key]) == 0 {
			delete(t.subs, key)
		}
		t.mu.Unlock()

		err := t.conn.RemoveMatchSignal(signalMatch(from, signal)...)
		t.untrack(from.Service, true)

		return err
	}), nil
}

// Close stops signal dispatch and closes the connection, which releases every name and
// export the connection holds.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true
	t.mu.Unlock()

	close(t.done)
	t.conn.RemoveSignal(t.signals)

	return t.conn.Close()
}

func (t *Transport) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("dbus %s: %w", label, berr.ErrClosed)
	}

	return nil
}

// helpers

func toAny(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}

	return out
}

func stringArgs(body []any) ([]string, bool) {
	out := make([]string, len(body))

	for i, v := range body {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}

		out[i] = s
	}

	return out, true
}
