package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Bus is an in-process bus daemon. Connections made with Connect see the same names,
// objects and signals, which makes it suitable for tests and single-process hosts.
//
// Calls and signals are delivered synchronously on the caller's goroutine, so signal
// order is exactly emission order.
type Bus struct {
	mu       sync.Mutex
	owners   map[string]*Conn
	objects  map[objectKey]registration
	watchers map[string][]*watcher
	subs     map[signalKey][]*subscription
	nextID   atomic.Uint64
}

type objectKey struct{ path, iface string }

type registration struct {
	owner *Conn
	obj   transport.Object
}

type signalKey struct {
	service, path, iface, signal string
}

type subscription struct {
	id    uint64
	owner *Conn
	fn    transport.SignalFunc
}

type watcher struct {
	ch   chan struct{}
	once sync.Once
}

func (w *watcher) fire() { w.once.Do(func() { close(w.ch) }) }

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		owners:   make(map[string]*Conn),
		objects:  make(map[objectKey]registration),
		watchers: make(map[string][]*watcher),
		subs:     make(map[signalKey][]*subscription),
	}
}

// Connect opens a new connection to the bus.
func (b *Bus) Connect() *Conn {
	return &Conn{bus: b, id: b.nextID.Add(1)}
}

// Conn is one client connection to a Bus. It implements transport.Transport.
// Closing a Conn releases every name, object and subscription it holds.
type Conn struct {
	bus    *Bus
	id     uint64
	closed atomic.Bool
}

var _ transport.Transport = (*Conn)(nil)

// New creates a bus and returns a single connection to it.
func New() *Conn { return NewBus().Connect() }

// Bus returns the bus this connection belongs to.
func (c *Conn) Bus() *Bus { return c.bus }

func (c *Conn) ready(label string) error {
	if c.closed.Load() {
		return fmt.Errorf("inmemory %s: %w", label, berr.ErrClosed)
	}

	return nil
}

func (c *Conn) RegisterObject(path string, obj transport.Object) error {
	if err := c.ready("register object"); err != nil {
		return err
	}

	b := c.bus
	key := objectKey{path: path, iface: obj.Interface}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[key]; exists {
		return fmt.Errorf("inmemory register object %s %s: %w", path, obj.Interface, berr.ErrPathTaken)
	}

	b.objects[key] = registration{owner: c, obj: obj}

	return nil
}

func (c *Conn) UnregisterObject(path, iface string) error {
	b := c.bus
	key := objectKey{path: path, iface: iface}

	b.mu.Lock()
	defer b.mu.Unlock()

	if reg, ok := b.objects[key]; ok && reg.owner == c {
		delete(b.objects, key)
	}

	return nil
}

func (c *Conn) RequestName(name string) error {
	if err := c.ready("request name"); err != nil {
		return err
	}

	b := c.bus

	b.mu.Lock()
	if owner, owned := b.owners[name]; owned {
		b.mu.Unlock()

		if owner == c {
			return nil
		}

		return fmt.Errorf("inmemory request name %s: %w", name, berr.ErrNameTaken)
	}

	b.owners[name] = c
	ws := b.watchers[name]
	delete(b.watchers, name)
	b.mu.Unlock()

	for _, w := range ws {
		w.fire()
	}

	return nil
}

func (c *Conn) ReleaseName(name string) error {
	b := c.bus

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.owners[name] == c {
		delete(b.owners, name)
	}

	return nil
}

func (c *Conn) NameHasOwner(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := c.ready("name has owner"); err != nil {
		return false, err
	}

	c.bus.mu.Lock()
	_, owned := c.bus.owners[name]
	c.bus.mu.Unlock()

	return owned, nil
}

func (c *Conn) WatchName(name string) (<-chan struct{}, func(), error) {
	if err := c.ready("watch name"); err != nil {
		return nil, nil, err
	}

	b := c.bus
	w := &watcher{ch: make(chan struct{})}

	b.mu.Lock()
	b.watchers[name] = append(b.watchers[name], w)
	b.mu.Unlock()

	stop := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		ws := b.watchers[name]
		for i, x := range ws {
			if x == w {
				b.watchers[name] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}

		if len(b.watchers[name]) == 0 {
			delete(b.watchers, name)
		}
	}

	return w.ch, stop, nil
}

func (c *Conn) Call(
	ctx context.Context,
	to transport.Address,
	method string,
	args []string,
	opts transport.CallOptions,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := c.ready("call"); err != nil {
		return "", err
	}

	m, err := c.bus.resolve(to, method)
	if err != nil {
		return "", err
	}

	if len(args) != m.Arity {
		return "", fmt.Errorf("inmemory call %s.%s: want %d arguments, got %d: %w",
			to.Interface, method, m.Arity, len(args), berr.ErrArgumentCount)
	}

	reply, err := m.Call(ctx, args)
	if opts.NoReply {
		return "", nil
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}

		return "", fmt.Errorf("inmemory call %s.%s: %w", to.Interface, method, errors.Join(berr.ErrRemoteFailed, err))
	}

	return reply, nil
}

func (b *Bus) resolve(to transport.Address, method string) (transport.Method, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	owner, ok := b.owners[to.Service]
	if !ok {
		return transport.Method{}, fmt.Errorf("inmemory call %s: %w", to.Service, berr.ErrServiceUnknown)
	}

	reg, ok := b.objects[objectKey{path: to.Path, iface: to.Interface}]
	if !ok || reg.owner != owner {
		return transport.Method{}, fmt.Errorf("inmemory call %s%s: %w", to.Service, to.Path, berr.ErrUnknownObject)
	}

	m, ok := reg.obj.Lookup(method)
	if !ok {
		return transport.Method{}, fmt.Errorf("inmemory call %s.%s: %w", to.Interface, method, berr.ErrUnknownMethod)
	}

	return m, nil
}

func (c *Conn) Emit(ctx context.Context, from transport.Address, signal string, args []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.ready("emit"); err != nil {
		return err
	}

	key := signalKey{service: from.Service, path: from.Path, iface: from.Interface, signal: signal}

	c.bus.mu.Lock()
	subs := append([]*subscription(nil), c.bus.subs[key]...)
	c.bus.mu.Unlock()

	for _, s := range subs {
		s.fn(append([]string(nil), args...))
	}

	return nil
}

func (c *Conn) Subscribe(from transport.Address, signal string, fn transport.SignalFunc) (func() error, error) {
	if err := c.ready("subscribe"); err != nil {
		return nil, err
	}

	b := c.bus
	key := signalKey{service: from.Service, path: from.Path, iface: from.Interface, signal: signal}
	sub := &subscription{id: b.nextID.Add(1), owner: c, fn: fn}

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	unsubscribe := func() error {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.removeSub(key, sub.id)

		return nil
	}

	return unsubscribe, nil
}

func (b *Bus) removeSub(key signalKey, id uint64) {
	subs := b.subs[key]
	for i, s := range subs {
		if s.id == id {
			b.subs[key] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}

	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

// Close releases everything the connection holds. It is idempotent.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	b := c.bus

	b.mu.Lock()
	defer b.mu.Unlock()

	for name, owner := range b.owners {
		if owner == c {
			delete(b.owners, name)
		}
	}

	for key, reg := range b.objects {
		if reg.owner == c {
			delete(b.objects, key)
		}
	}

	for key, subs := range b.subs {
		for _, s := range subs {
			if s.owner == c {
				b.removeSub(key, s.id)
			}
		}
	}

	return nil
}
