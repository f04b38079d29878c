package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

const (
	defaultPrefix      = "hardbus"
	defaultPingTimeout = 500 * time.Millisecond
)

// ErrNoResponders is returned by Client.Request when nobody is subscribed to the subject.
var ErrNoResponders = errors.New("nats: no responders available for request")

// Msg is an inbound message as seen by subscription handlers.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
	Headers map[string]string
}

// MsgHandler receives messages for one subscription, one at a time, in delivery order.
type MsgHandler func(m *Msg)

// Subscription is an active interest in a subject.
type Subscription interface {
	Unsubscribe() error
}

// Client is a minimal NATS-like connection decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Request publishes and waits for the first reply. It returns ErrNoResponders when
	// the subject has no subscribers.
	Request(ctx context.Context, subject string, data []byte, headers map[string]string) ([]byte, error)
	Subscribe(subject string, h MsgHandler) (Subscription, error)
	Close()
}

// Option configures a Transport.
type Option func(*Transport)

// WithPrefix sets the first subject token used for every hardbus subject.
func WithPrefix(p string) Option {
	return func(t *Transport) {
		if p != "" {
			t.prefix = p
		}
	}
}

// WithPropagator carries tracing context in call and signal headers.
func WithPropagator(p transport.HeaderPropagator) Option {
	return func(t *Transport) {
		if p != nil {
			t.prop = p
		}
	}
}

// WithPingTimeout bounds the presence probe used by NameHasOwner.
func WithPingTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.pingTimeout = d
		}
	}
}

// Transport implements transport.Transport over NATS subjects:
//
//	<prefix>.call.<service>          request/reply method calls
//	<prefix>.ping.<service>          presence probe answered by the owner
//	<prefix>.announce.<service>      published once a name is claimed
//	<prefix>.signal.<service>.<interface>.<signal>
//
// Dots inside names are mapped to underscores so each name stays one subject token.
// Name ownership is advisory: two processes claiming the same name at the same instant
// can both succeed.
//
// Signals of one service are received through a single wildcard subscription on
// <prefix>.signal.<service>.>, so every subscriber of that service sees them on one
// goroutine in publish order, whichever signal they belong to.
type Transport struct {
	client      Client
	prefix      string
	prop        transport.HeaderPropagator
	pingTimeout time.Duration

	mu      sync.Mutex
	objects map[objectKey]transport.Object
	names   map[string][]Subscription
	streams map[string]*stream
	nextID  uint64
	closed  bool
}

type objectKey struct{ path, iface string }

type signalKey struct{ path, iface, signal string }

type signalSub struct {
	id uint64
	fn transport.SignalFunc
}

// stream fans one service's signal subscription out to its local subscribers.
type stream struct {
	sub  Subscription
	subs map[signalKey][]*signalSub
	refs int
}

var _ transport.Transport = (*Transport)(nil)

// New creates a transport on top of c.
func New(c Client, opts ...Option) *Transport {
	t := &Transport{
		client:      c,
		prefix:      defaultPrefix,
		prop:        transport.NopHeaderPropagator{},
		pingTimeout: defaultPingTimeout,
		objects:     make(map[objectKey]transport.Object),
		names:       make(map[string][]Subscription),
		streams:     make(map[string]*stream),
	}
	for _, o := range opts {
		o(t)
	}

	return t
}

// Argument and reply payloads travel as byte slices (base64 in JSON) so strings that
// are not valid UTF-8 survive the trip unchanged.
type callRequest struct {
	Path      string   `json:"path"`
	Interface string   `json:"interface"`
	Method    string   `json:"method"`
	Args      [][]byte `json:"args"`
}

type callReply struct {
	Reply []byte `json:"reply,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

type signalMsg struct {
	Path      string   `json:"path"`
	Interface string   `json:"interface"`
	Signal    string   `json:"signal"`
	Args      [][]byte `json:"args"`
}

func toBytes(args []string) [][]byte {
	out := make([][]byte, len(args))
	for i, a := range args {
		out[i] = []byte(a)
	}

	return out
}

func fromBytes(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}

	return out
}

func (t *Transport) RegisterObject(path string, obj transport.Object) error {
	if err := t.ready(context.Background(), "register object"); err != nil {
		return err
	}

	key := objectKey{path: path, iface: obj.Interface}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.objects[key]; exists {
		return fmt.Errorf("nats register object %s %s: %w", path, obj.Interface, berr.ErrPathTaken)
	}

	t.objects[key] = obj

	return nil
}

func (t *Transport) UnregisterObject(path, iface string) error {
	t.mu.Lock()
	delete(t.objects, objectKey{path: path, iface: iface})
	t.mu.Unlock()

	return nil
}

func (t *Transport) RequestName(name string) error {
	if err := t.ready(context.Background(), "request name"); err != nil {
		return err
	}

	t.mu.Lock()
	_, mine := t.names[name]
	t.mu.Unlock()

	if mine {
		return nil
	}

	owned, err := t.NameHasOwner(context.Background(), name)
	if err != nil {
		return fmt.Errorf("nats request name %s: %w", name, err)
	}

	if owned {
		return fmt.Errorf("nats request name %s: %w", name, berr.ErrNameTaken)
	}

	callSub, err := t.client.Subscribe(t.subject("call", name), t.serve)
	if err != nil {
		return fmt.Errorf("nats request name %s: %w", name, errors.Join(berr.ErrNameTaken, err))
	}

	pingSub, err := t.client.Subscribe(t.subject("ping", name), t.pong)
	if err != nil {
		_ = callSub.Unsubscribe()
		return fmt.Errorf("nats request name %s: %w", name, errors.Join(berr.ErrNameTaken, err))
	}

	t.mu.Lock()
	t.names[name] = []Subscription{callSub, pingSub}
	t.mu.Unlock()

	if err := t.client.Publish(t.subject("announce", name), nil, nil); err != nil {
		return fmt.Errorf("nats announce %s: %w", name, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) ReleaseName(name string) error {
	t.mu.Lock()
	subs := t.names[name]
	delete(t.names, name)
	t.mu.Unlock()

	var errs []error
	for _, s := range subs {
		errs = append(errs, s.Unsubscribe())
	}

	return errors.Join(errs...)
}

func (t *Transport) NameHasOwner(ctx context.Context, name string) (bool, error) {
	if err := t.ready(ctx, "name has owner"); err != nil {
		return false, err
	}

	t.mu.Lock()
	_, mine := t.names[name]
	t.mu.Unlock()

	if mine {
		return true, nil
	}

	pctx, cancel := context.WithTimeout(ctx, t.pingTimeout)
	defer cancel()

	_, err := t.client.Request(pctx, t.subject("ping", name), nil, nil)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoResponders):
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		// nobody answered the probe in time
		return false, nil
	default:
		return false, fmt.Errorf("nats ping %s: %w", name, errors.Join(berr.ErrRemoteFailed, err))
	}
}

func (t *Transport) WatchName(name string) (<-chan struct{}, func(), error) {
	if err := t.ready(context.Background(), "watch name"); err != nil {
		return nil, nil, err
	}

	ch := make(chan struct{})

	var once sync.Once

	sub, err := t.client.Subscribe(t.subject("announce", name), func(*Msg) {
		once.Do(func() { close(ch) })
	})
	if err != nil {
		return nil, nil, fmt.Errorf("nats watch %s: %w", name, err)
	}

	stop := sync.OnceFunc(func() { _ = sub.Unsubscribe() })

	return ch, stop, nil
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

	body, err := json.Marshal(callRequest{Path: to.Path, Interface: to.Interface, Method: method, Args: toBytes(args)})
	if err != nil {
		return "", fmt.Errorf("nats call serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	headers := map[string]string{}
	t.prop.Inject(ctx, headers)

	subj := t.subject("call", to.Service)

	if opts.NoReply {
		if err := t.client.Publish(subj, body, headers); err != nil {
			return "", t.callError(to, method, err)
		}

		return "", nil
	}

	data, err := t.client.Request(ctx, subj, body, headers)
	if err != nil {
		return "", t.callError(to, method, err)
	}

	var rep callReply
	if err := json.Unmarshal(data, &rep); err != nil {
		return "", fmt.Errorf("nats call %s.%s decode reply: %w", to.Interface, method,
			errors.Join(berr.ErrSerializationFailed, err))
	}

	if rep.Code != "" {
		return "", fmt.Errorf("nats call %s.%s: %s: %w", to.Interface, method, rep.Error, berr.Code(rep.Code))
	}

	return string(rep.Reply), nil
}

func (t *Transport) callError(to transport.Address, method string, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrNoResponders):
		return fmt.Errorf("nats call %s: %w", to.Service, berr.ErrServiceUnknown)
	default:
		return fmt.Errorf("nats call %s.%s: %w", to.Interface, method, errors.Join(berr.ErrRemoteFailed, err))
	}
}

// serve answers calls for an owned name.
func (t *Transport) serve(m *Msg) {
	var req callRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		t.respond(m, callReply{Code: berr.ErrCodeSerializationFailed, Error: err.Error()})
		return
	}

	ctx := t.prop.Extract(context.Background(), m.Headers)

	reply, err := t.dispatch(ctx, req)
	if err != nil {
		t.respond(m, callReply{Code: codeOf(err), Error: err.Error()})
		return
	}

	t.respond(m, callReply{Reply: []byte(reply)})
}

func (t *Transport) dispatch(ctx context.Context, req callRequest) (string, error) {
	t.mu.Lock()
	obj, ok := t.objects[objectKey{path: req.Path, iface: req.Interface}]
	t.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("no object %s %s: %w", req.Path, req.Interface, berr.ErrUnknownObject)
	}

	meth, ok := obj.Lookup(req.Method)
	if !ok {
		return "", fmt.Errorf("no method %s: %w", req.Method, berr.ErrUnknownMethod)
	}

	if len(req.Args) != meth.Arity {
		return "", fmt.Errorf("%s wants %d arguments, got %d: %w", req.Method, meth.Arity, len(req.Args), berr.ErrArgumentCount)
	}

	return meth.Call(ctx, fromBytes(req.Args))
}

func (t *Transport) respond(m *Msg, rep callReply) {
	if m.Reply == "" {
		return
	}

	body, err := json.Marshal(rep)
	if err != nil {
		return
	}

	_ = t.client.Publish(m.Reply, body, nil)
}

func (t *Transport) pong(m *Msg) {
	if m.Reply != "" {
		_ = t.client.Publish(m.Reply, nil, nil)
	}
}

func (t *Transport) Emit(ctx context.Context, from transport.Address, signal string, args []string) error {
	if err := t.ready(ctx, "emit"); err != nil {
		return err
	}

	body, err := json.Marshal(signalMsg{Path: from.Path, Interface: from.Interface, Signal: signal, Args: toBytes(args)})
	if err != nil {
		return fmt.Errorf("nats emit serialize: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	headers := map[string]string{}
	t.prop.Inject(ctx, headers)

	if err := t.client.Publish(t.signalSubject(from, signal), body, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats emit %s.%s: %w", from.Interface, signal, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (t *Transport) Subscribe(from transport.Address, signal string, fn transport.SignalFunc) (func() error, error) {
	if err := t.ready(context.Background(), "subscribe"); err != nil {
		return nil, err
	}

	key := signalKey{path: from.Path, iface: from.Interface, signal: signal}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.streams[from.Service]
	if !ok {
		st = &stream{subs: make(map[signalKey][]*signalSub)}

		sub, err := t.client.Subscribe(t.prefix+".signal."+token(from.Service)+".>", func(m *Msg) {
			t.relay(st, m)
		})
		if err != nil {
			return nil, fmt.Errorf("nats subscribe %s.%s: %w", from.Interface, signal, err)
		}

		st.sub = sub
		t.streams[from.Service] = st
	}

	t.nextID++
	s := &signalSub{id: t.nextID, fn: fn}
	st.subs[key] = append(st.subs[key], s)
	st.refs++

	return sync.OnceValue(func() error { return t.unsubscribe(from.Service, st, key, s.id) }), nil
}

func (t *Transport) relay(st *stream, m *Msg) {
	var msg signalMsg
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		return
	}

	t.mu.Lock()
	subs := append([]*signalSub(nil), st.subs[signalKey{path: msg.Path, iface: msg.Interface, signal: msg.Signal}]...)
	t.mu.Unlock()

	for _, s := range subs {
		s.fn(fromBytes(msg.Args))
	}
}

func (t *Transport) unsubscribe(service string, st *stream, key signalKey, id uint64) error {
	t.mu.Lock()

	list := st.subs[key]
	for i, x := range list {
		if x.id == id {
			st.subs[key] = append(list[:i:i], list[i+1:]...)
			st.refs--

			break
		}
	}

	if len(st.subs[key]) == 0 {
		delete(st.subs, key)
	}

	if st.refs > 0 || t.streams[service] != st {
		t.mu.Unlock()
		return nil
	}

	delete(t.streams, service)
	t.mu.Unlock()

	return st.sub.Unsubscribe()
}

// Close releases every owned name and closes the underlying client.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}

	t.closed = true
	names := t.names
	streams := t.streams
	t.names = make(map[string][]Subscription)
	t.streams = make(map[string]*stream)
	t.objects = make(map[objectKey]transport.Object)
	t.mu.Unlock()

	for _, subs := range names {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}

	for _, st := range streams {
		_ = st.sub.Unsubscribe()
	}

	if t.client != nil {
		t.client.Close()
	}

	return nil
}

func (t *Transport) ready(ctx context.Context, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if closed || t.client == nil {
		return fmt.Errorf("nats %s: %w", label, berr.ErrClosed)
	}

	return nil
}

// helpers

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_")

func token(s string) string { return tokenReplacer.Replace(s) }

func (t *Transport) subject(kind, name string) string {
	return t.prefix + "." + kind + "." + token(name)
}

func (t *Transport) signalSubject(from transport.Address, signal string) string {
	return t.prefix + ".signal." + token(from.Service) + "." + token(from.Interface) + "." + token(signal)
}

var knownCodes = []error{
	berr.ErrUnknownObject,
	berr.ErrUnknownMethod,
	berr.ErrArgumentCount,
	berr.ErrSerializationFailed,
}

// codeOf maps a dispatch failure to the code sent back to the caller. Anything raised by
// the implementation itself travels as a remote failure.
func codeOf(err error) string {
	for _, c := range knownCodes {
		if errors.Is(err, c) {
			return c.Error()
		}
	}

	return berr.ErrCodeRemoteFailed
}
