package servicebus_test

import (
	"context"
	"errors"
	"sync"

	"github.com/next-trace/scg-hardbus/adapters/inmemory"
	"github.com/next-trace/scg-hardbus/servicebus"
)

type Calculator interface {
	servicebus.Object
	Check(ctx context.Context, n int, s string) (bool, error)
	Add(ctx context.Context, a, b int) (int, error)
	Label(ctx context.Context, name string, on bool) error
	Reset(ctx context.Context) error
	Fail(ctx context.Context) (string, error)
}

var (
	checkM   = servicebus.NewMethod2[int, string, bool]("Check")
	addM     = servicebus.NewMethod2[int, int, int]("Add")
	labelP   = servicebus.NewProc2[string, bool]("Label")
	resetP   = servicebus.NewProc0("Reset")
	failM    = servicebus.NewMethod0[string]("Fail")
	changedS = servicebus.NewSignal1[int]("Changed")
	labelS   = servicebus.NewSignal2[string, bool]("Labelled")
)

func calcDescriptor() servicebus.Descriptor {
	return servicebus.Descriptor{
		Service:   "org.example.Calculator",
		Path:      "/org/example/Calculator",
		Interface: "org.example.Calculator",
		Bus:       servicebus.SessionBus,
		Methods:   []servicebus.MethodSpec{checkM, addM, labelP, resetP, failM},
		Signals:   []servicebus.SignalSpec{changedS, labelS},
	}
}

func calcExports(c Calculator) []servicebus.Handler {
	return []servicebus.Handler{
		checkM.Handle(c.Check),
		addM.Handle(c.Add),
		labelP.Handle(c.Label),
		resetP.Handle(c.Reset),
		failM.Handle(c.Fail),
	}
}

type calcFacade struct{ *servicebus.Facade }

func (c calcFacade) Check(ctx context.Context, n int, s string) (bool, error) {
	return checkM.Call(ctx, c.Facade, n, s)
}

func (c calcFacade) Add(ctx context.Context, a, b int) (int, error) { return addM.Call(ctx, c.Facade, a, b) }

func (c calcFacade) Label(ctx context.Context, name string, on bool) error {
	return labelP.Call(ctx, c.Facade, name, on)
}

func (c calcFacade) Reset(ctx context.Context) error { return resetP.Call(ctx, c.Facade) }

func (c calcFacade) Fail(ctx context.Context) (string, error) { return failM.Call(ctx, c.Facade) }

var calcService = servicebus.MustDefine[Calculator](calcDescriptor(), calcExports,
	func(f *servicebus.Facade) Calculator { return calcFacade{f} })

var errCalc = errors.New("calculator failure")

// calc is the concrete implementation. Embedding Emitter makes it a servicebus.Object.
type calc struct {
	servicebus.Emitter

	mu     sync.Mutex
	checks [][2]any
	total  int
	resets int
}

func (c *calc) Check(_ context.Context, n int, s string) (bool, error) {
	c.mu.Lock()
	c.checks = append(c.checks, [2]any{n, s})
	c.mu.Unlock()

	return n == 42 && s == "x", nil
}

func (c *calc) Add(_ context.Context, a, b int) (int, error) {
	c.mu.Lock()
	c.total += a + b
	total := c.total
	c.mu.Unlock()

	changedS.Emit(&c.Emitter, total)

	return total, nil
}

func (c *calc) Label(_ context.Context, name string, on bool) error {
	labelS.Emit(&c.Emitter, name, on)
	return nil
}

func (c *calc) Reset(context.Context) error {
	c.mu.Lock()
	c.total = 0
	c.resets++
	c.mu.Unlock()

	return nil
}

func (c *calc) Fail(context.Context) (string, error) { return "", errCalc }

func (c *calc) checkCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.checks)
}

// newHostAndClient returns two buses sharing one in-memory daemon, as a host process and a
// client process would.
func newHostAndClient(opts ...servicebus.Option) (host, client *servicebus.Bus) {
	daemon := inmemory.NewBus()

	host = servicebus.New(nil, append([]servicebus.Option{
		servicebus.WithTransport(servicebus.SessionBus, daemon.Connect()),
	}, opts...)...)
	client = servicebus.New(nil, servicebus.WithTransport(servicebus.SessionBus, daemon.Connect()))

	return host, client
}
