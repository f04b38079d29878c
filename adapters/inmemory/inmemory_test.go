package inmemory_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-hardbus/adapters/inmemory"
	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

var addr = transport.Address{Service: "org.example.Echo", Path: "/org/example/Echo", Interface: "org.example.Echo"}

func echoObject() transport.Object {
	return transport.Object{
		Interface: addr.Interface,
		Methods: []transport.Method{
			{Name: "Join", Arity: 2, Call: func(_ context.Context, args []string) (string, error) {
				return strings.Join(args, "+"), nil
			}},
			{Name: "Fail", Arity: 0, Call: func(context.Context, []string) (string, error) {
				return "", errors.New("boom")
			}},
		},
	}
}

func TestInmemory_RegisterCallAndOwnership(t *testing.T) {
	bus := inmemory.NewBus()
	host := bus.Connect()
	client := bus.Connect()

	if ok, _ := client.NameHasOwner(t.Context(), addr.Service); ok {
		t.Fatalf("name owned before registration")
	}

	if _, err := client.Call(t.Context(), addr, "Join", []string{"a", "b"}, transport.CallOptions{}); !errors.Is(err, berr.ErrServiceUnknown) {
		t.Fatalf("want ErrServiceUnknown, got %v", err)
	}

	if err := host.RegisterObject(addr.Path, echoObject()); err != nil {
		t.Fatalf("register object: %v", err)
	}

	if err := host.RequestName(addr.Service); err != nil {
		t.Fatalf("request name: %v", err)
	}

	if ok, err := client.NameHasOwner(t.Context(), addr.Service); !ok || err != nil {
		t.Fatalf("name has owner: ok=%v err=%v", ok, err)
	}

	reply, err := client.Call(t.Context(), addr, "Join", []string{"a", "b"}, transport.CallOptions{})
	if err != nil || reply != "a+b" {
		t.Fatalf("call: reply=%q err=%v", reply, err)
	}

	// second owner and second object at the same path are rejected
	if err := client.RequestName(addr.Service); !errors.Is(err, berr.ErrNameTaken) {
		t.Fatalf("want ErrNameTaken, got %v", err)
	}

	if err := client.RegisterObject(addr.Path, echoObject()); !errors.Is(err, berr.ErrPathTaken) {
		t.Fatalf("want ErrPathTaken, got %v", err)
	}
}

func TestInmemory_CallErrors(t *testing.T) {
	conn := inmemory.New()
	_ = conn.RegisterObject(addr.Path, echoObject())
	_ = conn.RequestName(addr.Service)

	if _, err := conn.Call(t.Context(), addr, "Fail", nil, transport.CallOptions{}); !errors.Is(err, berr.ErrRemoteFailed) {
		t.Fatalf("want ErrRemoteFailed, got %v", err)
	}

	// no reply expected: the remote error is not observed
	if _, err := conn.Call(t.Context(), addr, "Fail", nil, transport.CallOptions{NoReply: true}); err != nil {
		t.Fatalf("no-reply call returned %v", err)
	}

	if _, err := conn.Call(t.Context(), addr, "Nope", nil, transport.CallOptions{}); !errors.Is(err, berr.ErrUnknownMethod) {
		t.Fatalf("want ErrUnknownMethod, got %v", err)
	}

	if _, err := conn.Call(t.Context(), addr, "Join", []string{"x"}, transport.CallOptions{}); !errors.Is(err, berr.ErrArgumentCount) {
		t.Fatalf("want ErrArgumentCount, got %v", err)
	}

	other := addr
	other.Path = "/elsewhere"

	if _, err := conn.Call(t.Context(), other, "Join", []string{"a", "b"}, transport.CallOptions{}); !errors.Is(err, berr.ErrUnknownObject) {
		t.Fatalf("want ErrUnknownObject, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := conn.Call(ctx, addr, "Join", []string{"a", "b"}, transport.CallOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestInmemory_WatchName(t *testing.T) {
	bus := inmemory.NewBus()
	watcher := bus.Connect()

	appeared, stop, err := watcher.WatchName(addr.Service)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	select {
	case <-appeared:
		t.Fatalf("appeared before registration")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = bus.Connect().RequestName(addr.Service)
	}()

	select {
	case <-appeared:
	case <-time.After(time.Second):
		t.Fatalf("watch did not fire")
	}

	stop() // second stop is harmless
}

func TestInmemory_SignalsInOrder(t *testing.T) {
	bus := inmemory.NewBus()
	host := bus.Connect()
	client := bus.Connect()

	var got []string

	unsub, err := client.Subscribe(addr, "Tick", func(args []string) { got = append(got, args[0]) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, v := range []string{"1", "2", "3"} {
		if err := host.Emit(t.Context(), addr, "Tick", []string{v}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	// other signals and other objects are not delivered
	_ = host.Emit(t.Context(), addr, "Tock", []string{"x"})

	if strings.Join(got, ",") != "1,2,3" {
		t.Fatalf("got=%v", got)
	}

	if err := unsub(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	_ = host.Emit(t.Context(), addr, "Tick", []string{"4"})

	if len(got) != 3 {
		t.Fatalf("delivered after unsubscribe: %v", got)
	}
}

func TestInmemory_CloseReleasesEverything(t *testing.T) {
	bus := inmemory.NewBus()
	host := bus.Connect()
	client := bus.Connect()

	_ = host.RegisterObject(addr.Path, echoObject())
	_ = host.RequestName(addr.Service)

	if err := host.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := host.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if ok, _ := client.NameHasOwner(t.Context(), addr.Service); ok {
		t.Fatalf("name still owned after close")
	}

	if err := host.RequestName(addr.Service); !errors.Is(err, berr.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}

	// the path is free again for another connection
	if err := client.RegisterObject(addr.Path, echoObject()); err != nil {
		t.Fatalf("re-register after close: %v", err)
	}
}

func TestInmemory_ConcurrentSafety(t *testing.T) {
	bus := inmemory.NewBus()
	host := bus.Connect()
	_ = host.RegisterObject(addr.Path, echoObject())
	_ = host.RequestName(addr.Service)

	var (
		mu       sync.Mutex
		received int
		wg       sync.WaitGroup
	)

	client := bus.Connect()
	_, _ = client.Subscribe(addr, "Tick", func([]string) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()

			_, _ = client.Call(t.Context(), addr, "Join", []string{"a", "b"}, transport.CallOptions{})
		}()

		go func() {
			defer wg.Done()

			_ = host.Emit(t.Context(), addr, "Tick", nil)
		}()
	}

	wg.Wait()

	if received != 50 {
		t.Fatalf("received=%d", received)
	}
}

func TestSink_Records(t *testing.T) {
	s := inmemory.NewSink()

	rec := transport.SignalRecord{ID: "1", Interface: "i", Signal: "S", Args: []string{"a"}}
	if err := s.PublishSignal(t.Context(), rec, transport.PublishOptions{Key: "k"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].ID != "1" || s.Options[0].Key != "k" {
		t.Fatalf("snapshot=%+v opts=%+v", snap, s.Options)
	}
}
