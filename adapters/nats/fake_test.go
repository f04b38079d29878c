package nats_test

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/next-trace/scg-hardbus/adapters/nats"
)

// fakeServer routes messages between fake clients. By default every subscriber runs on
// the publisher's goroutine. An async server gives each subscription its own queue and
// goroutine, the way nats.go runs async subscriptions.
type fakeServer struct {
	async bool

	mu      sync.Mutex
	subs    []*fakeSub
	inboxes map[string]*inbox
	next    int
	pubs    []published
}

type inbox struct {
	data []byte
	done chan struct{}
}

type published struct {
	subject string
	data    []byte
	headers map[string]string
}

type fakeSub struct {
	srv     *fakeServer
	subject string
	h       nats.MsgHandler

	queue chan *nats.Msg
	stop  chan struct{}
	once  sync.Once
}

func (s *fakeSub) Unsubscribe() error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()

	for i, x := range s.srv.subs {
		if x == s {
			s.srv.subs = append(s.srv.subs[:i:i], s.srv.subs[i+1:]...)
			break
		}
	}

	s.once.Do(func() { close(s.stop) })

	return nil
}

func (s *fakeSub) run() {
	for {
		select {
		case m := <-s.queue:
			s.h(m)
		case <-s.stop:
			return
		}
	}
}

func (s *fakeSub) push(m *nats.Msg) {
	if s.queue == nil {
		s.h(m)
		return
	}

	select {
	case s.queue <- m:
	case <-s.stop:
	}
}

func newFakeServer() *fakeServer {
	return &fakeServer{inboxes: map[string]*inbox{}}
}

func newAsyncFakeServer() *fakeServer {
	s := newFakeServer()
	s.async = true

	return s
}

func (s *fakeServer) client() *fakeClient { return &fakeClient{srv: s} }

// matches implements NATS subject wildcards: * for one token, > for the rest.
func matches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	t := strings.Split(subject, ".")

	for i, tok := range p {
		if tok == ">" {
			return len(t) > i
		}

		if i >= len(t) || (tok != "*" && tok != t[i]) {
			return false
		}
	}

	return len(p) == len(t)
}

func (s *fakeServer) deliver(m *nats.Msg) int {
	var subs []*fakeSub

	s.mu.Lock()
	for _, sub := range s.subs {
		if matches(sub.subject, m.Subject) {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.push(m)
	}

	return len(subs)
}

func (s *fakeServer) sent(subject string) []published {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []published

	for _, p := range s.pubs {
		if p.subject == subject {
			out = append(out, p)
		}
	}

	return out
}

func (s *fakeServer) subscriptions(subject string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, sub := range s.subs {
		if sub.subject == subject {
			n++
		}
	}

	return n
}

type fakeClient struct {
	srv    *fakeServer
	closed bool
}

func (c *fakeClient) Publish(subject string, data []byte, headers map[string]string) error {
	s := c.srv

	s.mu.Lock()
	s.pubs = append(s.pubs, published{subject, data, headers})

	if box, ok := s.inboxes[subject]; ok {
		delete(s.inboxes, subject)
		box.data = data
		close(box.done)
		s.mu.Unlock()

		return nil
	}
	s.mu.Unlock()

	s.deliver(&nats.Msg{Subject: subject, Data: data, Headers: headers})

	return nil
}

func (c *fakeClient) Request(ctx context.Context, subject string, data []byte, headers map[string]string) ([]byte, error) {
	s := c.srv

	s.mu.Lock()
	s.next++
	reply := "_INBOX." + strconv.Itoa(s.next)
	box := &inbox{done: make(chan struct{})}
	s.inboxes[reply] = box
	s.pubs = append(s.pubs, published{subject, data, headers})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inboxes, reply)
		s.mu.Unlock()
	}()

	if s.deliver(&nats.Msg{Subject: subject, Reply: reply, Data: data, Headers: headers}) == 0 {
		return nil, nats.ErrNoResponders
	}

	select {
	case <-box.done:
		return box.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeClient) Subscribe(subject string, h nats.MsgHandler) (nats.Subscription, error) {
	sub := &fakeSub{srv: c.srv, subject: subject, h: h, stop: make(chan struct{})}

	if c.srv.async {
		sub.queue = make(chan *nats.Msg, 256)
		go sub.run()
	}

	c.srv.mu.Lock()
	c.srv.subs = append(c.srv.subs, sub)
	c.srv.mu.Unlock()

	return sub, nil
}

func (c *fakeClient) Close() { c.closed = true }
