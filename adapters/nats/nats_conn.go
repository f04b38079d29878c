package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
	// Prefix is the first subject token; defaults to "hardbus".
	Prefix      string
	PingTimeout time.Duration
}

type natsClient struct{ nc *nats.Conn }

func toHeader(headers map[string]string) nats.Header {
	if len(headers) == 0 {
		return nil
	}

	h := nats.Header{}
	for k, v := range headers {
		h.Add(k, v)
	}

	return h
}

func fromHeader(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}

	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}

	return out
}

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: toHeader(headers)}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) Request(ctx context.Context, subject string, data []byte, headers map[string]string) ([]byte, error) {
	msg := &nats.Msg{Subject: subject, Data: data, Header: toHeader(headers)}

	resp, err := c.nc.RequestMsgWithContext(ctx, msg)
	if errors.Is(err, nats.ErrNoResponders) {
		return nil, ErrNoResponders
	}

	if err != nil {
		return nil, err
	}

	return resp.Data, nil
}

func (c natsClient) Subscribe(subject string, h MsgHandler) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		h(&Msg{Subject: m.Subject, Reply: m.Reply, Data: m.Data, Headers: fromHeader(m.Header)})
	})
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (c natsClient) Close() {
	if !c.nc.IsClosed() {
		_ = c.nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
		c.nc.Close()
	}
}

// NewWithNATS creates a real NATS connection and returns a Transport and a cleanup.
func NewWithNATS(cfg Config, opts ...Option) (*Transport, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrConfiguration)
	}

	nopts := []nats.Option{}
	if cfg.Name != "" {
		nopts = append(nopts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		nopts = append(nopts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		nopts = append(nopts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, nopts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrConfiguration, err)
	}

	opts = append([]Option{WithPrefix(cfg.Prefix), WithPingTimeout(cfg.PingTimeout)}, opts...)
	t := New(natsClient{nc: nc}, opts...)
	cleanup := func() { _ = t.Close() }

	return t, cleanup, nil
}
