package rabbitmq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
)

// Concrete AMQP connection-backed constructor and publisher wrapper with auto-reconnect.

const (
	exchangeKind = "topic"

	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

type Config struct {
	URL         string
	ConnTimeout time.Duration
	// Exchange defaults to DefaultExchange.
	Exchange string
}

// session is one live connection and the channel signals are published on.
type session interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	// lost is closed or receives once the broker connection goes away.
	lost() <-chan *amqp.Error
	Close() error
}

type dialFunc func(cfg Config) (session, error)

type amqpSession struct {
	conn *amqp.Connection
	*amqp.Channel
	notify chan *amqp.Error
}

func (s *amqpSession) lost() <-chan *amqp.Error { return s.notify }

func (s *amqpSession) Close() error {
	_ = s.Channel.Close()
	return s.conn.Close()
}

// dialAMQP connects, opens a channel and declares the signal exchange.
func dialAMQP(cfg Config) (session, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-hardbus"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, err
	}

	return &amqpSession{conn: conn, Channel: ch, notify: conn.NotifyClose(make(chan *amqp.Error, 1))}, nil
}

// reconnectingPublisher keeps one session open, redialing with jittered exponential
// backoff whenever the broker drops it. Publishes wait for a session or ctx.
type reconnectingPublisher struct {
	cfg        Config
	dial       dialFunc
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	sess   session
	ready  chan struct{} // closed while sess is usable
	closed chan struct{}
	once   sync.Once
}

func newReconnectingPublisher(cfg Config, dial dialFunc) (*reconnectingPublisher, func()) {
	rp := &reconnectingPublisher{
		cfg:        cfg,
		dial:       dial,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		ready:      make(chan struct{}),
		closed:     make(chan struct{}),
	}

	go rp.run()

	return rp, rp.close
}

func (rp *reconnectingPublisher) current() (session, <-chan struct{}) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	return rp.sess, rp.ready
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	sess, ready := rp.current()

	for sess == nil {
		select {
		case <-rp.closed:
			return fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrPublishFailed)
		default:
		}

		select {
		case <-ready:
		case <-rp.closed:
			return fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrPublishFailed)
		case <-ctx.Done():
			return ctx.Err()
		}

		sess, ready = rp.current()
	}

	return sess.PublishWithContext(ctx, m.Exchange, m.RoutingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Headers:      toTable(m.Headers),
		MessageId:    m.MessageID,
		ContentType:  "application/json",
		Body:         m.Body,
	})
}

func (rp *reconnectingPublisher) run() {
	backoff := rp.minBackoff
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // backoff jitter only

	for {
		sess, err := rp.dial(rp.cfg)
		if err != nil {
			sleep := min(backoff+time.Duration(rng.Int63n(int64(backoff/2)+1)), rp.maxBackoff)

			t := time.NewTimer(sleep)
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}

			backoff = min(backoff*2, rp.maxBackoff)

			continue
		}

		backoff = rp.minBackoff

		rp.mu.Lock()
		select {
		case <-rp.closed:
			rp.mu.Unlock()
			_ = sess.Close()

			return
		default:
		}

		rp.sess = sess
		close(rp.ready)
		rp.mu.Unlock()

		select {
		case <-rp.closed:
			return
		case <-sess.lost():
		}

		rp.mu.Lock()
		rp.sess = nil
		rp.ready = make(chan struct{})
		rp.mu.Unlock()

		_ = sess.Close()
	}
}

func (rp *reconnectingPublisher) close() {
	rp.once.Do(func() {
		rp.mu.Lock()
		defer rp.mu.Unlock()

		close(rp.closed)

		if rp.sess != nil {
			_ = rp.sess.Close()
			rp.sess = nil
		}
	})
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, ensures the signal exchange, and returns a Sink and cleanup.
func NewWithAMQPConn(cfg Config, hp transport.HeaderPropagator) (*Sink, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrConfiguration)
	}

	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}

	pub, cleanup := newReconnectingPublisher(cfg, dialAMQP)
	s := NewWithPropagator(pub, hp)
	s.Exchange = cfg.Exchange

	return s, cleanup, nil
}
