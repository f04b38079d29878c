package config

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/next-trace/scg-hardbus/adapters/dbus"
	"github.com/next-trace/scg-hardbus/adapters/inmemory"
	"github.com/next-trace/scg-hardbus/adapters/kafka"
	"github.com/next-trace/scg-hardbus/adapters/nats"
	"github.com/next-trace/scg-hardbus/adapters/rabbitmq"
	berr "github.com/next-trace/scg-hardbus/contract/errors"
	"github.com/next-trace/scg-hardbus/contract/transport"
	"github.com/next-trace/scg-hardbus/servicebus"
	"github.com/next-trace/scg-hardbus/tracing"
)

// Open connects every configured bus and sink and returns the assembled Bus with a
// cleanup that closes them all. extra options are applied after the configured ones.
// On error everything opened so far is closed.
func Open(cfg *Config, logger *slog.Logger, extra ...servicebus.Option) (*servicebus.Bus, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var prop transport.HeaderPropagator = transport.NopHeaderPropagator{}
	if cfg.Tracing {
		prop = tracing.New(nil)
	}

	var (
		opts     []servicebus.Option
		cleanups []func()
	)

	closeAll := func() {
		for _, c := range slices.Backward(cleanups) {
			c()
		}
	}

	for _, sel := range sortedKeys(cfg.Buses) {
		t, cleanup, err := openBus(cfg.Buses[sel], prop)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open bus %q: %w", sel, err)
		}

		logger.Info("bus opened", "bus", sel, "driver", cfg.Buses[sel].Driver)

		cleanups = append(cleanups, cleanup)
		opts = append(opts, servicebus.WithTransport(sel, t))
	}

	for i, s := range cfg.Sinks {
		sink, cleanup, err := openSink(s, prop)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open sink %d: %w", i, err)
		}

		logger.Info("signal sink opened", "driver", s.Driver)

		cleanups = append(cleanups, cleanup)
		opts = append(opts, servicebus.WithSignalSink(sink))
	}

	return servicebus.New(logger, append(opts, extra...)...), closeAll, nil
}

func openBus(b Bus, prop transport.HeaderPropagator) (transport.Transport, func(), error) { //nolint:ireturn
	switch b.Driver {
	case DriverInMemory:
		c := inmemory.New()
		return c, func() { _ = c.Close() }, nil
	case DriverDBus:
		t, cleanup, err := dbus.NewWithDBus(dbus.Config{Bus: b.DBus.Bus, Address: b.DBus.Address})
		if err != nil {
			return nil, nil, err
		}

		return t, cleanup, nil
	case DriverNATS:
		t, cleanup, err := nats.NewWithNATS(nats.Config{
			URL:           b.NATS.URL,
			Name:          b.NATS.Name,
			ConnTimeout:   b.NATS.ConnTimeout,
			MaxReconnects: b.NATS.MaxReconnects,
			Prefix:        b.NATS.Prefix,
			PingTimeout:   b.NATS.PingTimeout,
		}, nats.WithPropagator(prop))
		if err != nil {
			return nil, nil, err
		}

		return t, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q: %w", b.Driver, berr.ErrConfiguration)
	}
}

func openSink(s Sink, prop transport.HeaderPropagator) (transport.SignalSink, func(), error) { //nolint:ireturn
	switch s.Driver {
	case SinkRabbitMQ:
		sink, cleanup, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{
			URL:         s.RabbitMQ.URL,
			Exchange:    s.RabbitMQ.Exchange,
			ConnTimeout: s.RabbitMQ.ConnTimeout,
		}, prop)
		if err != nil {
			return nil, nil, err
		}

		return sink, cleanup, nil
	case SinkKafka:
		kc, err := s.Kafka.ClientConfig()
		if err != nil {
			return nil, nil, err
		}

		sink, cleanup, err := kafka.NewWithKgo(kc)
		if err != nil {
			return nil, nil, err
		}

		return sink, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink driver %q: %w", s.Driver, berr.ErrConfiguration)
	}
}
