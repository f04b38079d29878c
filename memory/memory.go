package memory

import (
	"log/slog"

	"github.com/next-trace/scg-hardbus/adapters/inmemory"
	"github.com/next-trace/scg-hardbus/servicebus"
)

// New constructs a servicebus.Bus with in-memory session and system buses and returns it
// along with a cleanup function that closes both connections. opts may add signal sinks
// or further transports.
func New(logger *slog.Logger, opts ...servicebus.Option) (*servicebus.Bus, func()) {
	sb := servicebus.New(logger, append([]servicebus.Option{
		servicebus.WithTransport(servicebus.SessionBus, inmemory.New()),
		servicebus.WithTransport(servicebus.SystemBus, inmemory.New()),
	}, opts...)...)
	cleanup := func() { _ = sb.Close() }

	return sb, cleanup
}
