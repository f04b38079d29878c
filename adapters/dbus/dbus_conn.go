package dbus

import (
	"fmt"

	godbus "github.com/godbus/dbus/v5"

	berr "github.com/next-trace/scg-hardbus/contract/errors"
)

// Concrete D-Bus connection constructor.

type Config struct {
	// Bus is "session" or "system". Ignored when Address is set.
	Bus string
	// Address is an explicit bus address such as "unix:path=/run/dbus/system_bus_socket".
	Address string
}

// NewWithDBus connects to the configured bus and returns a Transport and a cleanup.
func NewWithDBus(cfg Config) (*Transport, func(), error) {
	var (
		conn *godbus.Conn
		err  error
	)

	switch {
	case cfg.Address != "":
		conn, err = godbus.Connect(cfg.Address)
	case cfg.Bus == "" || cfg.Bus == "session":
		conn, err = godbus.ConnectSessionBus()
	case cfg.Bus == "system":
		conn, err = godbus.ConnectSystemBus()
	default:
		return nil, nil, fmt.Errorf("%w: dbus bus %q must be session or system", berr.ErrConfiguration, cfg.Bus)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("%w: dbus connect: %w", berr.ErrConfiguration, err)
	}

	t := New(conn)
	cleanup := func() { _ = t.Close() }

	return t, cleanup, nil
}
