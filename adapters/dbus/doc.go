// Package dbus implements the hardbus transport over a real D-Bus session or system bus
// using github.com/godbus/dbus/v5.
//
// Every hardbus value crosses the bus as a D-Bus string ("s"). Exported methods take one
// string per argument and reply with a single string; implementation errors travel as
// org.freedesktop.DBus.Error.Failed.
package dbus
