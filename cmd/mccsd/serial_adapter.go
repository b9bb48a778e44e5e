//go:build serial

// This file is only built with `-tags serial`. The core packages
// (modbus, device, station, slave) never import a concrete serial
// driver -- spec §1 scopes the physical transport out of the control
// plane -- so the real go.bug.st/serial dependency is confined to this
// one optional adapter, wired in only when a deployment talks to the
// bus over a local serial port instead of the Ethernet-serial bridge.
package main

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// serialEndpoint adapts a go.bug.st/serial Port to modbus.Endpoint.
// SetReadDeadline is absolute per io/net convention; the underlying
// library only exposes a relative read timeout, so this wrapper
// translates on every call.
type serialEndpoint struct {
	port serial.Port
}

func openSerialEndpoint(device string, baud int) (modbusEndpointCloser, error) {
	mode := &serial.Mode{BaudRate: baud, Parity: serial.NoParity, DataBits: 8, StopBits: serial.OneStopBit}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("mccsd: opening serial port %s: %w", device, err)
	}
	return &serialEndpoint{port: port}, nil
}

func (s *serialEndpoint) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialEndpoint) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *serialEndpoint) SetReadDeadline(t time.Time) error {
	remaining := time.Until(t)
	if remaining < 0 {
		remaining = 0
	}
	return s.port.SetReadTimeout(remaining)
}

func (s *serialEndpoint) Close() error { return s.port.Close() }
