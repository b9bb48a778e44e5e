//go:build !serial

package main

import "fmt"

// openSerialEndpoint's default build has no serial driver wired in;
// rebuild with `-tags serial` to talk to the bus over a local port
// instead of the Ethernet-serial bridge.
func openSerialEndpoint(device string, baud int) (modbusEndpointCloser, error) {
	return nil, fmt.Errorf("mccsd: built without serial support (rebuild with -tags serial) for device %s", device)
}
