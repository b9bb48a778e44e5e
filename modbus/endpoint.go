package modbus

import (
	"io"
	"time"
)

// Endpoint is the byte-stream transport a Transactor drives. Spec §1
// scopes the concrete transport (the Ethernet-serial bridge, or the SID's
// infra-red link, which uses identical framing) out of this module: any
// io.Reader/io.Writer with deadline support — a net.Conn, a serial port,
// an in-memory pipe in tests — satisfies it.
type Endpoint interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}
