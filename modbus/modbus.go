/*
Package modbus implements the Modbus-ASCII wire format used on a PaSD
station's shared serial multidrop bus.

A Frame is a station address, a function code, a payload of up to 252
bytes, and a longitudinal redundancy check, encoded as:

	':' + hex(address, function, payload, lrc) + CR + LF

Two things sit on top of the codec: a master-side transaction layer
(Transactor) that pairs a request with its response and enforces a
deadline, and the handful of function codes this system actually uses —
0x03 read holding registers, 0x06 write single register, and 0x10 write
multiple registers. Broadcast and every other Modbus function code are
out of scope.

Only one transaction may be outstanding on an Endpoint at a time; a
second concurrent attempt fails with ErrBusy rather than queuing, because
the bus may also be driven by a second, transient master (the SID) and
the transaction layer has no way to arbitrate between the two.
*/
package modbus

// Function codes this system uses. Broadcast and every other Modbus
// function code are unsupported.
const (
	FuncReadHolding  byte = 0x03
	FuncWriteSingle  byte = 0x06
	FuncWriteMultiple byte = 0x10
)

// exceptionBit marks a function code as an exception response per the
// Modbus specification (function | 0x80).
const exceptionBit byte = 0x80

// IsException reports whether the given function code, as read off the
// wire, denotes an exception response.
func IsException(function byte) bool {
	return function&exceptionBit != 0
}
