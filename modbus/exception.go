package modbus

import "fmt"

// Exception codes defined by the Modbus specification, restricted to the
// ones this system's devices are documented to return.
const (
	// ExIllegalFunction indicates the function code is not supported by
	// the addressed device.
	ExIllegalFunction byte = 0x01
	// ExIllegalDataAddress indicates the combination of starting
	// register and count is not valid for the addressed device.
	ExIllegalDataAddress byte = 0x02
	// ExIllegalDataValue indicates a value in the request is not
	// acceptable (for example, a threshold write that would violate
	// AL <= WL <= WH <= AH).
	ExIllegalDataValue byte = 0x03
	// ExDeviceFailure indicates an unrecoverable error occurred while
	// the addressed device processed the request.
	ExDeviceFailure byte = 0x04
)

// Exception represents a Modbus exception response: the addressed device
// understood the request well enough to reject it with a specific code,
// rather than the transaction layer failing to get a response at all.
type Exception struct {
	Code byte
}

// NewException wraps a raw Modbus exception code.
func NewException(code byte) *Exception {
	return &Exception{Code: code}
}

func (e *Exception) Error() string {
	switch e.Code {
	case ExIllegalFunction:
		return "modbus: exception - illegal function"
	case ExIllegalDataAddress:
		return "modbus: exception - illegal data address"
	case ExIllegalDataValue:
		return "modbus: exception - illegal data value"
	case ExDeviceFailure:
		return "modbus: exception - device failure"
	}
	return fmt.Sprintf("modbus: exception - code 0x%02x", e.Code)
}
