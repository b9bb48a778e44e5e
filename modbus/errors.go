package modbus

import "errors"

// Transport and framing errors. These are the non-protocol error kinds
// from spec §7; protocol-level failures reported by a remote device are
// represented by Exception instead (exception.go).
var (
	// ErrFrameTooShort indicates a decoded frame has fewer than the
	// minimum 3 bytes (address, function, LRC); a zero-byte payload is
	// valid and decodes to exactly 3 bytes.
	ErrFrameTooShort = errors.New("modbus: frame too short")
	// ErrBadStartChar indicates the byte stream never produced a ':'
	// start-of-frame marker before the read deadline.
	ErrBadStartChar = errors.New("modbus: missing start character")
	// ErrOddHex indicates the hex body between ':' and CRLF has an odd
	// number of nibbles and cannot be paired into bytes.
	ErrOddHex = errors.New("modbus: odd number of hex digits")
	// ErrBadHexDigit indicates a non-hex-digit character appeared in the
	// frame body.
	ErrBadHexDigit = errors.New("modbus: invalid hex digit")
	// ErrMissingCRLF indicates the frame body was not terminated by CR LF.
	ErrMissingCRLF = errors.New("modbus: missing terminating CRLF")
	// ErrLRCMismatch indicates the trailing LRC byte does not match the
	// two's-complement sum of the preceding bytes.
	ErrLRCMismatch = errors.New("modbus: LRC checksum mismatch")

	// ErrTimeout indicates no matching response arrived within the
	// transaction deadline.
	ErrTimeout = errors.New("modbus: transaction timeout")
	// ErrAddressMismatch indicates a response frame's station address did
	// not match the request's.
	ErrAddressMismatch = errors.New("modbus: response address mismatch")
	// ErrFunctionMismatch indicates a response frame's function code was
	// neither the request's function code nor that function code with the
	// exception bit set.
	ErrFunctionMismatch = errors.New("modbus: response function mismatch")
	// ErrBusy indicates a second transaction was attempted on an endpoint
	// that already has one outstanding.
	ErrBusy = errors.New("modbus: transaction already in progress")
	// ErrInvalidRange indicates a request's address/count or payload
	// length falls outside what spec §4.2 allows; it is rejected before
	// anything is sent on the wire.
	ErrInvalidRange = errors.New("modbus: address or count out of range")
	// ErrEchoMismatch indicates a single/multiple register write response
	// did not echo the request as required.
	ErrEchoMismatch = errors.New("modbus: write response did not echo request")
)
