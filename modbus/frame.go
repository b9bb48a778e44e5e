package modbus

import (
	"bytes"
	"encoding/hex"
)

// Frame is a decoded Modbus-ASCII application data unit: station address,
// function code, and payload. The LRC is a property of the wire encoding,
// not of the decoded frame, and is recomputed on Encode.
type Frame struct {
	Address  byte
	Function byte
	Payload  []byte
}

// lrc computes the Modbus longitudinal redundancy check over address,
// function, and payload: the two's-complement of the sum of all bytes,
// masked to 8 bits.
func lrc(address, function byte, payload []byte) byte {
	sum := address + function
	for _, b := range payload {
		sum += b
	}
	return -sum
}

// Encode renders a frame as ':' + uppercase hex + CRLF, per spec §4.1.
func Encode(f Frame) []byte {
	body := make([]byte, 0, 2+len(f.Payload)+1)
	body = append(body, f.Address, f.Function)
	body = append(body, f.Payload...)
	body = append(body, lrc(f.Address, f.Function, f.Payload))

	out := make([]byte, 0, 1+hex.EncodedLen(len(body))+2)
	out = append(out, ':')
	hexBuf := make([]byte, hex.EncodedLen(len(body)))
	hex.Encode(hexBuf, body)
	out = append(out, bytes.ToUpper(hexBuf)...)
	out = append(out, '\r', '\n')
	return out
}

// Decode parses a single Modbus-ASCII frame out of buf, where buf is
// expected to begin exactly at the ':' start character and include the
// trailing CRLF (callers typically obtain such a slice from Scan). It
// does not interpret exception
// frames; callers check IsException on the returned Function.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 1 || buf[0] != ':' {
		return Frame{}, ErrBadStartChar
	}
	if len(buf) < 2 || buf[len(buf)-2] != '\r' || buf[len(buf)-1] != '\n' {
		return Frame{}, ErrMissingCRLF
	}
	hexBody := buf[1 : len(buf)-2]
	if len(hexBody)%2 != 0 {
		return Frame{}, ErrOddHex
	}
	if !isHex(hexBody) {
		return Frame{}, ErrBadHexDigit
	}

	raw := make([]byte, hex.DecodedLen(len(hexBody)))
	if _, err := hex.Decode(raw, hexBody); err != nil {
		return Frame{}, ErrBadHexDigit
	}
	if len(raw) < 3 {
		return Frame{}, ErrFrameTooShort
	}

	address, function := raw[0], raw[1]
	payload := raw[2 : len(raw)-1]
	gotLRC := raw[len(raw)-1]
	if want := lrc(address, function, payload); gotLRC != want {
		return Frame{}, ErrLRCMismatch
	}

	return Frame{Address: address, Function: function, Payload: payload}, nil
}

func isHex(b []byte) bool {
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'F':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// Scan locates the next complete Modbus-ASCII frame in buf, discarding any
// bytes before the first ':'. It returns the frame bytes (':' through the
// trailing CRLF inclusive), the number of bytes of buf consumed, and
// whether a complete frame was found. Callers accumulate bytes from the
// Endpoint into buf and call Scan repeatedly; spurious bytes that never
// resolve into ':'...CRLF are silently dropped, matching the bus-tolerance
// requirement of spec §4.2 (a second master, the SID, may interleave
// traffic).
func Scan(buf []byte) (frame []byte, consumed int, ok bool) {
	start := bytes.IndexByte(buf, ':')
	if start < 0 {
		return nil, len(buf), false
	}
	end := bytes.Index(buf[start:], []byte{'\r', '\n'})
	if end < 0 {
		return nil, start, false
	}
	end += start + 2
	return buf[start:end], end, true
}
