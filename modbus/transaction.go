package modbus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout is the per-transaction deadline used when a Transactor is
// constructed without an explicit one (spec §4.2).
const DefaultTimeout = 500 * time.Millisecond

// lock behaves like a non-blocking sync.Mutex: TryLock either succeeds
// immediately or fails, there is no queuing. Spec §4.2 requires a second
// concurrent transaction attempt to fail with ErrBusy rather than wait,
// since the orchestrator never issues overlapping transactions and a
// queued wait would mask a programming error.
type lock chan struct{}

func newLock() lock {
	l := make(lock, 1)
	l <- struct{}{}
	return l
}

func (l lock) tryLock() bool {
	select {
	case <-l:
		return true
	default:
		return false
	}
}

func (l lock) unlock() {
	l <- struct{}{}
}

// Transactor issues master-side requests over a single Endpoint and pairs
// each with its response, per spec §4.2. At most one transaction may be
// outstanding at a time; the caller owns retry policy entirely (the
// Transactor never retries on its own).
type Transactor struct {
	ep      Endpoint
	timeout time.Duration
	busy    lock
	buf     []byte
	log     logrus.FieldLogger
	diag    *diagnosticsManager
}

// NewTransactor wraps ep with the default 500ms transaction timeout.
func NewTransactor(ep Endpoint, log logrus.FieldLogger) *Transactor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transactor{ep: ep, timeout: DefaultTimeout, busy: newLock(), log: log, diag: newDiagnosticsManager()}
}

// SetTimeout overrides the per-transaction deadline.
func (t *Transactor) SetTimeout(d time.Duration) {
	t.timeout = d
}

// ReadHolding reads count (1..125) contiguous holding registers starting
// at regnum from address, per spec §4.2/§4.3. regnum is 1-based; the wire
// request carries regnum-1.
func (t *Transactor) ReadHolding(address byte, regnum, count uint16) ([]uint16, error) {
	if count < 1 || count > 125 {
		return nil, ErrInvalidRange
	}
	req := make([]byte, 4)
	binary.BigEndian.PutUint16(req[0:], regnum-1)
	binary.BigEndian.PutUint16(req[2:], count)

	resp, err := t.do(address, FuncReadHolding, req)
	if err != nil {
		return nil, err
	}
	if len(resp) < 1 || int(resp[0]) != len(resp)-1 || resp[0] != byte(count*2) {
		return nil, ErrFrameTooShort
	}
	data := resp[1:]
	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return values, nil
}

// WriteRegister writes a single holding register (function 0x06). The
// device must echo the request exactly.
func (t *Transactor) WriteRegister(address byte, regnum, value uint16) error {
	req := make([]byte, 4)
	binary.BigEndian.PutUint16(req[0:], regnum-1)
	binary.BigEndian.PutUint16(req[2:], value)

	resp, err := t.do(address, FuncWriteSingle, req)
	if err != nil {
		return err
	}
	if !bytes.Equal(resp, req) {
		return ErrEchoMismatch
	}
	return nil
}

// WriteRegisters writes 1..123 contiguous holding registers (function
// 0x10). The device responds with the echoed (regnum-1, count).
func (t *Transactor) WriteRegisters(address byte, regnum uint16, values []uint16) error {
	if len(values) < 1 || len(values) > 123 {
		return ErrInvalidRange
	}
	req := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(req[0:], regnum-1)
	binary.BigEndian.PutUint16(req[2:], uint16(len(values)))
	req[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(req[5+2*i:], v)
	}

	resp, err := t.do(address, FuncWriteMultiple, req)
	if err != nil {
		return err
	}
	if len(resp) != 4 || !bytes.Equal(resp, req[:4]) {
		return ErrEchoMismatch
	}
	return nil
}

// do performs one request/response exchange: encode, send, then read
// frames off the endpoint until one matches (address, function|0x80) or
// the deadline expires. Frames from another station address carrying a
// different function code are dropped and waiting continues, tolerating
// the SID sharing the bus; a frame that answers our function code from
// the wrong station address is unambiguous and fails the transaction
// with ErrAddressMismatch immediately (spec §4.2). A frame from the
// addressed station with any other function code fails with
// ErrFunctionMismatch.
func (t *Transactor) do(address, function byte, payload []byte) ([]byte, error) {
	if !t.busy.tryLock() {
		t.diag.busy()
		return nil, ErrBusy
	}
	defer t.busy.unlock()

	log := t.log.WithField("unit", address).WithField("function", function)

	frame := Encode(Frame{Address: address, Function: function, Payload: payload})
	if _, err := t.ep.Write(frame); err != nil {
		log.WithError(err).Debug("modbus: write failed")
		return nil, err
	}

	deadline := time.Now().Add(t.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.drain()
			t.diag.timeout()
			log.Debug("modbus: transaction timed out")
			return nil, ErrTimeout
		}
		if err := t.ep.SetReadDeadline(deadline); err != nil {
			return nil, err
		}

		chunk := make([]byte, 256)
		n, err := t.ep.Read(chunk)
		if n > 0 {
			t.buf = append(t.buf, chunk[:n]...)
		}
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, err
		}

		for {
			raw, consumed, ok := Scan(t.buf)
			if !ok {
				t.buf = t.buf[consumed:]
				break
			}
			t.buf = t.buf[consumed:]

			f, derr := Decode(raw)
			if derr != nil {
				t.diag.commError()
				log.WithError(derr).Debug("modbus: dropping unparsable frame")
				continue
			}
			if f.Address != address {
				if f.Function == function || f.Function == function|exceptionBit {
					// Unambiguously a reply to this transaction, just from
					// the wrong device: report it rather than waiting out
					// the deadline for a response that already arrived.
					t.diag.addressMismatch()
					log.WithField("got_address", f.Address).Debug("modbus: response address mismatch")
					return nil, ErrAddressMismatch
				}
				continue
			}
			switch {
			case f.Function == function:
				t.diag.message()
				return f.Payload, nil
			case f.Function == function|exceptionBit:
				t.diag.exception()
				if len(f.Payload) != 1 {
					return nil, ErrFunctionMismatch
				}
				return nil, NewException(f.Payload[0])
			default:
				return nil, ErrFunctionMismatch
			}
		}
	}
}

// drain discards buffered bytes up to (but not including) the next ':'
// start character, so a timed-out transaction never leaks partial bytes
// into the next one (spec §4.2, §8 "Timeout drain").
func (t *Transactor) drain() {
	if idx := bytes.IndexByte(t.buf, ':'); idx >= 0 {
		t.buf = t.buf[idx:]
	} else {
		t.buf = t.buf[:0]
	}
}
