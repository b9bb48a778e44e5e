package modbus

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeEndpoint adapts a net.Conn (as produced by net.Pipe) to Endpoint for
// tests, giving the Transactor a real deadline-aware byte stream without
// any actual serial hardware.
type pipeEndpoint struct {
	net.Conn
}

func newTestPair(t *testing.T) (*Transactor, net.Conn) {
	t.Helper()
	client, device := net.Pipe()
	tr := NewTransactor(pipeEndpoint{client}, logrus.New())
	tr.SetTimeout(200 * time.Millisecond)
	t.Cleanup(func() { client.Close(); device.Close() })
	return tr, device
}

func readFrame(t *testing.T, device net.Conn) Frame {
	t.Helper()
	buf := make([]byte, 256)
	n, err := device.Read(buf)
	require.NoError(t, err)
	f, err := Decode(buf[:n])
	require.NoError(t, err)
	return f
}

func TestTransactorReadHolding(t *testing.T) {
	tr, device := newTestPair(t)

	done := make(chan struct{})
	var values []uint16
	var err error
	go func() {
		values, err = tr.ReadHolding(0x01, 1, 2)
		close(done)
	}()

	req := readFrame(t, device)
	assert.Equal(t, byte(0x01), req.Address)
	assert.Equal(t, FuncReadHolding, req.Function)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02}, req.Payload)

	resp := Encode(Frame{Address: 0x01, Function: FuncReadHolding, Payload: []byte{0x04, 0x00, 0x64, 0x00, 0xC8}})
	_, werr := device.Write(resp)
	require.NoError(t, werr)

	<-done
	require.NoError(t, err)
	assert.Equal(t, []uint16{100, 200}, values)
}

func TestTransactorReadHoldingInvalidCount(t *testing.T) {
	tr, _ := newTestPair(t)
	_, err := tr.ReadHolding(0x01, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = tr.ReadHolding(0x01, 1, 126)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestTransactorWriteRegister(t *testing.T) {
	tr, device := newTestPair(t)

	done := make(chan struct{})
	var err error
	go func() {
		err = tr.WriteRegister(0x02, 10, 0x00FF)
		close(done)
	}()

	req := readFrame(t, device)
	resp := Encode(Frame{Address: req.Address, Function: req.Function, Payload: req.Payload})
	_, werr := device.Write(resp)
	require.NoError(t, werr)

	<-done
	require.NoError(t, err)
}

func TestTransactorWriteRegisterEchoMismatch(t *testing.T) {
	tr, device := newTestPair(t)

	done := make(chan struct{})
	var err error
	go func() {
		err = tr.WriteRegister(0x02, 10, 0x00FF)
		close(done)
	}()

	req := readFrame(t, device)
	resp := Encode(Frame{Address: req.Address, Function: req.Function, Payload: []byte{0x00, 0x09, 0x00, 0xFF}})
	_, werr := device.Write(resp)
	require.NoError(t, werr)

	<-done
	assert.ErrorIs(t, err, ErrEchoMismatch)
}

func TestTransactorException(t *testing.T) {
	tr, device := newTestPair(t)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = tr.ReadHolding(0x01, 5000, 10)
		close(done)
	}()

	req := readFrame(t, device)
	resp := Encode(Frame{Address: req.Address, Function: req.Function | exceptionBit, Payload: []byte{ExIllegalDataAddress}})
	_, werr := device.Write(resp)
	require.NoError(t, werr)

	<-done
	var ex *Exception
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, ExIllegalDataAddress, ex.Code)
}

func TestTransactorTimeout(t *testing.T) {
	tr, device := newTestPair(t)
	tr.SetTimeout(50 * time.Millisecond)
	// The device accepts the request but never answers it.
	go io.Copy(io.Discard, device)

	start := time.Now()
	_, err := tr.ReadHolding(0x09, 1, 1)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTransactorToleratesSpuriousBytes(t *testing.T) {
	tr, device := newTestPair(t)

	done := make(chan struct{})
	var values []uint16
	var err error
	go func() {
		values, err = tr.ReadHolding(0x01, 1, 1)
		close(done)
	}()

	readFrame(t, device)
	// Simulate the SID interleaving an unrelated exchange (a different
	// station, a different function code) before the real response
	// arrives; it cannot be our reply, so it is dropped rather than
	// failing the transaction.
	spurious := Encode(Frame{Address: 0x07, Function: FuncWriteSingle, Payload: []byte{0x00, 0x01, 0x00, 0x2A}})
	_, werr := device.Write(spurious)
	require.NoError(t, werr)

	resp := Encode(Frame{Address: 0x01, Function: FuncReadHolding, Payload: []byte{0x02, 0x00, 0x2A}})
	_, werr = device.Write(resp)
	require.NoError(t, werr)

	<-done
	require.NoError(t, err)
	assert.Equal(t, []uint16{42}, values)
}

func TestTransactorAddressMismatch(t *testing.T) {
	tr, device := newTestPair(t)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = tr.ReadHolding(0x01, 1, 1)
		close(done)
	}()

	readFrame(t, device)
	// A well-formed reply to our function code, but from the wrong
	// station: unambiguously not our response, so it must fail the
	// transaction rather than being waited past.
	resp := Encode(Frame{Address: 0x02, Function: FuncReadHolding, Payload: []byte{0x02, 0x00, 0x2A}})
	_, werr := device.Write(resp)
	require.NoError(t, werr)

	<-done
	assert.ErrorIs(t, err, ErrAddressMismatch)
}

func TestTransactorBusyRejectsOverlap(t *testing.T) {
	tr, device := newTestPair(t)

	done := make(chan struct{})
	go func() {
		_, _ = tr.ReadHolding(0x01, 1, 1)
		close(done)
	}()

	// Give the first transaction time to acquire the lock and send its
	// request before the second is attempted.
	time.Sleep(20 * time.Millisecond)
	_, err := tr.ReadHolding(0x01, 1, 1)
	assert.ErrorIs(t, err, ErrBusy)

	readFrame(t, device)
	resp := Encode(Frame{Address: 0x01, Function: FuncReadHolding, Payload: []byte{0x02, 0x00, 0x01}})
	_, werr := device.Write(resp)
	require.NoError(t, werr)
	<-done
}

var _ io.ReadWriter = pipeEndpoint{}
