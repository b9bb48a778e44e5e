package main

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/lowfreq-pasd/mccs/modbus"
	"github.com/lowfreq-pasd/mccs/slave"
	"github.com/lowfreq-pasd/mccs/store"
)

// newSlaveSurface builds the MCCS slave register surface over the same
// persisted state the station orchestrator uses (spec §3 "Ownership").
func newSlaveSurface(db *store.BoltDB, log *logrus.Logger) (*slave.Surface, error) {
	return slave.NewSurface(db.KV(), db.Log(), log.WithField("component", "slave"))
}

// serveSlave accepts connections from the SID on listener and answers
// Modbus-ASCII requests addressed to slave.Address (spec §4.8). Each
// connection is its own session, so service-log cursors are naturally
// scoped per spec §9 "Session state on the slave surface".
func serveSlave(ctx context.Context, listener net.Listener, surface *slave.Surface, log logrus.FieldLogger) {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("slave listener accept failed")
			continue
		}
		go handleSlaveConn(conn, surface, log)
	}
}

func handleSlaveConn(conn net.Conn, surface *slave.Surface, log logrus.FieldLogger) {
	defer conn.Close()
	sessionID := conn.RemoteAddr().String()
	var buf []byte
	chunk := make([]byte, 256)

	for {
		for {
			raw, consumed, ok := modbus.Scan(buf)
			if !ok {
				buf = buf[consumed:]
				break
			}
			buf = buf[consumed:]

			f, err := modbus.Decode(raw)
			if err != nil {
				log.WithError(err).Debug("slave: dropping unparsable frame")
				continue
			}
			if f.Address != slave.Address {
				continue
			}
			respond(conn, f, surface, sessionID, log)
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Debug("slave: connection closed")
			}
			return
		}
	}
}

func respond(conn net.Conn, f modbus.Frame, surface *slave.Surface, sessionID string, log logrus.FieldLogger) {
	payload, err := surface.HandleRequest(sessionID, f.Function, f.Payload)
	function := f.Function
	if err != nil {
		exc, ok := err.(*modbus.Exception)
		if !ok {
			log.WithError(err).Warn("slave: internal error handling request")
			exc = modbus.NewException(modbus.ExDeviceFailure)
		}
		function |= 0x80
		payload = []byte{exc.Code}
	}
	frame := modbus.Encode(modbus.Frame{Address: slave.Address, Function: function, Payload: payload})
	if _, werr := conn.Write(frame); werr != nil {
		log.WithError(werr).Debug("slave: write failed")
	}
}
