// Package slave implements the MCCS slave-side Modbus register surface
// exposed to the SID at address 63 (spec §4.8): the antenna map, the
// service log read/write cursor protocol, and a read-only PDoC map
// mirror. It listens on a separate endpoint from the master-side poll
// loop and answers requests against the same persisted station state.
package slave

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lowfreq-pasd/mccs/modbus"
	"github.com/lowfreq-pasd/mccs/store"
)

// Register regions, spec §4.8.
const (
	AntennaMapBase  uint16 = 1
	AntennaMapCount uint16 = 256

	LogCursorBase uint16 = 1001
	LogPrimeCount uint16 = 10 // ANTNUM(1) + CHIPID(8) + LOGNUM(1)
	LogDataBase   uint16 = 1011
	LogDataEnd    uint16 = 1126
	LogDataCount  uint16 = LogDataEnd - LogDataBase + 1

	PDoCMapBase  uint16 = 1201
	PDoCMapCount uint16 = 28
)

// Address is the fixed Modbus station address this surface answers to.
const Address byte = 63

// Antenna packs a SMARTbox address (1..24) and port number (1..12); zero
// means "disconnected" (spec §3 "Antenna map").
type Antenna struct {
	SMARTbox byte
	Port     byte
}

func (a Antenna) disconnected() bool { return a.SMARTbox == 0 && a.Port == 0 }

func decodeAntenna(word uint16) Antenna {
	return Antenna{SMARTbox: byte(word >> 8), Port: byte(word)}
}

func (a Antenna) encode() uint16 {
	return uint16(a.SMARTbox)<<8 | uint16(a.Port)
}

type cursor struct {
	primed  bool
	antenna uint16
	chipID  [16]byte
	logNum  uint32
}

// matches reports whether a log entry passes this cursor's filter
// predicate (spec §3 "Service log"): by antenna if non-zero, by chipid
// if non-zero, station-wide if both are zero.
func (c cursor) matches(e store.LogEntry) bool {
	if c.antenna != 0 {
		return e.Antenna == c.antenna
	}
	var zero [16]byte
	if c.chipID != zero {
		return e.ChipID == c.chipID
	}
	return true
}

// Surface owns the antenna map, per-session service log cursors, and the
// PDoC map mirror, serialised through a single channel-owned goroutine
// in the same style as the teacher's server cache: every operation is a
// closure submitted to that goroutine, so concurrent reads and writes
// from the network listener never race.
type Surface struct {
	kv  store.KV
	log store.Log

	op chan func()

	antennaMap [AntennaMapCount + 1]Antenna // 1-based; index 0 unused
	pdocMap    [PDoCMapCount + 1]byte       // 1-based; 0 = no SMARTbox

	cursors map[string]*cursor

	logger logrus.FieldLogger
}

const antennaMapKey = "antenna-map"

// NewSurface constructs a Surface, loading a previously persisted
// antenna map from kv if present.
func NewSurface(kv store.KV, log store.Log, logger logrus.FieldLogger) (*Surface, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Surface{
		kv:      kv,
		log:     log,
		op:      make(chan func()),
		cursors: make(map[string]*cursor),
		logger:  logger,
	}
	go s.manage()

	raw, ok, err := kv.Get(antennaMapKey)
	if err != nil {
		return nil, fmt.Errorf("slave: loading antenna map: %w", err)
	}
	if ok {
		if len(raw) != int(AntennaMapCount)*2 {
			return nil, fmt.Errorf("slave: persisted antenna map has %d bytes, want %d", len(raw), AntennaMapCount*2)
		}
		for i := 0; i < int(AntennaMapCount); i++ {
			s.antennaMap[i+1] = decodeAntenna(binary.BigEndian.Uint16(raw[2*i:]))
		}
	}
	return s, nil
}

func (s *Surface) manage() {
	for fn := range s.op {
		fn()
	}
}

func (s *Surface) do(fn func()) {
	done := make(chan struct{})
	s.op <- func() {
		fn()
		close(done)
	}
	<-done
}

// SetPDoCMap installs the discovered PDoC->SMARTbox map (spec §4.8
// "1201..1228: FNDH PDoC map (read-only)"); called by the station
// orchestrator after discovery, never by a remote write.
func (s *Surface) SetPDoCMap(m [PDoCMapCount]byte) {
	s.do(func() {
		for i, v := range m {
			s.pdocMap[i+1] = v
		}
	})
}

// HandleRequest dispatches one Modbus request already validated to be
// addressed to Address. sessionID identifies the underlying transport
// connection, so service-log cursors are kept per-session (spec §9
// "Session state on the slave surface").
func (s *Surface) HandleRequest(sessionID string, function byte, payload []byte) ([]byte, error) {
	switch function {
	case modbus.FuncReadHolding:
		return s.readHolding(sessionID, payload)
	case modbus.FuncWriteSingle:
		return s.writeSingle(sessionID, payload)
	case modbus.FuncWriteMultiple:
		return s.writeMultiple(sessionID, payload)
	default:
		return nil, modbus.NewException(modbus.ExIllegalFunction)
	}
}

func (s *Surface) readHolding(sessionID string, payload []byte) ([]byte, error) {
	if len(payload) != 4 {
		return nil, modbus.NewException(modbus.ExIllegalDataValue)
	}
	regnum := binary.BigEndian.Uint16(payload[0:]) + 1 // wire carries regnum-1
	count := binary.BigEndian.Uint16(payload[2:])
	if count < 1 || count > 125 {
		return nil, modbus.NewException(modbus.ExIllegalDataValue)
	}

	switch {
	case inRange(regnum, count, AntennaMapBase, AntennaMapCount):
		return s.readAntennaMap(regnum, count), nil
	case regnum == LogDataBase && count == LogDataCount:
		return s.readLogData(sessionID)
	case inRange(regnum, count, PDoCMapBase, PDoCMapCount):
		return s.readPDoCMap(regnum, count), nil
	default:
		return nil, modbus.NewException(modbus.ExIllegalDataAddress)
	}
}

func (s *Surface) writeSingle(sessionID string, payload []byte) ([]byte, error) {
	if len(payload) != 4 {
		return nil, modbus.NewException(modbus.ExIllegalDataValue)
	}
	regnum := binary.BigEndian.Uint16(payload[0:]) + 1
	value := binary.BigEndian.Uint16(payload[2:])

	if inRange(regnum, 1, AntennaMapBase, AntennaMapCount) {
		if err := s.writeAntennaMap(regnum, []uint16{value}); err != nil {
			return nil, err
		}
		return payload, nil
	}
	return nil, modbus.NewException(modbus.ExIllegalDataAddress)
}

func (s *Surface) writeMultiple(sessionID string, payload []byte) ([]byte, error) {
	if len(payload) < 5 {
		return nil, modbus.NewException(modbus.ExIllegalDataValue)
	}
	regnum := binary.BigEndian.Uint16(payload[0:]) + 1
	count := binary.BigEndian.Uint16(payload[2:])
	byteCount := payload[4]
	if int(byteCount) != int(count)*2 || len(payload) != 5+int(byteCount) {
		return nil, modbus.NewException(modbus.ExIllegalDataValue)
	}
	data := payload[5:]
	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i:])
	}

	switch {
	case inRange(regnum, count, AntennaMapBase, AntennaMapCount):
		if err := s.writeAntennaMap(regnum, values); err != nil {
			return nil, err
		}
	case regnum == LogCursorBase && count == LogPrimeCount:
		if err := s.primeCursor(sessionID, values); err != nil {
			return nil, err
		}
	case regnum == LogCursorBase && count == LogPrimeCount+LogDataCount:
		if err := s.primeAndAppend(sessionID, values); err != nil {
			return nil, err
		}
	case inRange(regnum, count, PDoCMapBase, PDoCMapCount):
		return nil, modbus.NewException(modbus.ExIllegalDataAddress)
	default:
		return nil, modbus.NewException(modbus.ExIllegalDataAddress)
	}
	return payload[:4], nil
}

func inRange(regnum, count, base, blockCount uint16) bool {
	return regnum >= base && uint32(regnum)+uint32(count)-1 <= uint32(base)+uint32(blockCount)-1
}

func (s *Surface) readAntennaMap(regnum, count uint16) []byte {
	var out []byte
	s.do(func() {
		out = make([]byte, count*2)
		for i := uint16(0); i < count; i++ {
			binary.BigEndian.PutUint16(out[2*i:], s.antennaMap[regnum+i].encode())
		}
	})
	return append([]byte{byte(count * 2)}, out...)
}

func (s *Surface) readPDoCMap(regnum, count uint16) []byte {
	var out []byte
	s.do(func() {
		out = make([]byte, count*2)
		for i := uint16(0); i < count; i++ {
			binary.BigEndian.PutUint16(out[2*i:], uint16(s.pdocMap[regnum-PDoCMapBase+1+i]))
		}
	})
	return append([]byte{byte(count * 2)}, out...)
}

// writeAntennaMap applies values atomically: the candidate map is
// computed in full, checked for injectivity across every non-zero
// entry, and only committed if the check passes. A violation leaves the
// map completely unchanged and reports exception 0x02 (spec §4.8,
// §8 "Atomic map write").
func (s *Surface) writeAntennaMap(regnum uint16, values []uint16) error {
	var exc error
	s.do(func() {
		candidate := s.antennaMap
		for i, v := range values {
			candidate[regnum+uint16(i)] = decodeAntenna(v)
		}
		seen := make(map[Antenna]uint16, AntennaMapCount)
		for antenna := uint16(1); antenna <= AntennaMapCount; antenna++ {
			a := candidate[antenna]
			if a.disconnected() {
				continue
			}
			if prior, dup := seen[a]; dup {
				s.logger.WithFields(logrus.Fields{
					"antenna_a": prior,
					"antenna_b": antenna,
					"smartbox":  a.SMARTbox,
					"port":      a.Port,
				}).Warn("antenna map write rejected: injectivity violation")
				exc = modbus.NewException(modbus.ExIllegalDataAddress)
				return
			}
			seen[a] = antenna
		}
		s.antennaMap = candidate
		if err := s.persistAntennaMap(); err != nil {
			s.logger.WithError(err).Error("failed to persist antenna map")
		}
	})
	return exc
}

func (s *Surface) persistAntennaMap() error {
	buf := make([]byte, AntennaMapCount*2)
	for i := uint16(0); i < AntennaMapCount; i++ {
		binary.BigEndian.PutUint16(buf[2*i:], s.antennaMap[i+1].encode())
	}
	return s.kv.Put(antennaMapKey, buf)
}

// primeCursor handles a 0x10 write to exactly LogCursorBase..+10,
// setting (ANTNUM, CHIPID, LOGNUM) for sessionID's cursor. The ANTNUM/
// CHIPID mutual-exclusion constraint is spec §4.8's "at most one
// non-zero"; a violation is exception 0x03.
func (s *Surface) primeCursor(sessionID string, values []uint16) error {
	antnum := values[0]
	var chipID [16]byte
	for i := 0; i < 8; i++ {
		binary.BigEndian.PutUint16(chipID[2*i:], values[1+i])
	}
	logNum := uint32(values[9])

	var zero [16]byte
	if antnum != 0 && chipID != zero {
		return modbus.NewException(modbus.ExIllegalDataValue)
	}

	s.do(func() {
		s.cursors[sessionID] = &cursor{primed: true, antenna: antnum, chipID: chipID, logNum: logNum}
	})
	return nil
}

// ErrCursorUnprimed reports a read of the log data region before the
// session primed a cursor (spec §7 CursorUnprimed).
var ErrCursorUnprimed = fmt.Errorf("slave: service log cursor not primed")

// readLogData answers a 0x03 read of exactly the data region: the entry
// at the primed LOGNUM (0 = newest) matching the cursor's filter, then
// advances LOGNUM by one toward older entries (spec §8 "Cursor
// advance").
func (s *Surface) readLogData(sessionID string) ([]byte, error) {
	var (
		c   *cursor
		ok  bool
		buf []byte
	)
	s.do(func() {
		c, ok = s.cursors[sessionID]
	})
	if !ok || !c.primed {
		return nil, ErrCursorUnprimed
	}

	entry, found, ferr := s.findFiltered(*c)
	if ferr != nil {
		return nil, ferr
	}
	buf = make([]byte, LogDataCount*2)
	if found {
		msg := []byte(entry.Message)
		if len(msg) > int(LogDataCount*2) {
			msg = msg[:LogDataCount*2]
		}
		copy(buf, msg)
	}

	s.do(func() {
		if cur, ok := s.cursors[sessionID]; ok {
			cur.logNum++
		}
	})
	return append([]byte{byte(len(buf))}, buf...), nil
}

// findFiltered walks the log from newest to oldest, returning the
// (c.logNum)'th entry that matches the cursor's filter predicate, 0 =
// newest matching entry.
func (s *Surface) findFiltered(c cursor) (store.LogEntry, bool, error) {
	total, err := s.log.Len()
	if err != nil {
		return store.LogEntry{}, false, err
	}
	matched := uint32(0)
	for i := int64(total) - 1; i >= 0; i-- {
		e, err := s.log.At(uint64(i))
		if err != nil {
			return store.LogEntry{}, false, err
		}
		if !c.matches(e) {
			continue
		}
		if matched == c.logNum {
			return e, true, nil
		}
		matched++
	}
	return store.LogEntry{}, false, nil
}

// primeAndAppend handles a single 0x10 write spanning both the prime
// fields and the data region in one frame: prime the cursor, then
// append the data region (NUL-terminated) as a new log entry tagged
// with the primed antenna/chipid (spec §4.8 "A write to 1011..1126
// (with priming in the same frame) appends").
func (s *Surface) primeAndAppend(sessionID string, values []uint16) error {
	if err := s.primeCursor(sessionID, values[:LogPrimeCount]); err != nil {
		return err
	}
	data := values[LogPrimeCount:]
	buf := make([]byte, 0, len(data)*2)
	for _, w := range data {
		buf = append(buf, byte(w>>8), byte(w))
	}
	if i := indexNUL(buf); i >= 0 {
		buf = buf[:i]
	}

	var c cursor
	s.do(func() { c = *s.cursors[sessionID] })

	entry := store.LogEntry{Antenna: c.antenna, ChipID: c.chipID, Message: string(buf)}
	_, err := s.log.Append(entry)
	return err
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
