// Package store defines the persistence, clock, and calibration
// boundaries the spec scopes out of the control plane proper (spec §1
// "Deliberately OUT of scope"): wall-clock time, a key/value plus
// append-only log interface, and raw-ADU-to-physical-unit conversion.
package store

import "time"

// Clock is the injected source of wall-clock time, so poll timestamps
// and the SMARTbox breaker-retry debounce are testable without real
// sleeps. The station orchestrator's discovery delays and poll cadence
// use real timers and do not read this clock.
type Clock interface {
	Now() time.Time
}

// KV is a small persistent key/value store: the antenna map and the PDoC
// map are serialised into it. Per-device threshold sets are not stored
// here; they are taken from configuration at each startup.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// LogEntry is one service-log record (spec §3 "Service log").
type LogEntry struct {
	Antenna   uint16 // 0..256, 0 = station-wide
	ChipID    [16]byte
	Timestamp time.Time
	Message   string // <= 250 bytes
}

// Log is an append-only sequence of service log entries. Entries are
// addressed by a monotonically increasing sequence number starting at
// zero for the oldest retained entry.
type Log interface {
	// Append adds an entry and returns its sequence number.
	Append(e LogEntry) (seq uint64, err error)
	// Len returns the number of entries currently retained.
	Len() (uint64, error)
	// At returns the entry at the given sequence number, newest-first
	// when iterated by decreasing LogNum per the slave surface's cursor
	// protocol (spec §4.8): LogNum 0 is the newest entry.
	At(seq uint64) (LogEntry, error)
}

// Calibration converts a raw ADU channel reading to a signed 16-bit
// engineering value. Spec §9 leaves P*_CURRENT's units an open question
// ("clearly a documentation error"); this system treats every analog
// channel's scaling as opaque and injected, rather than hard-coding a
// conversion the spec itself disclaims.
type Calibration interface {
	Convert(channel string, raw int16) int16
}

// IdentityCalibration is a Calibration that performs no conversion,
// useful for tests and for channels whose raw ADU value is already the
// engineering unit (e.g. registers already scaled by firmware, such as
// V*100 or degC*100 values the spec defines directly).
type IdentityCalibration struct{}

func (IdentityCalibration) Convert(_ string, raw int16) int16 { return raw }
