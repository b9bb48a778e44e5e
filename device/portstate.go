package device

// TwoBit is a two-bit wire field. Writing 00 always means "leave the
// firmware value for this field unchanged" (spec §9 "Bit-packed port
// state"); this package follows that by treating every write as a
// masked update rather than a full register replace, the same shape as
// the teacher's masked-write holding-register handler.
type TwoBit uint8

const (
	TwoUnchanged TwoBit = 0b00
	TwoReserved  TwoBit = 0b01
	TwoOff       TwoBit = 0b10
	TwoOn        TwoBit = 0b11
)

// Intent is the persisted (firmware-side) desired-state value for DSON
// or DSOFF: unset until the first accepted ON/OFF write.
type Intent int

const (
	IntentUnset Intent = iota
	IntentOff
	IntentOn
)

// Override is the persisted TO (technician override) state.
type Override int

const (
	OverrideNone Override = iota
	OverrideForceOff
	OverrideForceOn
)

// Port state register bit layout, MSB first (spec §6 "Port state
// register layout"). Shared by SMARTbox (bit 7 = BREAKER) and FNDH
// (bit 7 = PWRSENSE).
const (
	bitEnable     = 15
	bitOnline     = 14
	shiftDSON     = 12
	shiftDSOFF    = 10
	shiftTO       = 8
	bitLatch      = 7 // BREAKER on SMARTbox, PWRSENSE on FNDH
	bitPower      = 6
	twoBitMask    = 0b11
)

// PortState is the decoded, in-memory mirror of one port state register.
type PortState struct {
	Enable bool
	Online bool
	DSON   Intent
	DSOFF  Intent
	TO     Override
	// Latch is BREAKER (SMARTbox) or PWRSENSE (FNDH): true means the
	// port is currently tripped and forced off regardless of intent.
	Latch bool
	Power bool
}

func twoBitAt(raw uint16, shift uint) TwoBit {
	return TwoBit((raw >> shift) & twoBitMask)
}

// DecodePortState parses a polled port-state register into a PortState
// mirror.
func DecodePortState(raw uint16) PortState {
	return PortState{
		Enable: raw&(1<<bitEnable) != 0,
		Online: raw&(1<<bitOnline) != 0,
		DSON:   intentFromBits(twoBitAt(raw, shiftDSON)),
		DSOFF:  intentFromBits(twoBitAt(raw, shiftDSOFF)),
		TO:     overrideFromBits(twoBitAt(raw, shiftTO)),
		Latch:  raw&(1<<bitLatch) != 0,
		Power:  raw&(1<<bitPower) != 0,
	}
}

func intentFromBits(b TwoBit) Intent {
	switch b {
	case TwoOff:
		return IntentOff
	case TwoOn:
		return IntentOn
	default: // TwoUnchanged or the reserved 01 encoding read back as state
		return IntentUnset
	}
}

func overrideFromBits(b TwoBit) Override {
	switch b {
	case TwoOff:
		return OverrideForceOff
	case TwoOn:
		return OverrideForceOn
	default:
		return OverrideNone
	}
}

// Derived reports the desired ON/OFF state after TO/DSON/DSOFF/ONLINE
// are combined, per spec §4.5: TO wins if set; else DSON if online; else
// DSOFF. An unset Intent means "unknown -> off".
func (p PortState) Derived() bool {
	switch p.TO {
	case OverrideForceOn:
		return true
	case OverrideForceOff:
		return false
	}
	if p.Online {
		return p.DSON == IntentOn
	}
	return p.DSOFF == IntentOn
}

// ObservedPower reports what POWER should read given gating by the
// device's aggregate health: ON iff derived desired is ON, ENABLE is
// set, and the breaker/PWRSENSE latch is not tripped.
func (p PortState) ObservedPower(deviceHealth Health) bool {
	if !deviceHealth.Gates() {
		return false
	}
	return p.Derived() && p.Enable && !p.Latch
}

// Write is a requested two-bit-field write to a port register: each
// field is either left TwoUnchanged or carries an explicit op-code.
// EncodeWrite builds the 16-bit value to send with function 0x06/0x10;
// it always sends ENABLE, ONLINE, the latch bit, and POWER as zero,
// matching the teacher's pattern of only ever touching the masked bits
// a write legitimately owns. The SMARTbox controller sets the latch bit
// itself on top of this value when it resets a tripped breaker.
type Write struct {
	DSON  TwoBit
	DSOFF TwoBit
	TO    TwoBit
}

// EncodeWrite renders w as the register value to write. It reports
// reservedUsed = true if a DSON or DSOFF field used the reserved 01
// encoding, which spec §9 resolves as UNCHANGED with a logged warning;
// the SMARTbox and FNDH controllers log that warning when it is set.
func EncodeWrite(w Write) (value uint16, reservedUsed bool) {
	dson := w.DSON
	if dson == TwoReserved {
		reservedUsed = true
		dson = TwoUnchanged
	}
	dsoff := w.DSOFF
	if dsoff == TwoReserved {
		reservedUsed = true
		dsoff = TwoUnchanged
	}
	value |= uint16(dson) << shiftDSON
	value |= uint16(dsoff) << shiftDSOFF
	value |= uint16(w.TO) << shiftTO
	return value, reservedUsed
}
