package device

/*
This file lays out the fixed register tables for the two device kinds
the station drives. Addresses are 1-based register numbers as written in
the spec tables, not wire offsets (the transaction layer subtracts one).
Kept as flat named constants rather than a generated table, in the style
of a device vendor's register map header.
*/

// Station-wide Modbus addresses (spec §6 "Addresses").
const (
	FNDHAddress      byte = 31
	SlaveAddress     byte = 63
	SMARTboxMinAddr  byte = 1
	SMARTboxMaxProd  byte = 24
	SMARTboxMaxLab   byte = 30
)

// SMARTbox polled block, registers 1..59 (spec §6).
const (
	RegMBRV       uint16 = 1
	RegPCBREV     uint16 = 2
	RegCPUID      uint16 = 3 // 2 registers
	RegCHIPID     uint16 = 5 // 8 registers
	RegFIRMVER    uint16 = 13
	RegUPTIME     uint16 = 14 // 2 registers, seconds
	RegADDRESS    uint16 = 16
	Reg48VV       uint16 = 17 // V*100
	RegPSUV       uint16 = 18 // V*100
	RegPSUTEMP    uint16 = 19 // degC*100
	RegPCBTEMP    uint16 = 20 // degC*100
	RegOUTTEMP    uint16 = 21 // degC*100
	RegSTATUS     uint16 = 22
	RegLIGHTS     uint16 = 23
	RegSENSE01    uint16 = 24 // ..35, 12 registers

	// Port registers. Port p (1..12) state is at RegP01State+(p-1),
	// current at RegP01Current+(p-1).
	RegP01State   uint16 = 36 // ..47
	RegP01Current uint16 = 48 // ..59, signed

	SMARTboxPolledCount = 59
)

// SMARTbox config block, registers 1001.. (spec §6). 16 threshold
// channels of 4 registers each, then 12 per-port current trip thresholds.
const (
	RegConfigThresholdsBase uint16 = 1001 // 16 channels * 4 registers = 1001..1064
	RegConfigPortTripBase   uint16 = 1069 // 1069..1080, one per port

	SMARTboxChannelCount   = 16
	SMARTboxConfigCount    = 1080 - 1001 + 1
)

// SMARTboxChannel enumerates the 16 analog channels in config-block
// order, matching RegConfigThresholdsBase's layout.
type SMARTboxChannel int

const (
	Chan48V SMARTboxChannel = iota
	ChanPSUV
	ChanPSUTemp
	ChanPCBTemp
	ChanOutTemp
	ChanSense01
	ChanSense02
	ChanSense03
	ChanSense04
	ChanSense05
	ChanSense06
	ChanSense07
	ChanSense08
	ChanSense09
	ChanSense10
	ChanSense11
	ChanSense12
)

// FNDH polled block, registers 1..54 (spec §6). 1..16 are the same
// system header layout as SMARTbox.
const (
	Reg48V1V     uint16 = 17
	Reg48V2V     uint16 = 18
	Reg5VV       uint16 = 19
	Reg48VI      uint16 = 20
	Reg48VTemp   uint16 = 21
	Reg5VTemp    uint16 = 22
	RegFNDHPCBTemp uint16 = 23
	RegFNDHOutTemp uint16 = 24
	RegFNDHSTATUS  uint16 = 25
	RegFNDHLIGHTS  uint16 = 26
	RegP01StateFNDH uint16 = 27 // ..54, 28 ports

	FNDHPolledCount = 54
	FNDHPortCount   = 28
)

// FNDH config block, registers 1001..1032: 8 channels * 4 registers.
const (
	FNDHChannelCount = 8
	FNDHConfigCount  = 1032 - 1001 + 1
)

// FNDHChannel enumerates the 8 analog channels in config-block order.
type FNDHChannel int

const (
	FNDHChan48V1 FNDHChannel = iota
	FNDHChan48V2
	FNDHChan5V
	FNDHChan48VI
	FNDHChan48VTemp
	FNDHChan5VTemp
	FNDHChanPCBTemp
	FNDHChanOutTemp
)

const (
	SMARTboxPortCount = 12
	SysStatusReg      = RegSTATUS
	FNDHSysStatusReg  = RegFNDHSTATUS
)

// ChannelThresholdRegs returns the (AH, WH, WL, AL) register numbers for
// channel index ch, given the block's base register.
func ChannelThresholdRegs(base uint16, ch int) (ah, wh, wl, al uint16) {
	first := base + uint16(ch)*4
	return first, first + 1, first + 2, first + 3
}
