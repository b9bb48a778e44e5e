package device

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lowfreq-pasd/mccs/regmap"
	"github.com/lowfreq-pasd/mccs/store"
)

// FNDHMirror is the decoded in-memory shadow of the station's single
// FNDH. Same shape as SMARTboxMirror (spec §4.6 "Two variants share a
// common shape") but sized for 28 ports, 8 channels, and no per-port
// current.
type FNDHMirror struct {
	Polled        *regmap.Map
	Thresholds    [FNDHChannelCount]ThresholdSet
	ChannelHealth [FNDHChannelCount]Health
	Ports         [FNDHPortCount]PortState
	Health        Health
	Stale         bool
	LastPollTime  time.Time
	Failures      int
}

// FNDHController owns the station's FNDH lifecycle. The FNDH has no
// per-port current trip (breaker reset); current limiting is in
// hardware and PWRSENSE recovers only via a desired-state OFF->ON cycle
// (spec §4.5), so unlike SMARTboxController there is no retry/backoff
// loop here.
type FNDHController struct {
	bus   Bus
	clock store.Clock
	calib store.Calibration
	log   logrus.FieldLogger

	mirror FNDHMirror

	desiredOnline  [FNDHPortCount]bool
	desiredOffline [FNDHPortCount]bool
	override       [FNDHPortCount]Override

	// reinitPending is set by a SYS_STATUS write; the next successful
	// poll re-evaluates every channel with ReInitialise.
	reinitPending bool
}

// NewFNDHController constructs the controller for the station's single
// FNDH, fixed at address 31 (spec §6).
func NewFNDHController(bus Bus, clock store.Clock, calib store.Calibration, log logrus.FieldLogger) *FNDHController {
	if calib == nil {
		calib = store.IdentityCalibration{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &FNDHController{
		bus:   bus,
		clock: clock,
		calib: calib,
		log:   log.WithField("address", FNDHAddress),
	}
	c.mirror.Polled = regmap.New(1, FNDHPolledCount)
	for i := range c.mirror.ChannelHealth {
		c.mirror.ChannelHealth[i] = Uninitialised
	}
	c.mirror.Health = Uninitialised
	return c
}

// Mirror returns the controller's current register mirror.
func (c *FNDHController) Mirror() FNDHMirror {
	return c.mirror
}

// Configure pushes the FNDH's 8-channel threshold block, then writes
// SYS_STATUS. The mirror stays UNINITIALISED until the next successful
// Poll, which re-evaluates every channel from its readings.
func (c *FNDHController) Configure(thresholds [FNDHChannelCount]ThresholdSet) error {
	for i, t := range thresholds {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("device: fndh channel %d: %w", i, err)
		}
	}

	values := make([]uint16, FNDHConfigCount)
	for i, t := range thresholds {
		ah, wh, wl, al := ChannelThresholdRegs(RegConfigThresholdsBase, i)
		values[ah-RegConfigThresholdsBase] = uint16(t.AH)
		values[wh-RegConfigThresholdsBase] = uint16(t.WH)
		values[wl-RegConfigThresholdsBase] = uint16(t.WL)
		values[al-RegConfigThresholdsBase] = uint16(t.AL)
	}
	if err := c.bus.WriteRegisters(FNDHAddress, RegConfigThresholdsBase, values); err != nil {
		return fmt.Errorf("device: fndh config push: %w", err)
	}
	c.mirror.Thresholds = thresholds

	if err := c.bus.WriteRegister(FNDHAddress, FNDHSysStatusReg, 1); err != nil {
		return fmt.Errorf("device: fndh SYS_STATUS reinit: %w", err)
	}
	c.mirror.Health = Uninitialised
	for i := range c.mirror.ChannelHealth {
		c.mirror.ChannelHealth[i] = Uninitialised
	}
	c.reinitPending = true
	return nil
}

// Poll reads the 54-register polled block and refreshes health and port
// mirrors.
func (c *FNDHController) Poll() error {
	words, err := c.bus.ReadHolding(FNDHAddress, 1, FNDHPolledCount)
	if err != nil {
		c.mirror.Failures++
		if c.mirror.Failures >= pollFailureStaleThreshold {
			c.mirror.Stale = true
		}
		c.log.WithError(err).WithField("consecutive_failures", c.mirror.Failures).Warn("fndh poll failed")
		return err
	}
	c.mirror.Failures = 0
	c.mirror.Stale = false
	c.mirror.LastPollTime = c.clock.Now()
	c.mirror.Polled = regmap.NewFrom(1, words)

	regs := [FNDHChannelCount]uint16{Reg48V1V, Reg48V2V, Reg5VV, Reg48VI, Reg48VTemp, Reg5VTemp, RegFNDHPCBTemp, RegFNDHOutTemp}
	for ch := 0; ch < FNDHChannelCount; ch++ {
		raw := c.calib.Convert(fndhChannelName(ch), c.mirror.Polled.GetSigned(regs[ch]))
		if c.reinitPending {
			c.mirror.ChannelHealth[ch] = ReInitialise(raw, c.mirror.Thresholds[ch])
			continue
		}
		band := Classify(raw, c.mirror.Thresholds[ch])
		c.mirror.ChannelHealth[ch] = Transition(c.mirror.ChannelHealth[ch], band)
	}
	c.reinitPending = false
	c.mirror.Health = Aggregate(c.mirror.ChannelHealth[:])

	for p := 0; p < FNDHPortCount; p++ {
		raw := c.mirror.Polled.GetWord(RegP01StateFNDH + uint16(p))
		c.mirror.Ports[p] = DecodePortState(raw)
	}
	return nil
}

func fndhChannelName(ch int) string {
	switch FNDHChannel(ch) {
	case FNDHChan48V1:
		return "48V1_V"
	case FNDHChan48V2:
		return "48V2_V"
	case FNDHChan5V:
		return "5V_V"
	case FNDHChan48VI:
		return "48V_I"
	case FNDHChan48VTemp:
		return "48V_TEMP"
	case FNDHChan5VTemp:
		return "5V_TEMP"
	case FNDHChanPCBTemp:
		return "PCBTEMP"
	default:
		return "OUTTEMP"
	}
}

// SetDesiredOnline writes the DSON field for PDoC port p (0-based);
// recovery from a PWRSENSE trip is an OFF->ON desired-state cycle rather
// than an explicit reset command (spec §4.5).
func (c *FNDHController) SetDesiredOnline(port int, on bool) error {
	c.desiredOnline[port] = on
	code := TwoOff
	if on {
		code = TwoOn
	}
	value, reserved := EncodeWrite(Write{DSON: code})
	if reserved {
		c.log.WithField("port", port+1).Warn("reserved DSON encoding used, treated as unchanged")
	}
	return c.bus.WriteRegister(FNDHAddress, RegP01StateFNDH+uint16(port), value)
}

// SetOverride writes the TO field for PDoC port p.
func (c *FNDHController) SetOverride(port int, ov Override) error {
	c.override[port] = ov
	var code TwoBit
	switch ov {
	case OverrideForceOn:
		code = TwoOn
	case OverrideForceOff:
		code = TwoOff
	default:
		code = TwoReserved
	}
	value, _ := EncodeWrite(Write{TO: code})
	return c.bus.WriteRegister(FNDHAddress, RegP01StateFNDH+uint16(port), value)
}
