package device

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lowfreq-pasd/mccs/regmap"
	"github.com/lowfreq-pasd/mccs/store"
)

// Bus is the subset of the transaction layer a device controller drives.
// Matching it structurally (rather than importing *modbus.Transactor
// directly) lets tests supply a fake bus the way the teacher's Client
// interface is mocked against a fake transport.
type Bus interface {
	ReadHolding(address byte, regnum, count uint16) ([]uint16, error)
	WriteRegister(address byte, regnum, value uint16) error
	WriteRegisters(address byte, regnum uint16, values []uint16) error
}

// SMARTboxMirror is the decoded in-memory shadow of one SMARTbox's
// registers, refreshed once per poll.
type SMARTboxMirror struct {
	Polled        *regmap.Map
	Thresholds    [SMARTboxChannelCount]ThresholdSet
	PortTrip      [SMARTboxPortCount]int16
	ChannelHealth [SMARTboxChannelCount]Health
	Ports         [SMARTboxPortCount]PortState
	Health        Health
	Stale         bool
	LastPollTime  time.Time
	Failures      int
}

// SMARTboxController owns one SMARTbox's full lifecycle: configuration
// push, periodic polling, and port intent reconciliation (spec §4.6).
type SMARTboxController struct {
	Address byte

	bus   Bus
	clock store.Clock
	calib store.Calibration
	log   logrus.FieldLogger

	mirror SMARTboxMirror

	// desiredOnline/desiredOffline/override are the operator's latched
	// intent for each port, pushed to the device as DSON/DSOFF/TO
	// writes; the mirror's Ports[] reflects what the device actually
	// holds.
	desiredOnline  [SMARTboxPortCount]bool
	desiredOffline [SMARTboxPortCount]bool
	override       [SMARTboxPortCount]Override

	breakerAttempts   [SMARTboxPortCount]int
	lastBreakerAttempt [SMARTboxPortCount]time.Time

	// reinitPending is set by a SYS_STATUS write; the next successful
	// poll re-evaluates every channel with ReInitialise.
	reinitPending bool
}

// NewSMARTboxController constructs a controller for the SMARTbox at
// address, which must be in [1,30] (spec §6).
func NewSMARTboxController(address byte, bus Bus, clock store.Clock, calib store.Calibration, log logrus.FieldLogger) *SMARTboxController {
	if calib == nil {
		calib = store.IdentityCalibration{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &SMARTboxController{
		Address: address,
		bus:     bus,
		clock:   clock,
		calib:   calib,
		log:     log.WithField("address", address),
	}
	c.mirror.Polled = regmap.New(1, SMARTboxPolledCount)
	for i := range c.mirror.ChannelHealth {
		c.mirror.ChannelHealth[i] = Uninitialised
	}
	c.mirror.Health = Uninitialised
	return c
}

// Mirror returns the controller's current register mirror.
func (c *SMARTboxController) Mirror() SMARTboxMirror {
	return c.mirror
}

// Configure pushes the threshold block and the per-port current trip
// thresholds in one 0x10 transaction, then writes SYS_STATUS, per spec
// §4.6. Port desired-state registers are not part of this push. The
// mirror stays UNINITIALISED until the next successful Poll, which
// re-evaluates every channel from its readings. Every threshold is
// validated before anything is sent.
func (c *SMARTboxController) Configure(thresholds [SMARTboxChannelCount]ThresholdSet, portTrip [SMARTboxPortCount]int16) error {
	for i, t := range thresholds {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("device: smartbox %d channel %d: %w", c.Address, i, err)
		}
	}

	values := make([]uint16, SMARTboxConfigCount)
	for i, t := range thresholds {
		ah, wh, wl, al := ChannelThresholdRegs(RegConfigThresholdsBase, i)
		values[ah-RegConfigThresholdsBase] = uint16(t.AH)
		values[wh-RegConfigThresholdsBase] = uint16(t.WH)
		values[wl-RegConfigThresholdsBase] = uint16(t.WL)
		values[al-RegConfigThresholdsBase] = uint16(t.AL)
	}
	for i, trip := range portTrip {
		idx := RegConfigPortTripBase + uint16(i) - RegConfigThresholdsBase
		values[idx] = uint16(trip)
	}

	if err := c.bus.WriteRegisters(c.Address, RegConfigThresholdsBase, values); err != nil {
		return fmt.Errorf("device: smartbox %d config push: %w", c.Address, err)
	}

	c.mirror.Thresholds = thresholds
	c.mirror.PortTrip = portTrip

	if err := c.bus.WriteRegister(c.Address, SysStatusReg, 1); err != nil {
		return fmt.Errorf("device: smartbox %d SYS_STATUS reinit: %w", c.Address, err)
	}
	c.mirror.Health = Uninitialised
	for i := range c.mirror.ChannelHealth {
		c.mirror.ChannelHealth[i] = Uninitialised
	}
	c.reinitPending = true
	return nil
}

// Poll reads the full polled block in a single 0x03 transaction, decodes
// it into the mirror, re-evaluates per-channel and aggregate health, and
// reconciles port intents against the new mirror (spec §4.6).
func (c *SMARTboxController) Poll() error {
	words, err := c.bus.ReadHolding(c.Address, 1, SMARTboxPolledCount)
	if err != nil {
		c.mirror.Failures++
		if c.mirror.Failures >= pollFailureStaleThreshold {
			c.mirror.Stale = true
		}
		c.log.WithError(err).WithField("consecutive_failures", c.mirror.Failures).Warn("smartbox poll failed")
		return err
	}
	c.mirror.Failures = 0
	c.mirror.Stale = false
	c.mirror.LastPollTime = c.clock.Now()
	c.mirror.Polled = regmap.NewFrom(1, words)

	for ch := 0; ch < SMARTboxChannelCount; ch++ {
		raw := c.channelReading(ch)
		if c.reinitPending {
			c.mirror.ChannelHealth[ch] = ReInitialise(raw, c.mirror.Thresholds[ch])
			continue
		}
		band := Classify(raw, c.mirror.Thresholds[ch])
		c.mirror.ChannelHealth[ch] = Transition(c.mirror.ChannelHealth[ch], band)
	}
	c.reinitPending = false
	c.mirror.Health = Aggregate(c.mirror.ChannelHealth[:])

	for p := 0; p < SMARTboxPortCount; p++ {
		raw := c.mirror.Polled.GetWord(RegP01State + uint16(p))
		c.mirror.Ports[p] = DecodePortState(raw)
	}

	c.reconcilePorts()
	return nil
}

// channelReading extracts channel ch's raw reading from the polled
// block and runs it through the injected calibration.
func (c *SMARTboxController) channelReading(ch int) int16 {
	var reg uint16
	var name string
	switch SMARTboxChannel(ch) {
	case Chan48V:
		reg, name = Reg48VV, "48V_V"
	case ChanPSUV:
		reg, name = RegPSUV, "PSU_V"
	case ChanPSUTemp:
		reg, name = RegPSUTEMP, "PSUTEMP"
	case ChanPCBTemp:
		reg, name = RegPCBTEMP, "PCBTEMP"
	case ChanOutTemp:
		reg, name = RegOUTTEMP, "OUTTEMP"
	default:
		reg, name = RegSENSE01+uint16(ch-int(ChanSense01)), fmt.Sprintf("SENSE%02d", ch-int(ChanSense01)+1)
	}
	return c.calib.Convert(name, c.mirror.Polled.GetSigned(reg))
}

// SetDesiredOnline records the operator's DSON intent for port p
// (0-based) and pushes it to the device immediately.
func (c *SMARTboxController) SetDesiredOnline(port int, on bool) error {
	c.desiredOnline[port] = on
	code := TwoOff
	if on {
		code = TwoOn
	}
	value, reserved := EncodeWrite(Write{DSON: code})
	if reserved {
		c.log.WithField("port", port+1).Warn("reserved DSON encoding used, treated as unchanged")
	}
	return c.bus.WriteRegister(c.Address, RegP01State+uint16(port), value)
}

// SetOverride writes the TO (technician override) field for port p.
func (c *SMARTboxController) SetOverride(port int, ov Override) error {
	c.override[port] = ov
	var code TwoBit
	switch ov {
	case OverrideForceOn:
		code = TwoOn
	case OverrideForceOff:
		code = TwoOff
	default:
		code = TwoReserved // 01: clear override
	}
	value, _ := EncodeWrite(Write{TO: code})
	return c.bus.WriteRegister(c.Address, RegP01State+uint16(port), value)
}

// reconcilePorts implements the breaker-reset policy of spec §4.5/§4.7:
// if a port's mirror shows Latch=1 (BREAKER tripped) and operator intent
// is ON, attempt up to three resets at >=3s spacing before surfacing
// ErrBreakerPersistent and clearing the online-ON intent.
func (c *SMARTboxController) reconcilePorts() {
	for p := 0; p < SMARTboxPortCount; p++ {
		port := c.mirror.Ports[p]
		wantsOn := c.override[p] == OverrideForceOn || (c.override[p] == OverrideNone && c.desiredOnline[p])
		if !port.Latch || !wantsOn {
			continue
		}
		if c.breakerAttempts[p] >= maxBreakerRetries {
			continue
		}
		now := c.clock.Now()
		if !c.lastBreakerAttempt[p].IsZero() && now.Sub(c.lastBreakerAttempt[p]) < breakerRetryMinSpacing {
			continue
		}
		c.breakerAttempts[p]++
		c.lastBreakerAttempt[p] = now
		value, _ := EncodeWrite(Write{}) // breaker bit is not a two-bit field; see below
		value |= 1 << bitLatch
		if err := c.bus.WriteRegister(c.Address, RegP01State+uint16(p), value); err != nil {
			c.log.WithError(err).WithField("port", p+1).Warn("breaker reset write failed")
			continue
		}
		if c.breakerAttempts[p] >= maxBreakerRetries {
			c.desiredOnline[p] = false
			c.log.WithField("port", p+1).WithError(ErrBreakerPersistent).Error("breaker reset exhausted retries")
		}
	}
}

// ResetBreakerAttempts clears a port's retry counter, e.g. after an
// operator acknowledges a BreakerPersistent condition and wants to try
// again.
func (c *SMARTboxController) ResetBreakerAttempts(port int) {
	c.breakerAttempts[port] = 0
	c.lastBreakerAttempt[port] = time.Time{}
}
