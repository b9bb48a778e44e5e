// Package station implements the MCCS station orchestrator (spec §4.7):
// PDoC port to SMARTbox address discovery at startup, the round-robin
// poll loop over the FNDH and every discovered SMARTbox, online/offline
// tracking, and the "quiet mode" hook spec §9 calls for so a technician
// using the SID can suspend master-side polling.
package station

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lowfreq-pasd/mccs/device"
	"github.com/lowfreq-pasd/mccs/modbus"
	"github.com/lowfreq-pasd/mccs/store"
)

// PDoCPortCount is the number of PDoC ports on the station's single FNDH
// (spec §3 "PDoC map").
const PDoCPortCount = 28

const pdocMapKey = "pdoc-map"

// ErrAmbiguousMapping is returned by discovery when two SMARTbox
// candidates power up within one second of each other on the same PDoC
// port, per spec §4.7 step 3's tie-break rule.
var ErrAmbiguousMapping = errors.New("station: ambiguous PDoC->SMARTbox mapping, operator must intervene")

// Bus is the subset of the master-side transaction layer the
// orchestrator drives directly during discovery (probing raw candidate
// addresses that have no controller yet). Device controllers use the
// identically-shaped device.Bus.
type Bus interface {
	ReadHolding(address byte, regnum, count uint16) ([]uint16, error)
	WriteRegister(address byte, regnum, value uint16) error
	WriteRegisters(address byte, regnum uint16, values []uint16) error
}

// Config carries the orchestrator's tunables, all of which spec §4.6/§4.7
// gives sane defaults for.
type Config struct {
	// PollInterval is the poll-loop cadence; spec §4.6 default 60s.
	PollInterval time.Duration
	// InterTransactionGap is the minimum pause the orchestrator leaves
	// between master-side transactions, to reduce bus collisions with
	// the SID (spec §4.7 default 10ms).
	InterTransactionGap time.Duration
	// DiscoveryPortDelay is how long discovery waits after enabling a
	// PDoC port before probing for a freshly-booted SMARTbox (spec §4.7
	// step 2 default 10s).
	DiscoveryPortDelay time.Duration
	// MaxSMARTboxAddress bounds the candidate addresses probed during
	// discovery: 24 in production, up to 30 in the lab (spec §6).
	MaxSMARTboxAddress byte
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:        60 * time.Second,
		InterTransactionGap: 10 * time.Millisecond,
		DiscoveryPortDelay:  10 * time.Second,
		MaxSMARTboxAddress:  device.SMARTboxMaxProd,
	}
}

// Orchestrator drives the station's single FNDH and its discovered
// SMARTboxes. It owns the master-side bus exclusively (spec §3
// "Ownership"); the MCCS slave surface is a separate consumer of the
// same persisted station state.
type Orchestrator struct {
	cfg   Config
	bus   Bus
	kv    store.KV
	clock store.Clock
	log   logrus.FieldLogger

	fndh *device.FNDHController

	mu         sync.Mutex
	quiet      bool
	smartboxes map[byte]*device.SMARTboxController
	order      []byte // poll order, stable across a run
	pdocMap    [PDoCPortCount + 1]byte
	online     map[byte]bool
}

// New constructs an Orchestrator. calib may be nil (identity conversion).
func New(bus Bus, kv store.KV, clock store.Clock, calib store.Calibration, log logrus.FieldLogger, cfg Config) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.PollInterval == 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		cfg:        cfg,
		bus:        bus,
		kv:         kv,
		clock:      clock,
		log:        log,
		fndh:       device.NewFNDHController(bus, clock, calib, log),
		smartboxes: make(map[byte]*device.SMARTboxController),
		online:     make(map[byte]bool),
	}
}

// FNDH returns the station's FNDH controller.
func (o *Orchestrator) FNDH() *device.FNDHController { return o.fndh }

// SMARTbox returns the controller for a discovered SMARTbox address, or
// nil if that address has not been mapped.
func (o *Orchestrator) SMARTbox(address byte) *device.SMARTboxController {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.smartboxes[address]
}

// SetQuietMode suspends (true) or resumes (false) the poll loop so a
// technician can work the bus without MCCS interference (spec §9 "Race
// between SID and MCCS").
func (o *Orchestrator) SetQuietMode(quiet bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quiet = quiet
}

func (o *Orchestrator) quietMode() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.quiet
}

// sleep pauses for d, or returns ctx.Err() if ctx is cancelled first;
// every discovery wait and the poll-loop delay is a cancellation point
// (spec §5).
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) gap(ctx context.Context) error {
	if o.cfg.InterTransactionGap <= 0 {
		return nil
	}
	return o.sleep(ctx, o.cfg.InterTransactionGap)
}

// EnsureFNDHHealthy pushes thresholds and writes SYS_STATUS, then polls
// once so the FNDH leaves UNINITIALISED, and fails unless it is observed
// in OK or WARNING, per spec §4.7 step 1.
func (o *Orchestrator) EnsureFNDHHealthy(thresholds [device.FNDHChannelCount]device.ThresholdSet) error {
	if err := o.fndh.Configure(thresholds); err != nil {
		return fmt.Errorf("station: FNDH configure: %w", err)
	}
	if err := o.fndh.Poll(); err != nil {
		return fmt.Errorf("station: FNDH initial poll: %w", err)
	}
	if h := o.fndh.Mirror().Health; !h.Gates() {
		return fmt.Errorf("station: FNDH health %v is neither OK nor WARNING after configure", h)
	}
	return nil
}

// Discover runs the PDoC->SMARTbox mapping procedure of spec §4.7: for
// each of the 28 PDoC ports, enable it, wait DiscoveryPortDelay, then
// probe every candidate SMARTbox address for a fresh SYS_UPTIME below
// twice the delay. The winning (lowest-uptime) candidate is assigned to
// that port; 0 means no SMARTbox was detected. A near-tie between the
// two lowest candidates fails the whole run with ErrAmbiguousMapping so
// an operator can intervene, per the spec's explicit instruction.
func (o *Orchestrator) Discover(ctx context.Context) (map[byte]byte, error) {
	result := make(map[byte]byte, PDoCPortCount)
	for p := byte(1); p <= PDoCPortCount; p++ {
		if err := o.fndh.SetDesiredOnline(int(p-1), true); err != nil {
			return nil, fmt.Errorf("station: discovery: enabling PDoC port %d: %w", p, err)
		}
		if err := o.sleep(ctx, o.cfg.DiscoveryPortDelay); err != nil {
			return nil, fmt.Errorf("station: discovery cancelled: %w", err)
		}

		addr, err := o.probePoweredSMARTbox()
		if err != nil {
			return nil, fmt.Errorf("station: discovery: PDoC port %d: %w", p, err)
		}
		result[p] = addr
		o.log.WithFields(logrus.Fields{"pdoc_port": p, "smartbox": addr}).Info("discovery: PDoC port mapped")
	}

	o.mu.Lock()
	o.pdocMap = [PDoCPortCount + 1]byte{}
	for p, addr := range result {
		o.pdocMap[p] = addr
	}
	o.mu.Unlock()

	if err := o.persistPDoCMap(); err != nil {
		return nil, fmt.Errorf("station: persisting PDoC map: %w", err)
	}
	return result, nil
}

type discoveryCandidate struct {
	addr   byte
	uptime uint32
}

// probePoweredSMARTbox issues read SYS_UPTIME against every candidate
// address and returns the one that booted most recently, applying the
// 2*delay freshness bound and the 1-second tie-break of spec §4.7 step 3.
func (o *Orchestrator) probePoweredSMARTbox() (byte, error) {
	bound := 2 * o.cfg.DiscoveryPortDelay
	var candidates []discoveryCandidate
	for addr := device.SMARTboxMinAddr; addr <= o.cfg.MaxSMARTboxAddress; addr++ {
		words, err := o.bus.ReadHolding(addr, device.RegUPTIME, 2)
		if err != nil {
			continue // no response: not a candidate on this port
		}
		uptime := binary.BigEndian.Uint32([]byte{byte(words[0] >> 8), byte(words[0]), byte(words[1] >> 8), byte(words[1])})
		if time.Duration(uptime)*time.Second >= bound {
			continue
		}
		candidates = append(candidates, discoveryCandidate{addr: addr, uptime: uptime})
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].uptime < candidates[j].uptime })
	if len(candidates) > 1 && candidates[1].uptime-candidates[0].uptime <= 1 {
		return 0, ErrAmbiguousMapping
	}
	return candidates[0].addr, nil
}

func (o *Orchestrator) persistPDoCMap() error {
	o.mu.Lock()
	m := o.pdocMap
	o.mu.Unlock()
	buf := make([]byte, PDoCPortCount)
	for i := 1; i <= PDoCPortCount; i++ {
		buf[i-1] = m[i]
	}
	return o.kv.Put(pdocMapKey, buf)
}

// LoadPersistedPDoCMap loads a previously discovered and persisted PDoC
// map from kv, for a restart that skips re-running discovery. It is a
// no-op (no error) if no map has been persisted yet.
func (o *Orchestrator) LoadPersistedPDoCMap() error {
	raw, ok, err := o.kv.Get(pdocMapKey)
	if err != nil {
		return fmt.Errorf("station: loading persisted PDoC map: %w", err)
	}
	if !ok {
		return nil
	}
	if len(raw) != PDoCPortCount {
		return fmt.Errorf("station: persisted PDoC map has %d bytes, want %d", len(raw), PDoCPortCount)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := 0; i < PDoCPortCount; i++ {
		o.pdocMap[i+1] = raw[i]
	}
	return nil
}

// PDoCMap returns a copy of the discovered PDoC->SMARTbox map, 1-indexed
// by PDoC port, 0 meaning no SMARTbox.
func (o *Orchestrator) PDoCMap() [PDoCPortCount]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out [PDoCPortCount]byte
	for i := 0; i < PDoCPortCount; i++ {
		out[i] = o.pdocMap[i+1]
	}
	return out
}

// AdoptSMARTboxes instantiates a controller for each non-zero address in
// the PDoC map, fixing the poll order to the PDoC port order (lowest
// port first). Call after Discover (or after loading a persisted map).
func (o *Orchestrator) AdoptSMARTboxes(calib store.Calibration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.order = o.order[:0]
	for p := 1; p <= PDoCPortCount; p++ {
		addr := o.pdocMap[p]
		if addr == 0 {
			continue
		}
		if _, ok := o.smartboxes[addr]; !ok {
			o.smartboxes[addr] = device.NewSMARTboxController(addr, o.bus, o.clock, calib, o.log)
		}
		o.order = append(o.order, addr)
	}
}

// ConfigureSMARTboxes pushes the same threshold set and per-port current
// trip table to every adopted SMARTbox (spec §4.6 "initial configuration
// push"). Call after AdoptSMARTboxes.
func (o *Orchestrator) ConfigureSMARTboxes(thresholds [device.SMARTboxChannelCount]device.ThresholdSet, portTrip [device.SMARTboxPortCount]int16) error {
	o.mu.Lock()
	order := append([]byte(nil), o.order...)
	o.mu.Unlock()

	for _, addr := range order {
		c := o.smartboxes[addr]
		if err := c.Configure(thresholds, portTrip); err != nil {
			return fmt.Errorf("station: configuring smartbox %d: %w", addr, err)
		}
	}
	return nil
}

// pollRetries is the number of additional attempts the orchestrator
// makes on a per-device poll after a Timeout before declaring the device
// unreachable for this cycle (spec §7: "retries a single-device
// transaction at most twice on timeout"). Exceptions and decode errors
// are never retried here.
const pollRetries = 2

// pollOne polls a single controller, retrying on modbus.ErrTimeout up to
// pollRetries times.
func pollOne(poll func() error) error {
	var err error
	for attempt := 0; attempt <= pollRetries; attempt++ {
		err = poll()
		if err == nil || !errors.Is(err, modbus.ErrTimeout) {
			return err
		}
	}
	return err
}

// PollOnce runs one round-robin cycle: the FNDH, then every adopted
// SMARTbox in PDoC-port order, each getting one full polled-block read
// (spec §4.7 "Poll loop"). It does nothing while quiet mode is set.
func (o *Orchestrator) PollOnce(ctx context.Context) error {
	if o.quietMode() {
		return nil
	}

	if err := pollOne(o.fndh.Poll); err != nil {
		o.log.WithError(err).Warn("poll: FNDH unreachable this cycle")
	}
	if err := o.gap(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	order := append([]byte(nil), o.order...)
	o.mu.Unlock()

	for _, addr := range order {
		c := o.smartboxes[addr]
		wasOnline := o.online[addr]
		err := pollOne(c.Poll)
		nowOnline := err == nil && !c.Mirror().Stale
		if nowOnline != wasOnline {
			o.log.WithFields(logrus.Fields{"smartbox": addr, "online": nowOnline}).Info("smartbox online state changed")
			o.online[addr] = nowOnline
		}
		if err != nil {
			o.log.WithError(err).WithField("smartbox", addr).Warn("poll: SMARTbox unreachable this cycle")
		}
		if err := o.gap(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run drives PollOnce on cfg.PollInterval until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.PollOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				o.log.WithError(err).Error("poll cycle failed")
			}
		}
	}
}
