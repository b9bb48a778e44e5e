package station

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/lowfreq-pasd/mccs/device"
	"github.com/lowfreq-pasd/mccs/modbus"
	"github.com/lowfreq-pasd/mccs/store"
)

// fakeBus is a raw register-array stand-in for the shared multidrop bus,
// addressed per station address so discovery can probe several candidate
// SMARTboxes at once.
type fakeBus struct {
	holdings map[byte]map[uint16]uint16
	timeout  map[byte]bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{holdings: make(map[byte]map[uint16]uint16), timeout: make(map[byte]bool)}
}

func (b *fakeBus) setUptime(address byte, seconds uint32) {
	if b.holdings[address] == nil {
		b.holdings[address] = make(map[uint16]uint16)
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], seconds)
	b.holdings[address][device.RegUPTIME] = binary.BigEndian.Uint16(buf[0:2])
	b.holdings[address][device.RegUPTIME+1] = binary.BigEndian.Uint16(buf[2:4])
}

func (b *fakeBus) ReadHolding(address byte, regnum, count uint16) ([]uint16, error) {
	regs, ok := b.holdings[address]
	if !ok || b.timeout[address] {
		return nil, modbus.ErrTimeout
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = regs[regnum+uint16(i)]
	}
	return out, nil
}

func (b *fakeBus) WriteRegister(address byte, regnum, value uint16) error {
	if b.holdings[address] == nil {
		b.holdings[address] = make(map[uint16]uint16)
	}
	b.holdings[address][regnum] = value
	return nil
}

func (b *fakeBus) WriteRegisters(address byte, regnum uint16, values []uint16) error {
	if b.holdings[address] == nil {
		b.holdings[address] = make(map[uint16]uint16)
	}
	for i, v := range values {
		b.holdings[address][regnum+uint16(i)] = v
	}
	return nil
}

func newTestOrchestrator(bus Bus, kv store.KV) *Orchestrator {
	cfg := DefaultConfig()
	cfg.DiscoveryPortDelay = time.Millisecond
	cfg.InterTransactionGap = 0
	cfg.MaxSMARTboxAddress = 4
	return New(bus, kv, store.SystemClock{}, nil, nil, cfg)
}

func TestDiscoverAssignsLowestUptimeCandidate(t *testing.T) {
	bus := newFakeBus()
	// Exactly one SMARTbox, address 2, freshly booted; the fake bus
	// answers for it on every port, so port 1 maps to it.
	bus.setUptime(2, 0)
	o := newTestOrchestrator(bus, store.NewMemoryKV())

	m, err := o.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if m[1] != 2 {
		t.Fatalf("port 1 mapped to %d, want 2", m[1])
	}
}

func TestDiscoverNoCandidateMapsToZero(t *testing.T) {
	bus := newFakeBus() // no SMARTbox ever responds
	o := newTestOrchestrator(bus, store.NewMemoryKV())

	m, err := o.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if m[1] != 0 {
		t.Fatalf("port 1 mapped to %d, want 0 (no SMARTbox detected)", m[1])
	}
}

func TestDiscoverAmbiguousTie(t *testing.T) {
	bus := newFakeBus()
	bus.setUptime(1, 0)
	bus.setUptime(2, 0) // ties within 1 second
	o := newTestOrchestrator(bus, store.NewMemoryKV())

	_, err := o.Discover(context.Background())
	if !errors.Is(err, ErrAmbiguousMapping) {
		t.Fatalf("Discover() error = %v, want ErrAmbiguousMapping", err)
	}
}

func TestDiscoverPersistsPDoCMap(t *testing.T) {
	bus := newFakeBus()
	bus.setUptime(3, 0)
	kv := store.NewMemoryKV()
	o := newTestOrchestrator(bus, kv)

	if _, err := o.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	raw, ok, err := kv.Get(pdocMapKey)
	if err != nil || !ok {
		t.Fatalf("persisted PDoC map not found: ok=%v err=%v", ok, err)
	}
	if len(raw) != PDoCPortCount {
		t.Fatalf("persisted PDoC map length = %d, want %d", len(raw), PDoCPortCount)
	}
	if raw[0] != 3 {
		t.Fatalf("persisted port 1 = %d, want 3", raw[0])
	}
}

func TestPollOnceSkipsWhenQuiet(t *testing.T) {
	bus := newFakeBus()
	o := newTestOrchestrator(bus, store.NewMemoryKV())
	o.SetQuietMode(true)

	if err := o.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	// FNDH mirror should show no poll activity: Health stays UNINITIALISED
	// since Poll() was never actually invoked against the bus.
	if o.fndh.Mirror().LastPollTime != (time.Time{}) {
		t.Fatal("PollOnce() polled the FNDH while quiet mode was set")
	}
}

func TestPollOnceTracksOnlineTransitions(t *testing.T) {
	bus := newFakeBus()
	o := newTestOrchestrator(bus, store.NewMemoryKV())
	o.pdocMap[1] = 5
	o.AdoptSMARTboxes(nil)

	bus.holdings[5] = make(map[uint16]uint16)
	bus.timeout[5] = true
	for i := 0; i < 3; i++ {
		_ = o.PollOnce(context.Background())
	}
	if o.online[5] {
		t.Fatal("expected SMARTbox 5 offline after repeated timeouts")
	}

	bus.timeout[5] = false
	if err := o.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if !o.online[5] {
		t.Fatal("expected SMARTbox 5 online after a successful poll")
	}
}

func TestPollOneRetriesOnTimeoutOnly(t *testing.T) {
	calls := 0
	err := pollOne(func() error {
		calls++
		if calls < 3 {
			return modbus.ErrTimeout
		}
		return nil
	})
	if err != nil {
		t.Fatalf("pollOne() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("pollOne() made %d attempts, want 3 (1 + 2 retries)", calls)
	}

	calls = 0
	exc := modbus.NewException(modbus.ExIllegalFunction)
	err = pollOne(func() error {
		calls++
		return exc
	})
	if !errors.Is(err, exc) && err != exc {
		t.Fatalf("pollOne() error = %v, want the exception unmodified", err)
	}
	if calls != 1 {
		t.Fatalf("pollOne() retried a non-timeout error: %d attempts", calls)
	}
}
