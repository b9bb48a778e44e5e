package store

import (
	"testing"
	"time"
)

func TestMemoryKVRoundTrip(t *testing.T) {
	kv := NewMemoryKV()
	if _, ok, err := kv.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}
	if err := kv.Put("antenna-map", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok, err := kv.Get("antenna-map")
	if err != nil || !ok {
		t.Fatalf("Get() = (_, %v, %v), want (_, true, nil)", ok, err)
	}
	if string(got) != "\x01\x02\x03" {
		t.Fatalf("Get() = %v, want [1 2 3]", got)
	}
	if err := kv.Delete("antenna-map"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := kv.Get("antenna-map"); ok {
		t.Fatal("Get() after Delete() still found the key")
	}
}

func TestMemoryLogAppendAndRead(t *testing.T) {
	log := NewMemoryLog()
	e1 := LogEntry{Antenna: 7, Message: "breaker reset attempt 1"}
	e2 := LogEntry{Antenna: 0, Message: "station-wide heartbeat"}

	seq1, err := log.Append(e1)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	seq2, err := log.Append(e2)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if seq2 != seq1+1 {
		t.Fatalf("sequence numbers = %d, %d; want consecutive", seq1, seq2)
	}

	n, err := log.Len()
	if err != nil || n != 2 {
		t.Fatalf("Len() = (%d, %v), want (2, nil)", n, err)
	}

	got, err := log.At(seq1)
	if err != nil {
		t.Fatalf("At() error = %v", err)
	}
	if got.Message != e1.Message {
		t.Fatalf("At(%d) = %+v, want %+v", seq1, got, e1)
	}

	if _, err := log.At(99); err == nil {
		t.Fatal("At() on an out-of-range sequence did not error")
	}
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}
	c.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if !c.Now().Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", c.Now(), want)
	}
}

func TestIdentityCalibration(t *testing.T) {
	var c IdentityCalibration
	if got := c.Convert("P01_CURRENT", -500); got != -500 {
		t.Fatalf("Convert() = %d, want -500", got)
	}
}
