package regmap

import (
	"reflect"
	"testing"
)

func TestWordRoundTrip(t *testing.T) {
	m := New(1001, 4)
	m.SetWord(1001, 0x1234)
	m.SetWord(1004, 0xFFFF)
	if got := m.GetWord(1001); got != 0x1234 {
		t.Fatalf("GetWord(1001) = %#x, want 0x1234", got)
	}
	if got := m.GetWord(1004); got != 0xFFFF {
		t.Fatalf("GetWord(1004) = %#x, want 0xFFFF", got)
	}
}

func TestSignedRoundTrip(t *testing.T) {
	m := New(48, 1)
	m.SetSigned(48, -500)
	if got := m.GetSigned(48); got != -500 {
		t.Fatalf("GetSigned(48) = %d, want -500", got)
	}
}

func TestU32RoundTrip(t *testing.T) {
	m := New(3, 2)
	m.SetU32(3, 0xCAFEBABE)
	if got := m.GetU32(3); got != 0xCAFEBABE {
		t.Fatalf("GetU32(3) = %#x, want 0xcafebabe", got)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	m := New(5, 8)
	chipID := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10}
	m.SetBytes(5, chipID)
	if got := m.GetBytes(5, 8); !reflect.DeepEqual(got, chipID) {
		t.Fatalf("GetBytes(5, 8) = %v, want %v", got, chipID)
	}
}

func TestOutOfRangeAccessPanics(t *testing.T) {
	m := New(1, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("GetWord beyond block did not panic")
		}
	}()
	m.GetWord(5)
}

func TestNewFromReflectsBase(t *testing.T) {
	words := []uint16{10, 20, 30}
	m := NewFrom(17, words)
	if got := m.GetWord(18); got != 20 {
		t.Fatalf("GetWord(18) = %d, want 20", got)
	}
	if !reflect.DeepEqual(m.Words(), words) {
		t.Fatal("Words() did not return the backing slice")
	}
}
