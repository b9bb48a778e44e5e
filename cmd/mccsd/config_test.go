package main

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
bus: "bridge.station.local:10001"
slave_listen: ":1502"
state_path: "test.db"
poll_interval: 60s
inter_transaction_gap: 10ms
discovery_port_delay: 10s
max_smartbox_address: 24
log_level: info
fndh_thresholds:
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
smartbox_thresholds:
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
  - {ah: 5400, wh: 5300, wl: 4700, al: 4600}
calibration:
  P01_CURRENT:
    scale: 1.0
    offset: 0.0
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadConfigParsesFields(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Bus != "bridge.station.local:10001" {
		t.Fatalf("Bus = %q", cfg.Bus)
	}
	if cfg.SlaveListen != ":1502" {
		t.Fatalf("SlaveListen = %q", cfg.SlaveListen)
	}
	if cfg.FNDHThresholds[0].AH != 5400 {
		t.Fatalf("FNDHThresholds[0].AH = %d, want 5400", cfg.FNDHThresholds[0].AH)
	}
	if got := cfg.fndhThresholds()[0].AH; got != 5400 {
		t.Fatalf("fndhThresholds()[0].AH = %d, want 5400", got)
	}
	entry, ok := cfg.Calibration["P01_CURRENT"]
	if !ok || entry.Scale != 1.0 {
		t.Fatalf("Calibration[P01_CURRENT] = %+v, ok=%v", entry, ok)
	}
}

func TestLoadConfigRejectsMissingTransport(t *testing.T) {
	path := writeTempConfig(t, "slave_listen: \":1502\"\n")
	if _, err := loadConfig(path); err == nil {
		t.Fatal("loadConfig() accepted a config with neither bus nor serial_device set")
	}
}

func TestTableCalibrationPassesThroughUnknownChannels(t *testing.T) {
	cal := newTableCalibration(map[string]calibrationEntry{
		"P01_CURRENT": {Scale: 2.0, Offset: 10},
	})
	if got := cal.Convert("P01_CURRENT", 100); got != 210 {
		t.Fatalf("Convert(P01_CURRENT, 100) = %d, want 210", got)
	}
	if got := cal.Convert("48V_V", 4850); got != 4850 {
		t.Fatalf("Convert(48V_V, 4850) = %d, want 4850 (pass-through)", got)
	}
}
