package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lowfreq-pasd/mccs/device"
)

// thresholdConfig mirrors device.ThresholdSet for YAML decoding; the
// spec's AL<=WL<=WH<=AH invariant is re-checked after parsing rather than
// trusted from the file.
type thresholdConfig struct {
	AH int16 `yaml:"ah"`
	WH int16 `yaml:"wh"`
	WL int16 `yaml:"wl"`
	AL int16 `yaml:"al"`
}

func (t thresholdConfig) toDevice() device.ThresholdSet {
	return device.ThresholdSet{AH: t.AH, WH: t.WH, WL: t.WL, AL: t.AL}
}

// calibrationEntry is one channel's scale/offset pair for the injected
// raw-ADU-to-engineering-unit conversion spec §1 scopes out of the
// control plane proper.
type calibrationEntry struct {
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

// Config is the station daemon's YAML configuration file: the serial
// bridge endpoint, the SID-facing network listener, poll cadence, and
// default thresholds pushed to every device at startup.
type Config struct {
	// Bus is the TCP address of the Ethernet-serial bridge fronting the
	// shared multidrop bus (spec §1 "the transport to the Ethernet-serial
	// bridge"). Example: "bridge.station.local:10001".
	Bus string `yaml:"bus"`

	// SerialDevice, if set, drives the bus directly over a local serial
	// port instead of Bus (see serial_adapter.go, built only with the
	// "serial" build tag). Mutually exclusive with Bus.
	SerialDevice string `yaml:"serial_device"`
	SerialBaud   int    `yaml:"serial_baud"`

	// SlaveListen is the address the MCCS slave surface listens on for
	// the SID (spec §4.8).
	SlaveListen string `yaml:"slave_listen"`

	// StatePath is the bbolt database file backing store.KV/store.Log.
	StatePath string `yaml:"state_path"`

	PollInterval        time.Duration `yaml:"poll_interval"`
	InterTransactionGap time.Duration `yaml:"inter_transaction_gap"`
	DiscoveryPortDelay   time.Duration `yaml:"discovery_port_delay"`
	MaxSMARTboxAddress   byte          `yaml:"max_smartbox_address"`

	FNDHThresholds     [device.FNDHChannelCount]thresholdConfig     `yaml:"fndh_thresholds"`
	SMARTboxThresholds [device.SMARTboxChannelCount]thresholdConfig `yaml:"smartbox_thresholds"`
	PortCurrentTrip    [device.SMARTboxPortCount]int16              `yaml:"port_current_trip"`

	Calibration map[string]calibrationEntry `yaml:"calibration"`

	LogLevel string `yaml:"log_level"`
}

// loadConfig reads and parses the YAML configuration at path.
func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mccsd: reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("mccsd: parsing config %s: %w", path, err)
	}
	if cfg.Bus == "" && cfg.SerialDevice == "" {
		return nil, fmt.Errorf("mccsd: config must set bus or serial_device")
	}
	if cfg.Bus != "" && cfg.SerialDevice != "" {
		return nil, fmt.Errorf("mccsd: config must not set both bus and serial_device")
	}
	if cfg.SlaveListen == "" {
		return nil, fmt.Errorf("mccsd: config must set slave_listen")
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "mccs.db"
	}
	return &cfg, nil
}

func (c *Config) fndhThresholds() (out [device.FNDHChannelCount]device.ThresholdSet) {
	for i, t := range c.FNDHThresholds {
		out[i] = t.toDevice()
	}
	return out
}

func (c *Config) smartboxThresholds() (out [device.SMARTboxChannelCount]device.ThresholdSet) {
	for i, t := range c.SMARTboxThresholds {
		out[i] = t.toDevice()
	}
	return out
}
