// Command mccsd is the PaSD station Monitor & Control daemon: it dials
// the shared multidrop bus, runs station discovery and the poll loop
// (spec §4.7), and serves the MCCS slave register surface to the SID
// (spec §4.8) on a separate network listener.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/lowfreq-pasd/mccs/modbus"
	"github.com/lowfreq-pasd/mccs/station"
	"github.com/lowfreq-pasd/mccs/store"
)

// modbusEndpointCloser is a modbus.Endpoint that also owns a closeable
// resource (a TCP connection or a serial port), shared by both build
// variants of the bus endpoint opener (see serial_adapter*.go).
type modbusEndpointCloser interface {
	modbus.Endpoint
	io.Closer
}

// Options are the command-line flags layered on top of the YAML config,
// in the teacher's own mbcli idiom (github.com/jessevdk/go-flags).
type Options struct {
	ConfigPath string `short:"c" long:"config" description:"Path to the station YAML configuration file" default:"/etc/mccs/station.yaml"`
	Discover   bool   `long:"discover" description:"Run PDoC->SMARTbox discovery at startup before entering the poll loop"`
	Quiet      bool   `long:"quiet" description:"Start in quiet mode (poll loop suspended) for field service"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	if err := run(cfg, opts, log); err != nil {
		log.WithError(err).Fatal("mccsd exiting")
	}
}

func run(cfg *Config, opts Options, log *logrus.Logger) error {
	db, err := store.OpenBolt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("mccsd: opening state store: %w", err)
	}
	defer db.Close()

	ep, err := openBusEndpoint(cfg)
	if err != nil {
		return fmt.Errorf("mccsd: opening bus endpoint: %w", err)
	}
	defer ep.Close()

	transactor := modbus.NewTransactor(ep, log.WithField("component", "bus"))

	stationCfg := station.DefaultConfig()
	if cfg.PollInterval > 0 {
		stationCfg.PollInterval = cfg.PollInterval
	}
	if cfg.InterTransactionGap > 0 {
		stationCfg.InterTransactionGap = cfg.InterTransactionGap
	}
	if cfg.DiscoveryPortDelay > 0 {
		stationCfg.DiscoveryPortDelay = cfg.DiscoveryPortDelay
	}
	if cfg.MaxSMARTboxAddress > 0 {
		stationCfg.MaxSMARTboxAddress = cfg.MaxSMARTboxAddress
	}

	calib := newTableCalibration(cfg.Calibration)
	orch := station.New(transactor, db.KV(), store.SystemClock{}, calib, log.WithField("component", "station"), stationCfg)

	if err := orch.EnsureFNDHHealthy(cfg.fndhThresholds()); err != nil {
		return fmt.Errorf("mccsd: FNDH not healthy at startup: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.Discover {
		log.Info("running PDoC->SMARTbox discovery")
		m, err := orch.Discover(ctx)
		if err != nil {
			return fmt.Errorf("mccsd: discovery: %w", err)
		}
		log.WithField("map", m).Info("discovery complete")
	} else if err := orch.LoadPersistedPDoCMap(); err != nil {
		return fmt.Errorf("mccsd: loading persisted PDoC map: %w", err)
	}
	orch.AdoptSMARTboxes(calib)
	if err := orch.ConfigureSMARTboxes(cfg.smartboxThresholds(), cfg.PortCurrentTrip); err != nil {
		return fmt.Errorf("mccsd: configuring discovered smartboxes: %w", err)
	}
	if opts.Quiet {
		orch.SetQuietMode(true)
	}

	slaveSurface, err := newSlaveSurface(db, log)
	if err != nil {
		return fmt.Errorf("mccsd: building slave surface: %w", err)
	}
	slaveSurface.SetPDoCMap(orch.PDoCMap())

	listener, err := net.Listen("tcp", cfg.SlaveListen)
	if err != nil {
		return fmt.Errorf("mccsd: listening on %s: %w", cfg.SlaveListen, err)
	}
	defer listener.Close()
	go serveSlave(ctx, listener, slaveSurface, log.WithField("component", "slave"))

	log.WithField("interval", stationCfg.PollInterval).Info("entering poll loop")
	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("shutdown signal received, exiting")
	return nil
}

func openBusEndpoint(cfg *Config) (modbusEndpointCloser, error) {
	if cfg.SerialDevice != "" {
		return openSerialEndpoint(cfg.SerialDevice, cfg.SerialBaud)
	}
	conn, err := net.DialTimeout("tcp", cfg.Bus, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("mccsd: dialing bus bridge %s: %w", cfg.Bus, err)
	}
	return conn, nil
}
