// Command pasdctl is a small operator CLI for ad hoc access to a PaSD
// station's Modbus-ASCII bus: reading holding registers from a device,
// forcing a port's technician override, and dumping the antenna map from
// the MCCS slave surface. It is the field-service counterpart to
// cmd/mccsd, built the same way the teacher library ships its own
// mbcli command.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/lowfreq-pasd/mccs/modbus"
)

// CLICommand is the root parser, mirroring the teacher's mbcli.CLICommand
// shape: one struct field per subcommand, dispatched by go-flags.
type CLICommand struct {
	Bus     string        `long:"bus" description:"tcp address of the Ethernet-serial bridge" default:"localhost:10001" env:"PASDCTL_BUS"`
	Timeout time.Duration `long:"timeout" default:"2s" description:"per-transaction timeout"`

	ReadHolding ReadHoldingCommand `command:"read-holding" alias:"read" description:"Read holding registers from a device"`
	ForcePort   ForcePortCommand   `command:"force-port" description:"Force a port's technician override on or off, or clear it"`
	AntennaMap  AntennaMapCommand  `command:"antenna-map" description:"Dump the antenna -> (smartbox,port) map from the MCCS slave surface"`
}

var cli CLICommand

func main() {
	parser := flags.NewParser(&cli, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dialTransactor opens a one-shot connection to cli.Bus and wraps it in a
// Transactor with the configured timeout.
func dialTransactor() (*modbus.Transactor, net.Conn, error) {
	conn, err := net.DialTimeout("tcp", cli.Bus, 5*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("pasdctl: dialing %s: %w", cli.Bus, err)
	}
	t := modbus.NewTransactor(conn, logrus.StandardLogger())
	if cli.Timeout > 0 {
		t.SetTimeout(cli.Timeout)
	}
	return t, conn, nil
}
