package main

import (
	"fmt"

	"github.com/lowfreq-pasd/mccs/device"
)

// ForcePortCommand writes the TO (technician override) field of a single
// port-state register (spec §4.5). DSON/DSOFF are left at 00 (unchanged)
// since a write only ever needs to touch the field it owns -- the masked-
// update idiom the device package's EncodeWrite follows.
type ForcePortCommand struct {
	Address byte   `short:"a" long:"address" required:"true" description:"station address (1-30 SMARTbox, 31 FNDH)"`
	Port    int    `short:"p" long:"port" required:"true" description:"1-based port number"`
	State   string `short:"s" long:"state" required:"true" description:"on, off, or clear"`
}

func (c *ForcePortCommand) Execute(args []string) error {
	var code device.TwoBit
	switch c.State {
	case "on":
		code = device.TwoOn
	case "off":
		code = device.TwoOff
	case "clear":
		code = device.TwoReserved // 01: clear override, per spec §4.5
	default:
		return fmt.Errorf("pasdctl: force-port: state must be on, off, or clear, got %q", c.State)
	}

	regBase := device.RegP01State
	if c.Address == device.FNDHAddress {
		regBase = device.RegP01StateFNDH
	}
	regnum := regBase + uint16(c.Port-1)

	value, _ := device.EncodeWrite(device.Write{TO: code})

	t, conn, err := dialTransactor()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := t.WriteRegister(c.Address, regnum, value); err != nil {
		return fmt.Errorf("pasdctl: force-port address=%d port=%d: %w", c.Address, c.Port, err)
	}
	fmt.Printf("port %d on address %d: TO set to %q\n", c.Port, c.Address, c.State)
	return nil
}
