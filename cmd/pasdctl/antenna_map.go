package main

import (
	"fmt"
)

const (
	slaveAddress    byte   = 63
	antennaMapBase  uint16 = 1
	antennaMapCount uint16 = 256
	maxReadPerTxn   uint16 = 125
)

// AntennaMapCommand reads the full antenna map off the MCCS slave
// surface (spec §4.8, registers 1..256) in maxReadPerTxn-sized chunks and
// prints every connected entry.
type AntennaMapCommand struct {
	ShowDisconnected bool `long:"all" description:"also print disconnected (0,0) antennas"`
}

func (c *AntennaMapCommand) Execute(args []string) error {
	t, conn, err := dialTransactor()
	if err != nil {
		return err
	}
	defer conn.Close()

	for base := antennaMapBase; base <= antennaMapCount; base += maxReadPerTxn {
		count := maxReadPerTxn
		if remaining := antennaMapCount - base + 1; remaining < count {
			count = remaining
		}
		values, err := t.ReadHolding(slaveAddress, base, count)
		if err != nil {
			return fmt.Errorf("pasdctl: antenna-map: reading %d..%d: %w", base, base+count-1, err)
		}
		for i, v := range values {
			antenna := base + uint16(i)
			smartbox := byte(v >> 8)
			port := byte(v)
			if smartbox == 0 && port == 0 && !c.ShowDisconnected {
				continue
			}
			fmt.Printf("antenna %3d -> smartbox %2d port %2d\n", antenna, smartbox, port)
		}
	}
	return nil
}
