package main

import "fmt"

// ReadHoldingCommand issues a single 0x03 transaction (spec §4.2) and
// prints the returned words.
type ReadHoldingCommand struct {
	Address byte   `short:"a" long:"address" required:"true" description:"station address (1-30 SMARTbox, 31 FNDH)"`
	Regnum  uint16 `short:"r" long:"regnum" required:"true" description:"first register number (1-based)"`
	Count   uint16 `short:"n" long:"count" default:"1" description:"number of registers to read"`
}

func (c *ReadHoldingCommand) Execute(args []string) error {
	t, conn, err := dialTransactor()
	if err != nil {
		return err
	}
	defer conn.Close()

	values, err := t.ReadHolding(c.Address, c.Regnum, c.Count)
	if err != nil {
		return fmt.Errorf("pasdctl: read-holding address=%d regnum=%d count=%d: %w", c.Address, c.Regnum, c.Count, err)
	}
	for i, v := range values {
		fmt.Printf("%5d: 0x%04x (%d)\n", c.Regnum+uint16(i), v, v)
	}
	return nil
}
