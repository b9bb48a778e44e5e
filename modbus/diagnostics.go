package modbus

/*
This file keeps running counts of transaction outcomes on a Transactor's
bus, using the same channel-serialized manager idiom as the counters this
package's transaction layer was adapted from: a single goroutine owns the
counters and every access round-trips through its operation channel.
*/

// Diagnostics summarizes transaction outcomes on a bus, per spec §7.
type Diagnostics struct {
	// Messages is the number of transactions that completed with a
	// matching, well-formed response.
	Messages int
	// CommErrors is the number of responses dropped for failing to parse
	// (bad LRC, bad hex, missing CRLF) before a match could be found.
	CommErrors int
	// Exceptions is the number of transactions that completed with a
	// Modbus exception response.
	Exceptions int
	// AddressMismatches is the number of transactions that failed because
	// a well-formed reply to the request's function code arrived from a
	// different station address.
	AddressMismatches int
	// Timeouts is the number of transactions that reached their deadline
	// with no matching response.
	Timeouts int
	// Busy is the number of transaction attempts rejected because
	// another transaction was already outstanding.
	Busy int
}

type diagnosticsManager struct {
	counts    Diagnostics
	operation chan func()
}

func newDiagnosticsManager() *diagnosticsManager {
	dm := &diagnosticsManager{operation: make(chan func(), 10)}
	go dm.manage()
	return dm
}

func (dm *diagnosticsManager) manage() {
	for fn := range dm.operation {
		fn()
	}
}

func (dm *diagnosticsManager) message() {
	done := make(chan struct{})
	dm.operation <- func() {
		dm.counts.Messages++
		close(done)
	}
	<-done
}

func (dm *diagnosticsManager) commError() {
	done := make(chan struct{})
	dm.operation <- func() {
		dm.counts.CommErrors++
		close(done)
	}
	<-done
}

func (dm *diagnosticsManager) exception() {
	done := make(chan struct{})
	dm.operation <- func() {
		dm.counts.Exceptions++
		close(done)
	}
	<-done
}

func (dm *diagnosticsManager) addressMismatch() {
	done := make(chan struct{})
	dm.operation <- func() {
		dm.counts.AddressMismatches++
		close(done)
	}
	<-done
}

func (dm *diagnosticsManager) timeout() {
	done := make(chan struct{})
	dm.operation <- func() {
		dm.counts.Timeouts++
		close(done)
	}
	<-done
}

func (dm *diagnosticsManager) busy() {
	done := make(chan struct{})
	dm.operation <- func() {
		dm.counts.Busy++
		close(done)
	}
	<-done
}

func (dm *diagnosticsManager) snapshot() Diagnostics {
	done := make(chan Diagnostics)
	dm.operation <- func() {
		done <- dm.counts
		close(done)
	}
	return <-done
}

// Diagnostics returns a snapshot of the bus's accumulated transaction
// counts.
func (t *Transactor) Diagnostics() Diagnostics {
	return t.diag.snapshot()
}
