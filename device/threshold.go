package device

import "fmt"

// Health is a device's or channel's aggregate alarm state, per the
// four-level threshold FSM.
type Health int

const (
	Uninitialised Health = iota
	OK
	Warning
	Alarm
	Recovery
)

func (h Health) String() string {
	switch h {
	case Uninitialised:
		return "UNINITIALISED"
	case OK:
		return "OK"
	case Warning:
		return "WARNING"
	case Alarm:
		return "ALARM"
	case Recovery:
		return "RECOVERY"
	}
	return fmt.Sprintf("Health(%d)", int(h))
}

// severity orders health states for aggregation across channels. Ascending:
// OK < WARNING < RECOVERY < ALARM. Uninitialised is not comparable by
// severity; it is handled as a special case by Aggregate.
var severity = map[Health]int{
	OK:       0,
	Warning:  1,
	Recovery: 2,
	Alarm:    3,
}

// Band classifies a reading against a ThresholdSet.
type Band int

const (
	BandAlarmHigh Band = iota
	BandWarnHigh
	BandOK
	BandWarnLow
	BandAlarmLow
)

// ThresholdSet is the four-level alarm configuration for one analog
// channel, per spec §3/§4.4. Invariant: AL <= WL <= WH <= AH.
type ThresholdSet struct {
	AH, WH, WL, AL int16
}

// ErrThresholdOrder is returned by Validate when the AL<=WL<=WH<=AH
// invariant does not hold; the threshold engine rejects the push before
// anything is sent on the wire (spec §7 scenario 5).
var ErrThresholdOrder = fmt.Errorf("device: thresholds must satisfy AL <= WL <= WH <= AH")

// Validate checks the ordering invariant.
func (t ThresholdSet) Validate() error {
	if t.AL <= t.WL && t.WL <= t.WH && t.WH <= t.AH {
		return nil
	}
	return ErrThresholdOrder
}

// Classify buckets a reading into one of the five bands.
func Classify(r int16, t ThresholdSet) Band {
	switch {
	case r > t.AH:
		return BandAlarmHigh
	case r > t.WH:
		return BandWarnHigh
	case r >= t.WL:
		return BandOK
	case r >= t.AL:
		return BandWarnLow
	default:
		return BandAlarmLow
	}
}

// Transition computes the next health state from the current state and a
// newly classified band, per spec §4.4. UNINITIALISED never transitions
// from a reading; only ReInitialise (triggered by a SYS_STATUS write)
// leaves it.
func Transition(current Health, band Band) Health {
	if current == Uninitialised {
		return Uninitialised
	}
	switch band {
	case BandAlarmHigh, BandAlarmLow:
		return Alarm
	case BandWarnHigh, BandWarnLow:
		if current == Alarm {
			return Recovery
		}
		return Warning
	default: // BandOK
		return OK
	}
}

// ReInitialise handles a write to SYS_STATUS with any value: re-evaluate
// from r against t immediately, and leave UNINITIALISED.
func ReInitialise(r int16, t ThresholdSet) Health {
	return Transition(OK, Classify(r, t))
}

// Aggregate folds the per-channel health states of a device into one
// overall state: the worst severity present, unless every channel is
// UNINITIALISED, in which case the device itself is UNINITIALISED.
func Aggregate(channels []Health) Health {
	worst := OK
	sawInitialised := false
	for _, h := range channels {
		if h == Uninitialised {
			continue
		}
		sawInitialised = true
		if severity[h] > severity[worst] {
			worst = h
		}
	}
	if !sawInitialised {
		return Uninitialised
	}
	return worst
}

// Gates reports whether a device in health state h is permitted to drive
// its ports; ALARM, RECOVERY and UNINITIALISED force all ports off
// (spec §4.4 "Gating").
func (h Health) Gates() bool {
	return h == OK || h == Warning
}
