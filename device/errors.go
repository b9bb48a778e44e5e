package device

import (
	"errors"
	"time"
)

// ErrBreakerPersistent is logged by the SMARTbox controller once it has
// made three reset attempts on a latched breaker (spec §4.5/§4.7); the
// controller clears the port's operator online-ON intent at the same
// time. It is not returned from Poll.
var ErrBreakerPersistent = errors.New("device: breaker reset failed after three attempts")

// ErrStaleMirror names the condition in which three consecutive polls
// have failed and the mirror's readings are no longer trustworthy (spec
// §4.6 "three consecutive poll failures mark the device mirror Stale").
// Poll does not return it: a failed Poll returns the bus error and
// reports staleness through the mirror's Stale field.
var ErrStaleMirror = errors.New("device: mirror is stale after repeated poll failures")

// breakerRetryMinSpacing is the minimum time between reset attempts
// (spec §4.5: "debounces at >=3 seconds between retries").
const breakerRetryMinSpacing = 3 * time.Second

// maxBreakerRetries is the number of reset attempts before the
// controller gives up and surfaces ErrBreakerPersistent (spec §4.5:
// "stops after three attempts").
const maxBreakerRetries = 3

// pollFailureStaleThreshold is the number of consecutive poll failures
// after which a mirror is marked Stale (spec §4.6).
const pollFailureStaleThreshold = 3

// OnlineQuietInterval is this implementation's fixed choice for the
// device-side online/offline quiet interval the spec leaves open (§9
// "exact online/offline quiet interval... is TBD"); the MCCS sends
// heartbeats well inside this window (spec recommends >= every 30s).
// See SPEC_FULL.md "ADDITIONAL DETAIL" for the rationale.
const OnlineQuietInterval = 90 * time.Second
