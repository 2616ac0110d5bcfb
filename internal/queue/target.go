package queue

import "time"

// Target is a frozen, queryable coordinate. No astronomy math is performed
// on it anywhere in this package; it is carried opaquely and compared only
// for presence/absence.
type Target struct {
	System      string // "RADEC", "AZEL", "FK5", etc.
	Name        string
	RA, Dec     float64
	Az, El      float64
	Epoch       string
	UseNow      bool
	CurrentAz   bool // true if this target tracks az/el directly rather than RA/Dec
	FollowingAz bool
}

// FailureReason is the sum type returned by Entity.Prepare for recoverable
// send failures. It replaces the original's exception-for-recoverable-
// failure pattern (design note §9).
type FailureReason interface {
	isFailureReason()
	Kind() string
}

// MissingTargetReason means the entry has no target and none could be
// found without running addFailureContext's forward/backward scan.
type MissingTargetReason struct {
	Entry string // label of the entry missing a target, for diagnostics

	// Populated by addFailureContext once a usable target or calibration
	// marker has been located.
	Found       bool
	Az, El      float64
	RefName     string
	Following   bool
	Cal         bool
}

func (MissingTargetReason) isFailureReason() {}
func (MissingTargetReason) Kind() string     { return "MissingTarget" }

// NeedNextTargetReason is raised by the instrument-task entity variant when
// a target is required from a *later* entry regardless of MSB boundaries.
type NeedNextTargetReason struct {
	Entry string

	Fixed  bool // true once addFailureContext copied a target into the entry
	Target Target
}

func (NeedNextTargetReason) isFailureReason() {}
func (NeedNextTargetReason) Kind() string     { return "NeedNextTarget" }

// slewTrackAdjustment stashes the pre-adjustment slew-track time on an entry
// so repeated SCUBA-2 setup fixups (§4.3) don't accumulate.
type slewTrackAdjustment struct {
	original time.Duration
	applied  bool
}
