package queue

// Entry is one dispatchable observation sitting in the queue (C1).
type Entry struct {
	Label  string
	Status Status
	Entity Entity

	FirstInMSB bool
	LastInMSB  bool

	// MSB is a back-reference to the owning MSB, or nil for a stand-alone
	// inserted calibration. It is preserved across a cut while Status is
	// SENT even if the MSB itself has already been removed from the queue
	// (§3 ownership note).
	MSB *MSB

	// TransactionID mirrors the owning MSB's transaction id, stamped at
	// MSB construction time so the entry still carries it after its MSB
	// back-reference is cleared.
	TransactionID string

	// OriginalIndex is this entry's position within MSB.Members at the
	// time the MSB was constructed. It never changes after that, and is
	// used by MSB.Cut to decide whether the completion rule's "everything
	// after the reference" condition holds.
	OriginalIndex int

	Warnings []string

	// preAdjustSlewTrack stashes the slew-track time before a SCUBA-2
	// setup fixup extends it, so a repeated fixup pass doesn't compound.
	preAdjustSlewTrack *slewTrackAdjustment
}

// NewEntry constructs a queued Entry wrapping the given Entity.
func NewEntry(label string, entity Entity) *Entry {
	return &Entry{
		Label:         label,
		Status:        StatusQueued,
		Entity:        entity,
		OriginalIndex: -1,
	}
}

// Warn appends a warning message to the entry's mutable warning list.
func (e *Entry) Warn(msg string) {
	e.Warnings = append(e.Warnings, msg)
}

// StashSlewTrackTime records the entry's current slew-track time as the
// pre-adjustment baseline, unless one is already stashed.
func (e *Entry) StashSlewTrackTime() {
	if e.preAdjustSlewTrack != nil {
		return
	}
	e.preAdjustSlewTrack = &slewTrackAdjustment{original: e.Entity.SlewTrackTime()}
}

// RestoreSlewTrackTime resets the entry's slew-track time to the stashed
// pre-adjustment baseline and clears the stash, if one exists.
func (e *Entry) RestoreSlewTrackTime() {
	if e.preAdjustSlewTrack == nil {
		return
	}
	e.Entity.SetSlewTrackTime(e.preAdjustSlewTrack.original)
	e.preAdjustSlewTrack = nil
}

// HasStashedSlewTrackTime reports whether a SCUBA-2 setup fixup has already
// extended this entry's slew-track time once.
func (e *Entry) HasStashedSlewTrackTime() bool {
	return e.preAdjustSlewTrack != nil
}
