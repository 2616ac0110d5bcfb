package backend

import (
	"strings"
	"time"

	"github.com/eaobservatory/ocsqueue/internal/queue"
)

// addFailureContext implements §4.3: given the stored FailureReason for
// entry, scan the queue for a usable target (or calibration marker) and
// enrich the reason in place.
func (b *Backend) addFailureContext(entry *queue.Entry) {
	switch reason := b.pending.(type) {
	case queue.MissingTargetReason:
		b.pending = b.fillMissingTarget(reason, entry)
	case queue.NeedNextTargetReason:
		if b.Variant != VariantInstrumentTask {
			return
		}
		b.pending = b.fillNeedNextTarget(reason, entry)
	}
}

// fillMissingTarget scans forward from current-index, not crossing an
// MSB boundary, for a target or a calibration marker; failing that, scans
// backward within the current MSB only.
func (b *Backend) fillMissingTarget(reason queue.MissingTargetReason, entry *queue.Entry) queue.MissingTargetReason {
	idx := b.Queue.CurrentIndex
	if idx < 0 {
		return reason
	}

	if t, refName, cal, ok := b.scanDirection(idx, entry.MSB, 1); ok {
		reason.Found = true
		reason.Az, reason.El = t.Az, t.El
		reason.RefName = refName
		reason.Following = true
		reason.Cal = cal
		return reason
	}
	if entry.MSB != nil {
		if t, refName, cal, ok := b.scanDirection(idx, entry.MSB, -1); ok {
			reason.Found = true
			reason.Az, reason.El = t.Az, t.El
			reason.RefName = refName
			reason.Following = false
			reason.Cal = cal
			return reason
		}
	}
	return reason
}

// scanDirection walks the queue from idx+dir in steps of dir, stopping if
// it would cross from one MSB into a different one (the "do not cross
// lastObs -> firstObs" rule), and returns the first target or calibration
// marker found.
func (b *Backend) scanDirection(idx int, startMSB *queue.MSB, dir int) (queue.Target, string, bool, bool) {
	for i := idx + dir; i >= 0 && i < len(b.Queue.Entries); i += dir {
		e := b.Queue.Entries[i]
		if startMSB != nil && e.MSB != nil && e.MSB != startMSB {
			return queue.Target{}, "", false, false
		}
		if t, ok := e.Entity.GetTarget(); ok {
			return t, e.Label, e.Entity.IsCal(), true
		}
		if e.Entity.IsCal() {
			return queue.Target{}, e.Label, true, true
		}
	}
	return queue.Target{}, "", false, false
}

// fillNeedNextTarget searches forward ignoring MSB boundaries for a target,
// copying it directly into entry unless an intervening entry is itself
// flagged missing-target (in which case the reason is left populated so the
// fixup can be retried once that entry resolves).
func (b *Backend) fillNeedNextTarget(reason queue.NeedNextTargetReason, entry *queue.Entry) queue.NeedNextTargetReason {
	idx := b.Queue.CurrentIndex
	if idx < 0 {
		return reason
	}

	for i := idx + 1; i < len(b.Queue.Entries); i++ {
		e := b.Queue.Entries[i]
		if t, ok := e.Entity.GetTarget(); ok {
			entry.Entity.SetTarget(t)
			reason.Fixed = true
			reason.Target = t

			if strings.HasPrefix(entry.Entity.ObsMode(), "setup") {
				b.extendSlewTrackForSetup(entry, i, t)
			}
			return reason
		}
		if e.Entity.IsMissingTarget() {
			// Defer: leave the reason populated, unfixed.
			return reason
		}
	}
	return reason
}

// extendSlewTrackForSetup implements the SCUBA-2-setup supplementary rule:
// sum the slew-track time of the contiguous following entries sharing the
// found target, bounded by the MSB end, and extend entry's slew-track time
// by that sum. The pre-adjustment value is stashed so a repeated fixup pass
// does not compound the extension.
func (b *Backend) extendSlewTrackForSetup(entry *queue.Entry, targetIdx int, target queue.Target) {
	if entry.HasStashedSlewTrackTime() {
		return
	}
	entry.StashSlewTrackTime()

	var sum time.Duration
	for i := targetIdx; i < len(b.Queue.Entries); i++ {
		e := b.Queue.Entries[i]
		if entry.MSB != nil && e.MSB != entry.MSB {
			break
		}
		t, ok := e.Entity.GetTarget()
		if !ok || t.Name != target.Name {
			break
		}
		sum += e.Entity.SlewTrackTime()
	}
	entry.Entity.SetSlewTrackTime(entry.Entity.SlewTrackTime() + sum)
}
