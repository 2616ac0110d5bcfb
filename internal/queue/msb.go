package queue

import (
	"fmt"

	"github.com/google/uuid"
)

// CompletionFunc is invoked exactly once over an MSB's lifetime, when the
// completion rule in Cut fires. The server wires this to the MSB-completion
// tracker (C6).
type CompletionFunc func(*MSB)

// MSB is a Minimum Schedulable Block: a group of Entries sharing a project
// and MSB identifier (C2).
type MSB struct {
	ProjectID string
	MSBID     string
	MSBTitle  string

	// TransactionID is the telescope name plus a random identifier, minted
	// once at construction (§3); it is the stable cross-process key for
	// accept/reject records.
	TransactionID string

	// QueueID is stamped by the server on load — a monotonically
	// increasing per-server counter, not generated here.
	QueueID uint64

	Members []*Entry

	HasBeenObserved  bool
	HasBeenCompleted bool

	// Reference points at the member that was highlighted when the MSB was
	// told to track completion (set by the server when send() against this
	// MSB succeeds); nil until then.
	Reference *Entry

	onComplete CompletionFunc
}

// NewMSB constructs an MSB, assigning transaction ids and first/last-in-MSB
// flags to its members. telescope is used verbatim as the transaction id
// prefix (§3).
func NewMSB(projectID, msbID, title, telescope string, members []*Entry, onComplete CompletionFunc) *MSB {
	m := &MSB{
		ProjectID:     projectID,
		MSBID:         msbID,
		MSBTitle:      title,
		TransactionID: fmt.Sprintf("%s-%s", telescope, uuid.New().String()),
		Members:       members,
		onComplete:    onComplete,
	}
	for i, e := range members {
		e.MSB = m
		e.TransactionID = m.TransactionID
		e.OriginalIndex = i
	}
	m.update()
	return m
}

// update recomputes first/last-in-MSB flags on all members (§4.2).
func (m *MSB) update() {
	for _, e := range m.Members {
		e.FirstInMSB = false
		e.LastInMSB = false
	}
	if len(m.Members) == 0 {
		return
	}
	m.Members[0].FirstInMSB = true
	m.Members[len(m.Members)-1].LastInMSB = true
}

// ClearObserved resets hasBeenObserved. Used by SUSPEND_MSB (§4.4) to
// prevent a spurious accept prompt for an MSB that was cut incomplete.
func (m *MSB) ClearObserved() {
	m.HasBeenObserved = false
}

// Cut removes the given entries from the MSB's membership, recomputes
// first/last flags, and — if hasBeenObserved — evaluates the completion
// rule, invoking the registered completion callback at most once ever
// (§4.2).
func (m *MSB) Cut(removed []*Entry) {
	removedSet := make(map[*Entry]bool, len(removed))
	for _, e := range removed {
		removedSet[e] = true
	}

	referenceRemoved := m.Reference != nil && removedSet[m.Reference]
	refOriginal := -1
	if referenceRemoved {
		refOriginal = m.Reference.OriginalIndex
	}

	kept := m.Members[:0:0]
	for _, e := range m.Members {
		if !removedSet[e] {
			kept = append(kept, e)
		}
	}
	m.Members = kept
	m.update()

	if !m.HasBeenObserved || m.HasBeenCompleted {
		return
	}

	complete := false
	switch {
	case len(m.Members) == 0:
		complete = true
	case referenceRemoved:
		complete = true
		for _, e := range m.Members {
			if e.OriginalIndex >= refOriginal {
				complete = false
				break
			}
		}
	}

	if complete {
		m.HasBeenCompleted = true
		if m.onComplete != nil {
			m.onComplete(m)
		}
	}
}

// Replace swaps old for new in-place, provided new's project/msb id match
// this MSB's (undefined on both sides counts as a match), and re-runs
// update (§4.2).
func (m *MSB) Replace(old, newEntry *Entry) error {
	if !matchesMSB(m, newEntry) {
		return fmt.Errorf("replace: project/msb id mismatch (msb=%s/%s, entry=%s/%s)",
			m.ProjectID, m.MSBID, newEntry.Entity.ProjectID(), newEntry.Entity.MSBID())
	}

	for i, e := range m.Members {
		if e == old {
			newEntry.MSB = m
			newEntry.TransactionID = m.TransactionID
			newEntry.OriginalIndex = old.OriginalIndex
			m.Members[i] = newEntry
			m.update()
			return nil
		}
	}
	return fmt.Errorf("replace: entry %s is not a member of msb %s", old.Label, m.MSBID)
}

func matchesMSB(m *MSB, e *Entry) bool {
	pid := e.Entity.ProjectID()
	mid := e.Entity.MSBID()
	if pid == "" && mid == "" && m.ProjectID == "" && m.MSBID == "" {
		return true
	}
	return pid == m.ProjectID && mid == m.MSBID
}
