package queue

import (
	"fmt"
	"strings"
)

// UndefinedIndex marks an empty/not-applicable index (CurrentIndex,
// LastSentIndex). Exported so collaborators (backend.Backend's postObsTidy)
// can compare against and reset it without reaching into package internals.
const UndefinedIndex = -1

const undefinedIndex = UndefinedIndex

// Contents is the ordered sequence of Entries with a movable current index
// (C3). It is the single-writer data structure the server's event loop
// mutates; all methods assume external synchronization (the server never
// calls into Contents from more than one goroutine at a time).
type Contents struct {
	Entries       []*Entry
	CurrentIndex  int
	LastSentIndex int
}

// NewContents returns an empty Contents with both indices undefined.
func NewContents() *Contents {
	return &Contents{
		CurrentIndex:  undefinedIndex,
		LastSentIndex: undefinedIndex,
	}
}

// Load clears the queue then appends entries (§4.1).
func (c *Contents) Load(entries []*Entry) {
	c.Entries = append([]*Entry(nil), entries...)
	c.LastSentIndex = undefinedIndex
	if len(c.Entries) == 0 {
		c.CurrentIndex = undefinedIndex
	} else {
		c.CurrentIndex = 0
	}
}

// AddBack appends entries to the tail of the queue.
func (c *Contents) AddBack(entries []*Entry) {
	wasEmpty := len(c.Entries) == 0
	c.Entries = append(c.Entries, entries...)
	if wasEmpty && len(c.Entries) > 0 {
		c.CurrentIndex = 0
	}
}

// AddFront prepends entries to the head of the queue, shifting the current
// index by the number inserted.
func (c *Contents) AddFront(entries []*Entry) {
	wasEmpty := len(c.Entries) == 0
	c.Entries = append(append([]*Entry(nil), entries...), c.Entries...)
	if wasEmpty {
		if len(c.Entries) > 0 {
			c.CurrentIndex = 0
		}
		return
	}
	c.CurrentIndex += len(entries)
	if c.LastSentIndex != undefinedIndex {
		c.LastSentIndex += len(entries)
	}
}

// Insert splices entries at pos. pos <= 0 behaves like AddFront; pos beyond
// the last index behaves like AddBack; an empty queue always behaves like
// AddBack regardless of pos (§4.1).
func (c *Contents) Insert(pos int, entries []*Entry) {
	if len(c.Entries) == 0 {
		c.AddBack(entries)
		return
	}
	if pos <= 0 {
		c.AddFront(entries)
		return
	}
	if pos > len(c.Entries)-1 {
		c.AddBack(entries)
		return
	}

	spliced := make([]*Entry, 0, len(c.Entries)+len(entries))
	spliced = append(spliced, c.Entries[:pos]...)
	spliced = append(spliced, entries...)
	spliced = append(spliced, c.Entries[pos:]...)
	c.Entries = spliced

	if c.CurrentIndex >= pos {
		c.CurrentIndex += len(entries)
	}
	if c.LastSentIndex != undefinedIndex && c.LastSentIndex >= pos {
		c.LastSentIndex += len(entries)
	}
}

// Cut splices n entries beginning at start, only if start is in range, and
// returns the removed entries. n <= 0 is a no-op (§4.1).
func (c *Contents) Cut(start, n int) []*Entry {
	if n <= 0 {
		return nil
	}
	if start < 0 || start >= len(c.Entries) {
		return nil
	}
	end := start + n
	if end > len(c.Entries) {
		end = len(c.Entries)
	}
	actualN := end - start

	removed := append([]*Entry(nil), c.Entries[start:end]...)
	c.Entries = append(c.Entries[:start:start], c.Entries[end:]...)

	byMSB := make(map[*MSB][]*Entry)
	for _, e := range removed {
		m := e.MSB
		if e.Status != StatusSent {
			e.MSB = nil
		}
		if m != nil {
			byMSB[m] = append(byMSB[m], e)
		}
	}
	for m, members := range byMSB {
		m.Cut(members)
	}

	c.adjustIndicesAfterCut(start, end, actualN)
	return removed
}

// CutMSB cuts the contiguous span in the queue covering the full MSB the
// entry at idx belongs to — which may include interleaved stand-alone
// calibrations — or a single entry if idx is not part of an MSB (§4.1).
func (c *Contents) CutMSB(idx int) []*Entry {
	if idx < 0 || idx >= len(c.Entries) {
		return nil
	}
	e := c.Entries[idx]
	if e.MSB == nil {
		return c.Cut(idx, 1)
	}
	m := e.MSB
	if len(m.Members) == 0 {
		return c.Cut(idx, 1)
	}
	firstIdx := c.indexOf(m.Members[0])
	lastIdx := c.indexOf(m.Members[len(m.Members)-1])
	if firstIdx == -1 || lastIdx == -1 {
		return c.Cut(idx, 1)
	}
	return c.Cut(firstIdx, lastIdx-firstIdx+1)
}

func (c *Contents) indexOf(e *Entry) int {
	for i, cur := range c.Entries {
		if cur == e {
			return i
		}
	}
	return -1
}

// IndexOfEntry returns the position of e in the queue, or -1 if e is not
// (or no longer) present. Exported for the server's MSB-completion
// dispatch, which needs to locate an MSB's remaining members to cut them.
func (c *Contents) IndexOfEntry(e *Entry) int {
	return c.indexOf(e)
}

func (c *Contents) adjustIndicesAfterCut(start, end, actualN int) {
	if len(c.Entries) == 0 {
		c.CurrentIndex = undefinedIndex
		c.LastSentIndex = undefinedIndex
		return
	}

	switch {
	case c.LastSentIndex == undefinedIndex:
	case c.LastSentIndex >= start && c.LastSentIndex < end:
		c.LastSentIndex = undefinedIndex
	case c.LastSentIndex >= end:
		c.LastSentIndex -= actualN
	}

	if c.CurrentIndex == undefinedIndex {
		return
	}
	switch {
	case c.CurrentIndex >= end:
		c.CurrentIndex -= actualN
	case c.CurrentIndex >= start:
		// The highlighted entry itself was cut; it now refers to whatever
		// slid into its old slot, clamped within bounds.
	}
	if c.CurrentIndex >= len(c.Entries) {
		c.CurrentIndex = len(c.Entries) - 1
	}
	if c.CurrentIndex < 0 {
		c.CurrentIndex = 0
	}
}

// Replace swaps in a new entry at pos, provided pos is in range and the
// replacement's Entity.Kind matches the old entry's (§4.1).
func (c *Contents) Replace(pos int, entry *Entry) error {
	if pos < 0 || pos >= len(c.Entries) {
		return fmt.Errorf("replace: position %d out of range", pos)
	}
	old := c.Entries[pos]
	if old.Entity.Kind() != entry.Entity.Kind() {
		return fmt.Errorf("replace: entity kind mismatch at %d (%s != %s)", pos, old.Entity.Kind(), entry.Entity.Kind())
	}
	if old.MSB != nil {
		if err := old.MSB.Replace(old, entry); err != nil {
			return err
		}
	}
	c.Entries[pos] = entry
	if c.LastSentIndex == pos {
		c.LastSentIndex = undefinedIndex
	}
	return nil
}

// GetForObservation returns the entry at the current index without
// removing it.
func (c *Contents) GetForObservation() (*Entry, bool) {
	if c.CurrentIndex == undefinedIndex || c.CurrentIndex >= len(c.Entries) {
		return nil, false
	}
	return c.Entries[c.CurrentIndex], true
}

// PropagateTarget walks forward from idx+1, copying idx's target into
// subsequent targetless entries. A calibration is allowed to receive the
// target and does not itself stop propagation, but the first non-
// calibration entry reached *after* a calibration was seen is the last one
// to receive the target (§4.1, scenario S6).
func (c *Contents) PropagateTarget(idx int) {
	if idx < 0 || idx >= len(c.Entries) {
		return
	}
	src, ok := c.Entries[idx].Entity.GetTarget()
	if !ok {
		return
	}

	seenCal := false
	for i := idx + 1; i < len(c.Entries); i++ {
		e := c.Entries[i]
		if _, has := e.Entity.GetTarget(); has {
			return
		}
		if e.Entity.IsCal() {
			e.Entity.SetTarget(src)
			seenCal = true
			continue
		}
		e.Entity.SetTarget(src)
		if seenCal {
			return
		}
	}
}

// ClearTarget clears the target on the entry at idx only.
func (c *Contents) ClearTarget(idx int) {
	if idx < 0 || idx >= len(c.Entries) {
		return
	}
	c.Entries[idx].Entity.ClearTarget()
}

// RemainingTime sums every entry's duration.
func (c *Contents) RemainingTime() (total int64) {
	for _, e := range c.Entries {
		total += int64(e.Entity.Duration().Seconds())
	}
	return total
}

// Stringified renders one human-readable line per entry: status, project,
// an MSB-position marker, and an entity summary.
func (c *Contents) Stringified() []string {
	lines := make([]string, 0, len(c.Entries))
	for i, e := range c.Entries {
		marker := " "
		if e.FirstInMSB {
			marker = "["
		}
		if e.LastInMSB {
			if marker == "[" {
				marker = "[]"
			} else {
				marker = "]"
			}
		}
		highlight := " "
		if i == c.CurrentIndex {
			highlight = ">"
		}
		lines = append(lines, fmt.Sprintf("%s%2d %-7s %s %-10s %s",
			highlight, i, e.Status, marker, e.Entity.ProjectID(), e.Entity.Summary()))
	}
	return lines
}

// TruncateCell truncates s to width characters, the publisher's fixed
// per-cell string width (design note §9).
func TruncateCell(s string, width int) string {
	s = strings.TrimRight(s, " \t")
	if len(s) <= width {
		return s
	}
	return s[:width]
}
