package backend

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/eaobservatory/ocsqueue/internal/queue"
)

func newEntryWithTarget(label string, dur time.Duration, target *queue.Target, cal bool) *queue.Entry {
	ent := &testEntity{
		telescope:  "JCMT",
		instrument: "ACSIS",
		obsMode:    "science",
		duration:   dur,
		cal:        cal,
		target:     target,
	}
	return queue.NewEntry(label, ent)
}

// testEntity is a minimal Entity used only by this package's tests, since
// queue.InstrumentSequenceEntity's unexported fields aren't reachable from
// here.
type testEntity struct {
	telescope, instrument, obsMode string
	duration                       time.Duration
	cal                             bool
	target                          *queue.Target
	slewTrack                       time.Duration
}

func (e *testEntity) Kind() queue.EntityKind { return queue.KindInstrumentSequence }
func (e *testEntity) Prepare() (string, queue.FailureReason, error) {
	if e.target == nil && !e.cal {
		return "", queue.MissingTargetReason{Entry: "x"}, nil
	}
	return "/tmp/artifact.xml", nil, nil
}
func (e *testEntity) Duration() time.Duration  { return e.duration }
func (e *testEntity) Telescope() string        { return e.telescope }
func (e *testEntity) Instrument() string       { return e.instrument }
func (e *testEntity) ObsMode() string          { return e.obsMode }
func (e *testEntity) ProjectID() string        { return "M01" }
func (e *testEntity) MSBID() string            { return "msb-1" }
func (e *testEntity) MSBTitle() string         { return "title" }
func (e *testEntity) ObsLabel() string         { return "" }
func (e *testEntity) Waveband() string         { return "" }
func (e *testEntity) IsCal() bool              { return e.cal }
func (e *testEntity) IsGenericCal() bool       { return false }
func (e *testEntity) IsScienceObs() bool       { return !e.cal }
func (e *testEntity) IsMissingTarget() bool    { return e.target == nil }
func (e *testEntity) GetTarget() (queue.Target, bool) {
	if e.target == nil {
		return queue.Target{}, false
	}
	return *e.target, true
}
func (e *testEntity) SetTarget(t queue.Target)     { tc := t; e.target = &tc }
func (e *testEntity) ClearTarget()                 { e.target = nil }
func (e *testEntity) TargetIsCurrentAz() bool      { return false }
func (e *testEntity) TargetIsFollowingAz() bool    { return false }
func (e *testEntity) SlewTrackTime() time.Duration { return e.slewTrack }
func (e *testEntity) SetSlewTrackTime(d time.Duration) { e.slewTrack = d }
func (e *testEntity) Summary() string              { return e.telescope + " " + e.instrument }

// TestS5MissingTargetFixupForward covers spec scenario S5.
func TestS5MissingTargetFixupForward(t *testing.T) {
	e1 := newEntryWithTarget("e1", time.Second, &queue.Target{Name: "start"}, false)
	e2 := newEntryWithTarget("e2", time.Second, nil, false)
	e3 := newEntryWithTarget("e3", time.Second, &queue.Target{Name: "T", Az: 1.23, El: 0.45}, false)

	q := queue.NewContents()
	q.Load([]*queue.Entry{e1, e2, e3})
	q.CurrentIndex = 1 // highlight e2

	link := NewFakeLink(4)
	b := New(link, q, VariantInstrumentTask, slog.Default())
	b.SetRunning(true)

	sent, reason, err := b.Send(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent {
		t.Fatal("expected send to be refused due to missing target")
	}
	mt, ok := reason.(queue.MissingTargetReason)
	if !ok {
		t.Fatalf("expected MissingTargetReason, got %T", reason)
	}
	if !mt.Found || mt.Az != 1.23 || mt.El != 0.45 || mt.RefName != "e3" || !mt.Following {
		t.Fatalf("unexpected fixup context: %+v", mt)
	}
}

func TestSendAndSuccessReplyAdvancesIndex(t *testing.T) {
	e1 := newEntryWithTarget("e1", time.Second, &queue.Target{Name: "T"}, false)
	e2 := newEntryWithTarget("e2", time.Second, &queue.Target{Name: "T"}, false)

	q := queue.NewContents()
	q.Load([]*queue.Entry{e1, e2})

	link := NewFakeLink(4)
	b := New(link, q, VariantInstrumentTask, slog.Default())
	b.SetRunning(true)

	sent, _, err := b.Send(context.Background())
	if err != nil || !sent {
		t.Fatalf("expected successful send, sent=%v err=%v", sent, err)
	}
	if e1.Status != queue.StatusSent {
		t.Fatalf("expected e1 SENT, got %s", e1.Status)
	}
	if b.Accepting() {
		t.Fatal("expected accepting=false immediately after send")
	}

	txnID, artifact, ok := link.LastSent()
	if !ok || artifact == "" {
		t.Fatalf("expected link to record sent artifact, got %q ok=%v", artifact, ok)
	}

	link.InjectReply(Reply{TransactionID: txnID, Kind: ReplySuccess})
	link.InjectReply(Reply{TransactionID: txnID, Kind: ReplyComplete})
	_, _, _ = b.Poll(context.Background())

	if e1.Status != queue.StatusObserved {
		t.Fatalf("expected e1 OBSERVED, got %s", e1.Status)
	}
	if q.CurrentIndex != 1 {
		t.Fatalf("expected current index 1, got %d", q.CurrentIndex)
	}
	if !b.Accepting() {
		t.Fatal("expected accepting=true after ReplyComplete")
	}
}
