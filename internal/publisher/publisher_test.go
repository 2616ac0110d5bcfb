package publisher

import (
	"testing"
	"time"

	"github.com/eaobservatory/ocsqueue/internal/events"
)

func drain(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published event")
		return events.Event{}
	}
}

func TestSetStatusOnlyPublishesOnChange(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	p := New(bus, DefaultConfig(), nil)
	p.SetStatus(true)
	evt := drain(t, ch)
	if evt.Kind != events.KindStatus || evt.Data["status"] != "Running" {
		t.Fatalf("unexpected event: %+v", evt)
	}

	p.SetStatus(true) // no change — must not publish again
	select {
	case evt := <-ch:
		t.Fatalf("expected no event on unchanged status, got %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetContentsTruncatesAndCaps(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	p := New(bus, Config{CellWidth: 5, MaxSlots: 2, HistoryLimit: 10}, nil)
	p.SetContents([]string{"abcdefgh", "short", "dropped-too"})

	evt := drain(t, ch)
	lines, ok := evt.Data["lines"].([]string)
	if !ok {
		t.Fatalf("expected []string lines, got %T", evt.Data["lines"])
	}
	if len(lines) != 2 {
		t.Fatalf("expected slot cap of 2, got %d lines", len(lines))
	}
	if lines[0] != "abcde" {
		t.Fatalf("expected truncation to width 5, got %q", lines[0])
	}
}

func TestGoodAndErrorStreamsAreTimestamped(t *testing.T) {
	bus := events.New()
	p := New(bus, DefaultConfig(), nil)

	p.Good("slew complete")
	p.Error("backend timeout")

	snap := p.Snapshot()
	if len(snap.GoodStream) != 1 || snap.GoodStream[0].Text != "slew complete" {
		t.Fatalf("unexpected good stream: %+v", snap.GoodStream)
	}
	if len(snap.ErrorStream) != 1 || snap.ErrorStream[0].Text != "backend timeout" {
		t.Fatalf("unexpected error stream: %+v", snap.ErrorStream)
	}
}

func TestMSBCompletedSetAndClear(t *testing.T) {
	bus := events.New()
	p := New(bus, DefaultConfig(), nil)

	p.SetMSBCompleted("k1", MSBCompletedRecord{ProjectID: "M01", MSBID: "msb-1"})
	snap := p.Snapshot()
	if _, ok := snap.MSBCompleted["k1"]; !ok {
		t.Fatal("expected k1 to be present after SetMSBCompleted")
	}

	p.ClearMSBCompleted("k1")
	snap = p.Snapshot()
	if _, ok := snap.MSBCompleted["k1"]; ok {
		t.Fatal("expected k1 to be absent after ClearMSBCompleted")
	}
}

func TestSnapshotReflectsFailureDetails(t *testing.T) {
	bus := events.New()
	p := New(bus, DefaultConfig(), nil)

	p.SetFailure(FailureDetails{Reason: "MissingTarget", Index: 2, HasTarget: true, Az: 1.5, El: 0.3})
	snap := p.Snapshot()
	if snap.Failure == nil || snap.Failure.Reason != "MissingTarget" {
		t.Fatalf("unexpected failure snapshot: %+v", snap.Failure)
	}

	p.ClearFailure()
	snap = p.Snapshot()
	if snap.Failure != nil {
		t.Fatal("expected failure to be cleared")
	}
}
