package msbcomplete

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/eaobservatory/ocsqueue/internal/projectdb"
	"github.com/eaobservatory/ocsqueue/internal/queue"
)

type countingClient struct {
	doneCalls   int
	rejectCalls int
}

func (c *countingClient) Done(ctx context.Context, rec projectdb.Record, userID string) error {
	c.doneCalls++
	return nil
}
func (c *countingClient) Reject(ctx context.Context, rec projectdb.Record, userID, reason string) error {
	c.rejectCalls++
	return nil
}
func (c *countingClient) Suspend(ctx context.Context, projectID, msbID, obsLabel string) error {
	return nil
}

// TestS4AcceptFlow covers spec scenario S4.
func TestS4AcceptFlow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	db := &countingClient{}
	tr := NewTracker(path, db, nil, time.Second, nil)

	var publishedKey string
	var cutCalls int
	tr.Publish = func(key string, rec PendingAccept) { publishedKey = key }
	tr.Unpublish = func(key string) {
		if key != publishedKey {
			t.Fatalf("unpublish key mismatch: got %s want %s", key, publishedKey)
		}
		publishedKey = ""
	}
	tr.CutFunc = func(m *queue.MSB) { cutCalls++ }

	m := queue.NewMSB("M01", "msb-1", "title", "JCMT", nil, nil)
	entry := queue.NewEntry("e1", nil)
	entry.MSB = m
	tr.OnMSBComplete(entry)

	if publishedKey == "" {
		t.Fatal("expected a pending record to be published")
	}

	if err := tr.Complete(context.Background(), publishedKey, 1, "u1", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if db.doneCalls != 1 {
		t.Fatalf("expected exactly one done RPC, got %d", db.doneCalls)
	}
	if cutCalls != 1 {
		t.Fatalf("expected msb to be cut once, got %d", cutCalls)
	}
	if publishedKey != "" {
		t.Fatal("expected MSBCOMPLETED to be unpublished")
	}
}

// TestS7PersistenceOfPendingAccepts covers spec scenario S7.
func TestS7PersistenceOfPendingAccepts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	db := &countingClient{}

	tr1 := NewTracker(path, db, nil, time.Second, nil)
	tr1.Publish = func(string, PendingAccept) {}
	m := queue.NewMSB("M01", "msb-1", "title", "JCMT", nil, nil)
	entry := queue.NewEntry("e1", nil)
	entry.MSB = m
	tr1.OnMSBComplete(entry)

	tr2 := NewTracker(path, db, nil, time.Second, nil)
	var republished []PendingAccept
	tr2.Publish = func(key string, rec PendingAccept) { republished = append(republished, rec) }
	if err := tr2.LoadPending(); err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if len(republished) != 1 {
		t.Fatalf("expected one republished record, got %d", len(republished))
	}
	if republished[0].ProjectID != "M01" || republished[0].MSBID != "msb-1" {
		t.Fatalf("unexpected republished record: %+v", republished[0])
	}

	if err := tr2.Complete(context.Background(), republished[0].Key, 1, "op", ""); err != nil {
		t.Fatalf("Complete on reloaded record: %v", err)
	}
}

// TestOnMSBCompleteIsIdempotent covers the double-fire regression behind
// scenarios S1/S4: postObsTidy's direct call and MSB.Cut's own completion
// rule (via msbCompletionAdapter in the server package) can both reach
// OnMSBComplete for the same MSB, and only the first must produce a pending
// record.
func TestOnMSBCompleteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	tr := NewTracker(path, &countingClient{}, nil, time.Second, nil)
	var publishCalls int
	tr.Publish = func(string, PendingAccept) { publishCalls++ }

	m := queue.NewMSB("M01", "msb-1", "title", "JCMT", nil, nil)
	entry := queue.NewEntry("e1", nil)
	entry.MSB = m

	tr.OnMSBComplete(entry)
	tr.OnMSBComplete(entry)

	if publishCalls != 1 {
		t.Fatalf("expected exactly one publish across two OnMSBComplete calls, got %d", publishCalls)
	}
	if !m.HasBeenCompleted {
		t.Fatal("expected HasBeenCompleted to be set after the first OnMSBComplete")
	}
}

func TestExcludedProjectsGetNoPendingRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")
	tr := NewTracker(path, &countingClient{}, nil, time.Second, nil)
	called := false
	tr.Publish = func(string, PendingAccept) { called = true }

	for _, pid := range []string{"SCUBA", "XYZCAL", "UNKNOWN"} {
		m := queue.NewMSB(pid, "msb-1", "title", "JCMT", nil, nil)
		entry := queue.NewEntry("e1", nil)
		entry.MSB = m
		tr.OnMSBComplete(entry)
	}
	if called {
		t.Fatal("expected no pending record for excluded projects")
	}
}
