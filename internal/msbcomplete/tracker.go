// Package msbcomplete implements the MSB-completion tracker (C6): pending-
// accept records keyed by transaction id, persisted to disk, reported to
// the project database on accept/reject/ignore.
package msbcomplete

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eaobservatory/ocsqueue/internal/projectdb"
	"github.com/eaobservatory/ocsqueue/internal/queue"
)

// PendingAccept is the persisted/published shape of a completed-but-
// undecided MSB (§3). It intentionally excludes the live *queue.MSB
// reference from its JSON form — that reference exists only in-process.
type PendingAccept struct {
	Key           string `json:"key"`
	ProjectID     string `json:"project_id"`
	MSBID         string `json:"msb_id"`
	MSBTitle      string `json:"msb_title"`
	TransactionID string `json:"transaction_id"`
	QueueID       uint64 `json:"queue_id"`
	Timestamp     int64  `json:"timestamp"`

	msb *queue.MSB
}

// Decision is the MSB_COMPLETE argument: >0 accept, 0 reject, <0 ignore
// ("took no data") — matching spec.md §4.6/§4.4 literally rather than an
// enum, since operators pass a raw integer over the command RPC.
type Decision int

// Tracker is the C6 component. CutFunc and Publish/Unpublish are injected
// by the server so this package never imports the server or the publisher
// directly.
type Tracker struct {
	mu      sync.Mutex
	logger  *slog.Logger
	pending map[string]*PendingAccept

	store *fileStore
	audit *AuditStore // optional; nil disables the SQLite audit trail
	db    projectdb.Client

	dbTimeout time.Duration

	// NoComplete mode skips the accept-prompt lifecycle entirely: MSBs are
	// cut immediately on completion (§4.6, §9 glossary).
	NoComplete bool

	CutFunc   func(msb *queue.MSB)
	Publish   func(key string, rec PendingAccept)
	Unpublish func(key string)
}

// NewTracker constructs a Tracker. path is the well-known persisted-state
// file (§6); dbTimeout bounds every project-database RPC.
func NewTracker(path string, db projectdb.Client, audit *AuditStore, dbTimeout time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:    logger,
		pending:   make(map[string]*PendingAccept),
		store:     newFileStore(path),
		audit:     audit,
		db:        db,
		dbTimeout: dbTimeout,
	}
}

// isExcludedProject implements the §4.6 exclusion rule: SCUBA, *CAL, and
// UNKNOWN project ids never get an accept-prompt record.
func isExcludedProject(projectID string) bool {
	return projectID == "SCUBA" || strings.HasSuffix(projectID, "CAL") || projectID == "UNKNOWN"
}

// OnMSBComplete is wired to backend.Backend.OnMSBComplete (via the entry's
// MSB). It implements §4.6's record-building and dispatch rules.
func (t *Tracker) OnMSBComplete(entry *queue.Entry) {
	m := entry.MSB
	if m == nil {
		return
	}

	// postObsTidy's direct call and MSB.Cut's own completion rule both
	// funnel through here; Cut only re-fires once HasBeenCompleted is
	// false, so this guard (and the flag it sets below) is what makes
	// the whole lifecycle single-fire rather than Cut's guard alone.
	if m.HasBeenCompleted {
		return
	}
	m.HasBeenCompleted = true

	if isExcludedProject(m.ProjectID) {
		t.logger.Info("msb completion ignored for excluded project", "project_id", m.ProjectID, "msb_id", m.MSBID)
		return
	}

	if t.NoComplete {
		t.logger.Info("no-complete mode: cutting msb without an accept prompt", "project_id", m.ProjectID, "msb_id", m.MSBID)
		if t.CutFunc != nil {
			t.CutFunc(m)
		}
		return
	}

	t.mu.Lock()
	now := time.Now().Unix()
	key := t.uniqueKey(now)
	rec := &PendingAccept{
		Key:           key,
		ProjectID:     m.ProjectID,
		MSBID:         m.MSBID,
		MSBTitle:      m.MSBTitle,
		TransactionID: m.TransactionID,
		QueueID:       m.QueueID,
		Timestamp:     now,
		msb:           m,
	}
	t.pending[key] = rec
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if err := t.store.write(snapshot); err != nil {
		t.logger.Error("failed to persist pending accepts", "error", err)
	}
	if t.Publish != nil {
		t.Publish(key, *rec)
	}
}

// uniqueKey returns the timestamp as a string, adequate per §4.6, disambiguated
// with a numeric suffix on the rare within-the-same-second collision.
// Caller must hold t.mu.
func (t *Tracker) uniqueKey(ts int64) string {
	key := fmt.Sprintf("%d", ts)
	for i := 1; ; i++ {
		if _, exists := t.pending[key]; !exists {
			return key
		}
		key = fmt.Sprintf("%d-%d", ts, i)
	}
}

// Complete implements MSB_COMPLETE (§4.4/§4.6).
func (t *Tracker) Complete(ctx context.Context, key string, decision Decision, userID, reason string) error {
	t.mu.Lock()
	rec, ok := t.pending[key]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("msbcomplete: no pending accept for key %q", key)
	}

	dbRec := projectdb.Record{
		ProjectID: rec.ProjectID, MSBID: rec.MSBID, MSBTitle: rec.MSBTitle,
		TransactionID: rec.TransactionID, QueueID: rec.QueueID,
	}

	rpcCtx, cancel := context.WithTimeout(ctx, t.dbTimeout)
	defer cancel()

	switch {
	case decision > 0:
		if err := t.db.Done(rpcCtx, dbRec, userID); err != nil {
			// Non-fatal per §7: log and continue, the record still clears.
			t.logger.Error("project database done RPC failed", "key", key, "error", err)
		}
	case decision == 0:
		if err := t.db.Reject(rpcCtx, dbRec, userID, reason); err != nil {
			t.logger.Error("project database reject RPC failed", "key", key, "error", err)
		}
	default:
		t.logger.Info("msb completion ignored (took no data)", "key", key)
	}

	if t.audit != nil {
		if err := t.audit.Record(context.Background(), key, rec.ProjectID, rec.MSBID, int(decision), userID, reason); err != nil {
			t.logger.Warn("audit trail write failed", "key", key, "error", err)
		}
	}

	t.mu.Lock()
	delete(t.pending, key)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if err := t.store.write(snapshot); err != nil {
		t.logger.Error("failed to persist pending accepts after completion", "error", err)
	}
	if t.Unpublish != nil {
		t.Unpublish(key)
	}
	if t.CutFunc != nil {
		t.CutFunc(rec.msb)
	}
	return nil
}

// snapshotLocked copies the pending table for persistence/publication.
// Caller must hold t.mu.
func (t *Tracker) snapshotLocked() []PendingAccept {
	out := make([]PendingAccept, 0, len(t.pending))
	for _, rec := range t.pending {
		out = append(out, *rec)
	}
	return out
}

// LoadPending reads the persisted file (if any) on startup and republishes
// each record into MSBCOMPLETED under its original key (§4.6, scenario S7).
// The MSBs referenced no longer exist in-process after a restart, so
// records loaded this way cannot be cut automatically by Complete — an
// operator decision against one will simply clear the record and persisted
// file entry without a queue-side cut, which is a no-op if the MSB was
// never reloaded.
func (t *Tracker) LoadPending() error {
	records, err := t.store.read()
	if err != nil {
		return fmt.Errorf("msbcomplete: load pending accepts: %w", err)
	}

	t.mu.Lock()
	for i := range records {
		rec := records[i]
		t.pending[rec.Key] = &rec
	}
	t.mu.Unlock()

	for _, rec := range records {
		if t.Publish != nil {
			t.Publish(rec.Key, rec)
		}
	}
	return nil
}
