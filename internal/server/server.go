// Package server implements the command server (C7): the single event
// loop that owns the Queue, the backend, the MSB-completion tracker, and
// the parameter publisher, and serializes every operator command and
// recurring poll onto one goroutine (§5).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eaobservatory/ocsqueue/internal/backend"
	"github.com/eaobservatory/ocsqueue/internal/config"
	"github.com/eaobservatory/ocsqueue/internal/events"
	"github.com/eaobservatory/ocsqueue/internal/manifest"
	"github.com/eaobservatory/ocsqueue/internal/msbcomplete"
	"github.com/eaobservatory/ocsqueue/internal/opstate"
	"github.com/eaobservatory/ocsqueue/internal/projectdb"
	"github.com/eaobservatory/ocsqueue/internal/publisher"
	"github.com/eaobservatory/ocsqueue/internal/queue"
)

const queueIDNamespace = "server"
const queueIDKey = "next_queue_id"

// job is one submitted command awaiting dispatch on the event loop.
type job struct {
	action Action
	req    Request
	reply  chan Response
}

// Server owns the Queue, the backend, the MSB-completion tracker, and the
// publisher, and runs the single goroutine that serializes commands, the
// recurring poll, and backend replies (§5, design note §9 "pass the
// server explicitly, no globals").
type Server struct {
	logger  *slog.Logger
	cfg     *config.Config
	queue   *queue.Contents
	backend *backend.Backend
	tracker *msbcomplete.Tracker
	pub     *publisher.Publisher
	bus     *events.Bus
	db      projectdb.Client

	qidStore  *opstate.Store
	telescope manifest.Telescope

	cmdCh chan job

	pollEnabled bool

	nextQueueID   uint64
	externalIndex atomic.Int64 // queue.UndefinedIndex means "no external write pending"
	lastKnownIdx  int

	mu sync.Mutex // guards nextQueueID only; everything else is event-loop-owned
}

// New constructs a Server. qidStore may be nil (queue ids then start from 1
// each run rather than persisting across restarts).
func New(cfg *config.Config, q *queue.Contents, be *backend.Backend, tracker *msbcomplete.Tracker, pub *publisher.Publisher, bus *events.Bus, db projectdb.Client, qidStore *opstate.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:      logger,
		cfg:         cfg,
		queue:       q,
		backend:     be,
		tracker:     tracker,
		pub:         pub,
		bus:         bus,
		db:          db,
		qidStore:    qidStore,
		telescope:   manifest.Telescope(cfg.Telescope),
		cmdCh:       make(chan job),
		pollEnabled: true,
	}
	s.externalIndex.Store(int64(queue.UndefinedIndex))
	s.lastKnownIdx = queue.UndefinedIndex

	s.nextQueueID = s.loadQueueIDCounter()

	// Both completion triggers named in §4.6 ("the completion callback from
	// C2/C4") route through the tracker: postObsTidy's last-in-MSB path
	// (backend.OnMSBComplete) and MSB.Cut's own completion rule (an
	// operator CUT that finishes off an already-observed MSB) funnel
	// through the same adapter.
	be.OnMSBComplete = tracker.OnMSBComplete
	be.OnEmpty = func() {
		s.pub.SetAlert(2) // EMPTY
	}

	// CutFunc/Publish/Unpublish are the tracker's injected hooks (§4.6):
	// CutFunc removes the MSB's own members from the queue once a decision
	// is made (or immediately in no-complete mode); Publish/Unpublish keep
	// the MSBCOMPLETED.<key> observable parameter in sync with the tracker's
	// pending set.
	tracker.CutFunc = func(m *queue.MSB) {
		if m == nil {
			// A pending record reloaded from disk after a restart (§4.6,
			// scenario S7) has no live MSB to cut; the operator's decision
			// still clears the pending record, just with no queue-side cut.
			return
		}
		if len(m.Members) == 0 {
			return
		}
		idx := s.queue.IndexOfEntry(m.Members[0])
		if idx == -1 {
			return
		}
		s.queue.CutMSB(idx)
	}
	tracker.Publish = func(key string, rec msbcomplete.PendingAccept) {
		s.pub.SetMSBCompleted(key, publisher.MSBCompletedRecord{
			ProjectID:     rec.ProjectID,
			MSBID:         rec.MSBID,
			MSBTitle:      rec.MSBTitle,
			TransactionID: rec.TransactionID,
			QueueID:       rec.QueueID,
			Timestamp:     rec.Timestamp,
		})
	}
	tracker.Unpublish = func(key string) {
		s.pub.ClearMSBCompleted(key)
	}

	return s
}

func (s *Server) loadQueueIDCounter() uint64 {
	if s.qidStore == nil {
		return 1
	}
	v, err := s.qidStore.Get(queueIDNamespace, queueIDKey)
	if err != nil || v == "" {
		return 1
	}
	var n uint64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n == 0 {
		return 1
	}
	return n
}

func (s *Server) nextQueueIDAndBump() uint64 {
	s.mu.Lock()
	id := s.nextQueueID
	s.nextQueueID++
	next := s.nextQueueID
	s.mu.Unlock()

	if s.qidStore != nil {
		if err := s.qidStore.Set(queueIDNamespace, queueIDKey, fmt.Sprintf("%d", next)); err != nil {
			s.logger.Warn("failed to persist queue id counter", "error", err)
		}
	}
	return id
}

// msbCompletionAdapter wraps tracker.OnMSBComplete (which reads only
// entry.MSB) so it can also serve as an MSB.CompletionFunc, fired when an
// operator CUT finishes off an MSB that had already been observed (§4.2)
// rather than through postObsTidy's last-in-MSB path.
func msbCompletionAdapter(tracker *msbcomplete.Tracker) queue.CompletionFunc {
	return func(m *queue.MSB) {
		tracker.OnMSBComplete(&queue.Entry{MSB: m})
	}
}

// SetExternalIndex records an out-of-band INDEX write from a monitor client
// (§5: "INDEX is both published AND accepted as input from clients"). It
// does not touch Queue state directly — reconciliation happens on the next
// poll tick, on the event loop, per the three-way comparison described in
// §5.
func (s *Server) SetExternalIndex(idx int) {
	s.externalIndex.Store(int64(idx))
}

// Submit enqueues a command and blocks for its result, or until ctx is
// done. It is safe to call concurrently from any number of HTTP handler
// goroutines; the event loop processes jobs one at a time.
func (s *Server) Submit(ctx context.Context, action Action, req Request) (Response, error) {
	j := job{action: action, req: req, reply: make(chan Response, 1)}
	select {
	case s.cmdCh <- j:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case resp := <-j.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Run is the event loop (§5): it multiplexes the command channel, the
// recurring poll tick, and the backend's reply channel onto a single
// goroutine so no two callbacks ever run concurrently with each other or
// with a command. It returns when ctx is canceled.
func (s *Server) Run(ctx context.Context) {
	pollInterval := s.cfg.PollInterval()
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if err := s.tracker.LoadPending(); err != nil {
		s.logger.Error("failed to load pending accepts on startup", "error", err)
	}
	s.republishAll()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("server event loop stopping")
			return

		case j := <-s.cmdCh:
			j.reply <- s.dispatchRecovered(ctx, j.action, j.req)

		case <-ticker.C:
			if s.pollEnabled {
				s.runRecovered("poll", func() { s.doPoll(ctx) })
			}

		case r, ok := <-s.backend.Link.Replies():
			if !ok {
				continue
			}
			s.runRecovered("backend reply", func() {
				s.backend.HandleReply(r)
				s.republishQueueState()
			})
		}
	}
}

// dispatchRecovered runs dispatch with the same panic-safety net as
// runRecovered, returning an error Response instead of a zero Response so a
// panicking command still unblocks its Submit caller (§7: panics must not
// propagate across the event loop).
func (s *Server) dispatchRecovered(ctx context.Context, action Action, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("command dispatch panicked", "action", action, "panic", r)
			resp = errResponse("internal error handling %s", action)
		}
	}()
	return s.dispatch(ctx, action, req)
}

// runRecovered runs fn with a recover() guard so a panic in poll handling or
// backend reply handling cannot kill the event loop (§5, §7).
func (s *Server) runRecovered(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event loop handler panicked", "what", what, "panic", r)
		}
	}()
	fn()
}

// doPoll implements the recurring POLL action body (§4.3, §5): drain the
// backend, surface messages, and reconcile any externally-written INDEX.
func (s *Server) doPoll(ctx context.Context) {
	localOK, codes, msgs := s.backend.Poll(ctx)
	for i, code := range codes {
		if code == 0 {
			s.pub.Good(msgs[i])
		} else {
			s.pub.Error(msgs[i])
		}
	}
	if !localOK {
		s.pub.SetAlert(1) // BCKERR
	}

	s.reconcileExternalIndex()
	s.republishQueueState()
}

// reconcileExternalIndex implements §5's three-way index comparison: if a
// monitor client wrote INDEX directly and that value differs from what the
// server last knew about, the queue's internal index snaps to it and the
// queue stops (safety) — an external reassignment of the highlight is
// never trusted to agree with whatever the queue is about to send next.
func (s *Server) reconcileExternalIndex() {
	ext := int(s.externalIndex.Load())
	if ext == queue.UndefinedIndex {
		return
	}
	if ext == s.lastKnownIdx {
		return
	}
	s.lastKnownIdx = ext
	if ext == s.queue.CurrentIndex {
		return
	}
	if ext < 0 || ext >= len(s.queue.Entries) {
		s.logger.Warn("external index write out of range, ignoring", "index", ext, "entries", len(s.queue.Entries))
		return
	}
	s.queue.CurrentIndex = ext
	s.backend.SetRunning(false)
	s.pub.SetStatus(false)
	s.logger.Warn("external index write diverged from server state, queue stopped", "index", ext)
}

// republishAll pushes every observable parameter (§6), used on startup and
// after any action that the §4.4 table says must republish before
// completing.
func (s *Server) republishAll() {
	s.republishQueueState()
}

func (s *Server) republishQueueState() {
	s.pub.SetIndex(s.queue.CurrentIndex)
	s.pub.SetTimeOnQueue(s.queue.RemainingTime())
	s.pub.SetContents(s.queue.Stringified())
	s.pub.SetStatus(s.backend.QRunning())

	if entry, ok := s.queue.GetForObservation(); ok {
		s.pub.SetCurrent(entry.Entity.Summary())
	} else if last := s.backend.LastSent(); last != nil {
		s.pub.SetCurrent(last.Entity.Summary())
	} else {
		s.pub.SetCurrent("")
	}

	if reason, entry := s.backend.PendingFailure(); reason != nil {
		s.publishFailure(reason, entry)
	}
}

func (s *Server) publishFailure(reason queue.FailureReason, entry *queue.Entry) {
	d := publisher.FailureDetails{
		Reason: reason.Kind(),
		Index:  s.queue.CurrentIndex,
		Time:   time.Now(),
	}
	if entry != nil {
		d.Mode = entry.Entity.ObsMode()
		d.Waveband = entry.Entity.Waveband()
		d.Instrument = entry.Entity.Instrument()
		d.Telescope = entry.Entity.Telescope()
		d.Entry = entry.Label
	}
	switch r := reason.(type) {
	case queue.MissingTargetReason:
		d.HasTarget = r.Found
		d.Az, d.El = r.Az, r.El
		d.RefName = r.RefName
		d.Following = r.Following
		d.Cal = r.Cal
	case queue.NeedNextTargetReason:
		d.HasTarget = r.Fixed
		if r.Fixed {
			d.Az, d.El = r.Target.Az, r.Target.El
		}
	}
	s.pub.SetFailure(d)
}
