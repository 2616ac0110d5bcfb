package server

import (
	"context"
	"fmt"

	"github.com/eaobservatory/ocsqueue/internal/manifest"
	"github.com/eaobservatory/ocsqueue/internal/msbcomplete"
	"github.com/eaobservatory/ocsqueue/internal/queue"
)

// Action names the §4.4 command surface.
type Action string

const (
	ActionPoll         Action = "POLL"
	ActionKickPoll     Action = "KICK_POLL"
	ActionStart        Action = "START"
	ActionStop         Action = "STOP"
	ActionLoad         Action = "LOAD"
	ActionAddBack      Action = "ADD_BACK"
	ActionAddFront     Action = "ADD_FRONT"
	ActionInsert       Action = "INSERT"
	ActionClear        Action = "CLEAR"
	ActionCut          Action = "CUT"
	ActionCutMSB       Action = "CUTMSB"
	ActionModify       Action = "MODIFY"
	ActionClearTarget  Action = "CLEAR_TARGET"
	ActionSuspendMSB   Action = "SUSPEND_MSB"
	ActionMSBComplete  Action = "MSB_COMPLETE"
	ActionGetEntry     Action = "GET_ENTRY"
)

// Alert codes named in §4.4.
const (
	AlertNone   = 0
	AlertBCKERR = 1
	AlertEmpty  = 2
)

// MSBCompleteDecision is one element of a multi-record MSB_COMPLETE call
// (§4.4: "accept multiple records in one call").
type MSBCompleteDecision struct {
	Key      string
	Decision msbcomplete.Decision
	UserID   string
	Reason   string
}

// Request carries every field any action might need; only the fields the
// named action documents are read (§4.4).
type Request struct {
	Index       int
	N           int
	Propagate   bool
	TargetXML   string
	NoAutoStart bool

	ManifestFile string
	IsCal        bool
	GenericCal   bool
	ProjectID    string
	MSBID        string
	MSBTitle     string
	ObsMode      string
	Waveband     string

	AlertCode int

	TransactionKey string
	Decision       msbcomplete.Decision
	UserID         string
	Reason         string
	Decisions      []MSBCompleteDecision
}

// EntryView is the opaque-entity JSON shape returned by GET_ENTRY (§4.4,
// Open Question #2 in spec.md §9 — resolved in DESIGN.md as a flattened,
// read-only projection of queue.Entity rather than exposing the concrete
// Go type across the RPC boundary).
type EntryView struct {
	Label      string `json:"label"`
	Status     string `json:"status"`
	Kind       string `json:"kind"`
	Telescope  string `json:"telescope"`
	Instrument string `json:"instrument"`
	ObsMode    string `json:"obs_mode"`
	ProjectID  string `json:"project_id"`
	MSBID      string `json:"msb_id"`
	MSBTitle   string `json:"msb_title"`
	Waveband   string `json:"waveband"`
	DurationS  int64  `json:"duration_seconds"`

	Cal           bool `json:"cal"`
	GenericCal    bool `json:"generic_cal"`
	MissingTarget bool `json:"missing_target"`

	HasTarget bool         `json:"has_target"`
	Target    *queue.Target `json:"target,omitempty"`
}

// Response is the uniform result of Submit. Error is set (and OK false)
// on any failure named in §7; successful mutating actions have already
// republished every affected parameter by the time Response is returned.
type Response struct {
	OK    bool       `json:"ok"`
	Error string     `json:"error,omitempty"`
	Entry *EntryView `json:"entry,omitempty"`
}

func errResponse(format string, args ...any) Response {
	return Response{OK: false, Error: fmt.Sprintf(format, args...)}
}

// msbcompleteDecision converts a wire-level int into a msbcomplete.Decision
// (the package's own >0 accept / 0 reject / <0 ignore convention, §4.4).
func msbcompleteDecision(n int) msbcomplete.Decision {
	return msbcomplete.Decision(n)
}

// dispatch runs exactly one action to completion on the event-loop
// goroutine (§5: "at most one action runs at a time"). Every mutating
// action republishes queue state via republishQueueState before
// returning, per §4.4's closing paragraph.
func (s *Server) dispatch(ctx context.Context, action Action, req Request) Response {
	resp := s.runAction(ctx, action, req)
	switch action {
	case ActionPoll, ActionGetEntry:
		// Read-only / explicitly-driven-elsewhere actions don't need a
		// synchronous republish of their own.
	default:
		s.republishQueueState()
	}
	return resp
}

func (s *Server) runAction(ctx context.Context, action Action, req Request) Response {
	switch action {
	case ActionPoll:
		s.doPoll(ctx)
		return Response{OK: true}

	case ActionKickPoll:
		s.pollEnabled = false
		return Response{OK: true}

	case ActionStart:
		s.backend.SetRunning(true)
		s.backend.ClearPendingFailure()
		s.pub.SetAlert(AlertNone)
		s.pub.ClearFailure()
		s.pollEnabled = true
		return Response{OK: true}

	case ActionStop:
		s.backend.SetRunning(false)
		if req.AlertCode != 0 {
			s.pub.SetAlert(req.AlertCode)
		}
		return Response{OK: true}

	case ActionLoad:
		return s.doLoadFamily(action, req, s.queue.Load)

	case ActionAddBack:
		return s.doAddOrInsert(action, req)

	case ActionAddFront:
		return s.doAddOrInsert(action, req)

	case ActionInsert:
		return s.doAddOrInsert(action, req)

	case ActionClear:
		s.queue.Load(nil)
		return Response{OK: true}

	case ActionCut:
		n := req.N
		if n <= 0 {
			n = 1
		}
		s.queue.Cut(req.Index, n)
		return Response{OK: true}

	case ActionCutMSB:
		s.queue.CutMSB(req.Index)
		return Response{OK: true}

	case ActionModify:
		return s.doModify(req)

	case ActionClearTarget:
		s.queue.ClearTarget(req.Index)
		return Response{OK: true}

	case ActionSuspendMSB:
		return s.doSuspendMSB(ctx)

	case ActionMSBComplete:
		return s.doMSBComplete(ctx, req)

	case ActionGetEntry:
		return s.doGetEntry(req)

	default:
		return errResponse("unknown action %q", action)
	}
}

// doAddOrInsert implements ADD_BACK / ADD_FRONT / INSERT (§4.4): parse the
// manifest, group entries into one MSB unless iscal, bump the queue-id
// counter, and apply. ADD_BACK/ADD_FRONT enforce the queue-duration
// threshold unless the current entry is already last.
func (s *Server) doAddOrInsert(action Action, req Request) Response {
	entries, err := s.buildEntriesFromManifest(req)
	if err != nil {
		return errResponse("%s: %v", action, err)
	}

	if (action == ActionAddBack || action == ActionAddFront) && s.exceedsThreshold() {
		return errResponse("%s: queue duration exceeds threshold (%s) and current entry is not last", action, s.cfg.QueueDurationThreshold())
	}

	switch action {
	case ActionAddBack:
		s.queue.AddBack(entries)
	case ActionAddFront:
		s.queue.AddFront(entries)
	case ActionInsert:
		s.queue.Insert(req.Index, entries)
	}
	return Response{OK: true}
}

// exceedsThreshold implements the ADD_BACK/ADD_FRONT threshold rule
// (§4.4): rejected only if remaining time exceeds the threshold AND the
// current entry is not already the last entry in the queue (stacking
// during a long exposure is always allowed).
func (s *Server) exceedsThreshold() bool {
	remaining := s.queue.RemainingTime()
	threshold := int64(s.cfg.QueueDurationThreshold().Seconds())
	if remaining <= threshold {
		return false
	}
	if s.queue.CurrentIndex == len(s.queue.Entries)-1 {
		return false
	}
	return true
}

// doLoadFamily implements LOAD: parse the manifest and entirely replace
// the queue contents.
func (s *Server) doLoadFamily(action Action, req Request, apply func([]*queue.Entry)) Response {
	entries, err := s.buildEntriesFromManifest(req)
	if err != nil {
		return errResponse("%s: %v", action, err)
	}
	apply(entries)
	s.backend.ClearPendingFailure()
	s.pub.ClearFailure()
	return Response{OK: true}
}

func (s *Server) buildEntriesFromManifest(req Request) ([]*queue.Entry, error) {
	if req.ManifestFile == "" {
		return nil, fmt.Errorf("manifest filename required")
	}
	doc, err := manifest.ParseFile(req.ManifestFile)
	if err != nil {
		return nil, err
	}
	entries, err := doc.BuildEntries(s.telescope, manifest.EntryMeta{
		ProjectID:  req.ProjectID,
		MSBID:      req.MSBID,
		MSBTitle:   req.MSBTitle,
		ObsMode:    req.ObsMode,
		Waveband:   req.Waveband,
		Cal:        req.IsCal,
		GenericCal: req.GenericCal,
	})
	if err != nil {
		return nil, err
	}

	if req.IsCal {
		// Standalone calibrations are inserted without MSB grouping
		// (§4.4: "group them as one MSB unless iscal flag is set").
		return entries, nil
	}

	qid := s.nextQueueIDAndBump()
	msb := queue.NewMSB(req.ProjectID, req.MSBID, req.MSBTitle, s.cfg.Telescope, entries, msbCompletionAdapter(s.tracker))
	msb.QueueID = qid
	return entries, nil
}

// doModify implements MODIFY (§4.4): parse targetXML, overwrite the
// entry's target wholesale, optionally propagate, and auto-start unless
// told not to.
func (s *Server) doModify(req Request) Response {
	if req.Index < 0 || req.Index >= len(s.queue.Entries) {
		return errResponse("MODIFY: index %d out of range", req.Index)
	}
	target, err := manifest.ParseTargetXMLString(req.TargetXML)
	if err != nil {
		return errResponse("MODIFY: %v", err)
	}

	s.queue.Entries[req.Index].Entity.SetTarget(target)
	if req.Propagate {
		s.queue.PropagateTarget(req.Index)
	}

	s.backend.ClearPendingFailure()
	s.pub.ClearFailure()
	if !req.NoAutoStart {
		s.backend.SetRunning(true)
	}
	return Response{OK: true}
}

// doSuspendMSB implements SUSPEND_MSB (§4.4): report the current entry's
// MSB as suspended to the project database, clear hasBeenObserved so the
// completion path never fires an accept prompt for it, then cut it.
func (s *Server) doSuspendMSB(ctx context.Context) Response {
	entry, ok := s.queue.GetForObservation()
	if !ok {
		return errResponse("SUSPEND_MSB: no current entry")
	}

	rpcCtx, cancel := context.WithTimeout(ctx, s.cfg.ProjectDB.Timeout())
	defer cancel()
	if err := s.db.Suspend(rpcCtx, entry.Entity.ProjectID(), entry.Entity.MSBID(), entry.Entity.ObsLabel()); err != nil {
		s.logger.Error("project database suspend RPC failed", "error", err)
	}

	if entry.MSB != nil {
		entry.MSB.ClearObserved()
		s.queue.CutMSB(s.queue.IndexOfEntry(entry))
	} else {
		s.queue.Cut(s.queue.IndexOfEntry(entry), 1)
	}
	return Response{OK: true}
}

// doMSBComplete implements MSB_COMPLETE (§4.4): one or many decisions in a
// single call.
func (s *Server) doMSBComplete(ctx context.Context, req Request) Response {
	decisions := req.Decisions
	if len(decisions) == 0 {
		if req.TransactionKey == "" {
			return errResponse("MSB_COMPLETE: no decisions supplied")
		}
		decisions = []MSBCompleteDecision{{
			Key: req.TransactionKey, Decision: req.Decision, UserID: req.UserID, Reason: req.Reason,
		}}
	}

	var failures []string
	for _, d := range decisions {
		if err := s.tracker.Complete(ctx, d.Key, d.Decision, d.UserID, d.Reason); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", d.Key, err))
		}
	}
	if len(failures) > 0 {
		return errResponse("MSB_COMPLETE: %v", failures)
	}
	return Response{OK: true}
}

func (s *Server) doGetEntry(req Request) Response {
	if req.Index < 0 || req.Index >= len(s.queue.Entries) {
		return errResponse("GET_ENTRY: index %d out of range", req.Index)
	}
	e := s.queue.Entries[req.Index]
	view := &EntryView{
		Label:         e.Label,
		Status:        string(e.Status),
		Kind:          string(e.Entity.Kind()),
		Telescope:     e.Entity.Telescope(),
		Instrument:    e.Entity.Instrument(),
		ObsMode:       e.Entity.ObsMode(),
		ProjectID:     e.Entity.ProjectID(),
		MSBID:         e.Entity.MSBID(),
		MSBTitle:      e.Entity.MSBTitle(),
		Waveband:      e.Entity.Waveband(),
		DurationS:     int64(e.Entity.Duration().Seconds()),
		Cal:           e.Entity.IsCal(),
		GenericCal:    e.Entity.IsGenericCal(),
		MissingTarget: e.Entity.IsMissingTarget(),
	}
	if t, ok := e.Entity.GetTarget(); ok {
		view.HasTarget = true
		view.Target = &t
	}
	return Response{OK: true, Entry: view}
}
