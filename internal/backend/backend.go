package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eaobservatory/ocsqueue/internal/queue"
)

// Variant selects which addFailureContext rules apply — the two concrete
// backends named in design note §9.
type Variant string

const (
	VariantInstrumentTask Variant = "instrument-task"
	VariantSCUBATask      Variant = "scuba-task"
)

// Message is one drained backend message, tagged with a status code: 0 for
// "good", non-zero for an error code (§4.3 poll()).
type Message struct {
	Code int
	Text string
}

// Backend is the adapter to the instrument controller (C4). It owns no
// goroutine of its own; Poll is called by the server's event loop on each
// tick and after every Link reply so all of this package's state mutation
// happens on that single goroutine, satisfying §5's single-writer rule.
type Backend struct {
	Link    Link
	Logger  *slog.Logger
	Queue   *queue.Contents
	Variant Variant

	// OnEmpty fires when postObsTidy walks current-index past the end of
	// the queue (§4.3).
	OnEmpty func()
	// OnMSBComplete fires when the entry completing postObsTidy is
	// last-in-MSB (§4.3); wired to the MSB-completion tracker (C6).
	OnMSBComplete func(*queue.Entry)

	running    bool
	accepting  bool
	connected  bool
	lastSent   *queue.Entry
	pending    queue.FailureReason
	pendingFor *queue.Entry
	messages   []Message
}

// New constructs a Backend. accepting starts true: a freshly connected
// backend is ready for its first entry.
func New(link Link, q *queue.Contents, variant Variant, logger *slog.Logger) *Backend {
	return &Backend{
		Link:      link,
		Queue:     q,
		Variant:   variant,
		Logger:    logger,
		accepting: true,
	}
}

func (b *Backend) SetRunning(r bool) { b.running = r }
func (b *Backend) QRunning() bool    { return b.running }
func (b *Backend) Accepting() bool   { return b.accepting }
func (b *Backend) IsConnected() bool { return b.connected }

// LastSent returns the entry currently awaiting a success/error reply, or
// nil if nothing is in flight.
func (b *Backend) LastSent() *queue.Entry { return b.lastSent }

// PendingFailure returns the most recently recorded recoverable failure
// reason and the entry it was recorded against, for the server to publish
// as FAILURE.DETAILS (§6).
func (b *Backend) PendingFailure() (queue.FailureReason, *queue.Entry) {
	return b.pending, b.pendingFor
}

// ClearPendingFailure clears the recorded recoverable failure reason.
// Called on START and on a successful MODIFY/LOAD per §7's recovery rule
// ("clear when the operator provides a target via MODIFY or loads new
// entries").
func (b *Backend) ClearPendingFailure() {
	b.pending = nil
	b.pendingFor = nil
}

func (b *Backend) Connect(ctx context.Context) error {
	if b.connected {
		return nil
	}
	if err := b.Link.Connect(ctx); err != nil {
		return fmt.Errorf("backend connect: %w", err)
	}
	b.connected = true
	return nil
}

func (b *Backend) Disconnect() error {
	if !b.connected {
		return nil
	}
	if err := b.Link.Disconnect(); err != nil {
		return fmt.Errorf("backend disconnect: %w", err)
	}
	b.connected = false
	return nil
}

// Send implements §4.3 send(entry). It returns the recoverable failure
// reason, if any, separately from a hard error (irrecoverable failures from
// prepare/dispatch).
func (b *Backend) Send(ctx context.Context) (sent bool, reason queue.FailureReason, err error) {
	if !b.running || !b.accepting || len(b.Queue.Entries) == 0 {
		return false, nil, nil
	}
	entry, ok := b.Queue.GetForObservation()
	if !ok {
		return false, nil, nil
	}

	if !b.connected {
		if err := b.Connect(ctx); err != nil {
			return false, nil, err
		}
	}

	artifact, failReason, prepErr := entry.Entity.Prepare()
	if prepErr != nil {
		return false, nil, fmt.Errorf("prepare %s: %w", entry.Label, prepErr)
	}
	if failReason != nil {
		b.pending = failReason
		b.pendingFor = entry
		b.addFailureContext(entry)
		return false, b.pending, nil
	}

	entry.Status = queue.StatusSent
	b.lastSent = entry
	b.accepting = false
	b.Queue.LastSentIndex = b.Queue.CurrentIndex

	if err := b.Link.Send(ctx, entry.TransactionID, artifact); err != nil {
		return false, nil, fmt.Errorf("send %s: %w", entry.Label, err)
	}
	return true, nil, nil
}

// Poll drains pending backend messages, attempts a send if appropriate, and
// drains again, returning a tri-tuple of (local-ok, codes, messages)
// matching §4.3's poll() contract.
func (b *Backend) Poll(ctx context.Context) (localOK bool, codes []int, msgs []string) {
	b.drainReplies()
	codes, msgs = b.takeMessages()

	if b.running && b.accepting && len(b.Queue.Entries) > 0 {
		_, reason, err := b.Send(ctx)
		if err != nil {
			b.running = false
			b.messages = append(b.messages, Message{Code: 1, Text: err.Error()})
			localOK = false
		} else if reason != nil {
			b.running = false
			localOK = false
		} else {
			localOK = true
		}
	} else {
		localOK = true
	}

	b.drainReplies()
	moreCodes, moreMsgs := b.takeMessages()
	codes = append(codes, moreCodes...)
	msgs = append(msgs, moreMsgs...)
	return localOK, codes, msgs
}

func (b *Backend) takeMessages() ([]int, []string) {
	codes := make([]int, 0, len(b.messages))
	msgs := make([]string, 0, len(b.messages))
	for _, m := range b.messages {
		codes = append(codes, m.Code)
		msgs = append(msgs, m.Text)
	}
	b.messages = nil
	return codes, msgs
}

// drainReplies pulls every reply currently queued on the link, without
// blocking, and dispatches each to the appropriate callback.
func (b *Backend) drainReplies() {
	for {
		select {
		case r, ok := <-b.Link.Replies():
			if !ok {
				return
			}
			b.handleReply(r)
		default:
			return
		}
	}
}

// HandleReply processes one reply already read off the Link's reply channel
// by the caller (the server event loop selecting directly on it for
// responsiveness between poll ticks). Must only be called from the single
// goroutine that owns this Backend.
func (b *Backend) HandleReply(r Reply) {
	b.handleReply(r)
}

func (b *Backend) handleReply(r Reply) {
	switch r.Kind {
	case ReplySuccess:
		if b.lastSent != nil {
			b.lastSent.Status = queue.StatusObserved
			b.postObsTidy(b.lastSent)
			b.lastSent = nil
		}
	case ReplyError:
		if b.lastSent != nil {
			b.lastSent.Status = queue.StatusError
			b.lastSent = nil
		}
		b.messages = append(b.messages, Message{Code: r.Code, Text: r.Text})
	case ReplyComplete:
		b.accepting = true
	case ReplyInfo:
		b.messages = append(b.messages, Message{Code: r.Code, Text: r.Text})
	}
}

// postObsTidy implements §4.3: mark the MSB observed, advance current-index
// if nothing moved underneath the send, stop the queue at end-of-queue, and
// fire the MSB-completion hook for a last-in-MSB entry.
func (b *Backend) postObsTidy(entry *queue.Entry) {
	if entry.MSB != nil {
		entry.MSB.HasBeenObserved = true
	}

	if b.Queue.LastSentIndex == b.Queue.CurrentIndex {
		b.Queue.CurrentIndex++
		if b.Queue.CurrentIndex >= len(b.Queue.Entries) {
			b.running = false
			b.Queue.CurrentIndex = 0
			if b.OnEmpty != nil {
				b.OnEmpty()
			}
		}
	}
	b.Queue.LastSentIndex = queue.UndefinedIndex

	if entry.LastInMSB && b.OnMSBComplete != nil {
		b.OnMSBComplete(entry)
	}
}
