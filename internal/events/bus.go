// Package events provides a publish/subscribe event bus carrying observable
// parameter updates from the queue server to monitor clients (the WebSocket
// feed, and anything else watching) and message-stream lines. The bus is
// nil-safe: calling Publish on a nil *Bus is a no-op, so components do not
// need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceQueue identifies events from queue-contents mutations (LOAD,
	// CUT, INSERT, and the rest of §4.1's operations).
	SourceQueue = "queue"
	// SourceBackend identifies events from the backend (send/poll/
	// postObsTidy and the target-fixup logic).
	SourceBackend = "backend"
	// SourceMSBComplete identifies events from the MSB-completion tracker.
	SourceMSBComplete = "msbcomplete"
	// SourceServer identifies events from the command server's own
	// lifecycle (start/stop, alert state).
	SourceServer = "server"
)

// Kind constants describe the type of event within a source, matching the
// observable-parameter names in §6.
const (
	// KindStatus signals a STATUS change ("Running"/"Stopped").
	// Data: status.
	KindStatus = "status"
	// KindAlert signals an ALERT change (0 none, 1 backend error, 2 empty).
	// Data: code.
	KindAlert = "alert"
	// KindIndex signals an INDEX (current highlight) change.
	// Data: index.
	KindIndex = "index"
	// KindTimeOnQueue signals a TIMEONQUEUE change.
	// Data: minutes.
	KindTimeOnQueue = "time_on_queue"
	// KindCurrent signals a CURRENT (last-sent summary) change.
	// Data: summary.
	KindCurrent = "current"
	// KindContents signals a Queue.Contents[] republish.
	// Data: lines.
	KindContents = "contents"
	// KindFailure signals FAILURE.DETAILS being populated.
	// Data: reason, index, mode, waveband, instrument, telescope, time,
	// az, el, refname, following, cal, entry.
	KindFailure = "failure"
	// KindMSBCompleted signals a new or cleared MSBCOMPLETED.<key> record.
	// Data: key, projectid, msbid, msbtid, msbtitle, queueid, timestamp,
	// cleared (bool, true when the record is being removed).
	KindMSBCompleted = "msb_completed"
	// KindMessage signals a line on the good-stream or error-stream.
	// Data: stream ("good" or "error"), text, ts (UTC HH:MM:SS prefix).
	KindMessage = "message"
)

// Event represents a single observable-parameter update or message-stream
// line published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
