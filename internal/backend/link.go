// Package backend adapts the queue core to the downstream instrument
// controller (C4): sending one entry, polling for completion, surfacing
// failures, and running post-observation tidy. It depends only on the
// Link interface below, never on a concrete transport, so the queue core
// can be tested against backend.FakeLink without a live broker.
package backend

import "context"

// ReplyKind classifies an inbound message from the instrument controller.
type ReplyKind int

const (
	ReplySuccess ReplyKind = iota
	ReplyError
	ReplyComplete
	ReplyInfo
)

// Reply is one message arriving on the link, tagged by transaction id so
// the Backend can correlate it with the entry that is currently SENT.
type Reply struct {
	TransactionID string
	Kind          ReplyKind
	Code          int
	Text          string
}

// Link is the transport abstraction the instrument-controller reply
// channel is realized over (design note §9, "asynchronous I/O"). A real
// implementation publishes artifact identifiers and demultiplexes replies
// by transaction id over MQTT (mqttlink.go); FakeLink does the same
// in-process for tests.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Send dispatches artifact non-blockingly; completion arrives later on
	// Replies().
	Send(ctx context.Context, transactionID, artifact string) error

	// Replies is the channel of inbound Reply messages, in receipt order.
	Replies() <-chan Reply
}
