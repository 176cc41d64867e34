package session

import "github.com/wafertools/secs2-hsms-go/pkg/hsms"

// Event is an unsolicited occurrence delivered on the session's event
// channel: a received primary data message, a reject that matched no open
// transaction, or the final disconnect marker.
type Event interface {
	event()
}

// DataEvent carries a primary data message received while Selected. Replies
// are never delivered as events: a reply that matches no open transaction is
// answered with a Reject.req.
type DataEvent struct {
	Message *hsms.DataMessage
}

func (*DataEvent) event() {}

// RejectEvent carries a Reject.req that matched no open transaction.
type RejectEvent struct {
	Reason      hsms.RejectReason
	RefSType    byte
	SystemBytes uint32
}

func (*RejectEvent) event() {}

// DisconnectedEvent is the final event on the channel; the channel is closed
// after it. Err is nil when the session was closed locally.
type DisconnectedEvent struct {
	Err error
}

func (*DisconnectedEvent) event() {}
