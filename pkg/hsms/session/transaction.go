package session

import "github.com/wafertools/secs2-hsms-go/pkg/hsms"

// replyKind is the kind of response an open transaction is waiting for.
type replyKind int

const (
	replySelect replyKind = iota
	replyDeselect
	replyLinktest
	replyData
)

// outcome is the resolution of a transaction: a matched response message, or
// the error that ended the wait.
type outcome struct {
	msg hsms.Message
	err error
}

// transaction is one open request in the pending-reply table, keyed by its
// system bytes; the arriving response is correlated by system bytes alone.
// The waiter channel has capacity one and is written exactly once, by the
// state machine task, when the transaction leaves the table.
type transaction struct {
	systemBytes uint32
	kind        replyKind
	timerID     uint64
	waiter      chan outcome
}

func (t *transaction) resolve(msg hsms.Message, err error) {
	t.waiter <- outcome{msg: msg, err: err}
}
