package session

import (
	"errors"
	"fmt"

	"github.com/wafertools/secs2-hsms-go/pkg/hsms"
)

var (
	// ErrDisconnected is returned by operations interrupted by connection
	// loss, and resolves every transaction that was open when the
	// connection went down.
	ErrDisconnected = errors.New("hsms: disconnected")

	// ErrSeparated is the disconnect cause when the peer sent a
	// Separate.req.
	ErrSeparated = errors.New("hsms: separated by peer")
)

// Timer identifies one of the HSMS timeouts.
type Timer int

const (
	TimerT3 Timer = iota
	TimerT5
	TimerT6
	TimerT7
	TimerT8
)

// String returns the timer name.
func (t Timer) String() string {
	switch t {
	case TimerT3:
		return "t3"
	case TimerT5:
		return "t5"
	case TimerT6:
		return "t6"
	case TimerT7:
		return "t7"
	case TimerT8:
		return "t8"
	}
	return "unknown"
}

// TimeoutError reports the expiry of an HSMS timer.
type TimeoutError struct {
	Timer Timer
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("hsms: %s timeout", e.Timer)
}

// TransportErrorKind classifies transport failures.
type TransportErrorKind int

const (
	TransportConnectFailed TransportErrorKind = iota
	TransportAcceptFailed
	TransportIO
	TransportT5NotElapsed
)

// String returns the name of the transport error kind.
func (k TransportErrorKind) String() string {
	switch k {
	case TransportConnectFailed:
		return "connect failed"
	case TransportAcceptFailed:
		return "accept failed"
	case TransportIO:
		return "io error"
	case TransportT5NotElapsed:
		return "t5 not elapsed"
	}
	return "unknown"
}

// TransportError reports a socket-level failure.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hsms: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("hsms: %s", e.Kind)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StateError reports an operation attempted in a state that does not permit
// it.
type StateError struct {
	Op         string
	Connection ConnectionState
	Selection  SelectionState
}

func (e *StateError) Error() string {
	if e.Connection == NotConnected {
		return fmt.Sprintf("hsms: %s not valid in state %s", e.Op, e.Connection)
	}
	return fmt.Sprintf("hsms: %s not valid in state %s/%s", e.Op, e.Connection, e.Selection)
}

// RejectedError resolves a transaction whose request the peer answered with
// a Reject.req.
type RejectedError struct {
	Reason hsms.RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("hsms: rejected by peer: %s", e.Reason)
}

// SelectRefusedError resolves a select transaction answered with a non-zero
// select status.
type SelectRefusedError struct {
	Status hsms.SelectStatus
}

func (e *SelectRefusedError) Error() string {
	return fmt.Sprintf("hsms: select refused with status %d", e.Status)
}

// DeselectRefusedError resolves a deselect transaction answered with a
// non-zero deselect status.
type DeselectRefusedError struct {
	Status hsms.DeselectStatus
}

func (e *DeselectRefusedError) Error() string {
	return fmt.Sprintf("hsms: deselect refused with status %d", e.Status)
}
