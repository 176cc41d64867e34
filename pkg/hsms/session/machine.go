package session

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wafertools/secs2-hsms-go/pkg/hsms"
	"github.com/wafertools/secs2-hsms-go/pkg/hsms/conn"
)

// machine owns all mutable protocol state of one connection: the selection
// state, the open-transaction table, and the timers. Only its run task
// touches them; user operations arrive as closures on the ops channel and
// execute on the task.
type machine struct {
	s        *Session
	settings Settings
	log      *logrus.Entry
	c        *conn.Conn
	ln       *conn.Listener // passive mode; nil otherwise
	events   chan Event
	ops      chan func()
	done     chan struct{} // closed when teardown is complete

	table       map[uint32]*transaction
	timers      *timerSet
	timer       *time.Timer
	systemBytes uint32
	t7ID        uint64
	t7Active    bool

	closing bool
	cause   error
}

func (m *machine) run() {
	m.timer = time.NewTimer(time.Hour)
	defer m.timer.Stop()

	m.startT7()

	for !m.closing {
		timerC := m.armTimer()
		select {
		case op := <-m.ops:
			op()
		case frame, ok := <-m.c.Inbound():
			if !ok {
				m.shutdown(m.disconnectCause())
			} else {
				m.handleFrame(frame)
			}
		case <-timerC:
			m.fireTimers()
		}
	}

	m.finish()
}

// shutdown marks the machine for teardown with the given disconnect cause;
// nil means a local, orderly close.
func (m *machine) shutdown(cause error) {
	if m.closing {
		return
	}
	m.closing = true
	m.cause = cause
}

// finish completes the teardown: fails all open transactions, closes the
// socket, publishes the disconnect, and drains queued operations.
func (m *machine) finish() {
	for _, tx := range m.table {
		tx.resolve(nil, ErrDisconnected)
	}
	m.table = make(map[uint32]*transaction)
	m.s.metrics.openTransactions.Set(0)
	m.timers.clear()

	if m.cause == nil {
		// Orderly teardown: let queued frames (e.g. a just-sent
		// Separate.req) reach the wire before closing the socket.
		flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		m.c.Flush(flushCtx)
		cancel()
	}
	m.c.Close()
	if m.ln != nil {
		m.ln.Close()
	}

	s := m.s
	s.mu.Lock()
	s.m = nil
	s.ln = nil
	s.lastDisconnect = time.Now()
	s.mu.Unlock()
	s.connState.Store(int32(NotConnected))
	s.selState.Store(int32(NotSelected))
	s.metrics.selected.Set(0)

	if m.cause != nil {
		m.log.WithError(m.cause).Info("disconnected")
	} else {
		m.log.Info("disconnected")
	}

	close(m.done)

	// Operations that were queued behind the teardown fail fast now that
	// closing is set; afterwards no sender can reach the ops channel.
	for {
		select {
		case op := <-m.ops:
			op()
		default:
			cause := m.cause
			events := m.events
			go func() {
				events <- &DisconnectedEvent{Err: cause}
				close(events)
			}()
			return
		}
	}
}

// disconnectCause maps the primitive connection's failure to a session
// error. A locally closed connection has no cause.
func (m *machine) disconnectCause() error {
	err := m.c.Err()
	switch {
	case err == nil, errors.Is(err, conn.ErrClosed):
		return nil
	case errors.Is(err, conn.ErrT8Timeout):
		m.s.metrics.timeouts.WithLabelValues(TimerT8.String()).Inc()
		return &TimeoutError{Timer: TimerT8}
	default:
		return &TransportError{Kind: TransportIO, Err: err}
	}
}

func (m *machine) selection() SelectionState {
	return SelectionState(m.s.selState.Load())
}

// setSelection transitions the selection state and keeps the T7 timer
// running exactly while NotSelected.
func (m *machine) setSelection(sel SelectionState) {
	prev := m.selection()
	if prev == sel {
		return
	}
	m.s.selState.Store(int32(sel))

	if sel == Selected {
		m.s.metrics.selected.Set(1)
	} else {
		m.s.metrics.selected.Set(0)
	}

	if sel == NotSelected {
		m.startT7()
	} else if prev == NotSelected {
		m.stopT7()
	}
	m.log.WithField("state", sel.String()).Debug("selection state changed")
}

func (m *machine) startT7() {
	if !m.t7Active {
		m.t7ID = m.timers.add(time.Now().Add(m.settings.T7), timerT7, 0)
		m.t7Active = true
	}
}

func (m *machine) stopT7() {
	if m.t7Active {
		m.timers.cancel(m.t7ID)
		m.t7Active = false
	}
}

// armTimer resets the machine's timer to the earliest scheduled deadline and
// returns its channel.
func (m *machine) armTimer() <-chan time.Time {
	if !m.timer.Stop() {
		select {
		case <-m.timer.C:
		default:
		}
	}
	d := time.Hour
	if at, ok := m.timers.next(); ok {
		d = time.Until(at)
		if d < 0 {
			d = 0
		}
	}
	m.timer.Reset(d)
	return m.timer.C
}

// fireTimers resolves every expiry that is due.
func (m *machine) fireTimers() {
	now := time.Now()
	for {
		e := m.timers.pop(now)
		if e == nil {
			return
		}
		switch e.kind {
		case timerT7:
			m.s.metrics.timeouts.WithLabelValues(TimerT7.String()).Inc()
			m.log.Warn("t7 not-selected timeout")
			m.shutdown(&TimeoutError{Timer: TimerT7})
			return

		case timerT3:
			if tx := m.takeTransaction(e.systemBytes, e.id); tx != nil {
				m.s.metrics.timeouts.WithLabelValues(TimerT3.String()).Inc()
				tx.resolve(nil, &TimeoutError{Timer: TimerT3})
			}

		case timerT6:
			tx := m.takeTransaction(e.systemBytes, e.id)
			if tx == nil {
				continue
			}
			m.s.metrics.timeouts.WithLabelValues(TimerT6.String()).Inc()
			tx.resolve(nil, &TimeoutError{Timer: TimerT6})
			switch tx.kind {
			case replySelect:
				// T6 on select closes the connection.
				m.setSelection(NotSelected)
				m.shutdown(&TimeoutError{Timer: TimerT6})
				return
			case replyDeselect:
				if m.selection() == DeselectInitiated {
					m.setSelection(Selected)
				}
			}
		}
	}
}

// newTransaction opens a transaction: allocates system bytes, inserts the
// table entry, and schedules its timer.
func (m *machine) newTransaction(kind replyKind, timeout time.Duration) *transaction {
	tk := timerT6
	if kind == replyData {
		tk = timerT3
	}
	tx := &transaction{
		systemBytes: m.allocSystemBytes(),
		kind:        kind,
		waiter:      make(chan outcome, 1),
	}
	tx.timerID = m.timers.add(time.Now().Add(timeout), tk, tx.systemBytes)
	m.table[tx.systemBytes] = tx
	m.s.metrics.openTransactions.Inc()
	return tx
}

// allocSystemBytes returns the next system bytes value not used by an open
// transaction.
func (m *machine) allocSystemBytes() uint32 {
	for {
		v := m.systemBytes
		m.systemBytes++
		if _, open := m.table[v]; !open {
			return v
		}
	}
}

// takeTransaction removes and returns the table entry with the given system
// bytes, provided it still belongs to the given timer. A stale timer whose
// system bytes were reused matches nothing.
func (m *machine) takeTransaction(systemBytes uint32, timerID uint64) *transaction {
	tx, ok := m.table[systemBytes]
	if !ok || tx.timerID != timerID {
		return nil
	}
	delete(m.table, systemBytes)
	m.s.metrics.openTransactions.Dec()
	return tx
}

// closeTransaction removes a resolved transaction and cancels its timer.
func (m *machine) closeTransaction(tx *transaction) {
	delete(m.table, tx.systemBytes)
	m.timers.cancel(tx.timerID)
	m.s.metrics.openTransactions.Dec()
}

// send encodes and enqueues a message for transmission. A transport failure
// tears the connection down.
func (m *machine) send(msg hsms.Message) {
	if err := m.c.Send(context.Background(), msg.ToBytes()); err != nil {
		m.shutdown(&TransportError{Kind: TransportIO, Err: err})
		return
	}
	m.s.metrics.framesOut.Inc()
	m.log.WithFields(logrus.Fields{
		"type":   msg.Type(),
		"system": msg.SystemBytes(),
	}).Debug("frame sent")
}

// deliver publishes an event to the user channel. The send blocks while the
// channel is full, pausing frame processing and propagating backpressure.
func (m *machine) deliver(ev Event) {
	select {
	case m.events <- ev:
	case <-m.c.Done():
	}
}

// reject answers an offending message with Reject.req. A reject is never
// answered with a reject.
func (m *machine) reject(offending hsms.Header, reason hsms.RejectReason) {
	if offending.SType == hsms.STypeRejectReq {
		return
	}
	m.s.metrics.rejectsOut.Inc()
	m.log.WithFields(logrus.Fields{
		"stype":  offending.SType.String(),
		"reason": reason.String(),
	}).Warn("rejecting message")
	m.send(hsms.NewRejectReq(offending, reason))
}

// handleFrame decodes and dispatches one inbound frame. Malformed frames
// are answered with Reject.req where the header permits and discarded; they
// never tear the connection down.
func (m *machine) handleFrame(frame conn.Frame) {
	m.s.metrics.framesIn.Inc()

	if frame.Oversized {
		// The reader discarded the payload; the header survives, so
		// the offending message can be rejected.
		header, err := hsms.ParseHeader(frame.Body)
		if err != nil {
			m.log.WithError(err).Warn("dropping oversized frame without header")
			return
		}
		fe := &hsms.FrameError{Kind: hsms.FrameTooLarge, Header: header}
		m.log.WithError(fe).WithField("length", frame.Declared).Warn("received oversized frame")
		m.reject(header, hsms.RejectMalformedData)
		return
	}

	msg, err := hsms.Decode(frame.Body)
	if err != nil {
		var fe *hsms.FrameError
		if !errors.As(err, &fe) {
			m.log.WithError(err).Warn("dropping undecodable frame")
			return
		}
		switch fe.Kind {
		case hsms.FrameUnsupportedSType:
			m.reject(fe.Header, hsms.RejectSTypeNotSupported)
		case hsms.FrameUnsupportedPType:
			m.reject(fe.Header, hsms.RejectPTypeNotSupported)
		case hsms.FrameInvalidControl, hsms.FrameMalformedBody:
			m.reject(fe.Header, hsms.RejectMalformedData)
		default:
			m.log.WithError(fe).Warn("dropping undecodable frame")
		}
		return
	}

	switch msg := msg.(type) {
	case *hsms.DataMessage:
		m.handleData(msg)
	case *hsms.ControlMessage:
		m.handleControl(msg)
	}
}

// handleData applies the data message reception rules.
func (m *machine) handleData(msg *hsms.DataMessage) {
	if m.selection() != Selected {
		m.reject(msg.Header(), hsms.RejectEntityNotSelected)
		return
	}

	if !msg.IsPrimary() {
		// A response is correlated to its request solely by system
		// bytes.
		tx, ok := m.table[msg.SystemBytes()]
		if ok && tx.kind == replyData {
			m.closeTransaction(tx)
			tx.resolve(msg, nil)
			return
		}
		m.reject(msg.Header(), hsms.RejectTransactionNotOpen)
		return
	}

	m.deliver(&DataEvent{Message: msg})
}

// handleControl applies the control message reception rules.
func (m *machine) handleControl(msg *hsms.ControlMessage) {
	switch msg.SType() {
	case hsms.STypeSelectReq:
		switch m.selection() {
		case NotSelected:
			m.send(hsms.NewSelectRsp(msg, hsms.SelectOK))
			m.setSelection(Selected)
		case Selected:
			m.send(hsms.NewSelectRsp(msg, hsms.SelectAlreadyActive))
		case SelectInitiated:
			// Simultaneous select: accept; the select we initiated
			// resolves on its own response.
			m.send(hsms.NewSelectRsp(msg, hsms.SelectOK))
			m.setSelection(Selected)
		case DeselectInitiated:
			m.send(hsms.NewSelectRsp(msg, hsms.SelectNotReady))
		}

	case hsms.STypeSelectRsp:
		tx, ok := m.table[msg.SystemBytes()]
		if !ok || tx.kind != replySelect {
			m.reject(msg.Header(), hsms.RejectTransactionNotOpen)
			return
		}
		m.closeTransaction(tx)
		if status := msg.SelectStatus(); status != hsms.SelectOK {
			if m.selection() == SelectInitiated {
				m.setSelection(NotSelected)
			}
			tx.resolve(nil, &SelectRefusedError{Status: status})
			return
		}
		if m.selection() == SelectInitiated {
			m.setSelection(Selected)
		}
		tx.resolve(msg, nil)

	case hsms.STypeDeselectReq:
		if m.selection() == Selected {
			m.send(hsms.NewDeselectRsp(msg, hsms.DeselectOK))
			m.setSelection(NotSelected)
		} else {
			m.send(hsms.NewDeselectRsp(msg, hsms.DeselectNotEstablished))
		}

	case hsms.STypeDeselectRsp:
		tx, ok := m.table[msg.SystemBytes()]
		if !ok || tx.kind != replyDeselect {
			m.reject(msg.Header(), hsms.RejectTransactionNotOpen)
			return
		}
		m.closeTransaction(tx)
		if status := msg.DeselectStatus(); status != hsms.DeselectOK {
			if m.selection() == DeselectInitiated {
				m.setSelection(Selected)
			}
			tx.resolve(nil, &DeselectRefusedError{Status: status})
			return
		}
		if m.selection() == DeselectInitiated {
			m.setSelection(NotSelected)
		}
		tx.resolve(msg, nil)

	case hsms.STypeLinktestReq:
		m.send(hsms.NewLinktestRsp(msg))

	case hsms.STypeLinktestRsp:
		tx, ok := m.table[msg.SystemBytes()]
		if !ok || tx.kind != replyLinktest {
			m.reject(msg.Header(), hsms.RejectTransactionNotOpen)
			return
		}
		m.closeTransaction(tx)
		tx.resolve(msg, nil)

	case hsms.STypeRejectReq:
		if tx, ok := m.table[msg.SystemBytes()]; ok {
			m.closeTransaction(tx)
			switch tx.kind {
			case replySelect:
				if m.selection() == SelectInitiated {
					m.setSelection(NotSelected)
				}
			case replyDeselect:
				if m.selection() == DeselectInitiated {
					m.setSelection(Selected)
				}
			}
			tx.resolve(nil, &RejectedError{Reason: msg.RejectReason()})
			return
		}
		m.deliver(&RejectEvent{
			Reason:      msg.RejectReason(),
			RefSType:    msg.RejectedSType(),
			SystemBytes: msg.SystemBytes(),
		})

	case hsms.STypeSeparateReq:
		m.log.Info("separate requested by peer")
		m.shutdown(ErrSeparated)
	}
}
