// Package session implements the HSMS (SEMI E37) endpoint state machine:
// connection and selection states, the control and data procedures, the
// open-transaction table, and the T3/T5/T6/T7 timers.
//
// All protocol state is owned by a single machine task per connection; user
// operations and inbound frames are funneled to it through channels, so no
// state is shared under locks.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wafertools/secs2-hsms-go/pkg/hsms"
	"github.com/wafertools/secs2-hsms-go/pkg/hsms/conn"
	"github.com/wafertools/secs2-hsms-go/pkg/secs2"
)

// Session is an HSMS endpoint. A Session is created disconnected; Open
// establishes the TCP connection per the configured mode, and the selection
// procedures and data messaging become available while it is connected.
//
// A Session may be reopened after a disconnect, subject to the T5 connect
// separation timeout.
type Session struct {
	settings Settings
	log      *logrus.Entry
	metrics  *metrics

	connState atomic.Int32
	selState  atomic.Int32

	mu             sync.Mutex
	m              *machine
	ln             *conn.Listener
	events         chan Event
	opening        bool
	lastDisconnect time.Time
}

// New creates a Session with the given settings.
func New(settings Settings) *Session {
	settings = settings.withDefaults()
	s := &Session{
		settings: settings,
		metrics:  newMetrics(settings.Registerer),
	}
	s.log = settings.Logger.WithFields(logrus.Fields{
		"mode":    settings.Mode.String(),
		"session": fmt.Sprintf("0x%04X", settings.SessionID),
	})
	return s
}

// State returns the current connection and selection states.
func (s *Session) State() (ConnectionState, SelectionState) {
	return ConnectionState(s.connState.Load()), SelectionState(s.selState.Load())
}

// Addr returns the bound local address in passive mode, or nil when the
// session is not listening.
func (s *Session) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Events returns the channel of unsolicited events for the current
// connection: received primary data messages, unmatched rejects, and the
// final DisconnectedEvent after which the channel is closed. A new channel
// is created by each Open.
func (s *Session) Events() <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		closed := make(chan Event)
		close(closed)
		return closed
	}
	return s.events
}

// Open establishes the connection: active mode dials the peer, passive mode
// binds the configured address and accepts one connection. On success the
// session is Connected and NotSelected, with the T7 not-selected timer
// running.
//
// Open fails with TransportT5NotElapsed when called within T5 of the
// previous disconnect.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.m != nil || s.opening {
		sel := SelectionState(s.selState.Load())
		s.mu.Unlock()
		return &StateError{Op: "open", Connection: Connected, Selection: sel}
	}
	if !s.lastDisconnect.IsZero() && time.Since(s.lastDisconnect) < s.settings.T5 {
		s.mu.Unlock()
		return &TransportError{Kind: TransportT5NotElapsed}
	}
	s.opening = true
	s.mu.Unlock()

	c, ln, err := s.connect(ctx)
	if err != nil {
		s.mu.Lock()
		s.opening = false
		s.mu.Unlock()
		return err
	}

	m := &machine{
		s:        s,
		settings: s.settings,
		log:      s.log.WithField("conn", c.ID()),
		c:        c,
		ln:       ln,
		events:   make(chan Event, s.settings.EventQueue),
		ops:      make(chan func()),
		done:     make(chan struct{}),
		table:    make(map[uint32]*transaction),
		timers:   newTimerSet(),
		// The initial system bytes value is arbitrary; uniqueness is
		// only required among open transactions.
		systemBytes: rand.Uint32(),
	}

	s.mu.Lock()
	s.m = m
	s.events = m.events
	s.opening = false
	s.mu.Unlock()

	s.connState.Store(int32(Connected))
	s.selState.Store(int32(NotSelected))
	go m.run()

	m.log.Info("connected")
	return nil
}

// connect performs the primitive connect for the configured mode. In
// passive mode the listener is published before blocking in accept, so that
// Addr reports the bound address.
func (s *Session) connect(ctx context.Context) (*conn.Conn, *conn.Listener, error) {
	copts := conn.Options{
		T8:            s.settings.T8,
		MaxFrameSize:  s.settings.MaxFrameSize,
		InboundQueue:  s.settings.InboundQueue,
		OutboundQueue: s.settings.OutboundQueue,
		Logger:        s.log,
	}

	if s.settings.Mode == Active {
		c, err := conn.Dial(ctx, s.settings.Address, copts)
		if err != nil {
			return nil, nil, &TransportError{Kind: TransportConnectFailed, Err: err}
		}
		return c, nil, nil
	}

	ln, err := conn.Listen(s.settings.Address, copts)
	if err != nil {
		return nil, nil, &TransportError{Kind: TransportAcceptFailed, Err: err}
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	c, err := ln.Accept(ctx)
	if err != nil {
		ln.Close()
		s.mu.Lock()
		s.ln = nil
		s.mu.Unlock()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &TransportError{Kind: TransportAcceptFailed, Err: err}
	}
	return c, ln, nil
}

// Close disconnects the session: the socket is closed, every open
// transaction fails with ErrDisconnected, and all timers are cancelled.
// Idempotent.
func (s *Session) Close() error {
	m := s.machine()
	if m == nil {
		return nil
	}
	// Closing the socket rather than posting an operation lets Close cut
	// through a machine task stalled on event backpressure.
	m.c.Close()
	<-m.done
	return nil
}

// Select runs the select procedure. Valid only while NotSelected; on
// success the session is Selected. Fails with a T6 TimeoutError (which also
// closes the connection), SelectRefusedError, RejectedError, or
// ErrDisconnected.
func (s *Session) Select(ctx context.Context) error {
	tx, m, err := s.openTransaction(ctx, "select", func(m *machine) (*transaction, error) {
		if sel := m.selection(); sel != NotSelected {
			return nil, &StateError{Op: "select", Connection: Connected, Selection: sel}
		}
		tx := m.newTransaction(replySelect, m.settings.T6)
		m.setSelection(SelectInitiated)
		m.send(hsms.NewSelectReq(m.settings.SessionID, tx.systemBytes))
		return tx, nil
	})
	if err != nil {
		return err
	}
	_, err = s.await(ctx, m, tx)
	return err
}

// Deselect runs the deselect procedure. Valid only while Selected; on
// success the session is NotSelected and T7 restarts.
func (s *Session) Deselect(ctx context.Context) error {
	tx, m, err := s.openTransaction(ctx, "deselect", func(m *machine) (*transaction, error) {
		if sel := m.selection(); sel != Selected {
			return nil, &StateError{Op: "deselect", Connection: Connected, Selection: sel}
		}
		tx := m.newTransaction(replyDeselect, m.settings.T6)
		m.setSelection(DeselectInitiated)
		m.send(hsms.NewDeselectReq(m.settings.SessionID, tx.systemBytes))
		return tx, nil
	})
	if err != nil {
		return err
	}
	_, err = s.await(ctx, m, tx)
	return err
}

// Linktest runs the linktest procedure. Valid in any connected substate;
// the selection state is not altered.
func (s *Session) Linktest(ctx context.Context) error {
	tx, m, err := s.openTransaction(ctx, "linktest", func(m *machine) (*transaction, error) {
		tx := m.newTransaction(replyLinktest, m.settings.T6)
		m.send(hsms.NewLinktestReq(tx.systemBytes))
		return tx, nil
	})
	if err != nil {
		return err
	}
	_, err = s.await(ctx, m, tx)
	return err
}

// Separate sends Separate.req and closes the connection without waiting for
// any reply.
func (s *Session) Separate(ctx context.Context) error {
	m := s.machine()
	if m == nil {
		return &StateError{Op: "separate", Connection: NotConnected}
	}
	select {
	case m.ops <- func() {
		if m.closing {
			return
		}
		m.send(hsms.NewSeparateReq(m.settings.SessionID, m.allocSystemBytes()))
		m.shutdown(nil)
	}:
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request sends a primary data message with the W-bit set and waits for the
// matching reply. Valid only while Selected. The reply's body is returned;
// the wait ends with a T3 TimeoutError, RejectedError, or ErrDisconnected.
//
// stream must be below 128 and function odd; violations panic, as they are
// caller programming errors.
func (s *Session) Request(ctx context.Context, stream, function byte, body secs2.Item) (secs2.Item, error) {
	proto := hsms.NewDataMessage(stream, function, true, body)
	if !proto.IsPrimary() {
		panic("request requires a primary (odd) function code")
	}

	tx, m, err := s.openTransaction(ctx, "data", func(m *machine) (*transaction, error) {
		if sel := m.selection(); sel != Selected {
			return nil, &StateError{Op: "data", Connection: Connected, Selection: sel}
		}
		tx := m.newTransaction(replyData, m.settings.T3)
		m.send(proto.WithID(m.settings.SessionID, tx.systemBytes))
		return tx, nil
	})
	if err != nil {
		return nil, err
	}
	reply, err := s.await(ctx, m, tx)
	if err != nil {
		return nil, err
	}
	return reply.(*hsms.DataMessage).Body(), nil
}

// Send transmits a data message without the W-bit and does not wait for a
// reply. Valid only while Selected.
func (s *Session) Send(ctx context.Context, stream, function byte, body secs2.Item) error {
	proto := hsms.NewDataMessage(stream, function, false, body)
	return s.postSend(ctx, "data", func(m *machine) (hsms.Message, error) {
		if sel := m.selection(); sel != Selected {
			return nil, &StateError{Op: "data", Connection: Connected, Selection: sel}
		}
		return proto.WithID(m.settings.SessionID, m.allocSystemBytes()), nil
	})
}

// Reply transmits the response to a received primary data message, echoing
// its session id and system bytes with the function incremented by one.
func (s *Session) Reply(ctx context.Context, primary *hsms.DataMessage, body secs2.Item) error {
	if !primary.IsPrimary() {
		return fmt.Errorf("hsms: reply to non-primary message %s", primary.SFCode())
	}
	proto := hsms.NewDataMessage(primary.Stream(), primary.Function()+1, false, body)
	return s.postSend(ctx, "data", func(m *machine) (hsms.Message, error) {
		if sel := m.selection(); sel != Selected {
			return nil, &StateError{Op: "data", Connection: Connected, Selection: sel}
		}
		return proto.WithID(primary.SessionID(), primary.SystemBytes()), nil
	})
}

// Reject transmits a Reject.req referencing the given message. The state
// machine sends rejects automatically for malformed input; this is the
// manual counterpart for application-level rejection.
func (s *Session) Reject(ctx context.Context, msg hsms.Message, reason hsms.RejectReason) error {
	offending := msg.Header()
	return s.postSend(ctx, "reject", func(m *machine) (hsms.Message, error) {
		return hsms.NewRejectReq(offending, reason), nil
	})
}

// machine returns the live machine, or nil while disconnected.
func (s *Session) machine() *machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

type pending struct {
	tx  *transaction
	err error
}

// openTransaction posts prepare to the machine task and returns the
// transaction it opened. prepare runs on the machine task and must insert
// the transaction and transmit the request.
func (s *Session) openTransaction(ctx context.Context, op string, prepare func(m *machine) (*transaction, error)) (*transaction, *machine, error) {
	m := s.machine()
	if m == nil {
		return nil, nil, &StateError{Op: op, Connection: NotConnected}
	}

	posted := make(chan pending, 1)
	select {
	case m.ops <- func() {
		if m.closing {
			posted <- pending{err: ErrDisconnected}
			return
		}
		tx, err := prepare(m)
		posted <- pending{tx: tx, err: err}
	}:
	case <-m.done:
		return nil, nil, ErrDisconnected
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	p := <-posted
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.tx, m, nil
}

// await blocks until the transaction resolves or the context is cancelled.
// Cancellation removes the table entry; a reply that raced the cancellation
// is discarded.
func (s *Session) await(ctx context.Context, m *machine, tx *transaction) (hsms.Message, error) {
	select {
	case out := <-tx.waiter:
		return out.msg, out.err
	case <-ctx.Done():
		s.abandon(m, tx)
		return nil, ctx.Err()
	}
}

// abandon removes a cancelled request from the table, undoing any selection
// transition the request initiated.
func (s *Session) abandon(m *machine, tx *transaction) {
	select {
	case m.ops <- func() {
		if m.closing {
			return
		}
		if cur, ok := m.table[tx.systemBytes]; !ok || cur != tx {
			return
		}
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
	}:
	case <-m.done:
	}
}

// postSend posts a fire-and-forget transmission to the machine task and
// waits until it has been handed to the writer.
func (s *Session) postSend(ctx context.Context, op string, build func(m *machine) (hsms.Message, error)) error {
	m := s.machine()
	if m == nil {
		return &StateError{Op: op, Connection: NotConnected}
	}

	posted := make(chan error, 1)
	select {
	case m.ops <- func() {
		if m.closing {
			posted <- ErrDisconnected
			return
		}
		msg, err := build(m)
		if err == nil {
			m.send(msg)
		}
		posted <- err
	}:
	case <-m.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-posted
}
