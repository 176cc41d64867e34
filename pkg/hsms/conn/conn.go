// Package conn implements the primitive HSMS endpoint: a single TCP
// connection with a length-prefixed frame reader and writer, and no protocol
// semantics.
//
// A Conn is one-shot: once either background task fails, the socket is
// closed and a single disconnect is published through Done; reconnection is
// a new Conn.
package conn

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultT8 is the default inter-character timeout.
	DefaultT8 = 5 * time.Second
	// DefaultMaxFrameSize is the default cap on a single frame (header
	// plus payload).
	DefaultMaxFrameSize = 8 << 20
	// DefaultQueueSize is the default capacity of the inbound and
	// outbound frame queues.
	DefaultQueueSize = 64

	headerSize = 10
)

var (
	// ErrClosed is the connection error after a local Close.
	ErrClosed = errors.New("hsms: connection closed")
	// ErrT8Timeout is the connection error when a started frame stalls
	// for longer than T8 between bytes.
	ErrT8Timeout = errors.New("hsms: t8 inter-character timeout")
)

// Frame is one frame delivered by the reader. Body holds the header and
// payload, without the 4-byte length prefix.
//
// When the declared length exceeds MaxFrameSize, the payload is consumed
// from the stream and discarded without being allocated: Body then holds
// only the 10 header bytes and Oversized is set. A frame shorter than the
// header is delivered as-is for the receiver to discard. Malformed frames
// never fail the connection; the framing stays in sync either way.
type Frame struct {
	Body      []byte
	Oversized bool
	Declared  int
}

// Options configures a Conn.
type Options struct {
	// T8 is the inter-character timeout: the maximum idle time between
	// the first and last byte of a single frame. Defaults to DefaultT8.
	T8 time.Duration

	// MaxFrameSize caps the declared frame length; an oversized frame's
	// payload is discarded from the stream before any allocation, and
	// the frame is delivered with only its header (see Frame). Defaults
	// to DefaultMaxFrameSize.
	MaxFrameSize int

	// InboundQueue and OutboundQueue are the frame queue capacities.
	// Both default to DefaultQueueSize.
	InboundQueue  int
	OutboundQueue int

	// Logger receives connection lifecycle logs. Defaults to a discard
	// logger.
	Logger *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.T8 <= 0 {
		o.T8 = DefaultT8
	}
	if o.MaxFrameSize < headerSize {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.InboundQueue <= 0 {
		o.InboundQueue = DefaultQueueSize
	}
	if o.OutboundQueue <= 0 {
		o.OutboundQueue = DefaultQueueSize
	}
	if o.Logger == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		o.Logger = logrus.NewEntry(silent)
	}
	return o
}

// Conn is a primitive HSMS endpoint over one TCP connection.
//
// Inbound frames (header plus payload, without the length prefix) are
// delivered on the Inbound channel; outbound wire bytes are accepted by
// Send. The reader stops issuing reads while the inbound queue is full,
// propagating TCP backpressure to the peer.
type Conn struct {
	nc   net.Conn
	id   string
	opts Options
	log  *logrus.Entry

	inbound  chan Frame
	outbound chan outMsg
	done     chan struct{}

	failOnce sync.Once
	mu       sync.Mutex
	err      error
}

// Dial opens an active-mode connection to the peer address.
func Dial(ctx context.Context, address string, opts Options) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return newConn(nc, opts), nil
}

func newConn(nc net.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		nc:       nc,
		id:       xid.New().String(),
		opts:     opts,
		inbound:  make(chan Frame, opts.InboundQueue),
		outbound: make(chan outMsg, opts.OutboundQueue),
		done:     make(chan struct{}),
	}
	c.log = opts.Logger.WithFields(logrus.Fields{
		"conn":   c.id,
		"remote": nc.RemoteAddr().String(),
	})
	c.log.Debug("connection established")

	go c.readLoop()
	go c.writeLoop()
	return c
}

// ID returns the connection's log correlation id.
func (c *Conn) ID() string {
	return c.id
}

// Inbound returns the channel of received frames. The channel is closed
// after the connection fails; Err reports the cause.
func (c *Conn) Inbound() <-chan Frame {
	return c.inbound
}

// Done returns a channel closed when the connection has failed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the connection failure cause, or nil while the connection is
// live.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// outMsg is one entry in the outbound queue: wire bytes to transmit, or a
// flush marker whose channel is closed once the writer reaches it.
type outMsg struct {
	wire    []byte
	reached chan struct{}
}

// Send enqueues complete wire bytes (length prefix, header, payload) for
// transmission. It blocks while the outbound queue is full, and fails when
// the context is cancelled or the connection is lost.
func (c *Conn) Send(ctx context.Context, wire []byte) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	select {
	case c.outbound <- outMsg{wire: wire}:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush blocks until every frame enqueued before the call has been written
// to the socket, so that an orderly close does not drop queued frames.
func (c *Conn) Flush(ctx context.Context) error {
	reached := make(chan struct{})
	select {
	case c.outbound <- outMsg{reached: reached}:
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reached:
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() error {
	c.fail(ErrClosed)
	return nil
}

// fail records the first failure cause, closes the socket and publishes the
// disconnect. Subsequent calls are no-ops.
func (c *Conn) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()

		c.nc.Close()
		close(c.done)

		if errors.Is(err, ErrClosed) {
			c.log.Debug("connection closed")
		} else {
			c.log.WithError(err).Debug("connection failed")
		}
	})
}

// readLoop reads length-prefixed frames and delivers them on the inbound
// channel until the socket fails.
func (c *Conn) readLoop() {
	defer close(c.inbound)

	var lengthBytes [4]byte
	for {
		frame, err := c.readFrame(lengthBytes[:])
		if err != nil {
			c.fail(err)
			return
		}
		select {
		case c.inbound <- frame:
		case <-c.done:
			return
		}
	}
}

// readFrame reads one frame. The wait for the first byte of the length
// prefix is unbounded; every subsequent byte of the frame must arrive
// within T8. Oversized frames have their header read and the rest of the
// payload discarded, keeping the framing in sync.
func (c *Conn) readFrame(lengthBytes []byte) (Frame, error) {
	if err := c.nc.SetReadDeadline(time.Time{}); err != nil {
		return Frame{}, err
	}
	if _, err := c.nc.Read(lengthBytes[:1]); err != nil {
		return Frame{}, err
	}
	if err := c.fill(lengthBytes[1:]); err != nil {
		return Frame{}, err
	}
	length := int(binary.BigEndian.Uint32(lengthBytes))

	if length <= c.opts.MaxFrameSize {
		body := make([]byte, length)
		if err := c.fill(body); err != nil {
			return Frame{}, err
		}
		return Frame{Body: body, Declared: length}, nil
	}

	header := make([]byte, headerSize)
	if err := c.fill(header); err != nil {
		return Frame{}, err
	}
	if err := c.discard(length - headerSize); err != nil {
		return Frame{}, err
	}
	c.log.WithField("length", length).Warn("discarded oversized frame payload")
	return Frame{Body: header, Oversized: true, Declared: length}, nil
}

// discard consumes n bytes from the stream through a small scratch buffer,
// honoring the T8 deadline per read.
func (c *Conn) discard(n int) error {
	buf := make([]byte, 32*1024)
	for n > 0 {
		chunk := buf
		if n < len(chunk) {
			chunk = chunk[:n]
		}
		if err := c.fill(chunk); err != nil {
			return err
		}
		n -= len(chunk)
	}
	return nil
}

// fill reads len(buf) bytes, arming the T8 deadline before each read.
func (c *Conn) fill(buf []byte) error {
	for n := 0; n < len(buf); {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.T8)); err != nil {
			return err
		}
		k, err := c.nc.Read(buf[n:])
		n += k
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return ErrT8Timeout
			}
			return err
		}
	}
	return nil
}

// writeLoop drains the outbound queue. Each frame is written with a single
// Write call, keeping frames atomic on the wire.
func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.outbound:
			if len(msg.wire) > 0 {
				if _, err := c.nc.Write(msg.wire); err != nil {
					c.fail(err)
					return
				}
			}
			if msg.reached != nil {
				close(msg.reached)
			}
		case <-c.done:
			return
		}
	}
}
