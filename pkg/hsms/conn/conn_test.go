package conn

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWait = 5 * time.Second

// dialPair connects a Conn to a raw net.Conn peer over loopback.
func dialPair(t *testing.T, opts Options) (*Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := ln.Accept()
		if err == nil {
			accepted <- nc
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	select {
	case peer := <-accepted:
		t.Cleanup(func() { peer.Close() })
		return c, peer
	case <-time.After(testWait):
		t.Fatal("accept timed out")
		return nil, nil
	}
}

// wireFrame builds the wire bytes for a frame body: length prefix plus body.
func wireFrame(body []byte) []byte {
	wire := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(wire, uint32(len(body)))
	return append(wire, body...)
}

func waitDone(t *testing.T, c *Conn) error {
	t.Helper()
	select {
	case <-c.Done():
		return c.Err()
	case <-time.After(testWait):
		t.Fatal("connection did not fail in time")
		return nil
	}
}

func TestConn_ReceivesFrames(t *testing.T) {
	c, peer := dialPair(t, Options{})

	body := make([]byte, 12)
	for i := range body {
		body[i] = byte(i)
	}
	_, err := peer.Write(wireFrame(body))
	require.NoError(t, err)

	select {
	case frame := <-c.Inbound():
		assert.Equal(t, body, frame.Body)
		assert.False(t, frame.Oversized)
		assert.Equal(t, len(body), frame.Declared)
	case <-time.After(testWait):
		t.Fatal("frame not delivered")
	}
}

func TestConn_ReceivesFrameWrittenByteByByte(t *testing.T) {
	c, peer := dialPair(t, Options{})

	wire := wireFrame([]byte{9, 8, 7, 6, 5, 4, 3, 2, 1, 0})
	for _, b := range wire {
		_, err := peer.Write([]byte{b})
		require.NoError(t, err)
	}

	select {
	case frame := <-c.Inbound():
		assert.Equal(t, wire[4:], frame.Body)
	case <-time.After(testWait):
		t.Fatal("frame not delivered")
	}
}

func TestConn_SendWritesAtomicFrames(t *testing.T) {
	c, peer := dialPair(t, Options{})

	wire := wireFrame([]byte{0xAB, 0xCD, 0, 0, 0, 1, 0, 0, 0, 0x2A})
	require.NoError(t, c.Send(context.Background(), wire))

	received := make([]byte, len(wire))
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(testWait)))
	_, err := io.ReadFull(peer, received)
	require.NoError(t, err)
	assert.Equal(t, wire, received)
}

func TestConn_T8Timeout(t *testing.T) {
	c, peer := dialPair(t, Options{T8: 50 * time.Millisecond})

	// A partial length prefix starts a frame; the connection must fail
	// once no further byte arrives within T8.
	_, err := peer.Write([]byte{0x00, 0x00})
	require.NoError(t, err)

	assert.ErrorIs(t, waitDone(t, c), ErrT8Timeout)
}

func TestConn_IdleWithoutFramesDoesNotTimeout(t *testing.T) {
	c, _ := dialPair(t, Options{T8: 50 * time.Millisecond})

	// T8 bounds the gap inside a frame, not the idle time between
	// frames.
	select {
	case <-c.Done():
		t.Fatalf("connection failed while idle: %v", c.Err())
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConn_OversizedFrameDiscardedWithoutTeardown(t *testing.T) {
	c, peer := dialPair(t, Options{MaxFrameSize: 64})

	// 100 declared bytes exceed the cap: the header is delivered, the
	// payload is consumed and dropped, and the connection stays up.
	header := []byte{0xAB, 0xCD, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x2A}
	oversized := wireFrame(append(header, make([]byte, 90)...))
	_, err := peer.Write(oversized)
	require.NoError(t, err)

	select {
	case frame := <-c.Inbound():
		assert.True(t, frame.Oversized)
		assert.Equal(t, 100, frame.Declared)
		assert.Equal(t, header, frame.Body)
	case <-time.After(testWait):
		t.Fatal("oversized frame not delivered")
	}

	// The next frame is read in sync.
	body := make([]byte, 12)
	body[0] = 0x42
	_, err = peer.Write(wireFrame(body))
	require.NoError(t, err)
	select {
	case frame := <-c.Inbound():
		assert.False(t, frame.Oversized)
		assert.Equal(t, body, frame.Body)
	case <-time.After(testWait):
		t.Fatal("frame after oversized frame not delivered")
	}
}

func TestConn_ShortFrameDeliveredWithoutTeardown(t *testing.T) {
	c, peer := dialPair(t, Options{})

	// A declared length below the 10-byte header is undecodable, but
	// the frame is consumed and handed up rather than failing the
	// connection.
	_, err := peer.Write([]byte{0x00, 0x00, 0x00, 0x05, 1, 2, 3, 4, 5})
	require.NoError(t, err)

	select {
	case frame := <-c.Inbound():
		assert.False(t, frame.Oversized)
		assert.Equal(t, 5, frame.Declared)
		assert.Equal(t, []byte{1, 2, 3, 4, 5}, frame.Body)
	case <-time.After(testWait):
		t.Fatal("short frame not delivered")
	}

	select {
	case <-c.Done():
		t.Fatalf("connection failed on short frame: %v", c.Err())
	default:
	}
}

func TestConn_PeerCloseFailsConnection(t *testing.T) {
	c, peer := dialPair(t, Options{})

	peer.Close()
	err := waitDone(t, c)
	assert.Error(t, err)

	// The inbound channel is closed after the failure.
	select {
	case _, ok := <-c.Inbound():
		assert.False(t, ok)
	case <-time.After(testWait):
		t.Fatal("inbound channel not closed")
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	c, _ := dialPair(t, Options{})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Err(), ErrClosed)
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	c, _ := dialPair(t, Options{})
	c.Close()
	<-c.Done()
	err := c.Send(context.Background(), wireFrame(make([]byte, 10)))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestListener_AcceptsOneConnection(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer ln.Close()

	dialed := make(chan net.Conn, 1)
	go func() {
		nc, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			dialed <- nc
		}
	}()

	c, err := ln.Accept(context.Background())
	require.NoError(t, err)
	defer c.Close()

	select {
	case peer := <-dialed:
		defer peer.Close()
	case <-time.After(testWait):
		t.Fatal("dial timed out")
	}
}

func TestListener_RefusesSecondConnectionWhileLive(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer ln.Close()

	first := make(chan net.Conn, 1)
	go func() {
		nc, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			first <- nc
		}
	}()

	c, err := ln.Accept(context.Background())
	require.NoError(t, err)
	defer c.Close()
	peer := <-first
	defer peer.Close()

	// A second connection is closed by the guard without delivering any
	// data.
	second, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(testWait)))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestListener_AcceptHonorsContext(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", Options{})
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = ln.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDial_ConnectFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), address, Options{})
	assert.Error(t, err)
}

func TestErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrT8Timeout, ErrClosed))
}
