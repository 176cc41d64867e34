package conn

import (
	"context"
	"net"
	"sync"
)

// Listener is a passive-mode HSMS endpoint: it binds a local address and
// accepts a single live connection at a time. While an accepted connection
// is live, further incoming connections are refused by closing them
// immediately.
type Listener struct {
	ln   net.Listener
	opts Options

	mu     sync.Mutex
	closed bool
}

// Listen binds the local address for passive mode.
func Listen(address string, opts Options) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, opts: opts.withDefaults()}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for one incoming connection. After it returns, a guard task
// refuses further incoming connections until the returned connection fails
// or the listener is closed.
//
// Cancelling the context closes the listener.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	nc, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	c := newConn(nc, l.opts)
	go l.refuse(c)
	return c, nil
}

// refuse accepts and immediately closes incoming connections while the live
// connection lasts.
func (l *Listener) refuse(live *Conn) {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			return
		}
		select {
		case <-live.Done():
			// The session this listener served is gone; the stray
			// socket is still refused, and the listener is left for
			// its owner to close or re-accept.
			nc.Close()
			return
		default:
			live.log.WithField("remote", nc.RemoteAddr().String()).
				Debug("refusing connection while session is live")
			nc.Close()
		}
	}
}

// Close closes the listener. Idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.ln.Close()
}
