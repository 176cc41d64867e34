package session

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/wafertools/secs2-hsms-go/pkg/hsms"
)

// Mode selects which side of the TCP connection the endpoint takes.
type Mode int

const (
	// Active dials the peer.
	Active Mode = iota
	// Passive binds a local address and accepts one connection.
	Passive
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Passive {
		return "passive"
	}
	return "active"
}

// Default timer values per SEMI E37.
const (
	DefaultT3 = 45 * time.Second
	DefaultT5 = 10 * time.Second
	DefaultT6 = 5 * time.Second
	DefaultT7 = 10 * time.Second
	DefaultT8 = 5 * time.Second

	// DefaultEventQueue is the default capacity of the session event
	// channel.
	DefaultEventQueue = 16
)

// Settings are the HSMS parameter settings of a Session.
type Settings struct {
	// Mode selects active (dial) or passive (listen and accept) mode.
	Mode Mode

	// Address is the peer address in active mode, or the local listen
	// address in passive mode.
	Address string

	// SessionID is the peer-scoped session identifier carried in every
	// message header.
	SessionID uint16

	// Timers; zero values take the E37 defaults.
	T3 time.Duration // reply timeout
	T5 time.Duration // connect separation timeout
	T6 time.Duration // control transaction timeout
	T7 time.Duration // not-selected timeout
	T8 time.Duration // inter-character timeout

	// MaxFrameSize caps a single received frame. Defaults to
	// hsms.DefaultMaxFrameSize.
	MaxFrameSize int

	// InboundQueue, OutboundQueue and EventQueue bound the frame and
	// event channels.
	InboundQueue  int
	OutboundQueue int
	EventQueue    int

	// Logger receives session logs. Defaults to a discard logger.
	Logger *logrus.Logger

	// Registerer receives the session's metric collectors. When nil the
	// metrics are kept on a private registry.
	Registerer prometheus.Registerer
}

func (s Settings) withDefaults() Settings {
	if s.T3 <= 0 {
		s.T3 = DefaultT3
	}
	if s.T5 <= 0 {
		s.T5 = DefaultT5
	}
	if s.T6 <= 0 {
		s.T6 = DefaultT6
	}
	if s.T7 <= 0 {
		s.T7 = DefaultT7
	}
	if s.T8 <= 0 {
		s.T8 = DefaultT8
	}
	if s.MaxFrameSize <= 0 {
		s.MaxFrameSize = hsms.DefaultMaxFrameSize
	}
	if s.EventQueue <= 0 {
		s.EventQueue = DefaultEventQueue
	}
	if s.Logger == nil {
		s.Logger = logrus.New()
		s.Logger.SetOutput(io.Discard)
	}
	return s
}
