package hsms

import (
	"fmt"

	"github.com/wafertools/secs2-hsms-go/pkg/secs2"
)

// DefaultMaxFrameSize is the default cap on a single HSMS frame (header plus
// payload).
const DefaultMaxFrameSize = 8 << 20

// FrameErrorKind classifies frame decoding failures.
type FrameErrorKind int

const (
	// FrameInvalidHeader means the frame is shorter than the 10-byte
	// header.
	FrameInvalidHeader FrameErrorKind = iota
	// FrameTooLarge means the declared frame length exceeded the
	// receiver's cap and the payload was discarded; only the header was
	// retained.
	FrameTooLarge
	// FrameInvalidControl means a control message carried a payload.
	FrameInvalidControl
	// FrameUnsupportedSType means the header carries an undefined SType.
	FrameUnsupportedSType
	// FrameUnsupportedPType means a data message carries a non-zero
	// PType.
	FrameUnsupportedPType
	// FrameMalformedBody means the SECS-II body of a data message failed
	// to decode; Err holds the item codec error.
	FrameMalformedBody
)

// String returns the name of the frame error kind.
func (k FrameErrorKind) String() string {
	switch k {
	case FrameInvalidHeader:
		return "invalid header"
	case FrameTooLarge:
		return "frame too large"
	case FrameInvalidControl:
		return "invalid control frame"
	case FrameUnsupportedSType:
		return "unsupported stype"
	case FrameUnsupportedPType:
		return "unsupported ptype"
	case FrameMalformedBody:
		return "malformed body"
	}
	return "unknown"
}

// FrameError is an HSMS frame codec error. When the frame's header could be
// decoded, Header carries it so that the receiver can construct a Reject.req
// referencing the offending message.
type FrameError struct {
	Kind   FrameErrorKind
	Header Header
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hsms: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("hsms: %s", e.Kind)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Decode parses one HSMS message from its header and payload bytes, i.e.
// the frame contents following the 4-byte length prefix.
//
// A recognized control SType with a payload fails with FrameInvalidControl;
// an undefined SType fails with FrameUnsupportedSType; a data message with a
// non-zero PType fails with FrameUnsupportedPType. An empty data payload
// decodes to a data message with a nil body.
func Decode(frame []byte) (Message, error) {
	header, err := ParseHeader(frame)
	if err != nil {
		return nil, err
	}
	payload := frame[HeaderSize:]

	switch {
	case header.SType == STypeData:
		if header.PType != 0 {
			return nil, &FrameError{Kind: FrameUnsupportedPType, Header: header}
		}
		msg := &DataMessage{
			stream:      header.Byte2 & 0b01111111,
			function:    header.Byte3,
			wBit:        header.Byte2>>7 == 1,
			sessionID:   header.SessionID,
			systemBytes: header.SystemBytes,
		}
		if len(payload) > 0 {
			body, err := secs2.Decode(payload)
			if err != nil {
				return nil, &FrameError{Kind: FrameMalformedBody, Header: header, Err: err}
			}
			msg.body = body
		}
		return msg, nil

	case header.SType.control():
		if len(payload) != 0 {
			return nil, &FrameError{Kind: FrameInvalidControl, Header: header}
		}
		return &ControlMessage{header}, nil

	default:
		return nil, &FrameError{Kind: FrameUnsupportedSType, Header: header}
	}
}
