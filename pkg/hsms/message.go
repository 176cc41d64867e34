package hsms

import (
	"encoding/binary"
	"fmt"

	"github.com/wafertools/secs2-hsms-go/pkg/secs2"
)

// Message is an HSMS message: a SECS-II data message or a control message.
type Message interface {
	// Type returns the message type name, e.g. "data.msg" or "select.req".
	Type() string

	// Header returns the message's 10-byte header in decoded form.
	Header() Header

	// SessionID returns the session id of the message.
	SessionID() uint16

	// SystemBytes returns the transaction correlation value of the message.
	SystemBytes() uint32

	// ToBytes returns the complete wire form of the message: the 4-byte
	// length prefix, the header, and the payload.
	ToBytes() []byte
}

// DataMessage is an immutable SECS-II data message. Implements Message.
type DataMessage struct {
	stream      byte
	function    byte
	wBit        bool
	sessionID   uint16
	systemBytes uint32
	body        secs2.Item // nil means empty body

	// Rep invariants
	// - stream < 128
	// - wBit is false when function is even
}

// NewDataMessage creates a new data message without addressing; session id
// and system bytes are zero until set with WithID.
//
// stream must be below 128, and wBit must not be set on a reply message
// (even function).
func NewDataMessage(stream, function byte, wBit bool, body secs2.Item) *DataMessage {
	msg := &DataMessage{
		stream:   stream,
		function: function,
		wBit:     wBit,
		body:     body,
	}
	msg.checkRep()
	return msg
}

// WithID returns a copy of the message with the session id and system bytes
// set.
func (m *DataMessage) WithID(sessionID uint16, systemBytes uint32) *DataMessage {
	copied := *m
	copied.sessionID = sessionID
	copied.systemBytes = systemBytes
	return &copied
}

// Stream returns the stream code.
func (m *DataMessage) Stream() byte {
	return m.stream
}

// Function returns the function code.
func (m *DataMessage) Function() byte {
	return m.function
}

// WaitBit reports whether a reply is expected.
func (m *DataMessage) WaitBit() bool {
	return m.wBit
}

// IsPrimary reports whether the message is a primary (odd function).
func (m *DataMessage) IsPrimary() bool {
	return m.function%2 == 1
}

// Body returns the message body, or nil when the message has no body.
func (m *DataMessage) Body() secs2.Item {
	return m.body
}

// Type implements Message.Type().
func (m *DataMessage) Type() string {
	return STypeData.String()
}

// SessionID implements Message.SessionID().
func (m *DataMessage) SessionID() uint16 {
	return m.sessionID
}

// SystemBytes implements Message.SystemBytes().
func (m *DataMessage) SystemBytes() uint32 {
	return m.systemBytes
}

// Header implements Message.Header().
func (m *DataMessage) Header() Header {
	byte2 := m.stream
	if m.wBit {
		byte2 |= 0b10000000
	}
	return Header{
		SessionID:   m.sessionID,
		Byte2:       byte2,
		Byte3:       m.function,
		SType:       STypeData,
		SystemBytes: m.systemBytes,
	}
}

// ToBytes implements Message.ToBytes().
func (m *DataMessage) ToBytes() []byte {
	var bodyBytes []byte
	if m.body != nil {
		bodyBytes = m.body.ToBytes()
	}

	result := make([]byte, 4, 4+HeaderSize+len(bodyBytes))
	binary.BigEndian.PutUint32(result, uint32(HeaderSize+len(bodyBytes)))
	result = append(result, m.Header().bytes()...)
	return append(result, bodyBytes...)
}

// SFCode returns the message class in SML notation, e.g. "S6F11 W".
func (m *DataMessage) SFCode() string {
	code := fmt.Sprintf("S%dF%d", m.stream, m.function)
	if m.wBit {
		code += " W"
	}
	return code
}

// String returns the SML-style rendering of the message.
func (m *DataMessage) String() string {
	if m.body == nil {
		return fmt.Sprintf("%s\n.", m.SFCode())
	}
	return fmt.Sprintf("%s\n%s\n.", m.SFCode(), m.body)
}

func (m *DataMessage) checkRep() {
	if m.stream >= 128 {
		panic("stream code out of range")
	}
	if m.wBit && m.function%2 == 0 {
		panic("wait bit is not valid for reply message")
	}
}
