package hsms

import (
	"encoding/binary"
	"fmt"
)

// linktestSessionID is the session id carried by Linktest messages, which
// are scoped to the connection rather than a session.
const linktestSessionID = 0xFFFF

// ControlMessage is an immutable HSMS control message. Implements Message.
type ControlMessage struct {
	header Header

	// Rep invariants
	// - header.SType is one of the defined control types
	// - header.PType == 0
}

// NewSelectReq creates a Select.req control message.
func NewSelectReq(sessionID uint16, systemBytes uint32) *ControlMessage {
	return &ControlMessage{Header{
		SessionID:   sessionID,
		SType:       STypeSelectReq,
		SystemBytes: systemBytes,
	}}
}

// NewSelectRsp creates a Select.rsp control message answering the given
// Select.req.
func NewSelectRsp(selectReq *ControlMessage, status SelectStatus) *ControlMessage {
	if selectReq.header.SType != STypeSelectReq {
		panic("expected select.req message")
	}
	return &ControlMessage{Header{
		SessionID:   selectReq.header.SessionID,
		Byte3:       byte(status),
		SType:       STypeSelectRsp,
		SystemBytes: selectReq.header.SystemBytes,
	}}
}

// NewDeselectReq creates a Deselect.req control message.
func NewDeselectReq(sessionID uint16, systemBytes uint32) *ControlMessage {
	return &ControlMessage{Header{
		SessionID:   sessionID,
		SType:       STypeDeselectReq,
		SystemBytes: systemBytes,
	}}
}

// NewDeselectRsp creates a Deselect.rsp control message answering the given
// Deselect.req.
func NewDeselectRsp(deselectReq *ControlMessage, status DeselectStatus) *ControlMessage {
	if deselectReq.header.SType != STypeDeselectReq {
		panic("expected deselect.req message")
	}
	return &ControlMessage{Header{
		SessionID:   deselectReq.header.SessionID,
		Byte3:       byte(status),
		SType:       STypeDeselectRsp,
		SystemBytes: deselectReq.header.SystemBytes,
	}}
}

// NewLinktestReq creates a Linktest.req control message.
func NewLinktestReq(systemBytes uint32) *ControlMessage {
	return &ControlMessage{Header{
		SessionID:   linktestSessionID,
		SType:       STypeLinktestReq,
		SystemBytes: systemBytes,
	}}
}

// NewLinktestRsp creates a Linktest.rsp control message answering the given
// Linktest.req.
func NewLinktestRsp(linktestReq *ControlMessage) *ControlMessage {
	if linktestReq.header.SType != STypeLinktestReq {
		panic("expected linktest.req message")
	}
	return &ControlMessage{Header{
		SessionID:   linktestSessionID,
		SType:       STypeLinktestRsp,
		SystemBytes: linktestReq.header.SystemBytes,
	}}
}

// NewRejectReq creates a Reject.req control message for the message whose
// header is offending. Byte 2 carries the offending PType when the reason is
// RejectPTypeNotSupported, and the offending SType otherwise.
func NewRejectReq(offending Header, reason RejectReason) *ControlMessage {
	byte2 := byte(offending.SType)
	if reason == RejectPTypeNotSupported {
		byte2 = offending.PType
	}
	return &ControlMessage{Header{
		SessionID:   offending.SessionID,
		Byte2:       byte2,
		Byte3:       byte(reason),
		SType:       STypeRejectReq,
		SystemBytes: offending.SystemBytes,
	}}
}

// NewSeparateReq creates a Separate.req control message.
func NewSeparateReq(sessionID uint16, systemBytes uint32) *ControlMessage {
	return &ControlMessage{Header{
		SessionID:   sessionID,
		SType:       STypeSeparateReq,
		SystemBytes: systemBytes,
	}}
}

// Type implements Message.Type().
func (m *ControlMessage) Type() string {
	return m.header.SType.String()
}

// Header implements Message.Header().
func (m *ControlMessage) Header() Header {
	return m.header
}

// SType returns the session type of the control message.
func (m *ControlMessage) SType() SType {
	return m.header.SType
}

// SessionID implements Message.SessionID().
func (m *ControlMessage) SessionID() uint16 {
	return m.header.SessionID
}

// SystemBytes implements Message.SystemBytes().
func (m *ControlMessage) SystemBytes() uint32 {
	return m.header.SystemBytes
}

// SelectStatus returns the status code of a Select.rsp. Valid only when the
// message is a Select.rsp.
func (m *ControlMessage) SelectStatus() SelectStatus {
	return SelectStatus(m.header.Byte3)
}

// DeselectStatus returns the status code of a Deselect.rsp. Valid only when
// the message is a Deselect.rsp.
func (m *ControlMessage) DeselectStatus() DeselectStatus {
	return DeselectStatus(m.header.Byte3)
}

// RejectReason returns the reason code of a Reject.req. Valid only when the
// message is a Reject.req.
func (m *ControlMessage) RejectReason() RejectReason {
	return RejectReason(m.header.Byte3)
}

// RejectedSType returns byte 2 of a Reject.req: the offending SType, or the
// offending PType when the reason is RejectPTypeNotSupported.
func (m *ControlMessage) RejectedSType() byte {
	return m.header.Byte2
}

// ToBytes implements Message.ToBytes(). Control messages have no payload.
func (m *ControlMessage) ToBytes() []byte {
	result := make([]byte, 4, 4+HeaderSize)
	binary.BigEndian.PutUint32(result, HeaderSize)
	return append(result, m.header.bytes()...)
}

// String returns a short description of the control message.
func (m *ControlMessage) String() string {
	return fmt.Sprintf("%s session=0x%04X system=0x%08X", m.Type(), m.header.SessionID, m.header.SystemBytes)
}
