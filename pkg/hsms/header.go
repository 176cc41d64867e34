// Package hsms implements the HSMS (SEMI E37) message model and frame codec.
//
// An HSMS transmission is a 4-byte big-endian length followed by a 10-byte
// header and an optional SECS-II payload. This package defines the typed
// message union (data message plus the control message taxonomy), the header
// layout, and lossless conversion between messages and wire bytes.
package hsms

import "encoding/binary"

// HeaderSize is the size of the HSMS message header in bytes.
const HeaderSize = 10

// SType is the session type discriminator of an HSMS message header.
type SType byte

const (
	STypeData        SType = 0
	STypeSelectReq   SType = 1
	STypeSelectRsp   SType = 2
	STypeDeselectReq SType = 3
	STypeDeselectRsp SType = 4
	STypeLinktestReq SType = 5
	STypeLinktestRsp SType = 6
	STypeRejectReq   SType = 7
	STypeSeparateReq SType = 9
)

// String returns the name of the session type.
func (s SType) String() string {
	switch s {
	case STypeData:
		return "data.msg"
	case STypeSelectReq:
		return "select.req"
	case STypeSelectRsp:
		return "select.rsp"
	case STypeDeselectReq:
		return "deselect.req"
	case STypeDeselectRsp:
		return "deselect.rsp"
	case STypeLinktestReq:
		return "linktest.req"
	case STypeLinktestRsp:
		return "linktest.rsp"
	case STypeRejectReq:
		return "reject.req"
	case STypeSeparateReq:
		return "separate.req"
	}
	return "unknown"
}

// control reports whether s is one of the defined control message types.
func (s SType) control() bool {
	switch s {
	case STypeSelectReq, STypeSelectRsp, STypeDeselectReq, STypeDeselectRsp,
		STypeLinktestReq, STypeLinktestRsp, STypeRejectReq, STypeSeparateReq:
		return true
	}
	return false
}

// SelectStatus is the result code carried in byte 3 of a Select.rsp.
type SelectStatus byte

const (
	SelectOK                   SelectStatus = 0
	SelectAlreadyActive        SelectStatus = 1
	SelectNotReady             SelectStatus = 2
	SelectExhaustedActivations SelectStatus = 3
	// 4-255 are reserved failure codes.
)

// DeselectStatus is the result code carried in byte 3 of a Deselect.rsp.
type DeselectStatus byte

const (
	DeselectOK             DeselectStatus = 0
	DeselectNotEstablished DeselectStatus = 1
	DeselectBusy           DeselectStatus = 2
	// 3-255 are reserved failure codes.
)

// RejectReason is the reason code carried in byte 3 of a Reject.req.
type RejectReason byte

const (
	RejectSTypeNotSupported  RejectReason = 1
	RejectPTypeNotSupported  RejectReason = 2
	RejectTransactionNotOpen RejectReason = 3
	RejectEntityNotSelected  RejectReason = 4
	// RejectMalformedData reports a control message that carried a
	// payload, a data message whose body failed to decode, or a frame
	// that exceeded the receiver's size cap. SEMI E37 reserves reason
	// codes 5-255; this code is local to this library.
	RejectMalformedData RejectReason = 9
)

// String returns the name of the reject reason.
func (r RejectReason) String() string {
	switch r {
	case RejectSTypeNotSupported:
		return "stype not supported"
	case RejectPTypeNotSupported:
		return "ptype not supported"
	case RejectTransactionNotOpen:
		return "transaction not open"
	case RejectEntityNotSelected:
		return "entity not selected"
	case RejectMalformedData:
		return "malformed data"
	}
	return "reserved"
}

// Header is the decoded 10-byte HSMS message header.
//
// Byte2 and Byte3 are type-dependent: for a data message Byte2 carries the
// W-bit and stream and Byte3 the function; for control messages they carry
// status or reason codes as defined per type.
type Header struct {
	SessionID   uint16
	Byte2       byte
	Byte3       byte
	PType       byte
	SType       SType
	SystemBytes uint32
}

// ParseHeader decodes a header from the first 10 bytes of b. It fails only
// when b is shorter than 10 bytes.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, &FrameError{Kind: FrameInvalidHeader}
	}
	return Header{
		SessionID:   binary.BigEndian.Uint16(b[0:2]),
		Byte2:       b[2],
		Byte3:       b[3],
		PType:       b[4],
		SType:       SType(b[5]),
		SystemBytes: binary.BigEndian.Uint32(b[6:10]),
	}, nil
}

// bytes returns the 10-byte wire form of the header.
func (h Header) bytes() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.SessionID)
	b[2] = h.Byte2
	b[3] = h.Byte3
	b[4] = h.PType
	b[5] = byte(h.SType)
	binary.BigEndian.PutUint32(b[6:10], h.SystemBytes)
	return b
}
