package secs2

import "fmt"

// ErrorKind classifies item codec failures.
type ErrorKind int

const (
	// TruncatedInput means the input ended before the item was complete.
	TruncatedInput ErrorKind = iota
	// InvalidFormat means an undefined format code was encountered, or
	// bytes remained after the top-level item.
	InvalidFormat
	// InvalidHeader means the format byte declared zero length bytes.
	InvalidHeader
	// MisalignedLength means the declared byte length is not a multiple of
	// the format's scalar width.
	MisalignedLength
	// DepthExceeded means list nesting exceeded the decoder's depth bound.
	DepthExceeded
)

// String returns the name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case TruncatedInput:
		return "truncated input"
	case InvalidFormat:
		return "invalid format"
	case InvalidHeader:
		return "invalid header"
	case MisalignedLength:
		return "misaligned length"
	case DepthExceeded:
		return "depth exceeded"
	}
	return "unknown"
}

// Error is an item codec error, reported with the byte offset in the input
// at which decoding failed.
type Error struct {
	Kind   ErrorKind
	Offset int
}

func (e *Error) Error() string {
	return fmt.Sprintf("secs2: %s at offset %d", e.Kind, e.Offset)
}
