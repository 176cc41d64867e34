// Package secs2 implements the SECS-II (SEMI E5) data item representation
// and its binary encoding.
//
// A SECS-II data item is a recursive tagged value: a list of child items, or
// a vector of scalars of one of the SECS-II formats. Items are immutable;
// factory functions validate their input and panic on values that cannot be
// represented, while Decode returns typed errors for malformed wire bytes.
package secs2

// MaxByteSize is the maximum number of payload bytes a single item can carry,
// as the item length field is at most 3 bytes wide.
const MaxByteSize = 1<<24 - 1

// Format is the 6-bit SECS-II item format code.
type Format byte

// Format codes, in octal per SEMI E5.
const (
	FormatList      Format = 0o00
	FormatBinary    Format = 0o10
	FormatBoolean   Format = 0o11
	FormatASCII     Format = 0o20
	FormatJIS8      Format = 0o21
	FormatLocalized Format = 0o22
	FormatI8        Format = 0o30
	FormatI1        Format = 0o31
	FormatI2        Format = 0o32
	FormatI4        Format = 0o34
	FormatF8        Format = 0o40
	FormatF4        Format = 0o44
	FormatU8        Format = 0o50
	FormatU1        Format = 0o51
	FormatU2        Format = 0o52
	FormatU4        Format = 0o54
)

// String returns the SML-style type mnemonic of the format code.
func (f Format) String() string {
	switch f {
	case FormatList:
		return "L"
	case FormatBinary:
		return "B"
	case FormatBoolean:
		return "BOOLEAN"
	case FormatASCII:
		return "A"
	case FormatJIS8:
		return "J"
	case FormatLocalized:
		return "C2"
	case FormatI8:
		return "I8"
	case FormatI1:
		return "I1"
	case FormatI2:
		return "I2"
	case FormatI4:
		return "I4"
	case FormatF8:
		return "F8"
	case FormatF4:
		return "F4"
	case FormatU8:
		return "U8"
	case FormatU1:
		return "U1"
	case FormatU2:
		return "U2"
	case FormatU4:
		return "U4"
	}
	return "?"
}

// valid reports whether f is one of the format codes defined by SEMI E5.
func (f Format) valid() bool {
	switch f {
	case FormatList, FormatBinary, FormatBoolean, FormatASCII, FormatJIS8,
		FormatLocalized, FormatI8, FormatI1, FormatI2, FormatI4,
		FormatF8, FormatF4, FormatU8, FormatU1, FormatU2, FormatU4:
		return true
	}
	return false
}

// scalarWidth returns the number of bytes one value of the format occupies.
// For List the unit is one child item.
func (f Format) scalarWidth() int {
	switch f {
	case FormatI2, FormatU2, FormatLocalized:
		return 2
	case FormatI4, FormatU4, FormatF4:
		return 4
	case FormatI8, FormatU8, FormatF8:
		return 8
	}
	return 1
}

// Item is an immutable SECS-II data item.
//
// Size returns the number of values in the item; for a list it is the number
// of child items, for a string format the number of characters. ToBytes
// returns the canonical binary encoding of the item, using the minimum number
// of length bytes.
type Item interface {
	// Format returns the item's SECS-II format code.
	Format() Format

	// Size returns the number of values (or child items) in the item.
	Size() int

	// ToBytes returns the canonical binary encoding of the item.
	ToBytes() []byte

	// String returns an SML-style textual rendering of the item.
	String() string
}

// headerBytes returns the format byte and the length bytes for an item with
// the given payload byte length (or child count, for lists). The minimum
// number of length bytes is always chosen. byteLength must not exceed
// MaxByteSize; factory functions enforce this before calling.
func headerBytes(format Format, byteLength int) []byte {
	lengthBytes := []byte{
		byte(byteLength >> 16),
		byte(byteLength >> 8),
		byte(byteLength),
	}
	if lengthBytes[0] == 0 {
		if lengthBytes[1] == 0 {
			lengthBytes = lengthBytes[2:]
		} else {
			lengthBytes = lengthBytes[1:]
		}
	}

	result := make([]byte, 0, 1+len(lengthBytes))
	result = append(result, byte(format)<<2|byte(len(lengthBytes)))
	return append(result, lengthBytes...)
}
