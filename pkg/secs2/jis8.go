package secs2

import "fmt"

// JIS8Item is an immutable data item holding a JIS-8 encoded string.
// Implements Item.
//
// The string bytes are carried verbatim; this package does not convert
// between JIS-8 and Unicode.
type JIS8Item struct {
	value string

	// Rep invariants
	// - len(value) <= MaxByteSize
}

// NewJIS8 creates a new JIS8Item with the given raw JIS-8 bytes.
func NewJIS8(value string) Item {
	node := &JIS8Item{value: value}
	node.checkRep()
	return node
}

// Format implements Item.Format().
func (node *JIS8Item) Format() Format {
	return FormatJIS8
}

// Size implements Item.Size(); it returns the string length in bytes.
func (node *JIS8Item) Size() int {
	return len(node.value)
}

// Value returns the raw JIS-8 bytes as a string.
func (node *JIS8Item) Value() string {
	return node.value
}

// ToBytes implements Item.ToBytes().
func (node *JIS8Item) ToBytes() []byte {
	result := headerBytes(FormatJIS8, len(node.value))
	return append(result, node.value...)
}

// String returns the string representation of the node.
func (node *JIS8Item) String() string {
	if node.value == "" {
		return "<J[0]>"
	}
	return fmt.Sprintf("<J[%d] 0x% 02X>", len(node.value), []byte(node.value))
}

func (node *JIS8Item) checkRep() {
	if len(node.value) > MaxByteSize {
		panic("string length limit exceeded")
	}
}
