package secs2

import (
	"fmt"
	"strings"
)

// BinaryItem is an immutable data item holding binary octets.
// Implements Item.
type BinaryItem struct {
	values []byte

	// Rep invariants
	// - len(values) <= MaxByteSize
}

// NewBinary creates a new BinaryItem with the given octets.
func NewBinary(values ...byte) Item {
	copied := make([]byte, len(values))
	copy(copied, values)
	node := &BinaryItem{values: copied}
	node.checkRep()
	return node
}

// Format implements Item.Format().
func (node *BinaryItem) Format() Format {
	return FormatBinary
}

// Size implements Item.Size(); it returns the number of octets.
func (node *BinaryItem) Size() int {
	return len(node.values)
}

// Values returns the octets. The returned slice must not be modified.
func (node *BinaryItem) Values() []byte {
	return node.values
}

// ToBytes implements Item.ToBytes().
func (node *BinaryItem) ToBytes() []byte {
	result := headerBytes(FormatBinary, len(node.values))
	return append(result, node.values...)
}

// String returns the string representation of the node.
func (node *BinaryItem) String() string {
	if len(node.values) == 0 {
		return "<B[0]>"
	}

	values := make([]string, 0, len(node.values))
	for _, v := range node.values {
		values = append(values, fmt.Sprintf("0x%02X", v))
	}
	return fmt.Sprintf("<B[%d] %s>", len(node.values), strings.Join(values, " "))
}

func (node *BinaryItem) checkRep() {
	if len(node.values) > MaxByteSize {
		panic("item node size limit exceeded")
	}
}
