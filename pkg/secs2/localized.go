package secs2

import (
	"fmt"
	"strconv"
	"strings"
)

// LocalizedItem is an immutable data item holding a localized 2-byte
// character string. Implements Item.
//
// Each character is an opaque 2-byte code point; interpretation depends on
// the equipment's configured character set.
type LocalizedItem struct {
	values []uint16

	// Rep invariants
	// - len(values)*2 <= MaxByteSize
}

// NewLocalized creates a new LocalizedItem with the given 2-byte characters.
func NewLocalized(values ...uint16) Item {
	copied := make([]uint16, len(values))
	copy(copied, values)
	node := &LocalizedItem{values: copied}
	node.checkRep()
	return node
}

// Format implements Item.Format().
func (node *LocalizedItem) Format() Format {
	return FormatLocalized
}

// Size implements Item.Size(); it returns the number of characters.
func (node *LocalizedItem) Size() int {
	return len(node.values)
}

// Values returns the character codes. The returned slice must not be
// modified.
func (node *LocalizedItem) Values() []uint16 {
	return node.values
}

// ToBytes implements Item.ToBytes().
func (node *LocalizedItem) ToBytes() []byte {
	result := headerBytes(FormatLocalized, len(node.values)*2)
	for _, v := range node.values {
		result = append(result, byte(v>>8), byte(v))
	}
	return result
}

// String returns the string representation of the node.
func (node *LocalizedItem) String() string {
	if len(node.values) == 0 {
		return "<C2[0]>"
	}

	values := make([]string, 0, len(node.values))
	for _, v := range node.values {
		values = append(values, "0x"+strconv.FormatUint(uint64(v), 16))
	}
	return fmt.Sprintf("<C2[%d] %s>", len(node.values), strings.Join(values, " "))
}

func (node *LocalizedItem) checkRep() {
	if len(node.values)*2 > MaxByteSize {
		panic("item node size limit exceeded")
	}
}
