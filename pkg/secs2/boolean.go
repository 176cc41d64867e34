package secs2

import (
	"fmt"
	"strings"
)

// BooleanItem is an immutable data item holding boolean values.
// Implements Item.
type BooleanItem struct {
	values []bool

	// Rep invariants
	// - len(values) <= MaxByteSize
}

// NewBoolean creates a new BooleanItem with the given values.
func NewBoolean(values ...bool) Item {
	copied := make([]bool, len(values))
	copy(copied, values)
	node := &BooleanItem{values: copied}
	node.checkRep()
	return node
}

// Format implements Item.Format().
func (node *BooleanItem) Format() Format {
	return FormatBoolean
}

// Size implements Item.Size(); it returns the number of values.
func (node *BooleanItem) Size() int {
	return len(node.values)
}

// Values returns the boolean values. The returned slice must not be
// modified.
func (node *BooleanItem) Values() []bool {
	return node.values
}

// ToBytes implements Item.ToBytes(). True encodes as 1, false as 0.
func (node *BooleanItem) ToBytes() []byte {
	result := headerBytes(FormatBoolean, len(node.values))
	for _, v := range node.values {
		if v {
			result = append(result, 1)
		} else {
			result = append(result, 0)
		}
	}
	return result
}

// String returns the string representation of the node.
func (node *BooleanItem) String() string {
	if len(node.values) == 0 {
		return "<BOOLEAN[0]>"
	}

	values := make([]string, 0, len(node.values))
	for _, v := range node.values {
		if v {
			values = append(values, "T")
		} else {
			values = append(values, "F")
		}
	}
	return fmt.Sprintf("<BOOLEAN[%d] %s>", len(node.values), strings.Join(values, " "))
}

func (node *BooleanItem) checkRep() {
	if len(node.values) > MaxByteSize {
		panic("item node size limit exceeded")
	}
}
