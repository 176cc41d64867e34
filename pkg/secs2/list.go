package secs2

import (
	"strconv"
	"strings"
)

// ListItem is an immutable data item holding an ordered sequence of child
// items. Implements Item.
type ListItem struct {
	items []Item

	// Rep invariants
	// - len(items) <= MaxByteSize
	// - no items[i] is nil
}

// NewList creates a new ListItem with the given child items.
func NewList(items ...Item) Item {
	copied := make([]Item, len(items))
	copy(copied, items)
	node := &ListItem{items: copied}
	node.checkRep()
	return node
}

// Format implements Item.Format().
func (node *ListItem) Format() Format {
	return FormatList
}

// Size implements Item.Size(); it returns the number of child items.
func (node *ListItem) Size() int {
	return len(node.items)
}

// Items returns the child items. The returned slice must not be modified.
func (node *ListItem) Items() []Item {
	return node.items
}

// Item returns the i-th child item.
func (node *ListItem) Item(i int) Item {
	return node.items[i]
}

// ToBytes implements Item.ToBytes(). The list length counts child items, not
// bytes.
func (node *ListItem) ToBytes() []byte {
	result := headerBytes(FormatList, len(node.items))
	for _, item := range node.items {
		result = append(result, item.ToBytes()...)
	}
	return result
}

// String returns the string representation of the node.
func (node *ListItem) String() string {
	if len(node.items) == 0 {
		return "<L[0]>"
	}

	var sb strings.Builder
	sb.WriteString("<L[")
	sb.WriteString(strconv.Itoa(len(node.items)))
	sb.WriteString("]")
	for _, item := range node.items {
		sb.WriteString(" ")
		sb.WriteString(item.String())
	}
	sb.WriteString(">")
	return sb.String()
}

func (node *ListItem) checkRep() {
	if len(node.items) > MaxByteSize {
		panic("list length limit exceeded")
	}
	for _, item := range node.items {
		if item == nil {
			panic("list contains nil item")
		}
	}
}
