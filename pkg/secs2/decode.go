package secs2

import (
	"encoding/binary"
	"math"

	"github.com/golang-collections/collections/stack"
)

// DefaultMaxDepth is the default list nesting bound of Decode.
const DefaultMaxDepth = 1024

// Decode parses the binary encoding of a single SECS-II item.
//
// The whole input must be consumed by the item; decoding accepts any number
// of length bytes in 1..3, not only the minimum. Failures are reported as
// *Error with the byte offset at which decoding failed.
func Decode(input []byte) (Item, error) {
	return DecodeDepth(input, DefaultMaxDepth)
}

// DecodeDepth is Decode with an explicit list nesting bound.
func DecodeDepth(input []byte, maxDepth int) (Item, error) {
	d := &decoder{input: input, maxDepth: maxDepth}
	item, err := d.decode()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.input) {
		return nil, &Error{Kind: InvalidFormat, Offset: d.pos}
	}
	return item, nil
}

type decoder struct {
	input    []byte // item in binary encoding
	pos      int    // current position in input
	maxDepth int    // list nesting bound
}

// openList is a list whose children are still being decoded. The decoder
// keeps open lists on an explicit work stack instead of recursing, so that
// list nesting depth is bounded by the stack length, not the goroutine
// stack.
type openList struct {
	items []Item
	want  int
}

func (d *decoder) decode() (Item, error) {
	open := stack.New()
	for {
		start := d.pos
		format, length, err := d.header()
		if err != nil {
			return nil, err
		}

		var item Item
		if format == FormatList {
			if open.Len() >= d.maxDepth {
				return nil, &Error{Kind: DepthExceeded, Offset: start}
			}
			// A child item is at least two bytes, so a list that
			// declares more children than the remaining input could
			// hold is truncated; checked before allocating.
			if length*2 > len(d.input)-d.pos {
				return nil, &Error{Kind: TruncatedInput, Offset: start}
			}
			if length > 0 {
				open.Push(&openList{items: make([]Item, 0, length), want: length})
				continue
			}
			item = &ListItem{items: []Item{}}
		} else {
			item, err = d.scalar(format, length, start)
			if err != nil {
				return nil, err
			}
		}

		// Attach the completed item to the innermost open list; a list
		// completed by the attachment is itself attached to its parent.
		for {
			if open.Len() == 0 {
				return item, nil
			}
			parent := open.Peek().(*openList)
			parent.items = append(parent.items, item)
			if len(parent.items) < parent.want {
				break
			}
			open.Pop()
			item = &ListItem{items: parent.items}
		}
	}
}

// header decodes the format byte and the length bytes of one item.
func (d *decoder) header() (Format, int, error) {
	if d.pos >= len(d.input) {
		return 0, 0, &Error{Kind: TruncatedInput, Offset: d.pos}
	}

	b := d.input[d.pos]
	format := Format(b >> 2)
	lengthByteCount := int(b & 0b11)
	if lengthByteCount == 0 {
		return 0, 0, &Error{Kind: InvalidHeader, Offset: d.pos}
	}
	if !format.valid() {
		return 0, 0, &Error{Kind: InvalidFormat, Offset: d.pos}
	}
	d.pos++

	if d.pos+lengthByteCount > len(d.input) {
		return 0, 0, &Error{Kind: TruncatedInput, Offset: len(d.input)}
	}
	length := 0
	for _, lb := range d.input[d.pos : d.pos+lengthByteCount] {
		length = length<<8 | int(lb)
	}
	d.pos += lengthByteCount

	return format, length, nil
}

// scalar decodes the payload of one non-list item. start is the offset of
// the item's format byte, used in error reports.
func (d *decoder) scalar(format Format, length, start int) (Item, error) {
	width := format.scalarWidth()
	if length%width != 0 {
		return nil, &Error{Kind: MisalignedLength, Offset: start}
	}
	if d.pos+length > len(d.input) {
		return nil, &Error{Kind: TruncatedInput, Offset: len(d.input)}
	}

	data := d.input[d.pos : d.pos+length]
	d.pos += length
	count := length / width

	switch format {
	case FormatASCII:
		// Wire bytes are carried verbatim, including any outside the
		// strict ASCII range.
		return &ASCIIItem{value: string(data)}, nil

	case FormatJIS8:
		return &JIS8Item{value: string(data)}, nil

	case FormatLocalized:
		values := make([]uint16, count)
		for i := range values {
			values[i] = binary.BigEndian.Uint16(data[i*2:])
		}
		return &LocalizedItem{values: values}, nil

	case FormatBinary:
		values := make([]byte, length)
		copy(values, data)
		return &BinaryItem{values: values}, nil

	case FormatBoolean:
		values := make([]bool, length)
		for i, v := range data {
			values[i] = v != 0
		}
		return &BooleanItem{values: values}, nil

	case FormatI1, FormatI2, FormatI4, FormatI8:
		values := make([]int64, count)
		for i := 0; i < count; i++ {
			chunk := data[i*width : (i+1)*width]
			switch width {
			case 1:
				values[i] = int64(int8(chunk[0]))
			case 2:
				values[i] = int64(int16(binary.BigEndian.Uint16(chunk)))
			case 4:
				values[i] = int64(int32(binary.BigEndian.Uint32(chunk)))
			case 8:
				values[i] = int64(binary.BigEndian.Uint64(chunk))
			}
		}
		return &IntItem{byteSize: width, values: values}, nil

	case FormatU1, FormatU2, FormatU4, FormatU8:
		values := make([]uint64, count)
		for i := 0; i < count; i++ {
			chunk := data[i*width : (i+1)*width]
			switch width {
			case 1:
				values[i] = uint64(chunk[0])
			case 2:
				values[i] = uint64(binary.BigEndian.Uint16(chunk))
			case 4:
				values[i] = uint64(binary.BigEndian.Uint32(chunk))
			case 8:
				values[i] = binary.BigEndian.Uint64(chunk)
			}
		}
		return &UintItem{byteSize: width, values: values}, nil

	default: // FormatF4, FormatF8
		values := make([]float64, count)
		for i := 0; i < count; i++ {
			chunk := data[i*width : (i+1)*width]
			if width == 4 {
				values[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(chunk)))
			} else {
				values[i] = math.Float64frombits(binary.BigEndian.Uint64(chunk))
			}
		}
		return &FloatItem{byteSize: width, values: values}, nil
	}
}
