package secs2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Testing Strategy:
//
// - Round trip: Decode(item.ToBytes()) reproduces the item for every
//   format, including nesting and empty values.
// - Canonical form: canonical inputs re-encode byte-identically;
//   non-minimal length bytes decode but re-encode to the minimal form.
// - Errors: each failure kind is triggered with a minimal input and the
//   reported offset is checked.

func TestDecode_RoundTrip(t *testing.T) {
	var tests = []struct {
		description string
		item        Item
	}{
		{"Empty list", NewList()},
		{"ASCII", NewASCII("communication test")},
		{"Empty ASCII", NewASCII("")},
		{"JIS-8", NewJIS8("\xB1\xB2\xB3")},
		{"Localized", NewLocalized(0x3042, 0x3044)},
		{"Binary", NewBinary(0, 1, 254, 255)},
		{"Boolean", NewBoolean(true, false)},
		{"I1", NewInt(1, -128, 0, 127)},
		{"I2", NewInt(2, -32768, 32767)},
		{"I4", NewInt(4, -1)},
		{"I8", NewInt(8, -1, 1)},
		{"U1", NewUint(1, 255)},
		{"U2", NewUint(2, 0x0102)},
		{"U4", NewUint(4, 0xDEADBEEF)},
		{"U8", NewUint(8, 1<<63)},
		{"F4", NewFloat(4, 0.1, -1.5)},
		{"F8", NewFloat(8, 3.141592653589793)},
		{"Empty U2", NewUint(2)},
		{
			"Nested structure",
			NewList(
				NewASCII("LOT123"),
				NewList(NewUint(4, 1, 2, 3), NewBoolean(true)),
				NewList(),
				NewBinary(0xAA),
			),
		},
	}
	for i, test := range tests {
		t.Logf("Test #%d: %s", i, test.description)
		encoded := test.item.ToBytes()
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, test.item, decoded)
		assert.Equal(t, encoded, decoded.ToBytes())
	}
}

func TestDecode_KnownBytes(t *testing.T) {
	// <L[2] <A "AB"> <U2[2] 258 772>>
	input := []byte{0x01, 0x02, 0x41, 0x02, 0x41, 0x42, 0xA9, 0x04, 0x01, 0x02, 0x03, 0x04}
	item, err := Decode(input)
	require.NoError(t, err)
	assert.Equal(t, NewList(NewASCII("AB"), NewUint(2, 0x0102, 0x0304)), item)
}

func TestDecode_NonMinimalLengthBytes(t *testing.T) {
	// ASCII "AB" with 2 length bytes decodes, but re-encodes to the
	// canonical 1-length-byte form.
	input := []byte{0x42, 0x00, 0x02, 0x41, 0x42}
	item, err := Decode(input)
	require.NoError(t, err)
	assert.Equal(t, NewASCII("AB"), item)
	assert.Equal(t, []byte{0x41, 0x02, 0x41, 0x42}, item.ToBytes())
}

func TestDecode_Errors(t *testing.T) {
	var tests = []struct {
		description    string
		input          []byte
		expectedKind   ErrorKind
		expectedOffset int
	}{
		{
			description:    "Empty input",
			input:          []byte{},
			expectedKind:   TruncatedInput,
			expectedOffset: 0,
		},
		{
			description:    "Zero length bytes",
			input:          []byte{0x40},
			expectedKind:   InvalidHeader,
			expectedOffset: 0,
		},
		{
			description:    "Undefined format code",
			input:          []byte{0x4D, 0x00},
			expectedKind:   InvalidFormat,
			expectedOffset: 0,
		},
		{
			description:    "Truncated length bytes",
			input:          []byte{0x42, 0x01},
			expectedKind:   TruncatedInput,
			expectedOffset: 2,
		},
		{
			description:    "Truncated payload",
			input:          []byte{0x41, 0x05, 0x41},
			expectedKind:   TruncatedInput,
			expectedOffset: 3,
		},
		{
			description:    "Misaligned U2 length",
			input:          []byte{0xA9, 0x03, 0x01, 0x02, 0x03},
			expectedKind:   MisalignedLength,
			expectedOffset: 0,
		},
		{
			description:    "List longer than remaining input",
			input:          []byte{0x01, 0xFF},
			expectedKind:   TruncatedInput,
			expectedOffset: 0,
		},
		{
			description:    "Trailing bytes after item",
			input:          []byte{0x25, 0x01, 0x01, 0xFF},
			expectedKind:   InvalidFormat,
			expectedOffset: 3,
		},
		{
			description:    "Missing list children",
			input:          []byte{0x01, 0x02, 0x25, 0x02, 0x01, 0x01},
			expectedKind:   TruncatedInput,
			expectedOffset: 6,
		},
	}
	for i, test := range tests {
		t.Logf("Test #%d: %s", i, test.description)
		item, err := Decode(test.input)
		assert.Nil(t, item)
		var codecErr *Error
		require.ErrorAs(t, err, &codecErr)
		assert.Equal(t, test.expectedKind, codecErr.Kind)
		assert.Equal(t, test.expectedOffset, codecErr.Offset)
	}
}

func TestDecode_DepthBound(t *testing.T) {
	// 1025 nested single-child lists followed by an empty list exceed
	// the default bound of 1024.
	input := bytes.Repeat([]byte{0x01, 0x01}, 1025)
	input = append(input, 0x01, 0x00)
	_, err := Decode(input)
	var codecErr *Error
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, DepthExceeded, codecErr.Kind)
	assert.Equal(t, 1024*2, codecErr.Offset)

	// The same nesting decodes with a larger bound.
	item, err := DecodeDepth(input, 2048)
	require.NoError(t, err)
	assert.Equal(t, input, item.ToBytes())
}

func TestDecode_DeepNestingWithinBound(t *testing.T) {
	item := Item(NewBinary(1))
	for i := 0; i < 1000; i++ {
		item = NewList(item)
	}
	decoded, err := Decode(item.ToBytes())
	require.NoError(t, err)
	assert.Equal(t, item, decoded)
}
