// Package bitio provides bounds checked, byte order aware readers and writers
// over in-memory buffers, down to arbitrary width bit fields.
package bitio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrShortBuffer is returned when a read runs past the end of the buffer.
// It wraps io.ErrUnexpectedEOF so callers can classify it as truncation.
var ErrShortBuffer = fmt.Errorf("bitio: buffer too short: %w", io.ErrUnexpectedEOF)

// ErrBitWidth is returned for bit field widths outside 1..64.
var ErrBitWidth = errors.New("bitio: bit field width must be between 1 and 64")

// BitOrder selects how bits fill a byte.
type BitOrder int

const (
	// MSBFirst consumes the most significant bit of each byte first and
	// places the first bit read at the top of the value.
	MSBFirst BitOrder = iota
	// LSBFirst consumes the least significant bit first and places the
	// first bit read at the bottom of the value.
	LSBFirst
)

func (o BitOrder) String() string {
	if o == LSBFirst {
		return "lsb-first"
	}
	return "msb-first"
}

// Context bundles byte and bit order for one decode or encode call.
type Context struct {
	ByteOrder binary.ByteOrder
	BitOrder  BitOrder
}

var (
	// BigEndian is the conventional big endian, MSB first context.
	BigEndian = Context{ByteOrder: binary.BigEndian, BitOrder: MSBFirst}
	// LittleEndian is the little endian, LSB first context.
	LittleEndian = Context{ByteOrder: binary.LittleEndian, BitOrder: LSBFirst}
)

// WithBitOrder returns a copy of c using the given bit order.
func (c Context) WithBitOrder(o BitOrder) Context {
	c.BitOrder = o
	return c
}

// IsLittleEndian reports whether multi-byte values are little endian.
func (c Context) IsLittleEndian() bool {
	return c.ByteOrder == binary.LittleEndian
}

// Mask returns a value with the lowest n bits set.
func Mask(n int) uint64 {
	if n >= 64 {
		return math.MaxUint64
	}
	if n <= 0 {
		return 0
	}
	return uint64(1)<<n - 1
}

// SignExtend interprets the lowest n bits of v as a two's complement number.
func SignExtend(v uint64, n int) int64 {
	if n >= 64 || n <= 0 {
		return int64(v)
	}
	shift := 64 - n
	return int64(v<<shift) >> shift
}

// ReverseBits mirrors the bit order of one byte.
func ReverseBits(b byte) byte {
	b = b>>4 | b<<4
	b = (b&0xCC)>>2 | (b&0x33)<<2
	b = (b&0xAA)>>1 | (b&0x55)<<1
	return b
}

// ReverseBytes mirrors the bit order of every byte in place.
func ReverseBytes(p []byte) {
	for i, b := range p {
		p[i] = ReverseBits(b)
	}
}
