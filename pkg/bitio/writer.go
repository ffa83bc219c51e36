package bitio

import (
	"bytes"
	"math"
)

// Writer accumulates scalars and bit fields in memory.
type Writer struct {
	buf bytes.Buffer
	ctx Context

	cur  byte // partially filled byte
	used int  // bits already placed in cur
}

// NewWriter creates a Writer with the given byte/bit order.
func NewWriter(ctx Context) *Writer {
	return &Writer{ctx: ctx}
}

// Context returns the byte/bit order in use.
func (w *Writer) Context() Context { return w.ctx }

// SetContext switches the byte/bit order for subsequent writes.
func (w *Writer) SetContext(ctx Context) { w.ctx = ctx }

// Len returns the number of complete bytes written.
func (w *Writer) Len() int { return w.buf.Len() }

// Bytes flushes a partial byte (zero padded) and returns the output.
func (w *Writer) Bytes() []byte {
	w.ByteAlign()
	return w.buf.Bytes()
}

// ByteAlign pads a partially filled byte with zero bits.
func (w *Writer) ByteAlign() {
	if w.used > 0 {
		w.buf.WriteByte(w.cur)
		w.cur, w.used = 0, 0
	}
}

// BitAligned reports whether the output sits on a byte boundary.
func (w *Writer) BitAligned() bool { return w.used == 0 }

// Pad appends n zero bytes.
func (w *Writer) Pad(n int) {
	w.ByteAlign()
	for range n {
		w.buf.WriteByte(0)
	}
}

// Fill appends n copies of b.
func (w *Writer) Fill(n int, b byte) {
	w.ByteAlign()
	for range n {
		w.buf.WriteByte(b)
	}
}

// WriteByte appends one byte.
func (w *Writer) WriteByte(b byte) error {
	w.ByteAlign()
	return w.buf.WriteByte(b)
}

// Write appends p.
func (w *Writer) Write(p []byte) (int, error) {
	w.ByteAlign()
	return w.buf.Write(p)
}

// WriteString appends s.
func (w *Writer) WriteString(s string) {
	w.ByteAlign()
	w.buf.WriteString(s)
}

// WriteFixedString appends s truncated or NUL padded to n bytes.
func (w *Writer) WriteFixedString(s string, n int) {
	w.ByteAlign()
	if len(s) > n {
		s = s[:n]
	}
	w.buf.WriteString(s)
	w.Pad(n - len(s))
}

// WriteUint16 appends a 16 bit value in the context byte order.
func (w *Writer) WriteUint16(v uint16) {
	var p [2]byte
	w.ctx.ByteOrder.PutUint16(p[:], v)
	w.Write(p[:])
}

// WriteUint32 appends a 32 bit value in the context byte order.
func (w *Writer) WriteUint32(v uint32) {
	var p [4]byte
	w.ctx.ByteOrder.PutUint32(p[:], v)
	w.Write(p[:])
}

// WriteUint64 appends a 64 bit value in the context byte order.
func (w *Writer) WriteUint64(v uint64) {
	var p [8]byte
	w.ctx.ByteOrder.PutUint64(p[:], v)
	w.Write(p[:])
}

// WriteFloat32 appends an IEEE single.
func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

// WriteFloat64 appends an IEEE double.
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteBits appends the lowest n bits of v, 1 <= n <= 64, in the context bit
// order.
func (w *Writer) WriteBits(v uint64, n int) error {
	if n <= 0 || n > 64 {
		return ErrBitWidth
	}
	v &= Mask(n)
	for n > 0 {
		take := min(n, 8-w.used)
		if w.ctx.BitOrder == MSBFirst {
			bits := byte(v>>(n-take)) & byte(Mask(take))
			w.cur |= bits << (8 - w.used - take)
		} else {
			bits := byte(v) & byte(Mask(take))
			w.cur |= bits << w.used
			v >>= take
		}
		w.used += take
		n -= take
		if w.used == 8 {
			w.buf.WriteByte(w.cur)
			w.cur, w.used = 0, 0
		}
	}
	return nil
}

// WriteSample is the inverse of Reader.ReadSample.
func (w *Writer) WriteSample(v uint64, n int) error {
	if w.used == 0 && n%8 == 0 {
		switch n {
		case 8:
			return w.WriteByte(byte(v))
		case 16:
			w.WriteUint16(uint16(v))
			return nil
		case 32:
			w.WriteUint32(uint32(v))
			return nil
		case 64:
			w.WriteUint64(v)
			return nil
		}
		p := make([]byte, n/8)
		for i := range p {
			if w.ctx.IsLittleEndian() {
				p[i] = byte(v >> (8 * i))
			} else {
				p[len(p)-1-i] = byte(v >> (8 * i))
			}
		}
		w.Write(p)
		return nil
	}
	return w.WriteBits(v, n)
}
