package bitio

import (
	"math"
)

// Reader reads scalars and bit fields from a byte slice. Byte and bit level
// reads share one cursor: a byte read first discards any partially consumed
// byte.
type Reader struct {
	data []byte
	pos  int
	ctx  Context

	cur  byte // byte being consumed bitwise
	left int  // bits remaining in cur
}

// NewReader creates a Reader over data.
func NewReader(data []byte, ctx Context) *Reader {
	return &Reader{data: data, ctx: ctx}
}

// Context returns the byte/bit order in use.
func (r *Reader) Context() Context { return r.ctx }

// SetContext switches the byte/bit order for subsequent reads.
func (r *Reader) SetContext(ctx Context) { r.ctx = ctx }

// Pos returns the offset of the next unread byte.
func (r *Reader) Pos() int { return r.pos }

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	if r.pos >= len(r.data) {
		return 0
	}
	return len(r.data) - r.pos
}

// Bytes returns the whole underlying buffer.
func (r *Reader) Bytes() []byte { return r.data }

// Seek moves the cursor to an absolute offset and drops any partial byte.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return ErrShortBuffer
	}
	r.pos = pos
	r.left = 0
	return nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	r.ByteAlign()
	if n < 0 || r.pos+n > len(r.data) {
		return ErrShortBuffer
	}
	r.pos += n
	return nil
}

// ByteAlign discards the rest of a partially consumed byte so the next read
// starts at a byte boundary.
func (r *Reader) ByteAlign() {
	r.left = 0
}

// BitAligned reports whether the cursor sits on a byte boundary.
func (r *Reader) BitAligned() bool { return r.left == 0 }

// ReadByte reads one byte.
func (r *Reader) ReadByte() (byte, error) {
	r.ByteAlign()
	if r.pos >= len(r.data) {
		return 0, ErrShortBuffer
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes returns the next n bytes. The slice aliases the buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	r.ByteAlign()
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrShortBuffer
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

// ReadUint16 reads a 16 bit value in the context byte order.
func (r *Reader) ReadUint16() (uint16, error) {
	p, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return r.ctx.ByteOrder.Uint16(p), nil
}

// ReadUint32 reads a 32 bit value in the context byte order.
func (r *Reader) ReadUint32() (uint32, error) {
	p, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return r.ctx.ByteOrder.Uint32(p), nil
}

// ReadUint64 reads a 64 bit value in the context byte order.
func (r *Reader) ReadUint64() (uint64, error) {
	p, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return r.ctx.ByteOrder.Uint64(p), nil
}

// ReadFloat32 reads an IEEE single in the context byte order.
func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 reads an IEEE double in the context byte order.
func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBits extracts an n bit unsigned field, 1 <= n <= 64, in the context
// bit order.
func (r *Reader) ReadBits(n int) (uint64, error) {
	if n <= 0 || n > 64 {
		return 0, ErrBitWidth
	}
	var v uint64
	got := 0
	for got < n {
		if r.left == 0 {
			if r.pos >= len(r.data) {
				return 0, ErrShortBuffer
			}
			r.cur = r.data[r.pos]
			r.pos++
			r.left = 8
		}
		take := min(n-got, r.left)
		if r.ctx.BitOrder == MSBFirst {
			bits := uint64(r.cur>>(r.left-take)) & Mask(take)
			v = v<<take | bits
		} else {
			bits := uint64(r.cur>>(8-r.left)) & Mask(take)
			v |= bits << got
		}
		r.left -= take
		got += take
	}
	return v, nil
}

// ReadSigned extracts an n bit field and sign extends it.
func (r *Reader) ReadSigned(n int) (int64, error) {
	v, err := r.ReadBits(n)
	return SignExtend(v, n), err
}

// ReadSample reads an n bit sample the way image formats store them: whole
// bytes in the context byte order when the cursor is byte aligned and n is a
// multiple of 8, otherwise a bit field.
func (r *Reader) ReadSample(n int) (uint64, error) {
	if r.left == 0 && n%8 == 0 {
		switch n {
		case 8:
			b, err := r.ReadByte()
			return uint64(b), err
		case 16:
			v, err := r.ReadUint16()
			return uint64(v), err
		case 32:
			v, err := r.ReadUint32()
			return uint64(v), err
		case 64:
			return r.ReadUint64()
		}
		p, err := r.ReadBytes(n / 8)
		if err != nil {
			return 0, err
		}
		var v uint64
		if r.ctx.IsLittleEndian() {
			for i := len(p) - 1; i >= 0; i-- {
				v = v<<8 | uint64(p[i])
			}
		} else {
			for _, b := range p {
				v = v<<8 | uint64(b)
			}
		}
		return v, nil
	}
	return r.ReadBits(n)
}
