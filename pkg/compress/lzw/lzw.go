// Package lzw encodes and decodes the TIFF flavours of Lempel-Ziv-Welch compression
// (compression tag 5).
//
// Codes are 9 to 12 bits wide. 256 clears the dictionary, 257 ends the
// stream and new strings are numbered from 258. Two variants exist in the
// wild: the standard one packs codes MSB-first and widens one code early
// (at 511, 1023, 2047), the legacy one written by old encoders packs codes
// LSB-first and widens at 512, 1024, 2048.
package lzw

import (
	"errors"
	"fmt"
	"io"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
)

const (
	clearCode = 256
	eoiCode   = 257
	firstCode = 258
	minWidth  = 9
	maxWidth  = 12
	tableSize = 1 << maxWidth
)

var (
	// ErrInvalidCode is returned for a code that is not in the dictionary.
	ErrInvalidCode = errors.New("lzw: invalid code")
	// ErrTruncated is returned when the stream ends before the expected size.
	ErrTruncated = fmt.Errorf("lzw: compressed data truncated: %w", io.ErrUnexpectedEOF)
)

// Variant selects the bit order and code width schedule.
type Variant int

const (
	Standard Variant = iota
	Legacy
)

func (v Variant) String() string {
	if v == Legacy {
		return "legacy"
	}
	return "standard"
}

// Detect guesses the variant from the leading clear code: written LSB-first
// it leaves the first byte zero and the low bit of the second byte set.
func Detect(src []byte) Variant {
	if len(src) >= 2 && src[0] == 0 && src[1]&1 == 1 {
		return Legacy
	}
	return Standard
}

// Decode expands src using the variant found by Detect. See DecodeVariant.
func Decode(src []byte, size int) ([]byte, error) {
	return DecodeVariant(src, size, Detect(src))
}

// DecodeVariant expands src. With size > 0 decoding stops after size bytes
// and a stream that ends earlier is an error; with size <= 0 everything up to
// the end-of-information code or the end of src is returned.
func DecodeVariant(src []byte, size int, v Variant) ([]byte, error) {
	ctx, early := bitio.BigEndian, 1
	if v == Legacy {
		ctx, early = bitio.LittleEndian, 0
	}
	r := bitio.NewReader(src, ctx)
	t := newTable()

	out := make([]byte, 0, max(size, 0))
	width, next, prev := minWidth, firstCode, -1
	for size <= 0 || len(out) < size {
		c, err := r.ReadBits(width)
		if err != nil {
			// a partial trailing code is padding
			break
		}
		code := int(c)
		switch code {
		case eoiCode:
			return finish(out, size)
		case clearCode:
			width, next, prev = minWidth, firstCode, -1
			continue
		}

		if prev < 0 {
			if code > 255 {
				return nil, fmt.Errorf("%w %d at start of string table", ErrInvalidCode, code)
			}
			out = append(out, byte(code))
			prev = code
			continue
		}

		switch {
		case code < next:
			out = t.expand(out, code)
			if next < tableSize {
				t.add(next, prev, t.first[code])
				next++
			}
		case code == next && next < tableSize:
			t.add(next, prev, t.first[prev])
			next++
			out = t.expand(out, code)
		default:
			return nil, fmt.Errorf("%w %d, table holds %d entries", ErrInvalidCode, code, next)
		}
		if next+early >= 1<<width && width < maxWidth {
			width++
		}
		prev = code
	}
	return finish(out, size)
}

func finish(out []byte, size int) ([]byte, error) {
	switch {
	case size <= 0:
		return out, nil
	case len(out) < size:
		return nil, fmt.Errorf("%w: decoded %d of %d bytes", ErrTruncated, len(out), size)
	}
	return out[:size], nil
}

// table stores each string as a prefix code plus one suffix byte.
type table struct {
	prefix [tableSize]uint16
	suffix [tableSize]byte
	first  [tableSize]byte
	length [tableSize]uint16
}

func newTable() *table {
	t := &table{}
	for i := range 256 {
		t.suffix[i] = byte(i)
		t.first[i] = byte(i)
		t.length[i] = 1
	}
	return t
}

func (t *table) add(code, prefix int, b byte) {
	t.prefix[code] = uint16(prefix)
	t.suffix[code] = b
	t.first[code] = t.first[prefix]
	t.length[code] = t.length[prefix] + 1
}

func (t *table) expand(out []byte, code int) []byte {
	n := int(t.length[code])
	start := len(out)
	out = append(out, make([]byte, n)...)
	for i := start + n - 1; i >= start; i-- {
		out[i] = t.suffix[code]
		code = int(t.prefix[code])
	}
	return out
}

// Encode compresses src as a TIFF LZW stream of the given variant, starting
// with a clear code and ending with end-of-information. The dictionary is
// cleared before it overflows 12 bit codes.
func Encode(src []byte, v Variant) []byte {
	ctx, late := bitio.BigEndian, 0
	if v == Legacy {
		ctx, late = bitio.LittleEndian, 1
	}
	w := bitio.NewWriter(ctx)

	type key struct {
		prefix int
		b      byte
	}
	dict := map[key]int{}
	width, next := minWidth, firstCode
	emit := func(code int) { _ = w.WriteBits(uint64(code), width) }
	// the decoder learns each entry one code later than the encoder
	grow := func() {
		next++
		if next >= (1<<width)+late && width < maxWidth {
			width++
		}
	}

	emit(clearCode)
	if len(src) == 0 {
		emit(eoiCode)
		return w.Bytes()
	}
	cur := int(src[0])
	for _, b := range src[1:] {
		if c, ok := dict[key{cur, b}]; ok {
			cur = c
			continue
		}
		emit(cur)
		dict[key{cur, b}] = next
		grow()
		if next >= tableSize-2 {
			emit(clearCode)
			clear(dict)
			width, next = minWidth, firstCode
		}
		cur = int(b)
	}
	emit(cur)
	grow()
	emit(eoiCode)
	return w.Bytes()
}
