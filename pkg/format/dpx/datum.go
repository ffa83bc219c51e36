package dpx

import (
	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Datum packing. 8, 16, 32 and 64 bit datums always occupy whole bytes;
// the packing only matters for 1, 10 and 12 bit data.
const (
	// PackingPacked fills 32 bit words without gaps, most significant bit
	// first, datums may straddle words.
	PackingPacked uint16 = 0
	// PackingFilledA stores three 10 bit datums per 32 bit word, or one
	// 12 bit datum per 16 bit word, with the padding in the low bits.
	PackingFilledA uint16 = 1
	// PackingFilledB is PackingFilledA with the padding in the high bits.
	PackingFilledB uint16 = 2
)

// datumReader reads the datums of one element. Every line starts on a 32
// bit boundary relative to the element start.
type datumReader struct {
	r       *bitio.Reader
	start   int
	bits    int
	packing uint16
	rle     bool

	acc    uint64 // packed bits not yet consumed
	nacc   int
	word   uint32 // filled 10 bit word
	filled int    // datums left in word

	run    int // repeats left of runVal
	runVal uint64
	lit    int // literal datums left
}

func newDatumReader(r *bitio.Reader, e *Element) *datumReader {
	return &datumReader{r: r, start: r.Pos(), bits: int(e.BitSize), packing: e.Packing, rle: e.RLE()}
}

func (d *datumReader) next() (uint64, error) {
	if !d.rle {
		return d.raw()
	}
	switch {
	case d.run > 0:
		d.run--
		return d.runVal, nil
	case d.lit > 0:
		d.lit--
		return d.raw()
	}
	flag, err := d.raw()
	if err != nil {
		return 0, err
	}
	n := int(flag >> 1)
	if n == 0 {
		return 0, layout.Formatf("dpx", "run length of zero datums")
	}
	if flag&1 == 1 {
		if d.runVal, err = d.raw(); err != nil {
			return 0, err
		}
		d.run = n - 1
		return d.runVal, nil
	}
	d.lit = n - 1
	return d.raw()
}

func (d *datumReader) raw() (uint64, error) {
	switch {
	case d.bits == 8:
		b, err := d.r.ReadByte()
		return uint64(b), err
	case d.bits == 16:
		v, err := d.r.ReadUint16()
		return uint64(v), err
	case d.bits == 32:
		v, err := d.r.ReadUint32()
		return uint64(v), err
	case d.bits == 64:
		return d.r.ReadUint64()
	case d.bits == 10 && d.packing != PackingPacked:
		if d.filled == 0 {
			w, err := d.r.ReadUint32()
			if err != nil {
				return 0, err
			}
			d.word, d.filled = w, 3
		}
		i := 3 - d.filled
		d.filled--
		shift := 22 - 10*i
		if d.packing == PackingFilledB {
			shift -= 2
		}
		return uint64(d.word>>shift) & 0x3FF, nil
	case d.bits == 12 && d.packing != PackingPacked:
		v, err := d.r.ReadUint16()
		if d.packing == PackingFilledA {
			v >>= 4
		}
		return uint64(v) & 0xFFF, err
	}
	if d.nacc < d.bits {
		w, err := d.r.ReadUint32()
		if err != nil {
			return 0, err
		}
		d.acc = d.acc<<32 | uint64(w)
		d.nacc += 32
	}
	d.nacc -= d.bits
	return d.acc >> d.nacc & bitio.Mask(d.bits), nil
}

// endLine drops the rest of a partial word and skips the alignment and
// end of line padding.
func (d *datumReader) endLine(eol uint32) error {
	d.acc, d.nacc, d.filled = 0, 0, 0
	d.run, d.lit = 0, 0
	if pad := align4(d.r.Pos() - d.start); pad > 0 {
		if err := d.r.Skip(pad); err != nil {
			return err
		}
	}
	if eol != Undefined && eol > 0 {
		return d.r.Skip(int(eol))
	}
	return nil
}

func align4(n int) int { return (4 - n%4) % 4 }

// datumWriter is the inverse of datumReader. Datums of a line are buffered
// so the line can be run length encoded as a whole.
type datumWriter struct {
	w       *bitio.Writer
	start   int
	bits    int
	packing uint16
	rle     bool
	line    []uint64

	acc  uint64
	nacc int
	word uint32
	nw   int
}

func newDatumWriter(w *bitio.Writer, e *Element) *datumWriter {
	return &datumWriter{w: w, start: w.Len(), bits: int(e.BitSize), packing: e.Packing, rle: e.RLE()}
}

func (d *datumWriter) put(v uint64) { d.line = append(d.line, v) }

func (d *datumWriter) endLine() {
	if d.rle {
		encodeRuns(d.line, bitio.Mask(d.bits)>>1, d.raw)
	} else {
		for _, v := range d.line {
			d.raw(v)
		}
	}
	d.line = d.line[:0]
	switch {
	case d.nw > 0:
		d.w.WriteUint32(d.word)
	case d.nacc > 0:
		d.w.WriteUint32(uint32(d.acc << (32 - d.nacc)))
	}
	d.acc, d.nacc, d.word, d.nw = 0, 0, 0, 0
	d.w.Pad(align4(d.w.Len() - d.start))
}

func (d *datumWriter) raw(v uint64) {
	switch {
	case d.bits == 8:
		_ = d.w.WriteByte(byte(v))
	case d.bits == 16:
		d.w.WriteUint16(uint16(v))
	case d.bits == 32:
		d.w.WriteUint32(uint32(v))
	case d.bits == 64:
		d.w.WriteUint64(v)
	case d.bits == 10 && d.packing != PackingPacked:
		shift := 22 - 10*d.nw
		if d.packing == PackingFilledB {
			shift -= 2
		}
		d.word |= uint32(v&0x3FF) << shift
		if d.nw++; d.nw == 3 {
			d.w.WriteUint32(d.word)
			d.word, d.nw = 0, 0
		}
	case d.bits == 12 && d.packing != PackingPacked:
		v &= 0xFFF
		if d.packing == PackingFilledA {
			v <<= 4
		}
		d.w.WriteUint16(uint16(v))
	default:
		d.acc = d.acc<<d.bits | v&bitio.Mask(d.bits)
		d.nacc += d.bits
		if d.nacc >= 32 {
			d.nacc -= 32
			d.w.WriteUint32(uint32(d.acc >> d.nacc))
		}
	}
}

// encodeRuns emits runs of three or more equal datums as a flag with the
// low bit set followed by the datum, everything else as a flag with the
// low bit clear followed by the literal datums. Counts sit above the flag
// bit and never exceed maxCount.
func encodeRuns(line []uint64, maxCount uint64, emit func(uint64)) {
	limit := int(min(maxCount, uint64(len(line))))
	runAt := func(i int) int {
		n := 1
		for i+n < len(line) && n < limit && line[i+n] == line[i] {
			n++
		}
		return n
	}
	for i := 0; i < len(line); {
		if n := runAt(i); n >= 3 {
			emit(uint64(n)<<1 | 1)
			emit(line[i])
			i += n
			continue
		}
		j := i
		for j < len(line) && j-i < limit && runAt(j) < 3 {
			j++
		}
		emit(uint64(j-i) << 1)
		for _, v := range line[i:j] {
			emit(v)
		}
		i = j
	}
}
