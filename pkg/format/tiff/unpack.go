package tiff

import (
	"encoding/binary"
	"math"

	"github.com/mrjoshuak/go-openexr/half"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/format/tiff/tag"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

func (d *decoder) newReader(buf []byte) *bitio.Reader {
	return bitio.NewReader(buf, bitio.Context{ByteOrder: d.order, BitOrder: bitio.MSBFirst})
}

// readRow fills row with raw samples starting at the byte offset start.
// Samples that are whole bytes follow the file byte order, anything else is
// an MSB-first bit stream.
func (d *decoder) readRow(r *bitio.Reader, start int, row []uint64, bitsOf func(i int) int) error {
	if err := r.Seek(start); err != nil {
		return layout.Truncated("tiff", "block row")
	}
	for i := range row {
		v, err := r.ReadSample(bitsOf(i))
		if err != nil {
			return layout.Truncated("tiff", "block row")
		}
		row[i] = v
	}
	return nil
}

// unpackContig distributes a block of interleaved pixels over the components.
func (d *decoder) unpackContig(buf []byte, x0, y0, bw, bh int) error {
	rowBytes := d.contigRowBytes(bw)
	if d.predictor == tag.PredictorFloatingPoint {
		buf = d.undoFloatPredictor(buf, rowBytes, bh, bw*d.spp, d.bits[0]/8, d.spp)
	}
	r := d.newReader(buf)
	row := make([]uint64, bw*d.spp)
	sampleOf := func(i int) int { return i % d.spp }
	bitsOf := func(i int) int { return d.bits[i%d.spp] }

	for y := range bh {
		iy := y0 + y
		if iy >= d.height {
			break
		}
		if err := d.readRow(r, y*rowBytes, row, bitsOf); err != nil {
			return err
		}
		if d.predictor == tag.PredictorHorizontal {
			d.accumulate(row, d.spp, sampleOf)
		}
		for x := range bw {
			ix := x0 + x
			if ix >= d.width {
				break
			}
			for s := range d.spp {
				d.store(s, ix, iy, row[x*d.spp+s])
			}
		}
	}
	return nil
}

// unpackYCbCr reads data units of subX*subY luma samples followed by one Cb
// and one Cr sample.
func (d *decoder) unpackYCbCr(buf []byte, x0, y0, bw, bh int) error {
	bits := d.bits[0]
	ux, uy := ceilDiv(bw, d.subX), ceilDiv(bh, d.subY)
	unit := d.subX*d.subY + 2
	rowBytes := ceilDiv(ux*unit*bits, 8)
	chroma := d.img.Components[1]
	cx0, cy0 := x0/d.subX, y0/d.subY

	r := d.newReader(buf)
	row := make([]uint64, ux*unit)
	bitsOf := func(int) int { return bits }
	for j := range uy {
		if err := d.readRow(r, j*rowBytes, row, bitsOf); err != nil {
			return err
		}
		for i := range ux {
			u := row[i*unit : (i+1)*unit]
			for sy := range d.subY {
				for sx := range d.subX {
					x, y := x0+i*d.subX+sx, y0+j*d.subY+sy
					if x < d.width && y < d.height {
						d.store(0, x, y, u[sy*d.subX+sx])
					}
				}
			}
			cx, cy := cx0+i, cy0+j
			if cx < chroma.Width && cy < chroma.Height {
				d.store(1, cx, cy, u[unit-2])
				d.store(2, cx, cy, u[unit-1])
			}
		}
	}
	return nil
}

// unpackPlane copies a block of one separately stored component.
func (d *decoder) unpackPlane(buf []byte, plane, x0, y0, bw, bh int) error {
	sx, sy := d.planeSub(plane)
	cw, ch := ceilDiv(bw, sx), ceilDiv(bh, sy)
	cx0, cy0 := x0/sx, y0/sy
	bits := d.bits[plane]
	rowBytes := ceilDiv(cw*bits, 8)
	if d.predictor == tag.PredictorFloatingPoint {
		buf = d.undoFloatPredictor(buf, rowBytes, ch, cw, bits/8, 1)
	}
	c := d.img.Components[plane]

	r := d.newReader(buf)
	row := make([]uint64, cw)
	bitsOf := func(int) int { return bits }
	sampleOf := func(int) int { return plane }
	for y := range ch {
		iy := cy0 + y
		if iy >= c.Height {
			break
		}
		if err := d.readRow(r, y*rowBytes, row, bitsOf); err != nil {
			return err
		}
		if d.predictor == tag.PredictorHorizontal {
			d.accumulate(row, 1, sampleOf)
		}
		for x := range cw {
			ix := cx0 + x
			if ix >= c.Width {
				break
			}
			d.store(plane, ix, iy, row[x])
		}
	}
	return nil
}

// accumulate undoes horizontal differencing: every sample after the first
// pixel of the row is the delta to the same sample of the previous pixel.
func (d *decoder) accumulate(row []uint64, stride int, sampleOf func(i int) int) {
	for i := stride; i < len(row); i++ {
		s := sampleOf(i)
		if d.isFloat(s) {
			row[i] = addFloat(row[i], row[i-stride], d.bits[s])
			continue
		}
		row[i] = (row[i] + row[i-stride]) & bitio.Mask(d.bits[s])
	}
}

func addFloat(a, b uint64, bits int) uint64 {
	switch bits {
	case 16:
		sum := half.FromBits(uint16(a)).Float32() + half.FromBits(uint16(b)).Float32()
		return uint64(half.FromFloat32(sum).Bits())
	case 32:
		return uint64(math.Float32bits(math.Float32frombits(uint32(a)) + math.Float32frombits(uint32(b))))
	}
	return math.Float64bits(math.Float64frombits(a) + math.Float64frombits(b))
}

// undoFloatPredictor reverses the floating point predictor: bytes are
// differenced across the row and stored as planes, most significant byte of
// every sample first. The result is rewritten in file byte order.
func (d *decoder) undoFloatPredictor(buf []byte, rowBytes, rows, samples, bps, stride int) []byte {
	out := make([]byte, len(buf))
	tmp := make([]byte, samples*bps)
	little := d.order == binary.LittleEndian
	for y := range rows {
		if (y+1)*rowBytes > len(buf) {
			break
		}
		copy(tmp, buf[y*rowBytes:(y+1)*rowBytes])
		for i := stride; i < len(tmp); i++ {
			tmp[i] += tmp[i-stride]
		}
		dst := out[y*rowBytes:]
		for i := range samples {
			for b := range bps {
				v := tmp[b*samples+i]
				if little {
					dst[i*bps+bps-1-b] = v
				} else {
					dst[i*bps+b] = v
				}
			}
		}
	}
	return out
}

// store writes one raw sample of sample index s at component coordinates.
func (d *decoder) store(s, x, y int, raw uint64) {
	if d.colorMap != nil {
		n := uint64(1) << d.bits[0]
		for i, c := range d.img.Components {
			c.SetRaw(x, y, d.colorMap[uint64(i)*n+raw]>>8)
		}
		return
	}
	c := d.img.Components[s]
	if d.isFloat(s) {
		if d.bits[s] == 16 {
			c.SetFloat64(x, y, float64(half.FromBits(uint16(raw)).Float32()))
			return
		}
		c.SetRaw(x, y, raw)
		return
	}
	if d.photometric == tag.PhotometricMinIsWhite && s < d.spp-d.alpha {
		raw = ^raw
	}
	c.SetRaw(x, y, raw&bitio.Mask(d.bits[s]))
}
