package tiff

import (
	"encoding/binary"
	"io"
	"math"
	"slices"

	"github.com/mrjoshuak/go-openexr/half"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/compress/rle"
	"github.com/jpfielding/imgdiff.go/pkg/format/tiff/tag"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

const software = "imgdiff.go"

type encoder struct {
	img   *layout.Image
	specs *layout.Specs
	ctx   bitio.Context

	bits        []int
	formats     []int
	photometric int
	planar      int
	compression int
	subX, subY  int
	extra       []uint64
}

// field is an IFD entry under construction.
type field struct {
	tag   tag.Tag
	typ   tag.Type
	count int
	data  []byte
}

// Encode writes img as a single image TIFF: one strip holding all
// interleaved samples, or one strip per component.
func Encode(w io.Writer, img *layout.Image, specs *layout.Specs) error {
	if specs == nil {
		specs = &layout.Specs{}
	}
	if err := img.Validate(); err != nil {
		return err
	}
	e, err := newEncoder(img, specs)
	if err != nil {
		return err
	}
	data, err := e.encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return layout.IOError("tiff", err)
	}
	return nil
}

func newEncoder(img *layout.Image, specs *layout.Specs) (*encoder, error) {
	e := &encoder{
		img:         img,
		specs:       specs,
		ctx:         bitio.LittleEndian.WithBitOrder(bitio.MSBFirst),
		planar:      tag.PlanarContig,
		compression: tag.CompressionNone,
		subX:        1,
		subY:        1,
	}
	if specs.LittleEndian.IsNo() {
		e.ctx = bitio.BigEndian
	}
	if img.Depth() > 1 && specs.Interleaved.IsNo() {
		e.planar = tag.PlanarSeparate
	}
	if specs.RunLength.IsYes() {
		e.compression = tag.CompressionPackBits
	}

	for i, c := range img.Components {
		switch {
		case c.Float:
			e.formats = append(e.formats, tag.SampleFormatFloat)
		case c.Signed:
			e.formats = append(e.formats, tag.SampleFormatInt)
		default:
			e.formats = append(e.formats, tag.SampleFormatUint)
		}
		if c.Float && c.BitsPerSample != 16 && c.BitsPerSample != 32 && c.BitsPerSample != 64 {
			return nil, layout.Unsupportedf("tiff", "component %d: floating point samples of %d bits", i, c.BitsPerSample)
		}
		e.bits = append(e.bits, c.BitsPerSample)
	}

	depth := img.Depth()
	colors := depth - img.Alpha
	yuv := img.Subsampled() || (depth == 3 && img.Alpha == 0 && specs.YUVEncoded.IsYes())
	if yuv {
		if err := e.checkYCbCr(); err != nil {
			return nil, err
		}
	}
	switch {
	case yuv:
		e.photometric = tag.PhotometricYCbCr
		colors = 3
	case colors == 3:
		e.photometric = tag.PhotometricRGB
	case colors == 4:
		e.photometric = tag.PhotometricSeparated
	default:
		// one grey channel, everything after it is an extra sample
		e.photometric = tag.PhotometricMinIsBlack
		colors = 1
	}
	for i := colors; i < depth; i++ {
		if i >= depth-img.Alpha {
			e.extra = append(e.extra, tag.ExtraUnassocAlpha)
		} else {
			e.extra = append(e.extra, tag.ExtraUnspecified)
		}
	}
	return e, nil
}

func (e *encoder) checkYCbCr() error {
	img := e.img
	if img.Depth() != 3 || img.Alpha != 0 {
		return layout.Unsupportedf("tiff", "subsampled image with %d components and %d alpha, only YCbCr can be subsampled", img.Depth(), img.Alpha)
	}
	y, cb, cr := img.Components[0], img.Components[1], img.Components[2]
	if y.SubX != 1 || y.SubY != 1 || cb.SubX != cr.SubX || cb.SubY != cr.SubY {
		return layout.Unsupportedf("tiff", "subsampling layout %dx%d, %dx%d, %dx%d",
			y.SubX, y.SubY, cb.SubX, cb.SubY, cr.SubX, cr.SubY)
	}
	if !validSub(cb.SubX) || !validSub(cb.SubY) || cb.SubY > cb.SubX {
		return layout.Unsupportedf("tiff", "chroma subsampling %dx%d", cb.SubX, cb.SubY)
	}
	if !img.Uniform(0, 2) {
		return layout.Formatf("tiff", "YCbCr channels have inconsistent bit depths %v", e.bits)
	}
	if y.Float && cb.SubX*cb.SubY > 1 {
		return layout.Unsupportedf("tiff", "subsampled floating point YCbCr")
	}
	e.subX, e.subY = cb.SubX, cb.SubY
	return nil
}

func (e *encoder) encode() ([]byte, error) {
	strips, err := e.strips()
	if err != nil {
		return nil, err
	}
	if e.compression == tag.CompressionPackBits {
		for i := range strips {
			strips[i] = rle.EncodePackBits(strips[i])
		}
	}

	return assemble(e.ctx, strips, e.fields), nil
}

// assemble lays out a file as header, blocks, IFD and out-of-line values.
// fields receives the block offsets and byte counts.
func assemble(ctx bitio.Context, blocks [][]byte, fields func(offsets, counts []uint64) []field) []byte {
	offsets := make([]uint64, len(blocks))
	counts := make([]uint64, len(blocks))
	pos := 8
	for i, b := range blocks {
		offsets[i], counts[i] = uint64(pos), uint64(len(b))
		pos += len(b) + len(b)&1
	}
	ifdOff := pos

	entries := fields(offsets, counts)
	slices.SortFunc(entries, func(a, b field) int { return int(a.tag) - int(b.tag) })

	w := bitio.NewWriter(ctx)
	if ctx.IsLittleEndian() {
		w.WriteString(leHeader)
	} else {
		w.WriteString(beHeader)
	}
	w.WriteUint32(uint32(ifdOff))
	for _, b := range blocks {
		w.Write(b)
		w.Pad(len(b) & 1)
	}

	valuePos := ifdOff + 2 + len(entries)*entryLen + 4
	w.WriteUint16(uint16(len(entries)))
	var values []byte
	for _, f := range entries {
		w.WriteUint16(uint16(f.tag))
		w.WriteUint16(uint16(f.typ))
		w.WriteUint32(uint32(f.count))
		if len(f.data) <= 4 {
			w.Write(f.data)
			w.Pad(4 - len(f.data))
			continue
		}
		w.WriteUint32(uint32(valuePos + len(values)))
		values = append(values, f.data...)
		if len(values)&1 == 1 {
			values = append(values, 0)
		}
	}
	w.WriteUint32(0) // no further IFD
	w.Write(values)
	return w.Bytes()
}

func (e *encoder) fields(offsets, counts []uint64) []field {
	img := e.img
	order := e.ctx.ByteOrder
	spp := img.Depth()
	bits := make([]uint64, spp)
	formats := make([]uint64, spp)
	customFormat := false
	for i := range spp {
		bits[i] = uint64(e.bits[i])
		formats[i] = uint64(e.formats[i])
		customFormat = customFormat || e.formats[i] != tag.SampleFormatUint
	}

	fields := []field{
		longs(order, tag.ImageWidth, uint64(img.Width)),
		longs(order, tag.ImageLength, uint64(img.Height)),
		shorts(order, tag.BitsPerSample, bits...),
		shorts(order, tag.Compression, uint64(e.compression)),
		shorts(order, tag.PhotometricInterpretation, uint64(e.photometric)),
		longs(order, tag.StripOffsets, offsets...),
		shorts(order, tag.SamplesPerPixel, uint64(spp)),
		longs(order, tag.RowsPerStrip, uint64(img.Height)),
		longs(order, tag.StripByteCounts, counts...),
		rational(order, tag.XResolution, 72, 1),
		rational(order, tag.YResolution, 72, 1),
		shorts(order, tag.PlanarConfiguration, uint64(e.planar)),
		shorts(order, tag.ResolutionUnit, 2),
		ascii(tag.Software, software),
	}
	if len(e.extra) > 0 {
		fields = append(fields, shorts(order, tag.ExtraSamples, e.extra...))
	}
	if customFormat {
		fields = append(fields, shorts(order, tag.SampleFormat, formats...))
	}
	if e.photometric == tag.PhotometricYCbCr {
		fields = append(fields, shorts(order, tag.YCbCrSubSampling, uint64(e.subX), uint64(e.subY)))
	}
	if e.specs.RadianceScale > 0 {
		p := make([]byte, 8)
		order.PutUint64(p, math.Float64bits(e.specs.RadianceScale))
		fields = append(fields, field{tag: tag.StoNits, typ: tag.Double, count: 1, data: p})
	}
	return fields
}

func shorts(order binary.ByteOrder, t tag.Tag, v ...uint64) field {
	p := make([]byte, 2*len(v))
	for i, x := range v {
		order.PutUint16(p[2*i:], uint16(x))
	}
	return field{tag: t, typ: tag.Short, count: len(v), data: p}
}

func longs(order binary.ByteOrder, t tag.Tag, v ...uint64) field {
	p := make([]byte, 4*len(v))
	for i, x := range v {
		order.PutUint32(p[4*i:], uint32(x))
	}
	return field{tag: t, typ: tag.Long, count: len(v), data: p}
}

func rational(order binary.ByteOrder, t tag.Tag, num, den uint32) field {
	p := make([]byte, 8)
	order.PutUint32(p, num)
	order.PutUint32(p[4:], den)
	return field{tag: t, typ: tag.Rational, count: 1, data: p}
}

func ascii(t tag.Tag, s string) field {
	p := append([]byte(s), 0)
	return field{tag: t, typ: tag.ASCII, count: len(p), data: p}
}

// strips returns the uncompressed pixel data, one buffer per strip.
func (e *encoder) strips() ([][]byte, error) {
	img := e.img
	switch {
	case e.planar == tag.PlanarSeparate:
		out := make([][]byte, img.Depth())
		for i, c := range img.Components {
			w := bitio.NewWriter(e.ctx)
			for y := range c.Height {
				for x := range c.Width {
					if err := w.WriteSample(e.sample(i, x, y), e.bits[i]); err != nil {
						return nil, err
					}
				}
				w.ByteAlign()
			}
			out[i] = w.Bytes()
		}
		return out, nil
	case e.subX*e.subY > 1:
		return [][]byte{e.ycbcrStrip()}, nil
	}

	w := bitio.NewWriter(e.ctx)
	for y := range img.Height {
		for x := range img.Width {
			for i := range img.Components {
				if err := w.WriteSample(e.sample(i, x, y), e.bits[i]); err != nil {
					return nil, err
				}
			}
		}
		w.ByteAlign()
	}
	return [][]byte{w.Bytes()}, nil
}

// ycbcrStrip writes data units; luma outside the image repeats the edge.
func (e *encoder) ycbcrStrip() []byte {
	img := e.img
	bits := e.bits[0]
	chroma := img.Components[1]
	w := bitio.NewWriter(e.ctx)
	for cy := range chroma.Height {
		for cx := range chroma.Width {
			for sy := range e.subY {
				for sx := range e.subX {
					x := min(cx*e.subX+sx, img.Width-1)
					y := min(cy*e.subY+sy, img.Height-1)
					_ = w.WriteSample(e.sample(0, x, y), bits)
				}
			}
			_ = w.WriteSample(e.sample(1, cx, cy), bits)
			_ = w.WriteSample(e.sample(2, cx, cy), bits)
		}
		w.ByteAlign()
	}
	return w.Bytes()
}

// sample returns the raw file representation of one sample.
func (e *encoder) sample(i, x, y int) uint64 {
	c := e.img.Components[i]
	if c.Float && c.BitsPerSample == 16 {
		return uint64(half.FromFloat32(float32(c.Float64(x, y))).Bits())
	}
	return c.Raw(x, y) & bitio.Mask(c.BitsPerSample)
}
