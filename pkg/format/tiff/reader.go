package tiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/format/tiff/tag"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// decoder holds the parsed description of the first image of a file.
type decoder struct {
	data  []byte
	ifd   *IFD
	order binary.ByteOrder

	width, height int
	spp           int
	bits          []int
	formats       []int
	compression   uint64
	photometric   int
	planar        int
	predictor     int
	fillOrder     int
	alpha         int
	subX, subY    int // chroma subsampling, 1 unless YCbCr
	colorMap      []uint64

	// block geometry
	tiled          bool
	blockW, blockH int
	offsets        []uint64
	counts         []uint64

	block BlockDecoder
	img   *layout.Image
}

// Decode reads a TIFF stream and returns its first image.
func Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, layout.Wrap("tiff", err)
	}
	return DecodeBytes(data, specs)
}

// DecodeBytes decodes the first image of an in-memory TIFF file.
func DecodeBytes(data []byte, specs *layout.Specs) (*layout.Image, error) {
	ifd, err := ParseIFD(data)
	if err != nil {
		return nil, err
	}
	d, err := newDecoder(data, ifd)
	if err != nil {
		return nil, err
	}
	if err := d.checkPayload(); err != nil {
		return nil, err
	}
	if err := d.allocate(); err != nil {
		return nil, err
	}
	if err := d.decodeBlocks(); err != nil {
		return nil, err
	}
	if specs != nil {
		d.fillSpecs(specs)
	}
	return d.img, nil
}

func newDecoder(data []byte, ifd *IFD) (*decoder, error) {
	d := &decoder{
		data:        data,
		ifd:         ifd,
		order:       ifd.Order,
		width:       int(ifd.Uint(tag.ImageWidth, 0)),
		height:      int(ifd.Uint(tag.ImageLength, 0)),
		spp:         int(ifd.Uint(tag.SamplesPerPixel, 1)),
		compression: ifd.Uint(tag.Compression, tag.CompressionNone),
		planar:      int(ifd.Uint(tag.PlanarConfiguration, tag.PlanarContig)),
		predictor:   int(ifd.Uint(tag.Predictor, tag.PredictorNone)),
		fillOrder:   int(ifd.Uint(tag.FillOrder, tag.FillOrderMSB2LSB)),
		subX:        1,
		subY:        1,
	}
	if d.width <= 0 || d.height <= 0 {
		return nil, layout.Formatf("tiff", "invalid image dimensions %dx%d", d.width, d.height)
	}
	if d.spp <= 0 || d.spp > 0xFFFF {
		return nil, layout.Formatf("tiff", "invalid samples per pixel %d", d.spp)
	}

	defPhotometric := uint64(tag.PhotometricMinIsBlack)
	if d.spp >= 3 {
		defPhotometric = tag.PhotometricRGB
	}
	d.photometric = int(ifd.Uint(tag.PhotometricInterpretation, defPhotometric))

	var err error
	if d.bits, err = perSample(ifd.Uints(tag.BitsPerSample), d.spp, 1, "bits per sample"); err != nil {
		return nil, err
	}
	if d.formats, err = perSample(ifd.Uints(tag.SampleFormat), d.spp, tag.SampleFormatUint, "sample format"); err != nil {
		return nil, err
	}
	for i := range d.spp {
		if err := checkSample(d.bits[i], d.formats[i]); err != nil {
			return nil, err
		}
	}

	if d.block, err = NewBlockDecoder(d.compression); err != nil {
		return nil, err
	}
	switch d.planar {
	case tag.PlanarContig, tag.PlanarSeparate:
	default:
		return nil, layout.Unsupportedf("tiff", "planar configuration %d", d.planar)
	}
	switch d.predictor {
	case tag.PredictorNone, tag.PredictorHorizontal:
	case tag.PredictorFloatingPoint:
		for i := range d.spp {
			if d.formats[i] != tag.SampleFormatFloat {
				return nil, layout.Unsupportedf("tiff", "floating point predictor with integer samples")
			}
			if d.bits[i] != d.bits[0] {
				return nil, layout.Unsupportedf("tiff", "floating point predictor with mixed sample widths %v", d.bits)
			}
		}
	default:
		return nil, layout.Unsupportedf("tiff", "predictor %d", d.predictor)
	}
	if d.fillOrder != tag.FillOrderMSB2LSB && d.fillOrder != tag.FillOrderLSB2MSB {
		return nil, layout.Formatf("tiff", "invalid fill order %d", d.fillOrder)
	}
	if o := ifd.Uint(tag.Orientation, 1); o != 1 {
		slog.Warn("tiff: orientation is not applied", "orientation", o)
	}

	if err := d.readPhotometric(); err != nil {
		return nil, err
	}
	if err := d.readGeometry(); err != nil {
		return nil, err
	}

	slog.Debug("tiff: parsed directory",
		"width", d.width, "height", d.height, "spp", d.spp, "bits", d.bits,
		"compression", d.block.Name(), "photometric", d.photometric,
		"planar", d.planar, "predictor", d.predictor, "tiled", d.tiled)
	return d, nil
}

// perSample expands a per-sample tag to spp values. A single value applies
// to all samples.
func perSample(v []uint64, spp int, def uint64, what string) ([]int, error) {
	out := make([]int, spp)
	switch len(v) {
	case 0:
		for i := range out {
			out[i] = int(def)
		}
	case 1:
		for i := range out {
			out[i] = int(v[0])
		}
	default:
		if len(v) < spp {
			return nil, layout.Formatf("tiff", "%s has %d values for %d samples", what, len(v), spp)
		}
		for i := range out {
			out[i] = int(v[i])
		}
	}
	return out, nil
}

func checkSample(bits, format int) error {
	if bits <= 0 || bits > layout.MaxBitsPerSample {
		return layout.Unsupportedf("tiff", "bits per sample %d", bits)
	}
	switch format {
	case tag.SampleFormatUint, tag.SampleFormatInt, tag.SampleFormatVoid:
	case tag.SampleFormatFloat:
		if bits != 16 && bits != 32 && bits != 64 {
			return layout.Unsupportedf("tiff", "floating point samples of %d bits", bits)
		}
	default:
		return layout.Unsupportedf("tiff", "sample format %d", format)
	}
	return nil
}

func (d *decoder) isFloat(s int) bool  { return d.formats[s] == tag.SampleFormatFloat }
func (d *decoder) isSigned(s int) bool { return d.formats[s] == tag.SampleFormatInt }

func (d *decoder) readPhotometric() error {
	extra := d.ifd.Uints(tag.ExtraSamples)
	for i := len(extra) - 1; i >= 0; i-- {
		if extra[i] != tag.ExtraAssociatedAlpha && extra[i] != tag.ExtraUnassocAlpha {
			break
		}
		d.alpha++
	}
	if d.alpha > d.spp {
		return layout.Formatf("tiff", "%d extra samples for %d samples per pixel", len(extra), d.spp)
	}

	switch d.photometric {
	case tag.PhotometricMinIsWhite:
		for i := range d.spp - d.alpha {
			if d.isFloat(i) {
				return layout.Unsupportedf("tiff", "white-is-zero with floating point samples")
			}
		}
	case tag.PhotometricPalette:
		if d.spp != 1 {
			return layout.Unsupportedf("tiff", "palette image with %d samples per pixel", d.spp)
		}
		if d.bits[0] > 16 || d.formats[0] != tag.SampleFormatUint {
			return layout.Unsupportedf("tiff", "palette index of %d bits", d.bits[0])
		}
		d.colorMap = d.ifd.Uints(tag.ColorMap)
		if len(d.colorMap) != 3<<d.bits[0] {
			return layout.Formatf("tiff", "color map has %d entries, need %d", len(d.colorMap), 3<<d.bits[0])
		}
	case tag.PhotometricYCbCr:
		if d.spp != 3 {
			return layout.Unsupportedf("tiff", "YCbCr image with %d samples per pixel", d.spp)
		}
		if d.bits[1] != d.bits[0] || d.bits[2] != d.bits[0] || d.formats[1] != d.formats[0] || d.formats[2] != d.formats[0] {
			return layout.Formatf("tiff", "YCbCr channels have inconsistent bit depths %v", d.bits)
		}
		sub := d.ifd.Uints(tag.YCbCrSubSampling)
		d.subX, d.subY = 2, 2
		if len(sub) >= 2 {
			d.subX, d.subY = int(sub[0]), int(sub[1])
		}
		if !validSub(d.subX) || !validSub(d.subY) || d.subY > d.subX {
			return layout.Formatf("tiff", "invalid YCbCr subsampling %dx%d", d.subX, d.subY)
		}
		if d.isFloat(0) && d.subX*d.subY > 1 {
			return layout.Unsupportedf("tiff", "subsampled floating point YCbCr")
		}
		if d.predictor != tag.PredictorNone && d.planar == tag.PlanarContig && d.subX*d.subY > 1 {
			return layout.Unsupportedf("tiff", "predictor with subsampled contiguous YCbCr")
		}
	}
	return nil
}

func validSub(s int) bool { return s == 1 || s == 2 || s == 4 }

func (d *decoder) readGeometry() error {
	if d.ifd.Has(tag.TileWidth) || d.ifd.Has(tag.TileOffsets) {
		d.tiled = true
		d.blockW = int(d.ifd.Uint(tag.TileWidth, 0))
		d.blockH = int(d.ifd.Uint(tag.TileLength, 0))
		if d.blockW <= 0 || d.blockH <= 0 {
			return layout.Formatf("tiff", "invalid tile size %dx%d", d.blockW, d.blockH)
		}
		if d.blockW%d.subX != 0 || d.blockH%d.subY != 0 {
			return layout.Formatf("tiff", "tile size %dx%d is not a multiple of the chroma subsampling %dx%d",
				d.blockW, d.blockH, d.subX, d.subY)
		}
		d.offsets = d.ifd.Uints(tag.TileOffsets)
		d.counts = d.ifd.Uints(tag.TileByteCounts)
	} else {
		d.blockW = d.width
		rps := d.ifd.Uint(tag.RowsPerStrip, uint64(d.height))
		d.blockH = int(min(rps, uint64(d.height)))
		if d.blockH <= 0 {
			return layout.Formatf("tiff", "invalid rows per strip %d", rps)
		}
		if d.blockH < d.height && d.blockH%d.subY != 0 {
			return layout.Formatf("tiff", "rows per strip %d is not a multiple of the vertical chroma subsampling %d",
				d.blockH, d.subY)
		}
		d.offsets = d.ifd.Uints(tag.StripOffsets)
		d.counts = d.ifd.Uints(tag.StripByteCounts)
	}

	planes := 1
	if d.planar == tag.PlanarSeparate {
		planes = d.spp
	}
	have := int64(len(d.offsets))
	blocks := int64(d.blocksAcross())
	if down := int64(d.blocksDown()); blocks > have || down > have || blocks*down > have {
		blocks = have + 1
	} else {
		blocks *= down
	}
	if blocks*int64(planes) > have {
		return layout.Formatf("tiff", "%d block offsets, need %d", have, blocks*int64(planes))
	}
	need := int(blocks) * planes
	if len(d.counts) < need {
		if d.compression != tag.CompressionNone {
			return layout.Formatf("tiff", "%d block byte counts, need %d", len(d.counts), need)
		}
		// uncompressed blocks may omit the counts; they are implied by geometry
		d.counts = nil
	}
	return nil
}

func (d *decoder) blocksAcross() int { return (d.width + d.blockW - 1) / d.blockW }
func (d *decoder) blocksDown() int   { return (d.height + d.blockH - 1) / d.blockH }

func (d *decoder) allocate() error {
	img := layout.NewImage(d.width, d.height)
	switch d.photometric {
	case tag.PhotometricPalette:
		for range 3 {
			if _, err := img.AddComponent(8, false, false, 1, 1); err != nil {
				return err
			}
		}
	default:
		for s := range d.spp {
			subX, subY := 1, 1
			if s > 0 && d.photometric == tag.PhotometricYCbCr {
				subX, subY = d.subX, d.subY
			}
			if _, err := img.AddComponent(d.bits[s], d.isSigned(s), d.isFloat(s), subX, subY); err != nil {
				return err
			}
		}
		img.Alpha = d.alpha
	}
	d.img = img
	return nil
}

func (d *decoder) fillSpecs(specs *layout.Specs) {
	specs.LittleEndian = layout.Bool(d.order == binary.LittleEndian)
	if d.spp > 1 {
		specs.Interleaved = layout.Bool(d.planar == tag.PlanarContig)
	}
	specs.YUVEncoded = layout.Bool(d.photometric == tag.PhotometricYCbCr)
	specs.Palettized = layout.Bool(d.photometric == tag.PhotometricPalette)
	specs.RunLength = layout.Bool(d.compression == tag.CompressionPackBits)
	if v := d.ifd.Float(tag.StoNits, 0); v > 0 {
		specs.RadianceScale = v
	}
}

// decodeBlocks walks every strip or tile of every plane.
func (d *decoder) decodeBlocks() error {
	across, down := d.blocksAcross(), d.blocksDown()
	planes := 1
	if d.planar == tag.PlanarSeparate {
		planes = d.spp
	}
	for p := range planes {
		for by := range down {
			for bx := range across {
				i := p*across*down + by*across + bx
				x0, y0 := bx*d.blockW, by*d.blockH
				bw, bh := d.blockW, d.blockH
				if !d.tiled {
					bh = min(bh, d.height-y0)
				}
				if err := d.decodeBlock(i, p, x0, y0, bw, bh); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *decoder) decodeBlock(i, plane, x0, y0, bw, bh int) error {
	size := d.blockSize(plane, bw, bh)
	off := d.offsets[i]
	n := uint64(size)
	if d.counts != nil {
		n = d.counts[i]
	}
	if off > uint64(len(d.data)) || n > uint64(len(d.data))-off {
		if d.counts == nil || d.compression == tag.CompressionNone {
			return layout.Truncated("tiff", "block data")
		}
		// tolerate a byte count that runs past the end of a compressed file
		if off > uint64(len(d.data)) {
			return layout.Truncated("tiff", "block data")
		}
		n = uint64(len(d.data)) - off
	}
	src := d.data[off : off+n]
	if d.fillOrder == tag.FillOrderLSB2MSB {
		src = append([]byte(nil), src...)
		bitio.ReverseBytes(src)
	}
	buf, err := d.block.Decode(src, size)
	if err != nil {
		return err
	}

	switch {
	case d.planar == tag.PlanarSeparate:
		return d.unpackPlane(buf, plane, x0, y0, bw, bh)
	case d.photometric == tag.PhotometricYCbCr && d.subX*d.subY > 1:
		return d.unpackYCbCr(buf, x0, y0, bw, bh)
	}
	return d.unpackContig(buf, x0, y0, bw, bh)
}

// blockSize is the decoded size of one block of a plane.
func (d *decoder) blockSize(plane, bw, bh int) int {
	rowBytes, rows := d.blockShape(plane, bw, bh)
	return rowBytes * rows
}

// blockShape splits a decoded block into rows of whole bytes.
func (d *decoder) blockShape(plane, bw, bh int) (rowBytes, rows int) {
	switch {
	case d.planar == tag.PlanarSeparate:
		sx, sy := d.planeSub(plane)
		cw, ch := ceilDiv(bw, sx), ceilDiv(bh, sy)
		return ceilDiv(cw*d.bits[plane], 8), ch
	case d.photometric == tag.PhotometricYCbCr && d.subX*d.subY > 1:
		unitBits := (d.subX*d.subY + 2) * d.bits[0]
		return ceilDiv(ceilDiv(bw, d.subX)*unitBits, 8), ceilDiv(bh, d.subY)
	}
	return d.contigRowBytes(bw), bh
}

// checkPayload rejects directories whose blocks cannot expand to the
// declared geometry from the bytes present, before any buffer is sized
// from them.
func (d *decoder) checkPayload() error {
	across, down := d.blocksAcross(), d.blocksDown()
	planes := 1
	if d.planar == tag.PlanarSeparate {
		planes = d.spp
	}
	grow := int64(d.block.MaxExpansion())
	size := uint64(len(d.data))
	for p := range planes {
		for by := range down {
			for bx := range across {
				i := p*across*down + by*across + bx
				bh := d.blockH
				if !d.tiled {
					bh = min(bh, d.height-by*d.blockH)
				}
				var avail int64
				if off := d.offsets[i]; off < size {
					avail = int64(size - off)
					if d.counts != nil && d.counts[i] < uint64(avail) {
						avail = int64(d.counts[i])
					}
				}
				rowBytes, rows := d.blockShape(p, d.blockW, bh)
				need := int64(math.MaxInt64)
				if rowBytes == 0 || int64(rows) <= math.MaxInt64/int64(rowBytes) {
					need = int64(rowBytes) * int64(rows)
				}
				if avail <= math.MaxInt64/grow {
					avail *= grow
				}
				if err := layout.NeedBytes("tiff", fmt.Sprintf("block %d", i), need, avail); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *decoder) contigRowBytes(bw int) int {
	pixelBits := 0
	for _, b := range d.bits {
		pixelBits += b
	}
	return ceilDiv(bw*pixelBits, 8)
}

func (d *decoder) planeSub(plane int) (int, int) {
	if plane > 0 && d.photometric == tag.PhotometricYCbCr {
		return d.subX, d.subY
	}
	return 1, 1
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
