package bmp

import (
	"log/slog"
	"math/bits"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

const (
	fileHeaderLen = 14

	os2HeaderLen  = 12
	infoHeaderLen = 40
	v4HeaderLen   = 108
)

// compression values of the info header
const (
	compressionRGB            = 0
	compressionRLE8           = 1
	compressionRLE4           = 2
	compressionBitfields      = 3
	compressionAlphaBitfields = 6
)

// header holds the parts of the file and info headers the codec uses.
type header struct {
	dataOffset  uint32
	infoLen     uint32
	width       int
	height      int
	topDown     bool
	bpp         int
	compression uint32
	colorsUsed  uint32
	// channel masks for 16 and 32 bit pixels, alpha may be zero
	masks [4]uint32
	// palette as red, green, blue triplets
	palette [][3]byte
}

func (h *header) rle() bool {
	return h.compression == compressionRLE8 || h.compression == compressionRLE4
}

// parseHeader reads the file header, info header, channel masks and palette.
func parseHeader(data []byte) (*header, error) {
	r := bitio.NewReader(data, bitio.LittleEndian)
	if len(data) < fileHeaderLen+4 {
		return nil, layout.Truncated("bmp", "file header")
	}
	if string(data[:2]) != "BM" {
		return nil, layout.Formatf("bmp", "invalid magic %q, expected \"BM\"", data[:2])
	}
	h := &header{}
	_ = r.Skip(10)
	h.dataOffset, _ = r.ReadUint32()
	h.infoLen, _ = r.ReadUint32()

	switch h.infoLen {
	case os2HeaderLen:
		if err := h.readOS2(r); err != nil {
			return nil, err
		}
	case infoHeaderLen, 52, 56, 64, v4HeaderLen, 124:
		if err := h.readInfo(r); err != nil {
			return nil, err
		}
	default:
		return nil, layout.Unsupportedf("bmp", "info header of %d bytes", h.infoLen)
	}
	if h.width <= 0 || h.height <= 0 {
		return nil, layout.Formatf("bmp", "invalid image dimensions %dx%d", h.width, h.height)
	}
	if err := h.check(); err != nil {
		return nil, err
	}
	if err := h.readPalette(r); err != nil {
		return nil, err
	}
	if int64(h.dataOffset) > int64(len(data)) {
		return nil, layout.Truncated("bmp", "pixel data")
	}
	slog.Debug("bmp: parsed header",
		"width", h.width, "height", h.height, "bpp", h.bpp, "compression", h.compression,
		"palette", len(h.palette), "topDown", h.topDown, "infoLen", h.infoLen)
	return h, nil
}

func (h *header) readOS2(r *bitio.Reader) error {
	var v [4]uint16
	for i := range v {
		x, err := r.ReadUint16()
		if err != nil {
			return layout.Truncated("bmp", "info header")
		}
		v[i] = x
	}
	h.width, h.height = int(v[0]), int(v[1])
	if v[2] != 1 {
		return layout.Unsupportedf("bmp", "%d planes", v[2])
	}
	h.bpp = int(v[3])
	return nil
}

func (h *header) readInfo(r *bitio.Reader) error {
	p, err := r.ReadBytes(int(h.infoLen) - 4)
	if err != nil {
		return layout.Truncated("bmp", "info header")
	}
	ir := bitio.NewReader(p, bitio.LittleEndian)
	w, _ := ir.ReadUint32()
	ht, _ := ir.ReadUint32()
	planes, _ := ir.ReadUint16()
	bpp, _ := ir.ReadUint16()
	h.compression, _ = ir.ReadUint32()
	_ = ir.Skip(12) // image size, resolution
	h.colorsUsed, _ = ir.ReadUint32()
	_ = ir.Skip(4)

	h.width = int(int32(w))
	h.height = int(int32(ht))
	if h.height < 0 {
		h.height, h.topDown = -h.height, true
	}
	if planes != 1 {
		return layout.Unsupportedf("bmp", "%d planes", planes)
	}
	h.bpp = int(bpp)

	switch h.compression {
	case compressionBitfields, compressionAlphaBitfields:
		n := 3
		if h.compression == compressionAlphaBitfields {
			n = 4
		}
		src := ir
		if h.infoLen == infoHeaderLen {
			// masks follow the short header
			src = r
		} else if h.infoLen >= 56 {
			n = 4
		}
		for i := range n {
			m, err := src.ReadUint32()
			if err != nil {
				return layout.Truncated("bmp", "channel masks")
			}
			h.masks[i] = m
		}
	default:
		if h.infoLen >= 56 {
			// masks are present but only meaningful for bitfield files
			_ = ir.Skip(16)
		}
	}
	return nil
}

func (h *header) check() error {
	switch h.bpp {
	case 1, 2, 4, 8, 16, 24, 32:
	default:
		return layout.Unsupportedf("bmp", "bit depth %d", h.bpp)
	}
	switch h.compression {
	case compressionRGB:
		switch h.bpp {
		case 16:
			h.masks = [4]uint32{0x7C00, 0x03E0, 0x001F, 0}
		case 32:
			h.masks = [4]uint32{0xFF0000, 0xFF00, 0xFF, 0}
		}
	case compressionRLE8:
		if h.bpp != 8 {
			return layout.Formatf("bmp", "RLE8 compression with %d bits per pixel", h.bpp)
		}
	case compressionRLE4:
		if h.bpp != 4 {
			return layout.Formatf("bmp", "RLE4 compression with %d bits per pixel", h.bpp)
		}
	case compressionBitfields, compressionAlphaBitfields:
		if h.bpp != 16 && h.bpp != 32 {
			return layout.Formatf("bmp", "bitfield compression with %d bits per pixel", h.bpp)
		}
		if err := checkMasks(h.masks, h.bpp); err != nil {
			return err
		}
	default:
		return layout.Unsupportedf("bmp", "compression %d", h.compression)
	}
	if h.rle() && h.topDown {
		return layout.Formatf("bmp", "run length encoded bitmaps must be stored bottom-up")
	}
	return nil
}

// checkMasks requires each colour mask to be one contiguous run of bits,
// inside the pixel and disjoint from the others.
func checkMasks(masks [4]uint32, bpp int) error {
	var seen uint32
	for i, m := range masks {
		if m == 0 {
			if i == 3 {
				continue
			}
			return layout.Formatf("bmp", "channel mask %d is empty", i)
		}
		if bpp < 32 && m>>bpp != 0 {
			return layout.Formatf("bmp", "channel mask %#x exceeds %d bits per pixel", m, bpp)
		}
		shifted := m >> bits.TrailingZeros32(m)
		if shifted&(shifted+1) != 0 {
			return layout.Formatf("bmp", "channel mask %#x is not contiguous", m)
		}
		if seen&m != 0 {
			return layout.Formatf("bmp", "channel masks overlap at %#x", seen&m)
		}
		seen |= m
	}
	return nil
}

// maskShift returns the width and position of a channel mask.
func maskShift(m uint32) (width, shift int) {
	return bits.OnesCount32(m), bits.TrailingZeros32(m)
}

func (h *header) readPalette(r *bitio.Reader) error {
	if h.bpp > 8 {
		return nil
	}
	n := int(h.colorsUsed)
	if n == 0 || n > 1<<h.bpp {
		n = 1 << h.bpp
	}
	entry := 4
	if h.infoLen == os2HeaderLen {
		entry = 3
	}
	h.palette = make([][3]byte, n)
	for i := range n {
		p, err := r.ReadBytes(entry)
		if err != nil {
			return layout.Truncated("bmp", "palette")
		}
		h.palette[i] = [3]byte{p[2], p[1], p[0]}
	}
	return nil
}

// greyRamp returns the palette value of index i in a ramp of n entries.
func greyRamp(i, n int) byte {
	if n <= 1 {
		return 0
	}
	return byte((i*255 + (n-1)/2) / (n - 1))
}

// paletteKind classifies the palette: a grey ramp of 2^k entries maps to k
// bit index samples, any other all-grey palette to 8 bit grey values and
// everything else to colour.
func (h *header) paletteKind() (grey bool, rampBits int) {
	for _, c := range h.palette {
		if c[0] != c[1] || c[1] != c[2] {
			return false, 0
		}
	}
	n := len(h.palette)
	if n&(n-1) != 0 {
		return true, 0
	}
	for i, c := range h.palette {
		if c[0] != greyRamp(i, n) {
			return true, 0
		}
	}
	return true, bits.TrailingZeros(uint(n))
}
