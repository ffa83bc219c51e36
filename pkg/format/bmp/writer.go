package bmp

import (
	"io"
	"log/slog"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// pixels per metre for 72 dpi
const resolution = 2835

// encoder describes the file chosen for an image.
type encoder struct {
	img         *layout.Image
	bpp         int
	compression uint32
	infoLen     int
	masks       [4]uint32
	palette     [][3]byte
	indices     []byte // palette indices, top row first, for bpp <= 8
}

// Encode writes img as a bottom-up BMP. One component of up to 8 bits
// becomes a grey palette image, three components a true colour image,
// three components plus alpha a 32 bit bitfield image.
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
	if _, err := w.Write(e.encode()); err != nil {
		return layout.IOError("bmp", err)
	}
	return nil
}

func newEncoder(img *layout.Image, specs *layout.Specs) (*encoder, error) {
	for i, c := range img.Components {
		switch {
		case c.Float:
			return nil, layout.Unsupportedf("bmp", "component %d: floating point samples", i)
		case c.Signed:
			return nil, layout.Unsupportedf("bmp", "component %d: signed samples", i)
		case c.SubX != 1 || c.SubY != 1:
			return nil, layout.Unsupportedf("bmp", "component %d: subsampling %dx%d", i, c.SubX, c.SubY)
		}
	}
	e := &encoder{img: img, infoLen: infoHeaderLen}
	var err error
	switch {
	case img.Depth() == 1:
		err = e.grey()
	case img.Depth() == 3 && img.Alpha == 0:
		err = e.color(specs)
	case img.Depth() == 4 && img.Alpha == 1:
		err = e.bitfields(32)
	default:
		return nil, layout.Unsupportedf("bmp", "%d components with %d alpha, need 1 or 3", img.Depth(), img.Alpha)
	}
	if err != nil {
		return nil, err
	}
	if specs.RunLength.IsYes() {
		switch e.bpp {
		case 8:
			e.compression = compressionRLE8
		case 4:
			e.compression = compressionRLE4
		default:
			slog.Warn("bmp: run length encoding needs 4 or 8 bits per pixel, writing uncompressed", "bpp", e.bpp)
		}
	}
	return e, nil
}

func (e *encoder) grey() error {
	c := e.img.Components[0]
	b := c.BitsPerSample
	switch {
	case b == 1, b == 2:
		e.bpp = b
	case b <= 4:
		e.bpp = 4
	case b <= 8:
		e.bpp = 8
	default:
		return layout.Unsupportedf("bmp", "grey samples of %d bits, at most 8", b)
	}
	n := 1 << b
	e.palette = make([][3]byte, n)
	for i := range n {
		g := greyRamp(i, n)
		e.palette[i] = [3]byte{g, g, g}
	}
	e.indices = make([]byte, c.Width*c.Height)
	for y := range c.Height {
		for x := range c.Width {
			e.indices[y*c.Width+x] = byte(c.Raw(x, y))
		}
	}
	return nil
}

func (e *encoder) color(specs *layout.Specs) error {
	bits := [3]int{}
	for i := range 3 {
		bits[i] = e.img.Components[i].BitsPerSample
	}
	switch {
	case bits == [3]int{8, 8, 8}:
		if specs.Palettized.IsYes() && e.colorPalette() {
			return nil
		}
		e.bpp = 24
		return nil
	case bits == [3]int{5, 5, 5}:
		e.bpp = 16
		e.masks = [4]uint32{0x7C00, 0x03E0, 0x001F, 0}
		return nil
	}
	total := bits[0] + bits[1] + bits[2]
	switch {
	case total <= 16:
		return e.bitfields(16)
	case total <= 32:
		return e.bitfields(32)
	}
	return layout.Unsupportedf("bmp", "colour depths %v exceed 32 bits per pixel", bits)
}

// colorPalette builds an 8 bit palette in order of first appearance. It
// reports false when the image has more than 256 colours.
func (e *encoder) colorPalette() bool {
	img := e.img
	r, g, b := img.Components[0], img.Components[1], img.Components[2]
	index := map[[3]byte]byte{}
	indices := make([]byte, img.Width*img.Height)
	var palette [][3]byte
	for y := range img.Height {
		for x := range img.Width {
			c := [3]byte{byte(r.Raw(x, y)), byte(g.Raw(x, y)), byte(b.Raw(x, y))}
			i, ok := index[c]
			if !ok {
				if len(palette) == 256 {
					slog.Warn("bmp: more than 256 colours, writing true colour instead of a palette")
					return false
				}
				i = byte(len(palette))
				index[c] = i
				palette = append(palette, c)
			}
			indices[y*img.Width+x] = i
		}
	}
	e.bpp, e.palette, e.indices = 8, palette, indices
	return true
}

// bitfields packs the channels from the most significant bit down: red,
// green, blue, then alpha above them.
func (e *encoder) bitfields(bpp int) error {
	total := 0
	for _, c := range e.img.Components {
		total += c.BitsPerSample
	}
	if total > bpp {
		return layout.Unsupportedf("bmp", "%d bits per pixel do not fit %d", total, bpp)
	}
	shift := 0
	for i := 2; i >= 0; i-- {
		b := e.img.Components[i].BitsPerSample
		e.masks[i] = uint32(bitio.Mask(b)) << shift
		shift += b
	}
	if e.img.Depth() == 4 {
		e.masks[3] = uint32(bitio.Mask(e.img.Components[3].BitsPerSample)) << shift
		e.infoLen = v4HeaderLen
	}
	e.bpp = bpp
	e.compression = compressionBitfields
	return nil
}

func (e *encoder) encode() []byte {
	img := e.img
	pixels := e.pixels()

	maskBytes := 0
	if e.compression == compressionBitfields && e.infoLen == infoHeaderLen {
		maskBytes = 12
	}
	offset := fileHeaderLen + e.infoLen + maskBytes + 4*len(e.palette)

	w := bitio.NewWriter(bitio.LittleEndian)
	w.WriteString("BM")
	w.WriteUint32(uint32(offset + len(pixels)))
	w.WriteUint32(0)
	w.WriteUint32(uint32(offset))

	w.WriteUint32(uint32(e.infoLen))
	w.WriteUint32(uint32(img.Width))
	w.WriteUint32(uint32(img.Height))
	w.WriteUint16(1)
	w.WriteUint16(uint16(e.bpp))
	w.WriteUint32(e.compression)
	w.WriteUint32(uint32(len(pixels)))
	w.WriteUint32(resolution)
	w.WriteUint32(resolution)
	w.WriteUint32(uint32(len(e.palette)))
	w.WriteUint32(0)
	if e.infoLen == v4HeaderLen {
		for _, m := range e.masks {
			w.WriteUint32(m)
		}
		w.WriteString("BGRs") // LCS_WINDOWS_COLOR_SPACE, little endian
		w.Pad(36 + 12)        // endpoints, gamma
	} else if maskBytes > 0 {
		for _, m := range e.masks[:3] {
			w.WriteUint32(m)
		}
	}
	for _, c := range e.palette {
		w.Write([]byte{c[2], c[1], c[0], 0})
	}
	w.Write(pixels)
	return w.Bytes()
}

// pixels returns the bottom-up pixel array.
func (e *encoder) pixels() []byte {
	img := e.img
	if e.compression == compressionRLE8 || e.compression == compressionRLE4 {
		return encodeRLE(e.indices, img.Width, img.Height, e.compression == compressionRLE4)
	}
	stride := rowBytes(img.Width, e.bpp)
	w := bitio.NewWriter(bitio.LittleEndian.WithBitOrder(bitio.MSBFirst))
	for y := img.Height - 1; y >= 0; y-- {
		start := w.Len()
		for x := range img.Width {
			switch {
			case e.bpp <= 8:
				_ = w.WriteBits(uint64(e.indices[y*img.Width+x]), e.bpp)
			case e.bpp == 24:
				w.Write([]byte{
					byte(img.Components[2].Raw(x, y)),
					byte(img.Components[1].Raw(x, y)),
					byte(img.Components[0].Raw(x, y)),
				})
			default:
				var px uint64
				for i, c := range img.Components {
					_, shift := maskShift(e.masks[i])
					px |= c.Raw(x, y) << shift
				}
				_ = w.WriteSample(px, e.bpp)
			}
		}
		w.ByteAlign()
		w.Pad(stride - (w.Len() - start))
	}
	return w.Bytes()
}
