package bmp

import (
	"io"

	"github.com/jpfielding/imgdiff.go/pkg/bitio"
	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Decode reads a BMP stream.
func Decode(r io.Reader, specs *layout.Specs) (*layout.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, layout.Wrap("bmp", err)
	}
	return DecodeBytes(data, specs)
}

// DecodeBytes decodes an in-memory BMP file. Rows are returned top to
// bottom whatever the storage order.
func DecodeBytes(data []byte, specs *layout.Specs) (*layout.Image, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	pixels := data[h.dataOffset:]

	// palette indices, one byte per pixel, file row order
	var indices []byte
	if h.bpp <= 8 {
		if h.rle() {
			indices, err = decodeRLE(pixels, h.width, h.height, h.compression == compressionRLE4)
		} else {
			indices, err = readIndices(pixels, h)
		}
		if err != nil {
			return nil, err
		}
	}

	var img *layout.Image
	palettized := false
	switch {
	case h.bpp <= 8:
		img, palettized, err = h.expandPalette(indices)
	case h.bpp == 24:
		img, err = h.readBGR(pixels)
	default:
		img, err = h.readMasked(pixels)
	}
	if err != nil {
		return nil, err
	}
	if specs != nil {
		specs.Palettized = layout.Bool(palettized)
		specs.RunLength = layout.Bool(h.rle())
		specs.LittleEndian = layout.Yes
	}
	return img, nil
}

func rowBytes(width, bpp int) int {
	return (width*bpp + 31) / 32 * 4
}

// row maps a file row to an image row.
func (h *header) row(fileRow int) int {
	if h.topDown {
		return fileRow
	}
	return h.height - 1 - fileRow
}

// readIndices unpacks 1, 2, 4 and 8 bit rows, MSB-first within a byte.
func readIndices(pixels []byte, h *header) ([]byte, error) {
	stride := rowBytes(h.width, h.bpp)
	if len(pixels) < stride*(h.height-1)+(h.width*h.bpp+7)/8 {
		return nil, layout.Truncated("bmp", "pixel rows")
	}
	out := make([]byte, h.width*h.height)
	r := bitio.NewReader(pixels, bitio.BigEndian)
	for fy := range h.height {
		if err := r.Seek(fy * stride); err != nil {
			return nil, layout.Truncated("bmp", "pixel rows")
		}
		y := h.row(fy)
		for x := range h.width {
			v, err := r.ReadBits(h.bpp)
			if err != nil {
				return nil, layout.Truncated("bmp", "pixel rows")
			}
			out[y*h.width+x] = byte(v)
		}
	}
	return out, nil
}

func (h *header) expandPalette(indices []byte) (*layout.Image, bool, error) {
	img := layout.NewImage(h.width, h.height)
	n := len(h.palette)
	lookup := func(i byte) ([3]byte, error) {
		if int(i) >= n {
			return [3]byte{}, layout.Formatf("bmp", "palette index %d out of range, palette has %d entries", i, n)
		}
		return h.palette[i], nil
	}

	grey, rampBits := h.paletteKind()
	if grey {
		bitsPerSample := 8
		if rampBits > 0 {
			bitsPerSample = rampBits
		}
		c, err := img.AddComponent(bitsPerSample, false, false, 1, 1)
		if err != nil {
			return nil, false, err
		}
		for i, idx := range indices {
			e, err := lookup(idx)
			if err != nil {
				return nil, false, err
			}
			v := uint64(e[0])
			if rampBits > 0 {
				v = uint64(idx)
			}
			c.SetRaw(i%h.width, i/h.width, v)
		}
		return img, false, nil
	}

	for range 3 {
		if _, err := img.AddComponent(8, false, false, 1, 1); err != nil {
			return nil, false, err
		}
	}
	for i, idx := range indices {
		e, err := lookup(idx)
		if err != nil {
			return nil, false, err
		}
		for ch := range 3 {
			img.Components[ch].SetRaw(i%h.width, i/h.width, uint64(e[ch]))
		}
	}
	return img, true, nil
}

func (h *header) readBGR(pixels []byte) (*layout.Image, error) {
	stride := rowBytes(h.width, 24)
	if len(pixels) < stride*(h.height-1)+h.width*3 {
		return nil, layout.Truncated("bmp", "pixel rows")
	}
	img := layout.NewImage(h.width, h.height)
	for range 3 {
		if _, err := img.AddComponent(8, false, false, 1, 1); err != nil {
			return nil, err
		}
	}
	for fy := range h.height {
		y := h.row(fy)
		p := pixels[fy*stride:]
		for x := range h.width {
			img.Components[0].SetRaw(x, y, uint64(p[3*x+2]))
			img.Components[1].SetRaw(x, y, uint64(p[3*x+1]))
			img.Components[2].SetRaw(x, y, uint64(p[3*x]))
		}
	}
	return img, nil
}

// readMasked extracts the channels of 16 and 32 bit pixels.
func (h *header) readMasked(pixels []byte) (*layout.Image, error) {
	stride := rowBytes(h.width, h.bpp)
	if len(pixels) < stride*(h.height-1)+h.width*h.bpp/8 {
		return nil, layout.Truncated("bmp", "pixel rows")
	}
	img := layout.NewImage(h.width, h.height)
	channels := 3
	if h.masks[3] != 0 {
		channels = 4
		img.Alpha = 1
	}
	var widths, shifts [4]int
	for i := range channels {
		widths[i], shifts[i] = maskShift(h.masks[i])
		if _, err := img.AddComponent(widths[i], false, false, 1, 1); err != nil {
			return nil, err
		}
	}
	r := bitio.NewReader(pixels, bitio.LittleEndian)
	for fy := range h.height {
		_ = r.Seek(fy * stride)
		y := h.row(fy)
		for x := range h.width {
			px, err := r.ReadSample(h.bpp)
			if err != nil {
				return nil, layout.Truncated("bmp", "pixel rows")
			}
			for i := range channels {
				img.Components[i].SetRaw(x, y, (px&uint64(h.masks[i]))>>shifts[i])
			}
		}
	}
	return img, nil
}
